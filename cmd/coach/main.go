package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"finance-coach/handler"
	"finance-coach/internal/bootstrap"
	"finance-coach/internal/config"
	"finance-coach/internal/logger"
	"finance-coach/internal/usecase"
)

var (
	// Global flags
	verbose bool
	envFile string

	cfg     *config.Config
	log     *zap.Logger
	cleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "coach",
	Short: "Personal finance coach",
	Long: `coach runs the goal-directed finance coaching dialogue.

It serves the HTTP API or opens a terminal chat against the same service graph.
Without a model key every session runs on the scripted questionnaire.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("env file: %w", err)
			}
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
		log, cleanup, err = logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File, JSON: cfg.Log.JSON})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cleanup != nil {
			cleanup()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the coaching API over HTTP",
	RunE:  runServe,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the coach in the terminal",
	Long: `Starts one coaching session and reads answers from stdin.

Example:
  coach chat --goal emergency_fund`,
	RunE: runChat,
}

var (
	goalID    string
	goalLabel string
	ownerID   string
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading configuration")

	chatCmd.Flags().StringVar(&goalID, "goal", "", "Goal identifier")
	chatCmd.Flags().StringVar(&goalLabel, "label", "", "Free-text goal, classified when --goal is empty")
	chatCmd.Flags().StringVar(&ownerID, "owner", "local", "Owner id the session is recorded under")

	rootCmd.AddCommand(serveCmd, chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	h, err := handler.NewHandler(app.Service, log.Named("handler"))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	return chat(ctx, app.Service, cmd.InOrStdin(), cmd.OutOrStdout())
}

func chat(ctx context.Context, svc *usecase.CoachService, in io.Reader, out io.Writer) error {
	started, err := svc.StartSession(ctx, usecase.StartInput{GoalID: goalID, GoalLabel: goalLabel, OwnerID: ownerID})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Objectif : %s (session %s)\n", started.GoalLabel, started.SessionID)
	printReply(out, started.Notice, started.Reply, started.QuickReplies)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		text := scanner.Text()
		if strings.TrimSpace(text) == "/quit" {
			return nil
		}

		res, err := svc.SendMessage(ctx, usecase.MessageInput{SessionID: started.SessionID, OwnerID: ownerID, Text: text})
		if err != nil {
			var ue *usecase.Error
			if errors.As(err, &ue) && ue.Code == usecase.ErrorInvalidInput {
				fmt.Fprintln(out, "!", ue.Reason)
				continue
			}
			return err
		}
		printReply(out, res.Notice, res.Reply, res.QuickReplies)
	}
}

func printReply(out io.Writer, notice, reply string, quick []string) {
	if notice != "" {
		fmt.Fprintln(out, "("+notice+")")
	}
	fmt.Fprintln(out, reply)
	if len(quick) > 0 {
		fmt.Fprintln(out, "  ["+strings.Join(quick, " | ")+"]")
	}
}
