package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"finance-coach/handler"
	"finance-coach/internal/bootstrap"
	"finance-coach/internal/config"
	"finance-coach/internal/logger"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.LoadLambda()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, cleanup, err := logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File, JSON: cfg.Log.JSON})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer cleanup()

	// ---- Service graph ----
	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to build coach", zap.Error(err))
	}
	defer app.Close()

	// ---- Handler ----
	h, err := handler.NewHandler(app.Service, log.Named("handler"))
	if err != nil {
		log.Fatal("failed to create handler", zap.Error(err))
	}

	lambda.Start(h.Handle)
}
