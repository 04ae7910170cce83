// Package bootstrap wires the coaching service from configuration. Both the
// Lambda entrypoint and the CLI build their App here.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"finance-coach/internal/coaching"
	"finance-coach/internal/config"
	"finance-coach/internal/integrations/openai"
	"finance-coach/internal/integrations/paramstore"
	"finance-coach/internal/repository"
	"finance-coach/internal/usecase"
)

// App is the assembled service graph.
type App struct {
	Service *usecase.CoachService
	Logger  *zap.Logger

	closers []io.Closer
}

// New builds the App. AWS configuration is only loaded when the DynamoDB
// backend or an SSM key parameter is configured.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}

	loader := &awsLoader{}
	app := &App{Logger: log}

	store, err := openStore(ctx, cfg.History, loader)
	if err != nil {
		return nil, err
	}
	if c, ok := store.(io.Closer); ok {
		app.closers = append(app.closers, c)
	}

	gateway, err := newGateway(ctx, cfg.LLM, loader)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	snapshot, err := coaching.LoadSnapshot(cfg.BudgetSnapshotPath)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("bootstrap: budget snapshot: %w", err)
	}
	bank := coaching.DefaultQuestionBank()

	registry, err := usecase.NewRegistry(store, bank, cfg.SessionTTL, log.Named("registry"))
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("bootstrap: registry: %w", err)
	}
	orchestrator, err := usecase.NewOrchestrator(gateway, store, bank, coaching.NewMessageBuilder(snapshot), cfg.Placeholder, log.Named("orchestrator"))
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("bootstrap: orchestrator: %w", err)
	}
	service, err := usecase.NewCoachService(registry, orchestrator, store, bank, cfg.MaxMessageLength, log.Named("coach"))
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("bootstrap: coach service: %w", err)
	}
	app.Service = service

	log.Info("coach ready",
		zap.String("history_backend", cfg.History.Backend),
		zap.Bool("llm_enabled", cfg.LLM.Enabled && cfg.LLM.HasCredential()),
		zap.String("llm_model", gateway.Model()),
	)
	return app, nil
}

// Close releases the history store.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg config.HistoryConfig, loader *awsLoader) (usecase.HistoryStore, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		s, err := repository.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: sqlite store: %w", err)
		}
		return s, nil
	case config.BackendPostgres:
		s, err := repository.NewPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: postgres store: %w", err)
		}
		return s, nil
	case config.BackendDynamoDB:
		awsCfg, err := loader.load(ctx)
		if err != nil {
			return nil, err
		}
		s, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable, cfg.OwnerIndex)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: dynamodb store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown history backend %q", cfg.Backend)
	}
}

func newGateway(ctx context.Context, cfg config.LLMConfig, loader *awsLoader) (*openai.Client, error) {
	// getter stays a nil interface unless SSM is configured.
	var getter paramstore.Getter
	if cfg.Enabled && cfg.APIKey == "" && cfg.APIKeyParam != "" {
		awsCfg, err := loader.load(ctx)
		if err != nil {
			return nil, err
		}
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, fmt.Errorf("bootstrap: ssm client: %w", err)
		}
		getter = ssmClient
	}
	keys := paramstore.NewKeySource(cfg.APIKey, getter, cfg.APIKeyParam)

	client, err := openai.NewClient(keys, openai.Config{
		Enabled:     cfg.Enabled,
		Model:       cfg.Model,
		Temperature: float32(cfg.Temperature),
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	}, openai.WithBaseURL(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: model gateway: %w", err)
	}
	return client, nil
}

// awsLoader loads the default AWS configuration at most once.
type awsLoader struct {
	cfg    aws.Config
	loaded bool
}

func (l *awsLoader) load(ctx context.Context) (aws.Config, error) {
	if l.loaded {
		return l.cfg, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("bootstrap: load AWS config: %w", err)
	}
	l.cfg, l.loaded = cfg, true
	return cfg, nil
}
