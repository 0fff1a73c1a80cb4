package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"optimizer-backend/internal/account"
	"optimizer-backend/internal/documents"
	"optimizer-backend/internal/llm"
	openai "optimizer-backend/internal/llm/openai"
	"optimizer-backend/internal/optimizations"
	"optimizer-backend/internal/queue"
	"optimizer-backend/internal/services/health"
	"optimizer-backend/internal/shared/config"
	"optimizer-backend/internal/shared/server"
	"optimizer-backend/internal/shared/storage/db"
	"optimizer-backend/internal/shared/storage/object"
	localstore "optimizer-backend/internal/shared/storage/object/local"
	s3store "optimizer-backend/internal/shared/storage/object/s3"
	"optimizer-backend/internal/usage"
)

// App holds shared dependencies.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.ObjectStore
	Queue  queue.Client

	DocumentsRepo     documents.DocumentsRepo
	OptimizationsRepo optimizations.Repo

	DocumentsService     *documents.Service
	UsageService         *usage.Service
	OptimizationsService *optimizations.Service
	AccountService       *account.Service

	DocumentsHandler     *documents.Handler
	UsageHandler         *usage.Handler
	OptimizationsHandler *optimizations.Handler
	AccountHandler       *account.Handler
}

// Build prepares shared dependencies and the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		Queue:  queueClient,
	}

	if err := buildServices(app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:              app.Config,
		Health:              health.NewService(app.DB),
		DocumentHandler:     app.DocumentsHandler,
		OptimizationHandler: app.OptimizationsHandler,
		UsageHandler:        app.UsageHandler,
		AccountHandler:      app.AccountHandler,
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		opts := db.OptionsFromEnv(db.DefaultLambdaOptions())
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, opts)
	} else {
		opts := db.OptionsFromEnv(db.DefaultServerOptions())
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, opts)
	}
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context) (queue.Client, error) {
	if strings.TrimSpace(os.Getenv("OPT_SQS_QUEUE_URL")) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx)
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func buildServices(app *App) error {
	var docRepo documents.DocumentsRepo
	var optRepo optimizations.Repo

	if app.DB != nil {
		docRepo = &documents.PGRepo{DB: app.DB}
		optRepo = &optimizations.PGRepo{DB: app.DB}
	} else {
		docRepo = documents.NewMemoryRepo()
		optRepo = optimizations.NewMemoryRepo()
	}

	docSvc := &documents.Service{
		Store:           app.Store,
		Repo:            docRepo,
		StorageProvider: app.Config.ObjectStoreType,
	}

	var usageSvc *usage.Service
	if app.DB != nil {
		usageSvc = usage.NewPostgresService(usage.NewPGStore(app.DB))
	} else {
		usageSvc = usage.NewService()
	}

	llmClient := llm.Client(llm.PlaceholderClient{})
	if app.Config.LLMProvider == "openai" {
		openaiClient, err := openai.NewClient(os.Getenv("OPENAI_API_KEY"), app.Config.LLMModel)
		if err != nil {
			return err
		}
		llmClient = openaiClient
	}

	optSvc := &optimizations.Service{
		Repo:    optRepo,
		Usage:   usageSvc,
		DocRepo: docRepo,
		Store:   app.Store,
		LLM:     llmClient,
		Queue:   app.Queue,
		Limits: optimizations.RoundLimits{
			Min: app.Config.PipelineMinRounds,
			Max: app.Config.PipelineMaxRounds,
		},
		Policy: optimizations.GatePolicy{PassScore: app.Config.PipelinePassScore},
	}

	app.DocumentsRepo = docRepo
	app.OptimizationsRepo = optRepo
	app.DocumentsService = docSvc
	app.UsageService = usageSvc
	app.OptimizationsService = optSvc
	app.AccountService = account.NewService(docRepo, optRepo)
	app.DocumentsHandler = documents.NewHandler(docSvc)
	app.UsageHandler = usage.NewHandler(usageSvc)
	app.OptimizationsHandler = optimizations.NewHandler(optSvc)
	app.AccountHandler = account.NewHandler(app.AccountService)

	if app.DocumentsHandler == nil || app.OptimizationsHandler == nil || app.UsageHandler == nil {
		return errors.New("failed to initialize handlers")
	}

	return nil
}
