package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/sundayezeilo/openlinks/internal/cli"
	"github.com/sundayezeilo/openlinks/internal/config"
	"github.com/sundayezeilo/openlinks/internal/links"
)

// App holds the application dependencies and configuration.
type App struct {
	Config *config.Config
	Site   *config.Site
	Logger *slog.Logger
	DBPool *pgxpool.Pool
	Store  *links.Store
	CLI    *cli.CLI
}

// New initializes and returns a new App instance with all dependencies wired up.
func New(ctx context.Context) (*App, error) {
	if err := loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return NewWithConfig(ctx, cfg, nil)
}

// NewWithConfig wires an App from an already loaded configuration. cliCfg
// may be nil to use the process streams.
func NewWithConfig(ctx context.Context, cfg *config.Config, cliCfg *cli.Config) (*App, error) {
	logger := setupLogger(cfg.App.LogLevel)

	logger.Debug("starting application",
		"env", cfg.App.Environment,
		"backend", cfg.Store.Backend,
	)

	site, err := config.LoadSite(cfg.Store.SiteFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load site config: %w", err)
	}

	repo, pool, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open link storage: %w", err)
	}

	store := links.NewStore(repo, &links.StoreConfig{
		Logger:  logger,
		BaseURL: site.BaseURL,
	})

	if cliCfg == nil {
		cliCfg = &cli.Config{}
	}
	if cliCfg.Logger == nil {
		cliCfg.Logger = logger
	}

	return &App{
		Config: cfg,
		Site:   site,
		Logger: logger,
		DBPool: pool,
		Store:  store,
		CLI:    cli.New(store, cliCfg),
	}, nil
}

// Run executes one command and returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	return a.CLI.Run(ctx, args)
}

// Shutdown releases the storage backend.
func (a *App) Shutdown() error {
	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Debug("database connection closed")
	}

	return nil
}

// loadEnv loads a .env file only in non-production environments.
func loadEnv() error {
	env := os.Getenv("APP_ENV")
	if env == "" || env == "development" || env == "test" {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Printf("failed to load .env file: %v", err)
		}
	}
	return nil
}

// setupLogger creates a structured logger based on the log level. Logs go
// to stderr; stdout carries command output.
func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewJSONHandler(os.Stderr, opts)
	return slog.New(handler)
}

// openRepository builds the configured backend. The pool is nil unless the
// postgres backend is selected.
func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (links.Repository, *pgxpool.Pool, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return links.NewMemoryRepository(), nil, nil

	case config.BackendPostgres:
		pool, err := connectDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		repo := links.NewPostgresRepository(pool, nil)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to prepare schema: %w", err)
		}
		return repo, pool, nil

	default:
		repo, err := links.NewFileRepository(cfg.Store.LinksDir())
		if err != nil {
			return nil, nil, err
		}
		return repo, nil, nil
	}
}

// connectDatabase establishes a connection to the PostgreSQL database.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Set pool configuration
	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns

	logger.Debug("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Debug("database connection established")

	return pool, nil
}
