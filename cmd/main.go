package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nycquery_service/internal/api"
	"nycquery_service/internal/config"
	"nycquery_service/internal/core"
	"nycquery_service/internal/domain/catalog"
	"nycquery_service/internal/domain/repository"
	"nycquery_service/internal/infrastructure/llmclient"
)

var (
	configPath  string
	checkSchema bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nycquery",
	Short: "Natural-language queries over NYC building data",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd == checkCatalogCmd {
			if cfg.DB.URL == "" {
				return errors.New("db.url is not set")
			}
		} else if err := cfg.Validate(); err != nil {
			return err
		}
		logger, err = newLogger(cfg.Log)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Answer one query and print the envelope as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

var checkCatalogCmd = &cobra.Command{
	Use:   "check-catalog",
	Short: "Verify every catalog column exists in the database",
	RunE:  runCheckCatalog,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config")
	serveCmd.Flags().BoolVar(&checkSchema, "check-schema", false, "verify the catalog against the database at startup")
	rootCmd.AddCommand(serveCmd, askCmd, checkCatalogCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(lc config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zc.Level = level
	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return l, nil
}

// buildService connects to the database and wires the pipeline.
func buildService(ctx context.Context) (*core.QueryService, *sqlx.DB, error) {
	cat := catalog.Default()

	db, err := repository.Connect(ctx, cfg.DB.URL, cfg.DB.MaxOpenConns)
	if err != nil {
		return nil, nil, err
	}
	store := repository.NewPostgresRepository(db, cat, logger.Named("store"))

	llm, err := llmclient.NewOpenAIClient(llmclient.Config{
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		Model:        cfg.LLM.Model,
		ExplainModel: cfg.LLM.ExplainModel,
		Timeout:      cfg.LLMTimeout(),
	}, cat, logger.Named("llm"))
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	svc := core.NewQueryService(llm, llm, llm, store,
		core.WithLogger(logger.Named("pipeline")),
		core.WithCatalog(cat),
		core.WithTimeouts(cfg.LLMTimeout(), cfg.DBTimeout()),
		core.WithFeatureLimit(cfg.HTTP.FeatureLimit),
		core.WithExplanations(cfg.LLM.Explain),
	)
	return svc, db, nil
}

func checkCatalog(ctx context.Context, db *sqlx.DB) error {
	missing, err := repository.NewSchemaChecker(db, catalog.Default()).MissingColumns(ctx)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		logger.Error("catalog columns missing from database", zap.Strings("columns", missing))
		return fmt.Errorf("%d catalog columns missing from database", len(missing))
	}
	logger.Info("catalog matches database")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, db, err := buildService(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if checkSchema {
		if err := checkCatalog(ctx, db); err != nil {
			return err
		}
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewHandler(svc, logger.Named("api")), api.RouterConfig{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
	}, logger.Named("http"))

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.HTTP.Addr))
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

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, db, err := buildService(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	env := svc.Run(ctx, args[0], nil)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

func runCheckCatalog(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := repository.Connect(ctx, cfg.DB.URL, 1)
	if err != nil {
		return err
	}
	defer db.Close()
	return checkCatalog(ctx, db)
}
