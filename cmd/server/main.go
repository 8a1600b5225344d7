package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DevaanshArora/complianceASC/internal/checkpoint"
	"github.com/DevaanshArora/complianceASC/internal/config"
	"github.com/DevaanshArora/complianceASC/internal/domain"
	"github.com/DevaanshArora/complianceASC/internal/extractor"
	"github.com/DevaanshArora/complianceASC/internal/handlers"
	"github.com/DevaanshArora/complianceASC/internal/inference"
	"github.com/DevaanshArora/complianceASC/internal/loader"
	"github.com/DevaanshArora/complianceASC/internal/middleware"
	"github.com/DevaanshArora/complianceASC/internal/orchestrator"
	"github.com/DevaanshArora/complianceASC/internal/repositories"
	"github.com/DevaanshArora/complianceASC/internal/segmenter"
	"github.com/DevaanshArora/complianceASC/internal/taskstore"
	"github.com/DevaanshArora/complianceASC/internal/usecases"
	"github.com/DevaanshArora/complianceASC/pkg/logger"
)

const (
	healthCheckRetries    = 5
	healthCheckRetryDelay = 2 * time.Second

	shutdownTimeout = 30 * time.Second
)

// App holds every component of the service so lifecycle management
// (initialize, start, shutdown) happens in one place.
type App struct {
	config  *config.Config
	logger  *zap.Logger
	tasks   domain.TaskStore
	results domain.ResultRepository
	usecase *usecases.AnalysisUsecase
	server  *http.Server

	// The reindexer repository is kept separately for health checks; nil
	// when the file-backed result store is configured.
	reindexer *repositories.ReindexerRepository

	initOnce sync.Once
	initErr  error

	shutdownOnce sync.Once
}

// NewApp creates an empty application shell; Initialize does the wiring.
func NewApp() *App {
	return &App{}
}

// Initialize sets up all components, all-or-nothing.
func (a *App) Initialize() error {
	a.initOnce.Do(func() {
		a.initErr = a.doInitialize()
	})
	return a.initErr
}

// doInitialize wires components in dependency order: logger and config
// first, then storage, then the pipeline, then the HTTP surface.
func (a *App) doInitialize() error {
	configPath := os.Getenv("APP_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Try the config file first; fall back to defaults plus environment.
	if err := config.Load(configPath); err != nil {
		if err := config.Load(""); err != nil {
			return fmt.Errorf("configuration failed: %w", err)
		}
	}
	a.config = config.Get()

	if err := logger.Init(a.config.Logging.Level, a.config.Logging.Development); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger.Get()

	a.logger.Info("configuration loaded",
		zap.String("server_host", a.config.Server.Host),
		zap.Int("server_port", a.config.Server.Port),
		zap.String("tasks_driver", a.config.Storage.TasksDriver),
		zap.String("results_driver", a.config.Storage.ResultsDriver),
	)

	if err := a.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Extraction pipeline: loader -> segmenter -> inference -> orchestrator.
	docLoader := loader.New(a.config.Loader.Pdftotext, logger.Named("loader"))
	seg := segmenter.New(a.config.Pipeline.ChunkOverlap, logger.Named("segmenter"))

	inferenceClient := inference.NewClient(
		a.config.Inference.BaseURL,
		a.config.Inference.APIKey,
		a.config.Inference.Model,
		a.config.Inference.Temperature,
		time.Duration(a.config.Inference.TimeoutSeconds)*time.Second,
		logger.Named("inference"),
	)

	stage, err := extractor.NewStage(inferenceClient, logger.Named("extractor"))
	if err != nil {
		return fmt.Errorf("failed to build extraction stage: %w", err)
	}

	pipeline := orchestrator.New(stage, a.config.Pipeline.Workers, logger.Named("orchestrator"))

	checkpointDir := a.config.Storage.CheckpointDir
	checkpoints := func(taskID uuid.UUID) (domain.CheckpointSink, error) {
		return checkpoint.NewFileSink(checkpointDir, taskID.String())
	}

	a.usecase = usecases.NewAnalysisUsecase(
		docLoader,
		seg,
		pipeline,
		a.tasks,
		a.results,
		checkpoints,
		a.config.Pipeline.SyncThresholdMB,
		logger.Named("usecase"),
	)

	if err := a.initializeServer(); err != nil {
		return fmt.Errorf("failed to set up server: %w", err)
	}

	a.logger.Info("application initialized")
	return nil
}

// initializeStorage builds the task store and result repository selected by
// configuration.
func (a *App) initializeStorage() error {
	switch a.config.Storage.TasksDriver {
	case config.TaskStoreSQLite:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err := taskstore.OpenSQLite(ctx, a.config.Storage.SQLitePath)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to open sqlite task store: %w", err)
		}
		a.tasks = store
	default:
		store := taskstore.NewMemoryStore(0, 0)
		store.StartJanitor()
		a.tasks = store
	}

	switch a.config.Storage.ResultsDriver {
	case config.ResultStoreReindexer:
		repo, err := a.connectReindexer()
		if err != nil {
			return err
		}
		a.reindexer = repo
		a.results = repo
	default:
		repo, err := repositories.NewFileRepository(a.config.Storage.ResultsDir, logger.Named("results"))
		if err != nil {
			return fmt.Errorf("failed to create file result repository: %w", err)
		}
		a.results = repo
	}

	return nil
}

// connectReindexer retries the database connection; the database may come
// up slower than the service.
func (a *App) connectReindexer() (*repositories.ReindexerRepository, error) {
	var err error

	for attempt := 0; attempt < healthCheckRetries; attempt++ {
		if attempt > 0 {
			a.logger.Info("retrying database connection",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", healthCheckRetryDelay),
			)
			time.Sleep(healthCheckRetryDelay)
		}

		repo, initErr := repositories.NewReindexerRepository(
			a.config.Storage.Reindexer.DSN,
			a.config.Storage.Reindexer.MaxConnections,
			logger.Named("reindexer"),
		)
		if initErr != nil {
			err = initErr
			a.logger.Warn("failed to create repository client",
				zap.Int("attempt", attempt+1),
				zap.Error(initErr),
			)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if checkErr := repo.CheckConnection(ctx); checkErr != nil {
			cancel()
			repo.Close()
			err = checkErr
			continue
		}
		cancel()

		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		if ensureErr := repo.EnsureCollections(ctx); ensureErr != nil {
			cancel()
			repo.Close()
			err = ensureErr
			continue
		}
		cancel()

		a.logger.Info("repository initialized",
			zap.Int("attempts", attempt+1),
			zap.String("dsn", a.config.Storage.Reindexer.DSN),
		)
		return repo, nil
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", healthCheckRetries, err)
}

// initializeServer sets up HTTP routing and middleware.
func (a *App) initializeServer() error {
	analysisHandler, err := handlers.NewAnalysisHandler(a.usecase, a.config.Storage.UploadsDir, logger.Named("handlers"))
	if err != nil {
		return err
	}

	r := chi.NewRouter()

	rateLimiter := middleware.NewRateLimiter(a.config.Server.HTTPMaxWorkers, 1*time.Minute)

	// Health endpoint bypasses the middleware chain so probes stay cheap.
	r.Get("/health", a.healthCheckHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.LoggingMiddleware(a.logger))
		r.Use(middleware.RecoveryMiddleware(a.logger))
		r.Use(middleware.CORSMiddleware())
		r.Use(middleware.RateLimitMiddleware(rateLimiter, a.logger))

		r.Post("/analyze", analysisHandler.AnalyzeDocument)
		r.Get("/status/{task_id}", analysisHandler.GetStatus)
		r.Get("/results/{task_id}", analysisHandler.GetResults)
		r.Get("/download/{task_id}/{file_type}", analysisHandler.DownloadArtifact)
		r.Delete("/tasks/{task_id}", analysisHandler.CancelTask)
	})

	addr := fmt.Sprintf("%s:%d", a.config.Server.Host, a.config.Server.Port)
	a.server = &http.Server{
		Addr:    addr,
		Handler: r,
		// No write timeout: the synchronous analysis path legitimately
		// holds a request open while inference runs.
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	return nil
}

// healthCheckHandler reports service liveness and, when a database-backed
// result store is configured, its connection state.
func (a *App) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")

	if a.reindexer != nil {
		if err := a.reindexer.CheckConnection(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			health["status"] = "unhealthy"
			health["error"] = err.Error()
			json.NewEncoder(w).Encode(health)
			return
		}
		health["database"] = "connected"
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(health)
}

// Start begins serving HTTP in its own goroutine.
func (a *App) Start() error {
	if err := a.Initialize(); err != nil {
		return err
	}

	go func() {
		a.logger.Info("starting HTTP server",
			zap.String("addr", a.server.Addr),
		)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Fatal("server failed", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown stops the application in reverse dependency order: stop taking
// requests, drain in-flight analyses, then close storage.
func (a *App) Shutdown() error {
	var shutdownErr error

	a.shutdownOnce.Do(func() {
		a.logger.Info("shutting down")

		if a.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := a.server.Shutdown(ctx); err != nil {
				a.logger.Error("failed to stop server", zap.Error(err))
				shutdownErr = err
			}
			cancel()
		}

		if a.usecase != nil {
			a.usecase.Shutdown()
		}

		if a.tasks != nil {
			if err := a.tasks.Close(); err != nil {
				a.logger.Error("failed to close task store", zap.Error(err))
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}

		if a.reindexer != nil {
			if err := a.reindexer.Close(); err != nil {
				a.logger.Error("failed to close database", zap.Error(err))
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}

		if a.logger != nil {
			_ = a.logger.Sync()
		}
	})

	return shutdownErr
}

func main() {
	app := NewApp()

	if err := app.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := app.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
}
