package config

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
	mu       sync.RWMutex
)

// Task store and result repository drivers.
const (
	TaskStoreMemory = "memory"
	TaskStoreSQLite = "sqlite"

	ResultStoreFile      = "file"
	ResultStoreReindexer = "reindexer"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Inference InferenceConfig `mapstructure:"inference"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Loader    LoaderConfig    `mapstructure:"loader"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string `mapstructure:"host" validate:"required"`
	Port           int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	HTTPMaxWorkers int    `mapstructure:"http_max_workers" validate:"min=1"`
}

// LoggingConfig contains logger configuration
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// InferenceConfig contains the inference service endpoint configuration
type InferenceConfig struct {
	BaseURL        string  `mapstructure:"base_url" validate:"required"`
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model" validate:"required"`
	Temperature    float64 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" validate:"min=1"`
}

// PipelineConfig contains extraction pipeline settings
type PipelineConfig struct {
	Workers         int     `mapstructure:"workers" validate:"min=1"`
	ChunkOverlap    int     `mapstructure:"chunk_overlap" validate:"min=0"`
	SyncThresholdMB float64 `mapstructure:"sync_threshold_mb" validate:"min=0"`
}

// StorageConfig contains task, checkpoint and result storage settings
type StorageConfig struct {
	TasksDriver   string `mapstructure:"tasks_driver"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	ResultsDriver string `mapstructure:"results_driver"`
	ResultsDir    string `mapstructure:"results_dir"`
	CheckpointDir string `mapstructure:"checkpoint_dir"`
	UploadsDir    string `mapstructure:"uploads_dir"`

	Reindexer ReindexerConfig `mapstructure:"reindexer"`
}

// ReindexerConfig contains Reindexer database configuration
type ReindexerConfig struct {
	DSN            string `mapstructure:"dsn"`
	MaxConnections int    `mapstructure:"max_connections" validate:"min=1"`
}

// LoaderConfig contains document extraction settings
type LoaderConfig struct {
	Pdftotext string `mapstructure:"pdftotext"`
}

// Get returns the singleton configuration instance
func Get() *Config {
	once.Do(func() {
		if instance == nil {
			instance = &Config{}
		}
	})
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// Load initializes and loads configuration from file and environment variables
func Load(configPath string) error {
	mu.Lock()
	defer mu.Unlock()

	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	// Set default values
	setDefaults()

	// Load from file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables
	bindEnvVars()

	// Unmarshal configuration
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	instance = cfg
	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.http_max_workers", 100)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.development", false)

	// Inference defaults: an OpenAI-compatible chat completion endpoint.
	viper.SetDefault("inference.base_url", "http://localhost:11434/v1/chat/completions")
	viper.SetDefault("inference.api_key", "")
	viper.SetDefault("inference.model", "mistral:latest")
	viper.SetDefault("inference.temperature", 0.1)
	viper.SetDefault("inference.timeout_seconds", 120)

	// Pipeline defaults
	viper.SetDefault("pipeline.workers", 6)
	viper.SetDefault("pipeline.chunk_overlap", 200)
	viper.SetDefault("pipeline.sync_threshold_mb", 5.0)

	// Storage defaults
	viper.SetDefault("storage.tasks_driver", TaskStoreMemory)
	viper.SetDefault("storage.sqlite_path", "tasks.db")
	viper.SetDefault("storage.results_driver", ResultStoreFile)
	viper.SetDefault("storage.results_dir", "results")
	viper.SetDefault("storage.checkpoint_dir", "checkpoints")
	viper.SetDefault("storage.uploads_dir", "uploads")
	viper.SetDefault("storage.reindexer.dsn", "cproto://localhost:6534/compliance")
	viper.SetDefault("storage.reindexer.max_connections", 4)

	// Loader defaults
	viper.SetDefault("loader.pdftotext", "pdftotext")
}

// bindEnvVars binds environment variables to viper keys
func bindEnvVars() {
	viper.BindEnv("server.host", "APP_SERVER_HOST")
	viper.BindEnv("server.port", "APP_SERVER_PORT")
	viper.BindEnv("server.http_max_workers", "APP_SERVER_HTTP_MAX_WORKERS")

	viper.BindEnv("logging.level", "APP_LOG_LEVEL")
	viper.BindEnv("logging.development", "APP_LOG_DEVELOPMENT")

	viper.BindEnv("inference.base_url", "APP_INFERENCE_BASE_URL")
	viper.BindEnv("inference.api_key", "APP_INFERENCE_API_KEY")
	viper.BindEnv("inference.model", "APP_INFERENCE_MODEL")
	viper.BindEnv("inference.temperature", "APP_INFERENCE_TEMPERATURE")
	viper.BindEnv("inference.timeout_seconds", "APP_INFERENCE_TIMEOUT_SECONDS")

	viper.BindEnv("pipeline.workers", "APP_PIPELINE_WORKERS")
	viper.BindEnv("pipeline.chunk_overlap", "APP_PIPELINE_CHUNK_OVERLAP")
	viper.BindEnv("pipeline.sync_threshold_mb", "APP_PIPELINE_SYNC_THRESHOLD_MB")

	viper.BindEnv("storage.tasks_driver", "APP_STORAGE_TASKS_DRIVER")
	viper.BindEnv("storage.sqlite_path", "APP_STORAGE_SQLITE_PATH")
	viper.BindEnv("storage.results_driver", "APP_STORAGE_RESULTS_DRIVER")
	viper.BindEnv("storage.results_dir", "APP_STORAGE_RESULTS_DIR")
	viper.BindEnv("storage.checkpoint_dir", "APP_STORAGE_CHECKPOINT_DIR")
	viper.BindEnv("storage.uploads_dir", "APP_STORAGE_UPLOADS_DIR")
	viper.BindEnv("storage.reindexer.dsn", "APP_STORAGE_REINDEXER_DSN")
	viper.BindEnv("storage.reindexer.max_connections", "APP_STORAGE_REINDEXER_MAX_CONNECTIONS")

	viper.BindEnv("loader.pdftotext", "APP_LOADER_PDFTOTEXT")
}

// validate performs validation on the configuration
func validate(cfg *Config) error {
	if cfg.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if cfg.Server.HTTPMaxWorkers < 1 {
		return fmt.Errorf("server.http_max_workers must be at least 1")
	}

	if cfg.Inference.BaseURL == "" {
		return fmt.Errorf("inference.base_url is required")
	}
	if cfg.Inference.Model == "" {
		return fmt.Errorf("inference.model is required")
	}
	if cfg.Inference.TimeoutSeconds < 1 {
		return fmt.Errorf("inference.timeout_seconds must be at least 1")
	}

	if cfg.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}
	if cfg.Pipeline.ChunkOverlap < 0 {
		return fmt.Errorf("pipeline.chunk_overlap must be non-negative")
	}
	if cfg.Pipeline.SyncThresholdMB < 0 {
		return fmt.Errorf("pipeline.sync_threshold_mb must be non-negative")
	}

	switch cfg.Storage.TasksDriver {
	case TaskStoreMemory, TaskStoreSQLite:
	default:
		return fmt.Errorf("storage.tasks_driver must be %q or %q", TaskStoreMemory, TaskStoreSQLite)
	}
	if cfg.Storage.TasksDriver == TaskStoreSQLite && cfg.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required for the sqlite task store")
	}

	switch cfg.Storage.ResultsDriver {
	case ResultStoreFile, ResultStoreReindexer:
	default:
		return fmt.Errorf("storage.results_driver must be %q or %q", ResultStoreFile, ResultStoreReindexer)
	}
	if cfg.Storage.ResultsDriver == ResultStoreReindexer {
		if cfg.Storage.Reindexer.DSN == "" {
			return fmt.Errorf("storage.reindexer.dsn is required for the reindexer result store")
		}
		if cfg.Storage.Reindexer.MaxConnections < 1 {
			return fmt.Errorf("storage.reindexer.max_connections must be at least 1")
		}
	}

	return nil
}

// Reload reloads the configuration (thread-safe)
func Reload(configPath string) error {
	mu.Lock()
	defer mu.Unlock()

	// Reset instance to allow reload
	instance = nil
	once = sync.Once{}

	return Load(configPath)
}
