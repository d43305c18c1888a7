package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Ollama    OllamaConfig
	Search    SearchConfig
	Lifecycle LifecycleConfig
	Log       LogConfig
	API       APIConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type SearchConfig struct {
	TopK         int
	VectorWeight float64
	GraphWeight  float64
	GraphDepth   int
}

type LifecycleConfig struct {
	HotDays             int
	WarmDays            int
	RetentionDays       int
	ImportanceThreshold float64
}

type LogConfig struct {
	Level string
}

type APIConfig struct {
	// Token guards mutating and management endpoints. Empty disables auth
	// (local development only).
	Token string
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4800},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Search: SearchConfig{
			TopK:         10,
			VectorWeight: 0.5,
			GraphWeight:  0.5,
			GraphDepth:   2,
		},
		Lifecycle: LifecycleConfig{
			HotDays:             7,
			WarmDays:            30,
			RetentionDays:       365,
			ImportanceThreshold: 0.7,
		},
		Log: LogConfig{Level: "info"},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".ame")
}

// Load builds the configuration from defaults and AME_* environment
// variables, then validates it. Validation failures are startup errors.
func Load() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "AME_PORT")
	setString(&cfg.Storage.DataDir, "AME_DATA_DIR")
	setString(&cfg.Ollama.BaseURL, "AME_OLLAMA_URL")
	setString(&cfg.Ollama.EmbedModel, "AME_EMBED_MODEL")
	setInt(&cfg.Search.TopK, "AME_SEARCH_TOP_K")
	setFloat(&cfg.Search.VectorWeight, "AME_SEARCH_VECTOR_WEIGHT")
	setFloat(&cfg.Search.GraphWeight, "AME_SEARCH_GRAPH_WEIGHT")
	setInt(&cfg.Search.GraphDepth, "AME_SEARCH_GRAPH_DEPTH")
	setInt(&cfg.Lifecycle.HotDays, "AME_HOT_DAYS")
	setInt(&cfg.Lifecycle.WarmDays, "AME_WARM_DAYS")
	setInt(&cfg.Lifecycle.RetentionDays, "AME_RETENTION_DAYS")
	setFloat(&cfg.Lifecycle.ImportanceThreshold, "AME_IMPORTANCE_THRESHOLD")
	setString(&cfg.Log.Level, "AME_LOG_LEVEL")
	setString(&cfg.API.Token, "AME_API_TOKEN")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// Validate checks the invariants the core depends on. A violation here is a
// configuration error and aborts startup.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Server.Port)
	}
	if c.Lifecycle.HotDays <= 0 || c.Lifecycle.WarmDays <= 0 || c.Lifecycle.RetentionDays <= 0 {
		return fmt.Errorf("config: lifecycle day thresholds must be positive")
	}
	if c.Lifecycle.HotDays >= c.Lifecycle.WarmDays {
		return fmt.Errorf("config: hot days (%d) must be less than warm days (%d)",
			c.Lifecycle.HotDays, c.Lifecycle.WarmDays)
	}
	if c.Lifecycle.ImportanceThreshold <= 0 || c.Lifecycle.ImportanceThreshold > 1 {
		return fmt.Errorf("config: importance threshold %g must be in (0,1]", c.Lifecycle.ImportanceThreshold)
	}
	if c.Search.VectorWeight < 0 || c.Search.GraphWeight < 0 {
		return fmt.Errorf("config: search weights must be non-negative")
	}
	if c.Search.VectorWeight+c.Search.GraphWeight == 0 {
		return fmt.Errorf("config: at least one search weight must be positive")
	}
	if c.Search.TopK <= 0 {
		return fmt.Errorf("config: search top-k must be positive")
	}
	if c.Search.GraphDepth < 0 {
		return fmt.Errorf("config: graph depth must not be negative")
	}
	return nil
}
