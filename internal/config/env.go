package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment variable read by ApplyEnv.
const EnvPrefix = "NEWSRAG"

// EnvConfig holds the settings that may be overridden from the environment.
// Env: NEWSRAG_<NAME>. Unset or empty values leave the file value in place.
type EnvConfig struct {
	Debug *bool `envconfig:"DEBUG"`

	ServerHost string `envconfig:"SERVER_HOST"`
	ServerPort int    `envconfig:"SERVER_PORT"`

	SnapshotPath    string `envconfig:"SNAPSHOT_PATH"`
	ReadyMarkerPath string `envconfig:"READY_MARKER_PATH"`
	DatabasePath    string `envconfig:"DATABASE_PATH"`

	EmbeddingBackend string `envconfig:"EMBEDDING_BACKEND"`
	EmbeddingModel   string `envconfig:"EMBEDDING_MODEL"`
	EmbeddingBaseURL string `envconfig:"EMBEDDING_BASE_URL"`
	EmbeddingAPIKey  string `envconfig:"EMBEDDING_API_KEY"`

	FeedsSourcesPath string `envconfig:"FEEDS_SOURCES_PATH"`

	LLMBaseURL string `envconfig:"LLM_BASE_URL"`
	LLMModel   string `envconfig:"LLM_MODEL"`
	LLMAPIKey  string `envconfig:"LLM_API_KEY"`
}

// LoadDotEnv loads variables from the given .env files into the process environment.
// Missing files are ignored; variables already set are not overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromEnv decodes NEWSRAG_* variables.
func LoadFromEnv() (EnvConfig, error) {
	var env EnvConfig
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return EnvConfig{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return env, nil
}

// ApplyEnv overlays NEWSRAG_* variables onto cfg.
func ApplyEnv(cfg *Config) error {
	env, err := LoadFromEnv()
	if err != nil {
		return err
	}
	env.apply(cfg)
	return nil
}

func (e EnvConfig) apply(cfg *Config) {
	if e.Debug != nil {
		cfg.Debug = *e.Debug
	}
	setString(&cfg.Server.Host, e.ServerHost)
	if e.ServerPort != 0 {
		cfg.Server.Port = e.ServerPort
	}
	setString(&cfg.Storage.SnapshotPath, e.SnapshotPath)
	setString(&cfg.Storage.ReadyMarkerPath, e.ReadyMarkerPath)
	setString(&cfg.Storage.DatabasePath, e.DatabasePath)
	setString(&cfg.Embedding.Backend, e.EmbeddingBackend)
	setString(&cfg.Embedding.Model, e.EmbeddingModel)
	setString(&cfg.Embedding.BaseURL, e.EmbeddingBaseURL)
	setString(&cfg.Embedding.APIKey, e.EmbeddingAPIKey)
	setString(&cfg.Feeds.SourcesPath, e.FeedsSourcesPath)
	setString(&cfg.LLM.BaseURL, e.LLMBaseURL)
	setString(&cfg.LLM.Model, e.LLMModel)
	setString(&cfg.LLM.APIKey, e.LLMAPIKey)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
