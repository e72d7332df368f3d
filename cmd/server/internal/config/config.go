// Package config loads the server configuration from an optional YAML
// file with environment variable overrides. Environment always wins, so a
// deployment can patch a single knob without editing the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/echoscribe/echoscribe/cmd/server/internal/quota"
)

// Config is the unified server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Speaker   SpeakerConfig   `yaml:"speaker"`
	Stitch    StitchConfig    `yaml:"stitch"`
	Data      DataConfig      `yaml:"data"`
	Quota     QuotaConfig     `yaml:"quota"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Env  string `yaml:"env"` // dev, staging, production
	Port string `yaml:"port"`
}

// EngineConfig points at the inference engine.
type EngineConfig struct {
	BaseURL        string  `yaml:"base_url"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

// SegmenterConfig controls media chunking.
type SegmenterConfig struct {
	TargetChunkSeconds    float64 `yaml:"target_chunk_seconds"`
	SmartSplitting        bool    `yaml:"smart_splitting"`
	BoundaryWindowSeconds float64 `yaml:"boundary_window_seconds"`
	OverlapSeconds        float64 `yaml:"overlap_seconds"`
}

// DispatchConfig bounds chunk processing.
type DispatchConfig struct {
	MaxConcurrency int     `yaml:"max_concurrency"`
	MaxRetries     int     `yaml:"max_retries"`
	RetryBaseDelay float64 `yaml:"retry_base_delay_seconds"`
}

// SpeakerConfig selects how chunk-local speaker labels become global
// ids. "timeline" diarizes the full file once before chunking;
// "embedding" diarizes each chunk and matches the labels by voice
// embedding.
type SpeakerConfig struct {
	Strategy string `yaml:"strategy"`
}

// StitchConfig controls transcript reassembly.
type StitchConfig struct {
	MergeGapSeconds  float64 `yaml:"merge_gap_seconds"`
	SpeakerThreshold float64 `yaml:"speaker_threshold"`
}

// DataConfig holds the data directories.
type DataConfig struct {
	JobStatePath string `yaml:"job_state_path"`
	ResultsDir   string `yaml:"results_dir"`
}

// QuotaConfig holds per-tier submission limits. Empty tiers use the
// built-in defaults.
type QuotaConfig struct {
	Tiers map[quota.Tier]quota.Limits `yaml:"tiers"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // console, json
	File       string `yaml:"file"`   // empty logs to stdout only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// GlobalConfig is the loaded configuration instance.
var GlobalConfig *Config

// LoadConfig reads the YAML file at path (when it exists) and applies
// environment overrides. An empty path skips the file entirely.
func LoadConfig(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	GlobalConfig = cfg
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Env: "dev", Port: "8000"},
		Engine: EngineConfig{
			BaseURL:        "http://localhost:9020",
			TimeoutSeconds: 120,
		},
		Segmenter: SegmenterConfig{
			TargetChunkSeconds:    900,
			SmartSplitting:        true,
			BoundaryWindowSeconds: 10,
		},
		Dispatch: DispatchConfig{
			MaxConcurrency: 2,
			MaxRetries:     3,
			RetryBaseDelay: 2,
		},
		Speaker: SpeakerConfig{Strategy: "timeline"},
		Stitch: StitchConfig{
			MergeGapSeconds:  1.0,
			SpeakerThreshold: 0.75,
		},
		Data: DataConfig{
			JobStatePath: "./data/jobs.json",
			ResultsDir:   "./data/results",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Env = getEnv("ENV", cfg.Server.Env)
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Engine.BaseURL = getEnv("ENGINE_BASE_URL", cfg.Engine.BaseURL)
	cfg.Engine.TimeoutSeconds = getEnvFloat("ENGINE_TIMEOUT_SECONDS", cfg.Engine.TimeoutSeconds)
	cfg.Segmenter.TargetChunkSeconds = getEnvFloat("TARGET_CHUNK_SECONDS", cfg.Segmenter.TargetChunkSeconds)
	cfg.Dispatch.MaxConcurrency = getEnvInt("MAX_CONCURRENCY", cfg.Dispatch.MaxConcurrency)
	cfg.Speaker.Strategy = getEnv("SPEAKER_STRATEGY", cfg.Speaker.Strategy)
	cfg.Data.JobStatePath = getEnv("JOB_STATE_PATH", cfg.Data.JobStatePath)
	cfg.Data.ResultsDir = getEnv("RESULTS_DIR", cfg.Data.ResultsDir)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
}

// ValidateConfig checks the configuration and reports every problem at
// once instead of failing on the first.
func ValidateConfig(cfg *Config) error {
	var errors []string

	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid PORT value: %s (must be 1-65535)", cfg.Server.Port))
	}

	validEnvs := map[string]bool{"dev": true, "development": true, "staging": true, "production": true}
	if !validEnvs[cfg.Server.Env] {
		errors = append(errors, fmt.Sprintf("invalid ENV: %s (must be: dev, development, staging, production)", cfg.Server.Env))
	}

	if cfg.Engine.BaseURL == "" {
		errors = append(errors, "ENGINE_BASE_URL is required")
	}
	if cfg.Engine.TimeoutSeconds <= 0 {
		errors = append(errors, "engine timeout_seconds must be positive")
	}

	if cfg.Segmenter.TargetChunkSeconds <= 0 {
		errors = append(errors, "segmenter target_chunk_seconds must be positive")
	}
	if cfg.Segmenter.BoundaryWindowSeconds < 0 {
		errors = append(errors, "segmenter boundary_window_seconds cannot be negative")
	}
	if cfg.Segmenter.OverlapSeconds < 0 {
		errors = append(errors, "segmenter overlap_seconds cannot be negative")
	}

	if cfg.Dispatch.MaxConcurrency < 1 {
		errors = append(errors, "dispatch max_concurrency must be at least 1")
	}
	if cfg.Dispatch.MaxRetries < 0 {
		errors = append(errors, "dispatch max_retries cannot be negative")
	}

	if cfg.Speaker.Strategy != "timeline" && cfg.Speaker.Strategy != "embedding" {
		errors = append(errors, fmt.Sprintf("invalid speaker strategy: %s (must be: timeline, embedding)", cfg.Speaker.Strategy))
	}

	if cfg.Stitch.SpeakerThreshold < 0 || cfg.Stitch.SpeakerThreshold > 1 {
		errors = append(errors, fmt.Sprintf("stitch speaker_threshold must be in [0,1], got %g", cfg.Stitch.SpeakerThreshold))
	}

	if cfg.Data.JobStatePath == "" {
		errors = append(errors, "JOB_STATE_PATH is required")
	}
	if cfg.Data.ResultsDir == "" {
		errors = append(errors, "RESULTS_DIR is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Log.Level] {
		errors = append(errors, fmt.Sprintf("invalid LOG_LEVEL: %s (must be: debug, info, warn, error)", cfg.Log.Level))
	}

	validLogFormats := map[string]bool{"console": true, "json": true}
	if !validLogFormats[cfg.Log.Format] {
		errors = append(errors, fmt.Sprintf("invalid LOG_FORMAT: %s (must be: console, json)", cfg.Log.Format))
	}

	for tier, limits := range cfg.Quota.Tiers {
		if limits.MaxActive < 1 {
			errors = append(errors, fmt.Sprintf("quota tier %s: max_active must be at least 1", tier))
		}
		if limits.MaxPerHour < 1 {
			errors = append(errors, fmt.Sprintf("quota tier %s: max_per_hour must be at least 1", tier))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "dev" || c.Server.Env == "development"
}

// GetServerAddr returns the listen address.
func (c *Config) GetServerAddr() string {
	return ":" + c.Server.Port
}

// PrintConfig renders the configuration for startup logging.
func (c *Config) PrintConfig() string {
	return fmt.Sprintf(`Configuration Loaded:
  Environment: %s
  Server Port: %s
  Engine:
    - Base URL: %s
    - Timeout: %gs
  Segmenter:
    - Target Chunk: %gs
    - Smart Splitting: %t
    - Boundary Window: %gs
  Dispatch:
    - Max Concurrency: %d
    - Max Retries: %d
  Data:
    - Job State: %s
    - Results: %s
  Logging:
    - Level: %s
    - Format: %s`,
		c.Server.Env,
		c.Server.Port,
		c.Engine.BaseURL,
		c.Engine.TimeoutSeconds,
		c.Segmenter.TargetChunkSeconds,
		c.Segmenter.SmartSplitting,
		c.Segmenter.BoundaryWindowSeconds,
		c.Dispatch.MaxConcurrency,
		c.Dispatch.MaxRetries,
		c.Data.JobStatePath,
		c.Data.ResultsDir,
		c.Log.Level,
		c.Log.Format,
	)
}

// getEnv returns the environment value or the fallback when unset.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
