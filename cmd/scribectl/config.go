package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config holds the CLI-wide settings.
type Config struct {
	ServerURL string `yaml:"server_url" json:"server_url"`
	User      string `yaml:"user" json:"user"`
	Output    string `yaml:"-" json:"-"`
}

// LoadConfig resolves settings from flags, environment variables and the
// config file, in that order of precedence.
func LoadConfig(cmd *cobra.Command) *Config {
	cfg := &Config{}

	loadConfigFile(cfg)

	if v := os.Getenv("ECHOSCRIBE_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("ECHOSCRIBE_USER"); v != "" {
		cfg.User = v
	}

	if v, _ := cmd.Flags().GetString("server-url"); v != "" {
		cfg.ServerURL = v
	}
	if v, _ := cmd.Flags().GetString("user"); v != "" {
		cfg.User = v
	}
	if v, _ := cmd.Flags().GetString("output"); v != "" {
		cfg.Output = v
	}

	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:9010"
	}
	if cfg.Output == "" {
		cfg.Output = "text"
	}

	return cfg
}

// loadConfigFile reads ~/.echoscribe/config.yaml if present.
func loadConfigFile(cfg *Config) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	path := filepath.Join(home, ".echoscribe", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	_ = yaml.Unmarshal(data, cfg)
}

func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("server-url", "", "server address (env: ECHOSCRIBE_SERVER_URL, default: http://localhost:9010)")
	cmd.PersistentFlags().StringP("user", "u", "", "user identity sent as X-User (env: ECHOSCRIBE_USER)")
	cmd.PersistentFlags().StringP("output", "o", "", "output format: json / text (default: text)")
}
