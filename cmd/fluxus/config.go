package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fluxus-dev/fluxus/internal/secrets"
)

// Config holds all fluxus configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr        string `json:"listen_addr"`
	DBPath            string `json:"db_path"`
	LogLevel          string `json:"log_level"`
	Backlog           int    `json:"backlog"`
	RunTimeoutSeconds int    `json:"run_timeout_seconds"`

	OpenAIAPIKey  string  `json:"openai_api_key"`
	OpenAIBaseURL string  `json:"openai_base_url"`
	Model         string  `json:"model"`
	Temperature   float32 `json:"temperature"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:        ":4200",
		DBPath:            filepath.Join(fluxusDir(), "fluxus.db"),
		LogLevel:          "info",
		Backlog:           1024,
		RunTimeoutSeconds: 600,
	}
}

func fluxusDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fluxus"
	}
	return filepath.Join(home, ".fluxus")
}

func settingsPath() string {
	return filepath.Join(fluxusDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLUXUS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FLUXUS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLUXUS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLUXUS_BACKLOG"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backlog = n
		}
	}
	if v := os.Getenv("FLUXUS_RUN_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RunTimeoutSeconds = n
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("FLUXUS_OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("FLUXUS_MODEL"); v != "" {
		cfg.Model = v
	}

	// Layer 4: the encrypted vault backfills credentials nothing else set.
	if cfg.OpenAIAPIKey == "" {
		if pass := os.Getenv("FLUXUS_VAULT_PASSPHRASE"); pass != "" {
			if v, err := secrets.Open(vaultPath(), pass); err == nil {
				if key, err := v.Get("openai_api_key"); err == nil {
					cfg.OpenAIAPIKey = key
				}
			}
		}
	}

	return cfg
}

func vaultPath() string {
	return filepath.Join(fluxusDir(), "secrets.json")
}
