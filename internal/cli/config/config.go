package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codejudge/internal/judge/adhoc"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/orchestrator"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/workspace"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL     = "http://127.0.0.1:8085"
	DefaultTimeout     = 10 * time.Second
	DefaultHistoryFile = ".judge_cli_history"
)

// ServerConfig points the CLI at a running judge service.
type ServerConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
	Token   string        `yaml:"token"`
}

// Config holds CLI configuration.
type Config struct {
	Workspace    workspace.Config    `yaml:"workspace"`
	Runner       engine.Config       `yaml:"runner"`
	Orchestrator orchestrator.Config `yaml:"judge"`
	Run          adhoc.Config        `yaml:"run"`
	Language     language.Config     `yaml:"language"`
	Server       ServerConfig        `yaml:"server"`
	HistoryFile  string              `yaml:"historyFile"`
	Color        *bool               `yaml:"color"`
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config file failed: %w", err)
			}
		case !os.IsNotExist(err):
			return cfg, fmt.Errorf("read config file failed: %w", err)
		}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = DefaultBaseURL
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = DefaultTimeout
	}
	if cfg.HistoryFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.HistoryFile = filepath.Join(home, DefaultHistoryFile)
		}
	}
	if cfg.Color == nil {
		value := true
		cfg.Color = &value
	}
}
