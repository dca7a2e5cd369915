package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "judge_service.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
database:
  dsn: "judge:judge@tcp(127.0.0.1:3306)/codejudge"
redis:
  addr: 127.0.0.1:6379
judge:
  maxCodeBytes: 4096
`

func TestLoadAppConfigDefaults(t *testing.T) {
	cfg, err := loadAppConfig(writeConfig(t, minimalConfig), "")
	if err != nil {
		t.Fatalf("loadAppConfig returned error: %v", err)
	}
	if cfg.Server.Addr != defaultHTTPAddr {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Worker.Workers != 4 || cfg.Worker.Timeout != defaultWorkerTimeout {
		t.Fatalf("unexpected worker defaults %+v", cfg.Worker)
	}
	if cfg.Kafka.Enabled() {
		t.Fatalf("kafka should be disabled without brokers")
	}
	if cfg.Kafka.JudgeTopic != "judge.submission" || cfg.Kafka.Topic != "judge.retry" || cfg.Kafka.MaxDelay != 30*time.Second {
		t.Fatalf("unexpected kafka defaults %+v", cfg.Kafka)
	}
	if cfg.Run.MaxCodeBytes != 4096 {
		t.Fatalf("run limit should follow judge limit, got %d", cfg.Run.MaxCodeBytes)
	}
	if cfg.Redis.PoolSize == 0 {
		t.Fatalf("redis defaults not applied")
	}
}

func TestLoadAppConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "no dsn", body: "redis:\n  addr: x:1\n", want: "dsn"},
		{name: "no redis", body: "database:\n  dsn: d\n", want: "redis"},
		{name: "ai without endpoint", body: minimalConfig + "ai:\n  enabled: true\n", want: "ai endpoint"},
		{name: "archive without minio", body: minimalConfig + "archive:\n  bucket: results\n", want: "minio"},
		{name: "bad yaml", body: "server: [", want: "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadAppConfig(writeConfig(t, tt.body), "")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadAppConfigReadsEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("JUDGE_JWT_SECRET=from-env-file\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("JUDGE_JWT_SECRET") })

	cfg, err := loadAppConfig(writeConfig(t, minimalConfig), envFile)
	if err != nil {
		t.Fatalf("loadAppConfig returned error: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env-file" {
		t.Fatalf("expected secret from env file, got %q", cfg.Auth.JWTSecret)
	}

	if _, err := loadAppConfig(writeConfig(t, minimalConfig), filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"USE_AI_JUDGE":      "true",
		"AI_JUDGE_ENDPOINT": "http://ai.local",
		"AI_JUDGE_API_KEY":  "k",
		"JUDGE_DB_DSN":      "dsn",
		"JUDGE_REDIS_ADDR":  "redis:6379",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	var cfg AppConfig
	if err := applyEnvOverrides(&cfg, lookup); err != nil {
		t.Fatalf("applyEnvOverrides returned error: %v", err)
	}
	if !cfg.AI.Enabled || cfg.AI.Endpoint != "http://ai.local" || cfg.AI.APIKey != "k" {
		t.Fatalf("unexpected ai config %+v", cfg.AI)
	}
	if cfg.Database.DSN != "dsn" || cfg.Redis.Addr != "redis:6379" {
		t.Fatalf("unexpected store config %+v %+v", cfg.Database, cfg.Redis)
	}

	env["USE_AI_JUDGE"] = "maybe"
	if err := applyEnvOverrides(&cfg, lookup); err == nil {
		t.Fatalf("expected invalid bool error")
	}
}
