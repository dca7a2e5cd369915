package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/adhoc"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/orchestrator"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/service"
	"codejudge/internal/judge/strategy"
	"codejudge/internal/judge/workspace"
	"codejudge/pkg/utils/logger"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultStatusTTL       = 30 * time.Minute
	defaultStatusTimeout   = 2 * time.Second
	defaultWorkerTimeout   = 10 * time.Minute
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	// TrustUserHeader accepts X-User-Id from an authenticating gateway.
	TrustUserHeader bool `yaml:"trustUserHeader"`
}

// KafkaConfig holds Kafka settings. Without brokers, judging runs on the local pool only.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ClientID      string        `yaml:"clientID"`
	MinBytes      int           `yaml:"minBytes"`
	MaxBytes      int           `yaml:"maxBytes"`
	MaxWait       time.Duration `yaml:"maxWait"`
	BatchSize     int           `yaml:"batchSize"`
	BatchTimeout  time.Duration `yaml:"batchTimeout"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	RequiredAcks  int           `yaml:"requiredAcks"`
	Compression   string        `yaml:"compression"`
	JudgeTopic    string        `yaml:"judgeTopic"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	Concurrency   int           `yaml:"concurrency"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	MessageTTL    time.Duration `yaml:"messageTTL"`

	service.RetryConfig `yaml:",inline"`
}

// Enabled reports whether a broker list is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// StatusConfig holds status persistence settings.
type StatusConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	EmptyTTL   time.Duration `yaml:"emptyTTL"`
	Timeout    time.Duration `yaml:"timeout"`
	FinalTopic string        `yaml:"finalTopic"`
}

// WorkerConfig holds worker pool settings.
type WorkerConfig struct {
	service.PoolConfig `yaml:",inline"`
	Timeout            time.Duration `yaml:"timeout"`
}

// JudgeConfig holds engine settings.
type JudgeConfig struct {
	Workspace    workspace.Config    `yaml:"workspace"`
	Runner       engine.Config       `yaml:"runner"`
	Orchestrator orchestrator.Config `yaml:",inline"`
	MaxCodeBytes int                 `yaml:"maxCodeBytes"`
}

// ArchiveConfig selects where full results are archived. An empty bucket disables it.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server   ServerConfig          `yaml:"server"`
	Logger   logger.Config         `yaml:"logger"`
	Database db.MySQLConfig        `yaml:"database"`
	Redis    cache.RedisConfig     `yaml:"redis"`
	MinIO    storage.MinIOConfig   `yaml:"minio"`
	Archive  ArchiveConfig         `yaml:"archive"`
	Kafka    KafkaConfig           `yaml:"kafka"`
	Worker   WorkerConfig          `yaml:"worker"`
	Status   StatusConfig          `yaml:"status"`
	Judge    JudgeConfig           `yaml:"judge"`
	Run      adhoc.Config          `yaml:"run"`
	Language language.Config       `yaml:"language"`
	AI       strategy.AIConfig     `yaml:"ai"`
	Auth     middleware.AuthConfig `yaml:"auth"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads path, then applies .env and environment overrides and defaults.
func loadAppConfig(path, envFile string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load env file failed: %w", err)
		}
	}
	if err := applyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	cfg.Redis.ApplyDefaults()
	applyDefaults(&cfg)
	if cfg.AI.Enabled && cfg.AI.Endpoint == "" {
		return nil, fmt.Errorf("ai endpoint is required when ai judging is enabled")
	}
	if cfg.Archive.Bucket != "" && cfg.MinIO.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required when result archiving is enabled")
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Status.TTL == 0 {
		cfg.Status.TTL = defaultStatusTTL
	}
	if cfg.Status.Timeout == 0 {
		cfg.Status.Timeout = defaultStatusTimeout
	}
	if cfg.Status.FinalTopic == "" {
		cfg.Status.FinalTopic = "judge.status.final"
	}
	if cfg.Worker.Workers <= 0 {
		cfg.Worker.Workers = 4
	}
	if cfg.Worker.Timeout == 0 {
		cfg.Worker.Timeout = defaultWorkerTimeout
	}
	if cfg.Kafka.JudgeTopic == "" {
		cfg.Kafka.JudgeTopic = "judge.submission"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "judge.retry"
	}
	if cfg.Kafka.RetryConfig.MaxRetries <= 0 {
		cfg.Kafka.RetryConfig.MaxRetries = 5
	}
	if cfg.Kafka.BaseDelay == 0 {
		cfg.Kafka.BaseDelay = time.Second
	}
	if cfg.Kafka.MaxDelay == 0 {
		cfg.Kafka.MaxDelay = 30 * time.Second
	}
	if cfg.Run.MaxCodeBytes == 0 {
		cfg.Run.MaxCodeBytes = cfg.Judge.MaxCodeBytes
	}
}

// applyEnvOverrides honours the few switches operators flip without editing YAML.
func applyEnvOverrides(cfg *AppConfig, lookup func(string) (string, bool)) error {
	if raw, ok := lookup("USE_AI_JUDGE"); ok && raw != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid USE_AI_JUDGE %q: %w", raw, err)
		}
		cfg.AI.Enabled = enabled
	}
	if v, ok := lookup("AI_JUDGE_ENDPOINT"); ok && v != "" {
		cfg.AI.Endpoint = v
	}
	if v, ok := lookup("AI_JUDGE_API_KEY"); ok && v != "" {
		cfg.AI.APIKey = v
	}
	if v, ok := lookup("JUDGE_DB_DSN"); ok && v != "" {
		cfg.Database.DSN = v
	}
	if v, ok := lookup("JUDGE_REDIS_ADDR"); ok && v != "" {
		cfg.Redis.Addr = v
	}
	if v, ok := lookup("JUDGE_JWT_SECRET"); ok && v != "" {
		cfg.Auth.JWTSecret = v
	}
	return nil
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		ReadTimeout:  k.ReadTimeout,
		WriteTimeout: k.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		Compression:  parseCompression(k.Compression),
	}
}

func (k KafkaConfig) subscribeOptions(limiter mq.FetchLimiter) *mq.SubscribeOptions {
	return &mq.SubscribeOptions{
		ConsumerGroup:   k.ConsumerGroup,
		Concurrency:     k.Concurrency,
		MaxRetries:      k.MaxRetries,
		RetryDelay:      k.RetryDelay,
		DeadLetterTopic: k.DeadLetterTopic,
		MessageTTL:      k.MessageTTL,
		Limiter:         limiter,
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}
