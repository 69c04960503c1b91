package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Service    ServiceConfig    `yaml:"service" json:"service"`
	Postgres   PostgresConfig   `yaml:"postgres" json:"postgres"`
	Redis      RedisConfig      `yaml:"redis" json:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka" json:"kafka"`
	Compute    ComputeConfig    `yaml:"compute" json:"compute"`
	Claim      ClaimConfig      `yaml:"claim" json:"claim"`
	Reputation ReputationConfig `yaml:"reputation" json:"reputation"`
	Jobs       JobsConfig       `yaml:"jobs" json:"jobs"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" json:"scheduler"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

type ServiceConfig struct {
	Name        string `yaml:"name" json:"name"`
	GRPCPort    int    `yaml:"grpc_port" json:"grpc_port"`
	MetricsPort int    `yaml:"metrics_port" json:"metrics_port"`
	Env         string `yaml:"env" json:"env"`
	WorkerID    int64  `yaml:"worker_id" json:"worker_id"`
}

type PostgresConfig struct {
	Host                   string `yaml:"host" json:"host"`
	Port                   int    `yaml:"port" json:"port"`
	User                   string `yaml:"user" json:"user"`
	Password               string `yaml:"password" json:"password"`
	Database               string `yaml:"database" json:"database"`
	MaxConnections         int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns           int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes" json:"conn_max_lifetime_minutes"`
}

// DSN postgres 连接串
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Database)
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

// Addr host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Brokers  []string `yaml:"brokers" json:"brokers"`
	ClientID string   `yaml:"client_id" json:"client_id"`
}

// ComputeConfig 私密计算后端
type ComputeConfig struct {
	Provider       string `yaml:"provider" json:"provider"` // local, remote
	Endpoint       string `yaml:"endpoint" json:"endpoint"`
	APIKey         string `yaml:"api_key" json:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	MaxConcurrent  int    `yaml:"max_concurrent" json:"max_concurrent"`
	RetryCount     int    `yaml:"retry_count" json:"retry_count"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms" json:"retry_backoff_ms"`
}

// Timeout 单个计算任务超时
func (c ComputeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type ClaimConfig struct {
	LockTTLSeconds    int  `yaml:"lock_ttl_seconds" json:"lock_ttl_seconds"`
	LockRetryMs       int  `yaml:"lock_retry_ms" json:"lock_retry_ms"`
	LockMaxRetries    int  `yaml:"lock_max_retries" json:"lock_max_retries"`
	StreakWindowHours int  `yaml:"streak_window_hours" json:"streak_window_hours"`
	BatchConcurrency  int  `yaml:"batch_concurrency" json:"batch_concurrency"`
	AuditClaims       bool `yaml:"audit_claims" json:"audit_claims"`
}

type ReputationConfig struct {
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`
}

type JobsConfig struct {
	ReapStale         JobConfig `yaml:"reap_stale" json:"reap_stale"`
	EvictJobs         JobConfig `yaml:"evict_jobs" json:"evict_jobs"`
	SettlementBacklog JobConfig `yaml:"settlement_backlog" json:"settlement_backlog"`
}

type JobConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	Cron          string `yaml:"cron" json:"cron"`
	RetentionDays int    `yaml:"retention_days" json:"retention_days"`
}

type SchedulerConfig struct {
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs" json:"max_concurrent_jobs"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	configPath := getConfigPath()
	data, err := os.ReadFile(configPath)
	if err == nil {
		// 环境变量替换
		content := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getConfigPath 获取配置文件路径
func getConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}

	if _, err := os.Stat("config/config.yaml"); err == nil {
		return "config/config.yaml"
	}

	if exe, err := os.Executable(); err == nil {
		path := filepath.Join(filepath.Dir(exe), "config", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "config/config.yaml"
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Compute.Provider {
	case "local":
	case "remote":
		if c.Compute.Endpoint == "" {
			return fmt.Errorf("compute.endpoint is required for remote provider")
		}
	default:
		return fmt.Errorf("unknown compute provider: %s", c.Compute.Provider)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	if c.Service.WorkerID < 0 || c.Service.WorkerID > 1023 {
		return fmt.Errorf("service.worker_id out of range: %d", c.Service.WorkerID)
	}
	return nil
}

// applyDefaults 应用默认配置
func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "eidos-ubi"
	}
	if cfg.Service.GRPCPort == 0 {
		cfg.Service.GRPCPort = 50061
	}
	if cfg.Service.MetricsPort == 0 {
		cfg.Service.MetricsPort = 9101
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	// Postgres
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.User == "" {
		cfg.Postgres.User = "eidos"
	}
	if cfg.Postgres.Database == "" {
		cfg.Postgres.Database = "eidos_ubi"
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 20
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 5
	}
	if cfg.Postgres.ConnMaxLifetimeMinutes == 0 {
		cfg.Postgres.ConnMaxLifetimeMinutes = 30
	}

	// Redis
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 20
	}

	// Kafka
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = cfg.Service.Name
	}

	// Compute
	if cfg.Compute.Provider == "" {
		cfg.Compute.Provider = "local"
	}
	if cfg.Compute.TimeoutSeconds == 0 {
		cfg.Compute.TimeoutSeconds = 10
	}
	if cfg.Compute.MaxConcurrent == 0 {
		cfg.Compute.MaxConcurrent = 8
	}
	if cfg.Compute.RetryBackoffMs == 0 {
		cfg.Compute.RetryBackoffMs = 100
	}

	// Claim
	if cfg.Claim.LockTTLSeconds == 0 {
		cfg.Claim.LockTTLSeconds = 30
	}
	if cfg.Claim.LockRetryMs == 0 {
		cfg.Claim.LockRetryMs = 50
	}
	if cfg.Claim.LockMaxRetries == 0 {
		cfg.Claim.LockMaxRetries = 20
	}
	if cfg.Claim.StreakWindowHours == 0 {
		cfg.Claim.StreakWindowHours = 48
	}
	if cfg.Claim.BatchConcurrency == 0 {
		cfg.Claim.BatchConcurrency = 8
	}

	if cfg.Reputation.CacheTTLSeconds == 0 {
		cfg.Reputation.CacheTTLSeconds = 600
	}

	// Jobs
	if cfg.Jobs.ReapStale.Cron == "" {
		cfg.Jobs.ReapStale.Cron = "*/30 * * * * *"
	}
	if cfg.Jobs.EvictJobs.Cron == "" {
		cfg.Jobs.EvictJobs.Cron = "0 */10 * * * *"
	}
	if cfg.Jobs.EvictJobs.RetentionDays == 0 {
		cfg.Jobs.EvictJobs.RetentionDays = 7
	}
	if cfg.Jobs.SettlementBacklog.Cron == "" {
		cfg.Jobs.SettlementBacklog.Cron = "0 */5 * * * *"
	}

	if cfg.Scheduler.MaxConcurrentJobs == 0 {
		cfg.Scheduler.MaxConcurrentJobs = 3
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// applyEnvOverrides 从环境变量覆盖配置
func applyEnvOverrides(cfg *Config) {
	// Service
	if v := os.Getenv("SERVICE_NAME"); v != "" {
		cfg.Service.Name = v
	}
	if v := os.Getenv("GRPC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Service.GRPCPort = port
		}
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Service.MetricsPort = port
		}
	}
	if v := os.Getenv("ENV"); v != "" {
		cfg.Service.Env = v
	}
	if v := os.Getenv("WORKER_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Service.WorkerID = id
		}
	}

	// Postgres
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}

	// Redis
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = parseBool(v, cfg.Redis.Enabled)
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = port
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// Kafka
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = parseBool(v, cfg.Kafka.Enabled)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}

	// Compute
	if v := os.Getenv("COMPUTE_PROVIDER"); v != "" {
		cfg.Compute.Provider = v
	}
	if v := os.Getenv("COMPUTE_ENDPOINT"); v != "" {
		cfg.Compute.Endpoint = v
	}
	if v := os.Getenv("COMPUTE_API_KEY"); v != "" {
		cfg.Compute.APIKey = v
	}

	// Log
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
