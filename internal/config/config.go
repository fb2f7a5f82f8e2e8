package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultJWTSecret = "change-this-in-production"

// Config holds all configuration values
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	NATS       NATSConfig       `yaml:"nats"`
	JWT        JWTConfig        `yaml:"jwt"`
	Blockchain BlockchainConfig `yaml:"blockchain"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Payments   PaymentsConfig   `yaml:"payments"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string   `yaml:"port"`
	Env            string   `yaml:"env"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	DBName       string `yaml:"name"`
	SSLMode      string `yaml:"sslmode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	AutoMigrate  bool   `yaml:"auto_migrate"`
}

// URL returns the database connection URL
func (c DatabaseConfig) URL() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + strconv.Itoa(c.Port) + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

// RedisConfig holds Redis configuration. An empty URL disables redis.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NATSConfig holds NATS configuration. An empty URL disables the NATS sink.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	Timeout       time.Duration `yaml:"timeout"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
	Issuer string        `yaml:"issuer"`
}

// BlockchainConfig holds the escrow contract and its RPC endpoints
type BlockchainConfig struct {
	RPCURLs               []string      `yaml:"rpc_urls"`
	WSURL                 string        `yaml:"ws_url"`
	ContractAddress       string        `yaml:"contract_address"`
	ConfirmationThreshold uint64        `yaml:"confirmation_threshold"`
	RPCTimeout            time.Duration `yaml:"rpc_timeout"`
	FailoverThreshold     int           `yaml:"failover_threshold"`
	WebhookSecret         string        `yaml:"webhook_secret"`
	ResubscribeMin        time.Duration `yaml:"resubscribe_min"`
	ResubscribeMax        time.Duration `yaml:"resubscribe_max"`
}

// JobsConfig holds the background job schedule
type JobsConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	DrainInterval      time.Duration `yaml:"drain_interval"`
	ExpiryInterval     time.Duration `yaml:"expiry_interval"`
	PollBatchSize      int           `yaml:"poll_batch_size"`
	DrainBatchSize     int           `yaml:"drain_batch_size"`
	ExpiryBatchSize    int           `yaml:"expiry_batch_size"`
	StaleProcessingAge time.Duration `yaml:"stale_processing_age"`
	RunLockTTL         time.Duration `yaml:"run_lock_ttl"`
}

// PaymentsConfig holds intake settings
type PaymentsConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Env:  "development",
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			User:         "postgres",
			Password:     "postgres",
			DBName:       "escrowpay",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379",
		},
		NATS: NATSConfig{
			SubjectPrefix: "escrow",
			Timeout:       10 * time.Second,
		},
		JWT: JWTConfig{
			Secret: defaultJWTSecret,
			Expiry: 24 * time.Hour,
			Issuer: "escrow-pay",
		},
		Blockchain: BlockchainConfig{
			RPCURLs:               []string{"https://sepolia.base.org"},
			ConfirmationThreshold: 12,
			RPCTimeout:            10 * time.Second,
			FailoverThreshold:     3,
			ResubscribeMin:        time.Second,
			ResubscribeMax:        time.Minute,
		},
		Jobs: JobsConfig{
			PollInterval:       15 * time.Second,
			DrainInterval:      30 * time.Second,
			ExpiryInterval:     time.Minute,
			PollBatchSize:      100,
			DrainBatchSize:     50,
			ExpiryBatchSize:    100,
			StaleProcessingAge: 10 * time.Minute,
			RunLockTTL:         2 * time.Minute,
		},
		Payments: PaymentsConfig{
			TTL: 30 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by path
// (or CONFIG_PATH) when there is one, and finally environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	if c.IsProduction() && c.JWT.Secret == defaultJWTSecret {
		return errors.New("jwt.secret must be set in production")
	}
	if c.IsProduction() && c.Blockchain.WebhookSecret == "" {
		return errors.New("blockchain.webhook_secret must be set in production")
	}
	if len(c.Blockchain.RPCURLs) == 0 {
		return errors.New("blockchain.rpc_urls is required")
	}
	if c.Blockchain.ConfirmationThreshold == 0 {
		return errors.New("blockchain.confirmation_threshold must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func applyEnvOverrides(cfg *Config) {
	cfg.Server.Port = getEnv("SERVER_PORT", cfg.Server.Port)
	cfg.Server.Env = getEnv("SERVER_ENV", cfg.Server.Env)
	cfg.Server.AllowedOrigins = getEnvAsList("ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvAsInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = getEnv("DB_NAME", cfg.Database.DBName)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.Database.AutoMigrate = getEnvAsBool("DB_AUTO_MIGRATE", cfg.Database.AutoMigrate)

	cfg.Redis.URL = getEnv("REDIS_URL", cfg.Redis.URL)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", cfg.NATS.SubjectPrefix)
	cfg.NATS.Timeout = getEnvAsDuration("NATS_TIMEOUT", cfg.NATS.Timeout)

	cfg.JWT.Secret = getEnv("JWT_SECRET", cfg.JWT.Secret)
	cfg.JWT.Expiry = getEnvAsDuration("JWT_EXPIRY", cfg.JWT.Expiry)
	cfg.JWT.Issuer = getEnv("JWT_ISSUER", cfg.JWT.Issuer)

	cfg.Blockchain.RPCURLs = getEnvAsList("EVM_RPC_URLS", cfg.Blockchain.RPCURLs)
	cfg.Blockchain.WSURL = getEnv("EVM_WS_URL", cfg.Blockchain.WSURL)
	cfg.Blockchain.ContractAddress = getEnv("ESCROW_CONTRACT_ADDRESS", cfg.Blockchain.ContractAddress)
	cfg.Blockchain.ConfirmationThreshold = uint64(getEnvAsInt("CONFIRMATION_THRESHOLD", int(cfg.Blockchain.ConfirmationThreshold)))
	cfg.Blockchain.RPCTimeout = getEnvAsDuration("RPC_TIMEOUT", cfg.Blockchain.RPCTimeout)
	cfg.Blockchain.FailoverThreshold = getEnvAsInt("RPC_FAILOVER_THRESHOLD", cfg.Blockchain.FailoverThreshold)
	cfg.Blockchain.WebhookSecret = getEnv("CHAIN_WEBHOOK_SECRET", cfg.Blockchain.WebhookSecret)

	cfg.Jobs.PollInterval = getEnvAsDuration("POLL_INTERVAL", cfg.Jobs.PollInterval)
	cfg.Jobs.DrainInterval = getEnvAsDuration("RETRY_DRAIN_INTERVAL", cfg.Jobs.DrainInterval)
	cfg.Jobs.ExpiryInterval = getEnvAsDuration("EXPIRY_INTERVAL", cfg.Jobs.ExpiryInterval)
	cfg.Jobs.PollBatchSize = getEnvAsInt("POLL_BATCH_SIZE", cfg.Jobs.PollBatchSize)
	cfg.Jobs.DrainBatchSize = getEnvAsInt("RETRY_DRAIN_BATCH_SIZE", cfg.Jobs.DrainBatchSize)
	cfg.Jobs.ExpiryBatchSize = getEnvAsInt("EXPIRY_BATCH_SIZE", cfg.Jobs.ExpiryBatchSize)

	cfg.Payments.TTL = getEnvAsDuration("PAYMENT_TTL", cfg.Payments.TTL)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsList reads a comma separated list
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
