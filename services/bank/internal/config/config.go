package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	base "github.com/lean98av/kipubank/libs/config"
)

type VaultConfig struct {
	BankCap     uint64
	MaxWithdraw uint64
	Admin       common.Address
	NativeScale uint8
}

type OracleConfig struct {
	Enabled    bool
	EthRPCURL  string
	NativeFeed common.Address
	FeedScale  uint8
	CacheTTL   time.Duration
}

type KafkaTopics struct {
	Deposits    string
	Withdrawals string
	Catalog     string
	DLQ         string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topics  KafkaTopics
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

type DBConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

type Config struct {
	App       base.AppConfig
	Vault     VaultConfig
	Oracle    OracleConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	DB        DBConfig
	JWTSecret string
	OTLPAddr  string
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("KIPU_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: *appCfg,
		Vault: VaultConfig{
			BankCap:     envUint64("KIPU_BANK_CAP", 0),
			MaxWithdraw: envUint64("KIPU_MAX_WITHDRAW", 0),
			NativeScale: uint8(envInt("KIPU_NATIVE_SCALE", 18)),
		},
		Oracle: OracleConfig{
			Enabled:   envBool("KIPU_ORACLE_ENABLED", false),
			EthRPCURL: envString("KIPU_ETH_RPC_URL", ""),
			FeedScale: uint8(envInt("KIPU_FEED_SCALE", 8)),
			CacheTTL:  envDuration("KIPU_ORACLE_CACHE_TTL", 15*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled: envBool("KIPU_KAFKA_ENABLED", false),
			Brokers: envCSV("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topics: KafkaTopics{
				Deposits:    envString("KAFKA_DEPOSITS_TOPIC", "bank.deposits"),
				Withdrawals: envString("KAFKA_WITHDRAWALS_TOPIC", "bank.withdrawals"),
				Catalog:     envString("KAFKA_CATALOG_TOPIC", "bank.catalog"),
				DLQ:         envString("KAFKA_DLQ_TOPIC", "bank.events.dlq"),
			},
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", ""),
			Password: envString("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Limit:  envInt("KIPU_RATE_LIMIT", 30),
			Window: envDuration("KIPU_RATE_WINDOW", time.Minute),
		},
		DB: DBConfig{
			Enabled:  envBool("KIPU_AUDIT_ENABLED", false),
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "kipu_bank"),
			User:     envString("POSTGRES_USER", "kipu"),
			Password: envString("POSTGRES_PASSWORD", "kipu"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		JWTSecret: envString("KIPU_JWT_SECRET", ""),
		OTLPAddr:  envString("KIPU_OTLP_ADDR", ""),
	}

	admin := envString("KIPU_ADMIN_ADDRESS", "")
	if !common.IsHexAddress(admin) {
		return nil, fmt.Errorf("KIPU_ADMIN_ADDRESS must be a hex address")
	}
	cfg.Vault.Admin = common.HexToAddress(admin)

	feed := envString("KIPU_NATIVE_FEED_ADDRESS", "")
	if feed != "" {
		if !common.IsHexAddress(feed) {
			return nil, fmt.Errorf("KIPU_NATIVE_FEED_ADDRESS must be a hex address")
		}
		cfg.Oracle.NativeFeed = common.HexToAddress(feed)
	}

	if cfg.Vault.BankCap == 0 {
		return nil, fmt.Errorf("KIPU_BANK_CAP must be positive")
	}
	if cfg.Vault.MaxWithdraw == 0 {
		return nil, fmt.Errorf("KIPU_MAX_WITHDRAW must be positive")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("KIPU_JWT_SECRET required")
	}
	if cfg.Oracle.Enabled && cfg.Oracle.EthRPCURL == "" {
		return nil, fmt.Errorf("KIPU_ETH_RPC_URL required when oracle enabled")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.RateLimit.Limit <= 0 || cfg.RateLimit.Window <= 0 {
		return nil, fmt.Errorf("rate limit and window must be positive")
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode)
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envUint64(key string, def uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
