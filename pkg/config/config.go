package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvFileVar names an optional env file loaded before the environment is read.
// Variables already present in the process environment take precedence.
const EnvFileVar = "GOFTEGU_ENV_FILE"

type Config struct {
	Port        string          `mapstructure:"port"`
	Environment string          `mapstructure:"environment"`
	CORSOrigins string          `mapstructure:"cors_origins"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Log         LogConfig       `mapstructure:"log"`
	WebSocket   WebSocketConfig `mapstructure:"websocket"`
	Bus         BusConfig       `mapstructure:"bus"`
	Journal     JournalConfig   `mapstructure:"journal"`
	History     HistoryConfig   `mapstructure:"history"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type BusConfig struct {
	Driver string      `mapstructure:"driver"` // "local", "redis"
	Redis  RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Address       string `mapstructure:"address"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

type JournalConfig struct {
	Driver string      `mapstructure:"driver"` // "none", "kafka"
	Kafka  KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers    string `mapstructure:"brokers"`
	Topic      string `mapstructure:"topic"`
	Partitions int    `mapstructure:"partitions"`
}

type HistoryConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
}

var defaults = map[string]any{
	"port":                       "8080",
	"environment":                "development",
	"cors_origins":               "*",
	"database.driver":            "sqlite3",
	"database.path":              "./data/goftegu.db",
	"auth.jwt_secret":            "your-secret-key-change-in-production",
	"auth.token_ttl":             "24h",
	"log.level":                  "info",
	"log.pretty":                 false,
	"websocket.ping_interval":    "54s",
	"websocket.pong_wait":        "60s",
	"websocket.write_wait":       "10s",
	"websocket.max_message_size": 65536,
	"websocket.send_buffer":      256,
	"bus.driver":                 "local",
	"bus.redis.address":          "localhost:6379",
	"bus.redis.password":         "",
	"bus.redis.db":               0,
	"bus.redis.channel_prefix":   "goftegu:group",
	"journal.driver":             "none",
	"journal.kafka.brokers":      "localhost:9092",
	"journal.kafka.topic":        "chat-journal",
	"journal.kafka.partitions":   4,
	"history.default_page_size":  30,
	"history.max_page_size":      100,
}

var envBindings = map[string]string{
	"port":                       "PORT",
	"environment":                "ENVIRONMENT",
	"cors_origins":               "CORS_ORIGINS",
	"database.driver":            "DATABASE_DRIVER",
	"database.path":              "DATABASE_PATH",
	"auth.jwt_secret":            "JWT_SECRET",
	"auth.token_ttl":             "TOKEN_TTL",
	"log.level":                  "LOG_LEVEL",
	"log.pretty":                 "LOG_PRETTY",
	"websocket.ping_interval":    "WS_PING_INTERVAL",
	"websocket.pong_wait":        "WS_PONG_WAIT",
	"websocket.write_wait":       "WS_WRITE_WAIT",
	"websocket.max_message_size": "WS_MAX_MESSAGE_SIZE",
	"websocket.send_buffer":      "WS_SEND_BUFFER",
	"bus.driver":                 "BUS_DRIVER",
	"bus.redis.address":          "REDIS_ADDRESS",
	"bus.redis.password":         "REDIS_PASSWORD",
	"bus.redis.db":               "REDIS_DB",
	"bus.redis.channel_prefix":   "REDIS_CHANNEL_PREFIX",
	"journal.driver":             "JOURNAL_DRIVER",
	"journal.kafka.brokers":      "KAFKA_BROKERS",
	"journal.kafka.topic":        "KAFKA_TOPIC",
	"journal.kafka.partitions":   "KAFKA_PARTITIONS",
	"history.default_page_size":  "HISTORY_DEFAULT_PAGE_SIZE",
	"history.max_page_size":      "HISTORY_MAX_PAGE_SIZE",
}

// EnvKeys lists every environment variable Load understands.
func EnvKeys() []string {
	keys := make([]string, 0, len(envBindings)+1)
	keys = append(keys, EnvFileVar)
	for _, env := range envBindings {
		keys = append(keys, env)
	}
	return keys
}

func Load() (*Config, error) {
	if path := strings.TrimSpace(os.Getenv(EnvFileVar)); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if cfg.Database.Driver == "postgresql" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.History.DefaultPageSize <= 0 {
		cfg.History.DefaultPageSize = 30
	}
	if cfg.History.MaxPageSize < cfg.History.DefaultPageSize {
		cfg.History.MaxPageSize = cfg.History.DefaultPageSize
	}
	if cfg.WebSocket.PongWait <= cfg.WebSocket.PingInterval {
		return nil, fmt.Errorf("websocket pong wait (%s) must exceed ping interval (%s)", cfg.WebSocket.PongWait, cfg.WebSocket.PingInterval)
	}

	return &cfg, nil
}

// IsProduction reports whether the server runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
