package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/coinpulse/chat-service/pkg/config"
	"github.com/coinpulse/chat-service/pkg/database"
	"github.com/coinpulse/chat-service/pkg/log"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Database  DatabaseConfig
	Chat      ChatConfig
	Cache     CacheConfig
	Presence  PresenceConfig
	Relay     RelayConfig
	Metadata  MetadataConfig
	Log       log.Config
}

type ServerConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string `mapstructure:"db_name"`
	SSLMode         string `mapstructure:"ssl_mode"`
	FilePath        string `mapstructure:"file_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// ToDBConfig maps to the shared database package config.
func (c DatabaseConfig) ToDBConfig() *database.Config {
	return &database.Config{
		Driver:          c.Driver,
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		DBName:          c.DBName,
		SSLMode:         c.SSLMode,
		FilePath:        c.FilePath,
		MaxIdleConns:    c.MaxIdleConns,
		MaxOpenConns:    c.MaxOpenConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

type ChatConfig struct {
	HistoryLimit    int           `mapstructure:"history_limit"`
	HistoryCacheTTL time.Duration `mapstructure:"history_cache_ttl"`
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type CacheConfig struct {
	Enabled bool
	Redis   RedisConfig
	Prefix  string
}

type PresenceConfig struct {
	Enabled           bool
	Redis             RedisConfig
	Prefix            string
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	KeyTTL            time.Duration `mapstructure:"key_ttl"`
}

type RelayConfig struct {
	Driver string // "none", "redis", "kafka"
	Redis  RedisConfig
	Kafka  KafkaConfig
}

type KafkaConfig struct {
	Brokers string
	GroupID string `mapstructure:"group_id"`
}

type MetadataConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "chat.db")
	v.SetDefault("chat.history_limit", 50)
	v.SetDefault("chat.history_cache_ttl", "5s")
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.prefix", "chat:history")
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("presence.enabled", false)
	v.SetDefault("presence.prefix", "chat:presence")
	v.SetDefault("presence.redis.address", "localhost:6379")
	v.SetDefault("presence.heartbeat_interval", "10s")
	v.SetDefault("presence.key_ttl", "30s")
	v.SetDefault("relay.driver", "none")
	v.SetDefault("relay.redis.address", "localhost:6379")
	v.SetDefault("relay.kafka.brokers", "localhost:9092")
	v.SetDefault("relay.kafka.group_id", "chat-service")
	v.SetDefault("metadata.base_url", "http://localhost:8095")
	v.SetDefault("metadata.timeout", "5s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "chat-service")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("cache.redis.address", "CACHE_REDIS_ADDRESS")
	v.BindEnv("presence.redis.address", "PRESENCE_REDIS_ADDRESS")
	v.BindEnv("relay.driver", "RELAY_DRIVER")
	v.BindEnv("relay.redis.address", "RELAY_REDIS_ADDRESS")
	v.BindEnv("relay.kafka.brokers", "RELAY_KAFKA_BROKERS")
	v.BindEnv("metadata.base_url", "METADATA_BASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Chat.HistoryCacheTTL = parseDuration(v, "chat.history_cache_ttl", 5*time.Second)
	cfg.Presence.HeartbeatInterval = parseDuration(v, "presence.heartbeat_interval", 10*time.Second)
	cfg.Presence.KeyTTL = parseDuration(v, "presence.key_ttl", 30*time.Second)
	cfg.Metadata.Timeout = parseDuration(v, "metadata.timeout", 5*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
