package config

import (
	"errors"
	"fmt"
	"time"

	"rooster-auction/internal/domain"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Leader   LeaderConfig   `mapstructure:"leader"`
	Instance InstanceConfig `mapstructure:"instance"`
	Stream   StreamConfig   `mapstructure:"stream"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Auction  AuctionConfig  `mapstructure:"auction"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

type LeaderConfig struct {
	Key string        `mapstructure:"key"`
	TTL time.Duration `mapstructure:"ttl"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

// StreamConfig selects the bid stream source used by ObserveBids.
type StreamConfig struct {
	Driver      string `mapstructure:"driver"` // redis | nats | websocket
	UpstreamURL string `mapstructure:"upstream_url"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

type RetryConfig struct {
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	LeaseTimeout time.Duration `mapstructure:"lease_timeout"`
}

type FeedConfig struct {
	BidRate  float64 `mapstructure:"bid_rate"`
	BidBurst int     `mapstructure:"bid_burst"`
}

// AuctionConfig drives the poll that starts and ends auctions on schedule.
type AuctionConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

const (
	StreamDriverRedis     = "redis"
	StreamDriverNATS      = "nats"
	StreamDriverWebSocket = "websocket"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("log.level", "info")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mysql.dsn", "auction_user:auction_pass@tcp(localhost:3306)/auction_db?parseTime=true")
	v.SetDefault("mysql.max_open_conns", 25)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("mysql.ensure_schema", false)
	v.SetDefault("leader.key", "bid_retry_leader")
	v.SetDefault("leader.ttl", 30*time.Second)
	v.SetDefault("instance.id", "auction-service-1")
	v.SetDefault("stream.driver", StreamDriverRedis)
	v.SetDefault("stream.upstream_url", "")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("retry.base_delay", 10*time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay", 10*time.Minute)
	v.SetDefault("retry.max_attempts", 10)
	v.SetDefault("retry.initial_delay", time.Duration(0))
	v.SetDefault("retry.poll_interval", 5*time.Second)
	v.SetDefault("retry.batch_size", 50)
	v.SetDefault("retry.lease_timeout", 30*time.Second)
	v.SetDefault("feed.bid_rate", 2.0)
	v.SetDefault("feed.bid_burst", 5)
	v.SetDefault("auction.poll_interval", time.Second)
}

var envBindings = map[string]string{
	"server.port":             "SERVER_PORT",
	"server.host":             "SERVER_HOST",
	"log.level":               "LOG_LEVEL",
	"redis.address":           "REDIS_ADDRESS",
	"redis.password":          "REDIS_PASSWORD",
	"redis.db":                "REDIS_DB",
	"mysql.dsn":               "MYSQL_DSN",
	"mysql.max_open_conns":    "MYSQL_MAX_OPEN_CONNS",
	"mysql.max_idle_conns":    "MYSQL_MAX_IDLE_CONNS",
	"mysql.conn_max_lifetime": "MYSQL_CONN_MAX_LIFETIME",
	"mysql.ensure_schema":     "MYSQL_ENSURE_SCHEMA",
	"leader.key":              "LEADER_KEY",
	"leader.ttl":              "LEADER_TTL",
	"instance.id":             "INSTANCE_ID",
	"stream.driver":           "STREAM_DRIVER",
	"stream.upstream_url":     "STREAM_UPSTREAM_URL",
	"nats.url":                "NATS_URL",
	"nats.enabled":            "NATS_ENABLED",
	"retry.base_delay":        "RETRY_BASE_DELAY",
	"retry.multiplier":        "RETRY_MULTIPLIER",
	"retry.max_delay":         "RETRY_MAX_DELAY",
	"retry.max_attempts":      "RETRY_MAX_ATTEMPTS",
	"retry.initial_delay":     "RETRY_INITIAL_DELAY",
	"retry.poll_interval":     "RETRY_POLL_INTERVAL",
	"retry.batch_size":        "RETRY_BATCH_SIZE",
	"retry.lease_timeout":     "RETRY_LEASE_TIMEOUT",
	"feed.bid_rate":           "FEED_BID_RATE",
	"feed.bid_burst":          "FEED_BID_BURST",
	"auction.poll_interval":   "AUCTION_POLL_INTERVAL",
}

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Configuration file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/rooster-auction/")

	// Environment variable support
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return decode(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Stream.Driver {
	case StreamDriverRedis, StreamDriverNATS:
	case StreamDriverWebSocket:
		if c.Stream.UpstreamURL == "" {
			return errors.New("stream.upstream_url is required for the websocket driver")
		}
	default:
		return fmt.Errorf("unknown stream.driver %q", c.Stream.Driver)
	}
	if c.Leader.TTL <= 0 {
		return errors.New("leader.ttl must be positive")
	}
	if c.Retry.BaseDelay <= 0 {
		return errors.New("retry.base_delay must be positive")
	}
	if c.Retry.Multiplier < 1 {
		return errors.New("retry.multiplier must be >= 1")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("retry.max_delay must be >= retry.base_delay")
	}
	if c.Retry.MaxAttempts < 0 {
		return errors.New("retry.max_attempts must not be negative")
	}
	if c.Retry.PollInterval <= 0 || c.Retry.LeaseTimeout <= 0 {
		return errors.New("retry.poll_interval and retry.lease_timeout must be positive")
	}
	if c.Auction.PollInterval <= 0 {
		return errors.New("auction.poll_interval must be positive")
	}
	return nil
}

// BackoffPolicy converts the retry section into the domain policy.
func (c *Config) BackoffPolicy() domain.BackoffPolicy {
	return domain.BackoffPolicy{
		BaseDelay:   c.Retry.BaseDelay,
		Multiplier:  c.Retry.Multiplier,
		MaxDelay:    c.Retry.MaxDelay,
		MaxAttempts: c.Retry.MaxAttempts,
	}
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Server: %s:%d, Redis: %s, Stream: %s, Instance: %s, Retry: base=%s max=%s attempts=%d",
		c.Server.Host,
		c.Server.Port,
		c.Redis.Address,
		c.Stream.Driver,
		c.Instance.ID,
		c.Retry.BaseDelay,
		c.Retry.MaxDelay,
		c.Retry.MaxAttempts,
	)
}
