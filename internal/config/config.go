package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	TransportIRC      = "irc"
	TransportEventSub = "eventsub"
)

// Config is the process configuration, read from the environment.
type Config struct {
	HTTPAddr       string   `env:"HTTP_ADDR" envDefault:":8080"`
	PublicURL      string   `env:"PUBLIC_URL" envDefault:"http://localhost:8080/"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	LogDebug       bool     `env:"LOG_DEBUG"`

	DB    DBConfig
	Redis RedisConfig

	Twitch TwitchConfig

	JWTSecret    string `env:"JWT_SECRET"`
	IngestSecret string `env:"INGEST_SECRET"`

	HandlerTimeout  time.Duration `env:"HANDLER_TIMEOUT" envDefault:"5s"`
	HotwordCacheTTL time.Duration `env:"HOTWORD_CACHE_TTL" envDefault:"30s"`
	ListenerQueue   int           `env:"LISTENER_QUEUE" envDefault:"64"`
	CleanupSchedule string        `env:"CLEANUP_SCHEDULE" envDefault:"@every 10m"`

	ViewerRPS   float64 `env:"VIEWER_RPS" envDefault:"2"`
	ViewerBurst int     `env:"VIEWER_BURST" envDefault:"5"`
}

type DBConfig struct {
	Driver   string `env:"DB_DRIVER" envDefault:"mysql"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Host     string `env:"DB_HOST" envDefault:"127.0.0.1"`
	Port     string `env:"DB_PORT" envDefault:"3306"`
	Name     string `env:"DB_NAME" envDefault:"overlays"`
	// Path is the sqlite file used when Driver is "sqlite".
	Path string `env:"DB_PATH" envDefault:"overlays.db"`
}

// RedisConfig configures the cross-instance relay. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type TwitchConfig struct {
	ClientID       string `env:"TWITCH_CLIENT_ID"`
	ClientSecret   string `env:"TWITCH_CLIENT_SECRET"`
	EventSubSecret string `env:"EVENTSUB_SECRET"`
	BotUsername    string `env:"BOT_USERNAME"`
	BotUserID      string `env:"BOT_USER_ID"`
	BotOAuthToken  string `env:"BOT_OAUTH_TOKEN"`
	ChatTransport  string `env:"CHAT_TRANSPORT" envDefault:"irc"`
}

// Load reads an optional .env file and parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	switch c.Twitch.ChatTransport {
	case TransportIRC, TransportEventSub:
	default:
		return fmt.Errorf("CHAT_TRANSPORT must be %q or %q, got %q", TransportIRC, TransportEventSub, c.Twitch.ChatTransport)
	}
	switch c.DB.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be mysql or sqlite, got %q", c.DB.Driver)
	}
	if c.HandlerTimeout <= 0 {
		return errors.New("HANDLER_TIMEOUT must be positive")
	}
	if c.ListenerQueue <= 0 {
		return errors.New("LISTENER_QUEUE must be positive")
	}
	if c.ViewerBurst <= 0 {
		return errors.New("VIEWER_BURST must be positive")
	}
	return nil
}
