package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string        `yaml:"port"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	HTTPRetries int           `yaml:"http_retries"`
	LogLevel    slog.Level    `yaml:"-"`
	Timezone    string        `yaml:"timezone"`
	InstanceID  string        `yaml:"instance_id"`

	DBURL    string `yaml:"db_url"`
	RedisURL string `yaml:"redis_url"`

	MetricsAPIURL    string        `yaml:"metrics_api_url"`
	MetricsBatchSize int           `yaml:"metrics_batch_size"`
	MetricsCacheTTL  time.Duration `yaml:"metrics_cache_ttl"`

	TrelloKey         string `yaml:"trello_key"`
	TrelloToken       string `yaml:"trello_token"`
	TrelloBoardID     string `yaml:"trello_board_id"`
	TrelloConcurrency int    `yaml:"trello_concurrency"`

	LeaderTimeout     time.Duration `yaml:"leader_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ElectionInterval  time.Duration `yaml:"election_interval"`
}

func FromEnv() Config {
	lvl := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		lvl = slog.LevelDebug
	}
	return Config{
		Port:        envOr("PORT", "8080"),
		HTTPTimeout: secondsOr("HTTP_TIMEOUT_SECONDS", 15*time.Second),
		HTTPRetries: intOr("HTTP_RETRIES", 2),
		LogLevel:    lvl,
		Timezone:    envOr("TIMEZONE", "Europe/Kyiv"),
		InstanceID:  envOr("INSTANCE_ID", uuid.NewString()),

		DBURL:    envOr("DB_URL", "dashboard.db"),
		RedisURL: os.Getenv("REDIS_URL"),

		MetricsAPIURL:    os.Getenv("METRICS_API_URL"),
		MetricsBatchSize: intOr("METRICS_BATCH_SIZE", 50),
		MetricsCacheTTL:  durationOr("METRICS_CACHE_TTL", 10*time.Minute),

		TrelloKey:         os.Getenv("TRELLO_KEY"),
		TrelloToken:       os.Getenv("TRELLO_TOKEN"),
		TrelloBoardID:     os.Getenv("TRELLO_BOARD_ID"),
		TrelloConcurrency: intOr("TRELLO_CONCURRENCY", 0),

		LeaderTimeout:     durationOr("LEADER_TIMEOUT", 10*time.Second),
		HeartbeatInterval: durationOr("HEARTBEAT_INTERVAL", 3*time.Second),
		PollInterval:      durationOr("POLL_INTERVAL", 5*time.Second),
		ElectionInterval:  durationOr("ELECTION_INTERVAL", 5*time.Second),
	}
}

// Load reads the environment and, when CONFIG_FILE is set, overlays the YAML file on top.
// Fields absent from the file keep their environment value.
func Load() (Config, error) {
	cfg := FromEnv()
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) TrelloConfigured() bool {
	return c.TrelloKey != "" && c.TrelloToken != "" && c.TrelloBoardID != ""
}

// Location resolves Timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envOr(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

func intOr(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func secondsOr(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v) + "s"); err == nil {
			return d
		}
	}
	return def
}

func durationOr(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}
