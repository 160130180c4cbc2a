package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const EnvConfigPath = "CHATHUB_CONFIG"

type Config struct {
	Port     int    `toml:"port"`      // line protocol (TCP)
	HTTPAddr string `toml:"http_addr"` // HTTP API + websocket
	DBPath   string `toml:"db_path"`

	ReadTimeout  int `toml:"read_timeout"`  // seconds
	WriteTimeout int `toml:"write_timeout"` // seconds
	CallTimeout  int `toml:"call_timeout"`  // seconds, bound on directory/log calls

	JWTSecret string `toml:"jwt_secret"`
	TokenTTL  int    `toml:"token_ttl"` // minutes

	RequireFriendship bool    `toml:"require_friendship"`
	IntentRate        float64 `toml:"intent_rate"` // intents per second per connection
	IntentBurst       int     `toml:"intent_burst"`
	OutboxSize        int     `toml:"outbox_size"`
	MaxMessageLen     int     `toml:"max_message_len"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // console or json
}

func Default() *Config {
	return &Config{
		Port:          3215,
		HTTPAddr:      ":5000",
		DBPath:        "chathub.db",
		ReadTimeout:   120,
		WriteTimeout:  30,
		CallTimeout:   5,
		JWTSecret:     "change-me",
		TokenTTL:      60,
		IntentRate:    10,
		IntentBurst:   20,
		OutboxSize:    256,
		MaxMessageLen: 4096,
		LogLevel:      "info",
		LogFormat:     "console",
	}
}

// Load builds the configuration from defaults, then the TOML file at path
// (or $CHATHUB_CONFIG when path is empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envInt("CHATHUB_PORT", &cfg.Port)
	envString("CHATHUB_HTTP_ADDR", &cfg.HTTPAddr)
	envString("CHATHUB_DB_PATH", &cfg.DBPath)
	envInt("CHATHUB_READ_TIMEOUT", &cfg.ReadTimeout)
	envInt("CHATHUB_WRITE_TIMEOUT", &cfg.WriteTimeout)
	envInt("CHATHUB_CALL_TIMEOUT", &cfg.CallTimeout)
	envString("CHATHUB_JWT_SECRET", &cfg.JWTSecret)
	envInt("CHATHUB_TOKEN_TTL", &cfg.TokenTTL)
	envBool("CHATHUB_REQUIRE_FRIENDSHIP", &cfg.RequireFriendship)
	envFloat("CHATHUB_INTENT_RATE", &cfg.IntentRate)
	envInt("CHATHUB_INTENT_BURST", &cfg.IntentBurst)
	envInt("CHATHUB_OUTBOX_SIZE", &cfg.OutboxSize)
	envInt("CHATHUB_MAX_MESSAGE_LEN", &cfg.MaxMessageLen)
	envString("CHATHUB_LOG_LEVEL", &cfg.LogLevel)
	envString("CHATHUB_LOG_FORMAT", &cfg.LogFormat)
}

func (c *Config) Validate() error {
	var problems []string
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, "port must be in 1..65535")
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.CallTimeout <= 0 {
		problems = append(problems, "timeouts must be positive")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		problems = append(problems, "jwt_secret is required")
	}
	if c.OutboxSize <= 0 {
		problems = append(problems, "outbox_size must be positive")
	}
	if c.IntentRate <= 0 || c.IntentBurst <= 0 {
		problems = append(problems, "intent_rate and intent_burst must be positive")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
