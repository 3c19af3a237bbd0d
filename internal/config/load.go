package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Bot      BotConfig      `json:"bot" validate:"required"`
	Database DatabaseConfig `json:"database"`
	Rules    RulesConfig    `json:"rules"`
	Repute   ReputeConfig   `json:"repute"`
	Logging  LoggingConfig  `json:"logging"`
}

type BotConfig struct {
	Token    string `json:"token" validate:"required"`
	ClientID string `json:"client_id"`
}

type DatabaseConfig struct {
	Path string `json:"path" validate:"required"`
}

type RulesConfig struct {
	// Path to the rule file overriding the embedded defaults. Optional;
	// when set the file is watched and hot-reloaded.
	Path string `json:"path"`
}

type ReputeConfig struct {
	// URL-reputation services queried concurrently per link.
	URLEndpoints []string `json:"url_endpoints" validate:"dive,url"`
	// Image classifier endpoint; empty disables NSFW scoring.
	NSFWEndpoint string `json:"nsfw_endpoint" validate:"omitempty,url"`
}

type LoggingConfig struct {
	Level string `json:"level" validate:"oneof=debug info warn error critical"`
	Path  string `json:"path" validate:"required"`
}

var validate = validator.New()

// Load reads the JSON config, applies environment overrides, and validates
// the result. Environment always wins over the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		cfg.Bot.Token = v
	}
	if v := os.Getenv("CLIENT_ID"); v != "" {
		cfg.Bot.ClientID = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("REPUTE_ENDPOINTS"); v != "" {
		cfg.Repute.URLEndpoints = splitList(v)
	}
	if v := os.Getenv("NSFW_ENDPOINT"); v != "" {
		cfg.Repute.NSFWEndpoint = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		cfg.Logging.Path = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "wolaro-guard.db"},
		Logging: LoggingConfig{
			Level: "info",
			Path:  "wolaro-guard.log",
		},
	}
}
