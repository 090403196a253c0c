// Package config loads the automaton's settings from a YAML file, the
// environment and, optionally, SSM Parameter Store.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"autograb/internal/domain"
	"autograb/internal/integrations/paramstore"
)

type Config struct {
	Bot struct {
		Username    string `yaml:"username"`
		ListCommand string `yaml:"list_command"`
		AcceptLabel string `yaml:"accept_label"`
	} `yaml:"bot"`
	Thresholds struct {
		MinQuantity  float64 `yaml:"min_quantity"`
		MinUnitPrice float64 `yaml:"min_unit_price"`
	} `yaml:"thresholds"`
	Negotiation struct {
		QuestionExpirySeconds float64 `yaml:"question_expiry_seconds"`
		ParseWorkers          int     `yaml:"parse_workers"`
	} `yaml:"negotiation"`
	Bridge struct {
		URL        string `yaml:"url"`
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"bridge"`
	AWS struct {
		ParamPrefix  string `yaml:"param_prefix"`
		JournalTable string `yaml:"journal_table"`
	} `yaml:"aws"`
	Log struct {
		File  string `yaml:"file"`
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func Default() Config {
	cfg := Config{}
	cfg.Negotiation.QuestionExpirySeconds = 30
	cfg.Negotiation.ParseWorkers = 2
	cfg.Bridge.URL = "http://127.0.0.1:8787"
	cfg.Bridge.ListenAddr = "127.0.0.1:8080"
	cfg.Log.Level = "info"
	return cfg
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func Write(path string, cfg Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// ApplyEnv overrides fields from the process environment. Malformed numeric
// values are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	envString(getenv, "BOT_USERNAME", &c.Bot.Username)
	envFloat(getenv, "MIN_TONS", &c.Thresholds.MinQuantity)
	envFloat(getenv, "MIN_PRICE", &c.Thresholds.MinUnitPrice)
	envFloat(getenv, "QUESTION_EXPIRY_SECONDS", &c.Negotiation.QuestionExpirySeconds)
	envInt(getenv, "PARSE_WORKERS", &c.Negotiation.ParseWorkers)
	envString(getenv, "BRIDGE_URL", &c.Bridge.URL)
	envString(getenv, "LISTEN_ADDR", &c.Bridge.ListenAddr)
	envString(getenv, "PARAM_PREFIX", &c.AWS.ParamPrefix)
	envString(getenv, "JOURNAL_TABLE", &c.AWS.JournalTable)
	envString(getenv, "LOG_FILE", &c.Log.File)
	envString(getenv, "LOG_LEVEL", &c.Log.Level)
}

// ApplyParams overrides the thresholds from <prefix>/min_quantity and
// <prefix>/min_unit_price when those parameters exist.
func (c *Config) ApplyParams(ctx context.Context, g paramstore.Getter) error {
	prefix := strings.TrimSpace(c.AWS.ParamPrefix)
	if prefix == "" || g == nil {
		return nil
	}
	if v, ok, err := paramstore.GetFloat(ctx, g, paramstore.Name(prefix, "min_quantity")); err != nil {
		return fmt.Errorf("config: %w", err)
	} else if ok {
		c.Thresholds.MinQuantity = v
	}
	if v, ok, err := paramstore.GetFloat(ctx, g, paramstore.Name(prefix, "min_unit_price")); err != nil {
		return fmt.Errorf("config: %w", err)
	} else if ok {
		c.Thresholds.MinUnitPrice = v
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Thresholds.MinQuantity < 0 {
		errs = append(errs, errors.New("thresholds.min_quantity must not be negative"))
	}
	if c.Thresholds.MinUnitPrice < 0 {
		errs = append(errs, errors.New("thresholds.min_unit_price must not be negative"))
	}
	if c.Negotiation.QuestionExpirySeconds <= 0 {
		errs = append(errs, errors.New("negotiation.question_expiry_seconds must be positive"))
	}
	if c.Negotiation.ParseWorkers <= 0 {
		errs = append(errs, errors.New("negotiation.parse_workers must be positive"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c Config) DomainThresholds() domain.Thresholds {
	return domain.Thresholds{MinQuantity: c.Thresholds.MinQuantity, MinUnitPrice: c.Thresholds.MinUnitPrice}
}

func (c Config) QuestionExpiry() time.Duration {
	return time.Duration(c.Negotiation.QuestionExpirySeconds * float64(time.Second))
}

func envString(getenv func(string) string, key string, dst *string) {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(getenv func(string) string, key string, dst *int) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}

func envFloat(getenv func(string) string, key string, dst *float64) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", "."), 64)
	if err != nil {
		return
	}
	*dst = f
}
