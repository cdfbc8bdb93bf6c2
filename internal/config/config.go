// Package config loads narci.yaml and applies NARCI_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"narci/internal/core"
	"narci/internal/security"
)

// DefaultPath is looked up in the working directory when no --config is given.
const DefaultPath = "narci.yaml"

// Config is the full runtime configuration.
type Config struct {
	Workflow    string            `yaml:"workflow"` // empty = built-in workflow
	Workdir     string            `yaml:"workdir"`
	LogDir      string            `yaml:"log_dir"`
	Ledger      string            `yaml:"ledger"`
	SigningKey  string            `yaml:"signing_key"` // secret key file for ledger blocks
	LedgerKeys  []string          `yaml:"ledger_keys"` // public keys a verified ledger must be signed with
	AgentID     string            `yaml:"agent_id"`
	MaxParallel int               `yaml:"max_parallel"`
	StepTimeout Duration          `yaml:"step_timeout"`
	Listen      string            `yaml:"listen"`
	LogLevel    string            `yaml:"log_level"`
	EventRate   int               `yaml:"event_rate"` // POST /events per minute per client
	Actions     map[string]string `yaml:"actions"`    // action name -> "skip" or a shell command
	Cache       CacheConfig       `yaml:"cache"`
}

// CacheConfig configures the binary cache client.
type CacheConfig struct {
	URL         string   `yaml:"url"`
	PublicKeys  []string `yaml:"public_keys"`
	TTL         Duration `yaml:"ttl"`
	NegativeTTL Duration `yaml:"negative_ttl"`
	RedisAddr   string   `yaml:"redis_addr"`
	RedisDB     int      `yaml:"redis_db"`
}

// Duration accepts Go duration strings ("30m") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Workdir:     ".",
		LogDir:      ".narci/logs",
		Ledger:      ".narci/ledger.jsonl",
		AgentID:     hostname(),
		MaxParallel: 4,
		StepTimeout: Duration(30 * time.Minute),
		Listen:      ":8080",
		LogLevel:    "info",
		EventRate:   60,
		Cache: CacheConfig{
			URL:         "https://cache.nixos.org",
			PublicKeys:  []string{"cache.nixos.org-1:6NCHdD59X431o0gWypbMrAURkbJ16ZPMQFGspcDShjY="},
			TTL:         Duration(time.Hour),
			NegativeTTL: Duration(time.Minute),
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error when path is DefaultPath.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = Duration(d)
		}
	}
	// space separated, since keys never contain spaces
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			*dst = strings.Fields(v)
		}
	}

	str("NARCI_WORKFLOW", &c.Workflow)
	str("NARCI_WORKDIR", &c.Workdir)
	str("NARCI_LOG_DIR", &c.LogDir)
	str("NARCI_LEDGER", &c.Ledger)
	str("NARCI_SIGNING_KEY", &c.SigningKey)
	list("NARCI_LEDGER_KEYS", &c.LedgerKeys)
	str("NARCI_AGENT_ID", &c.AgentID)
	integer("NARCI_MAX_PARALLEL", &c.MaxParallel)
	duration("NARCI_STEP_TIMEOUT", &c.StepTimeout)
	str("NARCI_LISTEN", &c.Listen)
	str("NARCI_LOG_LEVEL", &c.LogLevel)
	integer("NARCI_EVENT_RATE", &c.EventRate)

	str("NARCI_CACHE_URL", &c.Cache.URL)
	list("NARCI_CACHE_PUBLIC_KEYS", &c.Cache.PublicKeys)
	duration("NARCI_CACHE_TTL", &c.Cache.TTL)
	duration("NARCI_CACHE_NEGATIVE_TTL", &c.Cache.NegativeTTL)
	str("NARCI_REDIS_ADDR", &c.Cache.RedisAddr)
	integer("NARCI_REDIS_DB", &c.Cache.RedisDB)

	return errors.Join(errs...)
}

// Validate checks values that would otherwise fail later at runtime.
func (c Config) Validate() error {
	var errs []error
	if c.MaxParallel < 0 {
		errs = append(errs, errors.New("max_parallel must not be negative"))
	}
	if c.StepTimeout < 0 {
		errs = append(errs, errors.New("step_timeout must not be negative"))
	}
	if c.EventRate < 0 {
		errs = append(errs, errors.New("event_rate must not be negative"))
	}
	if c.LogDir == "" {
		errs = append(errs, errors.New("log_dir is required"))
	}
	if c.Ledger == "" {
		errs = append(errs, errors.New("ledger is required"))
	}
	if _, err := c.TrustedKeys(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.LedgerTrustedKeys(); err != nil {
		errs = append(errs, err)
	}
	for name, action := range c.Actions {
		if strings.TrimSpace(action) == "" {
			errs = append(errs, fmt.Errorf("action %q: empty handler, use \"skip\" or a command", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// TrustedKeys parses cache.public_keys.
func (c Config) TrustedKeys() ([]security.PublicKey, error) {
	return parseKeys("cache.public_keys", c.Cache.PublicKeys)
}

// LedgerTrustedKeys parses ledger_keys.
func (c Config) LedgerTrustedKeys() ([]security.PublicKey, error) {
	return parseKeys("ledger_keys", c.LedgerKeys)
}

func parseKeys(field string, in []string) ([]security.PublicKey, error) {
	keys := make([]security.PublicKey, 0, len(in))
	for _, s := range in {
		k, err := security.ParsePublicKey(s)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", field, s, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "local-agent"
	}
	return h
}

// ActionRegistry returns the built-in action handlers overlaid with cfg.Actions.
func (c Config) ActionRegistry() *core.ActionRegistry {
	reg := core.DefaultActions()
	for name, handler := range c.Actions {
		if strings.TrimSpace(handler) == "skip" {
			reg.Register(name, core.Action{Skip: true})
			continue
		}
		reg.Register(name, core.Action{Run: handler})
	}
	return reg
}
