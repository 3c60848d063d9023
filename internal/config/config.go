package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the service. Values come from an optional
// YAML file, then environment variables, then defaults.
type Config struct {
	Server struct {
		Addr            string        `yaml:"addr"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Classifier struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"classifier"`

	Intake struct {
		MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	} `yaml:"intake"`

	Redis struct {
		Addr string        `yaml:"addr"`
		TTL  time.Duration `yaml:"ttl"`
	} `yaml:"redis"`

	Session struct {
		Secret  string        `yaml:"secret"`
		IdleTTL time.Duration `yaml:"idle_ttl"`
	} `yaml:"session"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`

	Mock struct {
		Enabled     bool  `yaml:"enabled"`
		ModelLoaded *bool `yaml:"model_loaded"`
	} `yaml:"mock"`
}

const (
	defaultAddr            = ":8080"
	defaultShutdownTimeout = 15 * time.Second
	defaultClassifierWait  = 30 * time.Second
	defaultMaxUploadBytes  = 10 << 20
	defaultCacheTTL        = 10 * time.Minute
	defaultSessionIdleTTL  = 30 * time.Minute
)

// Load reads the YAML file at path (a missing file is not an error), loads a
// .env file from the working directory when present and applies environment
// overrides and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
		return nil
	}
	boolean := func(key string) (bool, bool, error) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return false, false, nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, false, fmt.Errorf("invalid %s: %w", key, err)
		}
		return b, true, nil
	}

	str("HTTP_ADDR", &c.Server.Addr)
	str("CLASSIFIER_BASE_URL", &c.Classifier.BaseURL)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("SESSION_SECRET", &c.Session.Secret)

	if err := dur("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout); err != nil {
		return err
	}
	if err := dur("CLASSIFIER_TIMEOUT", &c.Classifier.Timeout); err != nil {
		return err
	}
	if err := dur("REDIS_TTL", &c.Redis.TTL); err != nil {
		return err
	}
	if err := dur("SESSION_IDLE_TTL", &c.Session.IdleTTL); err != nil {
		return err
	}

	if v, ok := lookup("MAX_UPLOAD_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_BYTES: %w", err)
		}
		c.Intake.MaxUploadBytes = n
	}

	if v, ok := lookup("CORS_ALLOWED_ORIGINS"); ok && v != "" {
		var origins []string
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
		c.CORS.AllowedOrigins = origins
	}

	if b, ok, err := boolean("MOCK_MODEL"); err != nil {
		return err
	} else if ok {
		c.Mock.Enabled = b
	}
	if b, ok, err := boolean("MOCK_MODEL_LOADED"); err != nil {
		return err
	} else if ok {
		c.Mock.ModelLoaded = &b
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Classifier.Timeout <= 0 {
		c.Classifier.Timeout = defaultClassifierWait
	}
	if c.Intake.MaxUploadBytes <= 0 {
		c.Intake.MaxUploadBytes = defaultMaxUploadBytes
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = defaultCacheTTL
	}
	if c.Session.IdleTTL <= 0 {
		c.Session.IdleTTL = defaultSessionIdleTTL
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if c.Mock.ModelLoaded == nil {
		loaded := true
		c.Mock.ModelLoaded = &loaded
	}
}

// MockModelLoaded reports whether the in-process mock model answers requests.
func (c *Config) MockModelLoaded() bool {
	return c.Mock.ModelLoaded == nil || *c.Mock.ModelLoaded
}

// Validate reports configuration that would make the service unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.Classifier.BaseURL == "" && !c.Mock.Enabled {
		errs = append(errs, errors.New("classifier base URL required (CLASSIFIER_BASE_URL) unless MOCK_MODEL is enabled"))
	}
	if c.Session.Secret == "" {
		errs = append(errs, errors.New("session secret required (SESSION_SECRET)"))
	}
	return errors.Join(errs...)
}
