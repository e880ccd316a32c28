package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TESORO_"

// Loader builds a Config from defaults, an optional YAML file and the
// environment.
type Loader struct {
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// NewLoader returns a Loader reading the process environment.
func NewLoader() *Loader {
	return &Loader{Getenv: os.Getenv}
}

// Load returns the validated configuration. An empty path skips the file.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := Default()
	if err := l.LoadFile(cfg, path); err != nil {
		return nil, err
	}
	if err := l.LoadEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile merges the YAML file at path into cfg.
func (l *Loader) LoadFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path) // #nosec G304 - operator-provided config path
	if err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}
	return nil
}

// LoadEnv applies TESORO_* overrides to cfg. All malformed values are
// reported together.
func (l *Loader) LoadEnv(cfg *Config) error {
	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	setters := envSetters(cfg)
	names := make([]string, 0, len(setters))
	for name := range setters {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		value := getenv(EnvPrefix + name)
		if value == "" {
			continue
		}
		if err := setters[name](value); err != nil {
			errs = append(errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, name, value, err))
		}
	}
	return errors.Join(errs...)
}

func envSetters(cfg *Config) map[string]func(string) error {
	return map[string]func(string) error{
		"HOST":      setString(&cfg.Server.Host),
		"PORT":      setInt(&cfg.Server.Port),
		"CERT_FILE": setString(&cfg.Server.CertFile),
		"KEY_FILE":  setString(&cfg.Server.KeyFile),
		"CA_FILE":   setString(&cfg.Server.CAFile),
		"CA_PATH":   setString(&cfg.Server.CAPath),

		"REQUIRE_CLIENT_CERT": setBool(&cfg.Server.RequireClientCert),

		"MAX_BODY_BYTES": func(v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return err
			}
			cfg.Server.MaxBodyBytes = n
			return nil
		},

		"METRICS_ENABLED": setBool(&cfg.Metrics.Enabled),
		"METRICS_HOST":    setString(&cfg.Metrics.Host),
		"METRICS_PORT":    setInt(&cfg.Metrics.Port),

		"LOG_LEVEL":  setString(&cfg.Logging.Level),
		"LOG_FORMAT": setString(&cfg.Logging.Format),
		"LOG_REDACT": setBool(&cfg.Logging.Redact),
		"ACCESS_LOG": setBool(&cfg.Logging.AccessLog),

		"REVEAL_ATTEMPTS":        setInt(&cfg.Reveal.Attempts),
		"REVEAL_ATTEMPT_TIMEOUT": setDuration(&cfg.Reveal.AttemptTimeout),
		"REVEAL_RETRY_DELAY":     setDuration(&cfg.Reveal.RetryDelay),

		"LABEL_PREFIX":  setString(&cfg.Eligibility.LabelPrefix),
		"LABEL_KEY":     setString(&cfg.Eligibility.LabelKey),
		"ENABLED_VALUE": setString(&cfg.Eligibility.EnabledValue),

		"REDACTION_ALLOW_PATHS": func(v string) error {
			cfg.Redaction.AllowPaths = splitList(v)
			return nil
		},
	}
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func setDuration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
