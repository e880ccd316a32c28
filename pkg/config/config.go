// Package config loads the webhook configuration from defaults, a YAML file
// and TESORO_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kapicorp/tesoro/pkg/eligibility"
	"github.com/kapicorp/tesoro/pkg/logging"
	"github.com/kapicorp/tesoro/pkg/reveal"
)

// Config is the complete webhook configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
	Logging     logging.Config    `yaml:"logging" json:"logging"`
	Reveal      RevealConfig      `yaml:"reveal" json:"reveal"`
	Eligibility EligibilityConfig `yaml:"eligibility" json:"eligibility"`
	Redaction   RedactionConfig   `yaml:"redaction" json:"redaction"`
}

// ServerConfig configures the admission listener.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// TLS is enabled when both CertFile and KeyFile are set. CAFile and the
	// certificates in CAPath verify client certificates when presented;
	// RequireClientCert rejects clients without one.
	CertFile          string `yaml:"certFile" json:"certFile"`
	KeyFile           string `yaml:"keyFile" json:"keyFile"`
	CAFile            string `yaml:"caFile" json:"caFile"`
	CAPath            string `yaml:"caPath" json:"caPath"`
	RequireClientCert bool   `yaml:"requireClientCert" json:"requireClientCert"`

	MaxBodyBytes    int64         `yaml:"maxBodyBytes" json:"maxBodyBytes"`
	ReadTimeout     time.Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" json:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
}

// TLSEnabled reports whether a serving certificate is configured.
func (s ServerConfig) TLSEnabled() bool {
	return s.CertFile != "" && s.KeyFile != ""
}

// ClientCAEnabled reports whether client certificates are verified.
func (s ServerConfig) ClientCAEnabled() bool {
	return s.CAFile != "" || s.CAPath != ""
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MetricsConfig configures the metrics listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`
}

// Address returns host:port.
func (m MetricsConfig) Address() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// RevealConfig configures the reveal invoker.
type RevealConfig struct {
	Attempts       int           `yaml:"attempts" json:"attempts"`
	AttemptTimeout time.Duration `yaml:"attemptTimeout" json:"attemptTimeout"`
	RetryDelay     time.Duration `yaml:"retryDelay" json:"retryDelay"`
	RetryFactor    float64       `yaml:"retryFactor" json:"retryFactor"`
}

// EligibilityConfig configures the opt-in label.
type EligibilityConfig struct {
	LabelPrefix  string `yaml:"labelPrefix" json:"labelPrefix"`
	LabelKey     string `yaml:"labelKey" json:"labelKey"`
	EnabledValue string `yaml:"enabledValue" json:"enabledValue"`
}

// RedactionConfig lists patch paths whose values are logged verbatim.
type RedactionConfig struct {
	AllowPaths []string `yaml:"allowPaths" json:"allowPaths"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MaxBodyBytes:    1 << 20,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    9095,
		},
		Logging: logging.DefaultConfig(),
		Reveal: RevealConfig{
			Attempts:    reveal.DefaultAttempts,
			RetryFactor: 1.0,
		},
		Eligibility: EligibilityConfig{
			LabelPrefix:  eligibility.DefaultPrefix,
			LabelKey:     eligibility.DefaultKey,
			EnabledValue: eligibility.DefaultEnabledValue,
		},
	}
}

// Validate checks the configuration for values the webhook cannot run with.
func (c *Config) Validate() error {
	if err := validPort("server.port", c.Server.Port); err != nil {
		return err
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		return fmt.Errorf("server.certFile and server.keyFile must be set together")
	}
	if c.Server.ClientCAEnabled() && !c.Server.TLSEnabled() {
		return fmt.Errorf("server.caFile and server.caPath require server.certFile and server.keyFile")
	}
	if c.Server.RequireClientCert && !c.Server.ClientCAEnabled() {
		return fmt.Errorf("server.requireClientCert requires server.caFile or server.caPath")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.maxBodyBytes must be positive")
	}
	if c.Metrics.Enabled {
		if err := validPort("metrics.port", c.Metrics.Port); err != nil {
			return err
		}
		if c.Metrics.Port == c.Server.Port && c.Metrics.Host == c.Server.Host {
			return fmt.Errorf("metrics and server listeners must not share %s", c.Server.Address())
		}
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Reveal.Attempts < 1 {
		return fmt.Errorf("reveal.attempts must be at least 1")
	}
	if c.Reveal.AttemptTimeout < 0 || c.Reveal.RetryDelay < 0 {
		return fmt.Errorf("reveal durations must not be negative")
	}
	if c.Reveal.RetryFactor < 1.0 && c.Reveal.RetryFactor != 0 {
		return fmt.Errorf("reveal.retryFactor must be >= 1")
	}
	if c.Eligibility.LabelKey == "" || c.Eligibility.EnabledValue == "" {
		return fmt.Errorf("eligibility.labelKey and eligibility.enabledValue are required")
	}
	return nil
}

func validPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}
