// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"errors"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	gateerr "github.com/sigil-dev/chatgate/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the top-level chatgate configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// UpstreamConfig points at the OpenAI-compatible chat completion service.
type UpstreamConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	HealthCooldown time.Duration `mapstructure:"health_cooldown"`
}

// EmbeddingConfig selects the embedding backend used for classification.
type EmbeddingConfig struct {
	Backend string        `mapstructure:"backend"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	APIKey  string        `mapstructure:"api_key"`
	Device  string        `mapstructure:"device"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ClassifierConfig locates the label artifacts for both dimensions.
type ClassifierConfig struct {
	Backend string         `mapstructure:"backend"`
	Workers int            `mapstructure:"workers"`
	DataDir string         `mapstructure:"data_dir"`
	Topic   ArtifactConfig `mapstructure:"topic"`
	Intent  ArtifactConfig `mapstructure:"intent"`
}

// ArtifactConfig names the samples file and index file of one dimension.
type ArtifactConfig struct {
	Samples string `mapstructure:"samples"`
	Index   string `mapstructure:"index"`
}

// Resolve returns a copy with relative paths joined onto dataDir.
func (a ArtifactConfig) Resolve(dataDir string) ArtifactConfig {
	join := func(p string) string {
		if p == "" || filepath.IsAbs(p) || dataDir == "" {
			return p
		}
		return filepath.Join(dataDir, p)
	}
	return ArtifactConfig{Samples: join(a.Samples), Index: join(a.Index)}
}

// Legacy environment variables honoured for the upstream settings.
const (
	EnvLegacyUpstreamURL   = "OLLAMA_API_URL"
	EnvLegacyUpstreamModel = "OLLAMA_MODEL_NAME"
)

// SetDefaults registers every default on v. Shared with the CLI so flags and
// the config file see the same baseline.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8000")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0)

	v.SetDefault("upstream.base_url", "http://127.0.0.1:11434")
	v.SetDefault("upstream.model", "gemma3:1b")
	v.SetDefault("upstream.api_key", "ollama")
	v.SetDefault("upstream.timeout", 60*time.Second)
	v.SetDefault("upstream.health_cooldown", 30*time.Second)

	v.SetDefault("embedding.backend", "openai")
	v.SetDefault("embedding.base_url", "http://127.0.0.1:8080/v1")
	v.SetDefault("embedding.model", "intfloat/multilingual-e5-large-instruct")
	v.SetDefault("embedding.api_key", "none")
	v.SetDefault("embedding.device", "cpu")
	v.SetDefault("embedding.timeout", 30*time.Second)

	v.SetDefault("classifier.backend", "sqlite")
	v.SetDefault("classifier.workers", 4)
	v.SetDefault("classifier.data_dir", ".")
	v.SetDefault("classifier.topic.samples", "question_categories.json")
	v.SetDefault("classifier.topic.index", "question_categories.index")
	v.SetDefault("classifier.intent.samples", "intent_categories.json")
	v.SetDefault("classifier.intent.index", "intent_categories.index")
}

// BindEnv wires the CHATGATE_ prefix and the legacy upstream variables.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("CHATGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("upstream.base_url", "CHATGATE_UPSTREAM_BASE_URL", EnvLegacyUpstreamURL)
	_ = v.BindEnv("upstream.model", "CHATGATE_UPSTREAM_MODEL", EnvLegacyUpstreamModel)
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return gateerr.Errorf(gateerr.CodeConfigLoadReadFailure, "loading %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix CHATGATE_).
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, gateerr.Errorf(gateerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates an already-populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, gateerr.Errorf(gateerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, gateerr.Errorf(gateerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors, collecting every
// issue rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateUpstream()...)
	errs = append(errs, c.validateEmbedding()...)
	errs = append(errs, c.validateClassifier()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		return append(errs, invalid("server.listen must not be empty"))
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		return append(errs, gateerr.Errorf(gateerr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w", c.Server.Listen, err))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, invalid("server.listen port must be a number, got %q", portStr))
	} else if port < 0 || port > 65535 {
		errs = append(errs, invalid("server.listen port must be between 0 and 65535, got %d", port))
	}

	if c.Server.ReadTimeout < 0 {
		errs = append(errs, invalid("server.read_timeout must not be negative, got %s", c.Server.ReadTimeout))
	}
	if c.Server.WriteTimeout < 0 {
		errs = append(errs, invalid("server.write_timeout must not be negative, got %s", c.Server.WriteTimeout))
	}

	return errs
}

func (c *Config) validateUpstream() []error {
	var errs []error

	if err := validateURL("upstream.base_url", c.Upstream.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if c.Upstream.Model == "" {
		errs = append(errs, invalid("upstream.model must not be empty"))
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, invalid("upstream.timeout must be greater than 0, got %s", c.Upstream.Timeout))
	}
	if c.Upstream.HealthCooldown <= 0 {
		errs = append(errs, invalid("upstream.health_cooldown must be greater than 0, got %s", c.Upstream.HealthCooldown))
	}

	return errs
}

func (c *Config) validateEmbedding() []error {
	var errs []error

	validBackends := map[string]bool{"openai": true, "ollama": true}
	if !validBackends[c.Embedding.Backend] {
		errs = append(errs, invalid("embedding.backend must be one of [openai, ollama], got %q", c.Embedding.Backend))
	}
	if err := validateURL("embedding.base_url", c.Embedding.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if c.Embedding.Model == "" {
		errs = append(errs, invalid("embedding.model must not be empty"))
	}
	if c.Embedding.Timeout <= 0 {
		errs = append(errs, invalid("embedding.timeout must be greater than 0, got %s", c.Embedding.Timeout))
	}

	return errs
}

func (c *Config) validateClassifier() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "flat": true}
	if !validBackends[c.Classifier.Backend] {
		errs = append(errs, invalid("classifier.backend must be one of [sqlite, flat], got %q", c.Classifier.Backend))
	}
	if c.Classifier.Workers <= 0 {
		errs = append(errs, invalid("classifier.workers must be greater than 0, got %d", c.Classifier.Workers))
	}

	for name, a := range map[string]ArtifactConfig{"topic": c.Classifier.Topic, "intent": c.Classifier.Intent} {
		if a.Samples == "" {
			errs = append(errs, invalid("classifier.%s.samples must not be empty", name))
		}
		if a.Index == "" {
			errs = append(errs, invalid("classifier.%s.index must not be empty", name))
		}
	}

	return errs
}

func validateURL(key, raw string) error {
	if raw == "" {
		return invalid("%s must not be empty", key)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return invalid("%s must be an absolute http(s) URL, got %q", key, raw)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return gateerr.Errorf(gateerr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}
