// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local runs outside an enclave.
	Development Environment = "development"
	// Staging is for pre-production enclaves.
	Staging Environment = "staging"
	// Production is for enclaves handling real records.
	Production Environment = "production"
)

// ConfigEnvVar names the environment variable that points at the
// config file.
const ConfigEnvVar = "ENCLAVE_CONFIG"

// PortEnvVar names the environment variable that sets the vsock port.
const PortEnvVar = "VSOCK_PORT"

// Codec names accepted in envelope.codec.
const (
	CodecTranscode = "transcode"
	CodecSealed    = "sealed"
)

// Config is the enclave service configuration.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Listen configures the guest endpoint.
	Listen ListenConfig `yaml:"listen"`

	// Envelope selects the envelope codec.
	Envelope EnvelopeConfig `yaml:"envelope"`

	// Model locates the sealed model artifact.
	Model ModelConfig `yaml:"model"`

	// KeyRelease configures attestation-gated key release.
	KeyRelease KeyReleaseConfig `yaml:"key_release"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Listen     *ListenConfig     `yaml:"listen,omitempty"`
	Envelope   *EnvelopeConfig   `yaml:"envelope,omitempty"`
	Model      *ModelConfig      `yaml:"model,omitempty"`
	KeyRelease *KeyReleaseConfig `yaml:"key_release,omitempty"`
}

// ListenConfig configures the channel listener.
type ListenConfig struct {
	// Network is vsock, tcp, or unix.
	// Default: vsock
	Network string `yaml:"network"`

	// Port is the vsock port. VSOCK_PORT overrides it.
	// Default: 5000
	Port uint32 `yaml:"port"`

	// Address is host:port for tcp or a socket path for unix.
	Address string `yaml:"address"`

	// Backlog is the vsock pending-connection queue length.
	// Default: 10
	Backlog int `yaml:"backlog"`

	// Framing is auto, frame, or legacy. Auto answers each connection
	// in the format its request arrived in.
	// Default: auto
	Framing string `yaml:"framing"`

	// MaxPayload bounds a framed request in bytes.
	// Default: 1048576
	MaxPayload int `yaml:"max_payload"`

	// LegacyBuffer is the single read size in legacy framing.
	// Default: 4096
	LegacyBuffer int `yaml:"legacy_buffer"`

	// Workers caps concurrently handled connections. One serializes
	// requests.
	// Default: 1
	Workers int `yaml:"workers"`

	// ReadTimeout and WriteTimeout bound each connection.
	// Default: 30s, 10s
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

// EnvelopeConfig selects the envelope codec.
type EnvelopeConfig struct {
	// Codec is transcode or sealed. Production requires sealed.
	// Default: transcode (development), sealed (production)
	Codec string `yaml:"codec"`
}

// ModelConfig locates the sealed model artifact.
type ModelConfig struct {
	// Path is the sealed artifact. Empty runs the built-in model.
	Path string `yaml:"path"`

	// Digest is the expected BLAKE3 digest of the model definition,
	// hex encoded. Empty skips the pin.
	Digest string `yaml:"digest"`
}

// KeyReleaseConfig configures the key authority client.
type KeyReleaseConfig struct {
	// Authority is the key authority endpoint: host:port, or
	// unix:///path for a Unix socket.
	Authority string `yaml:"authority"`

	// AuthorityKey is the path of the authority's PEM verifying key.
	// Release responses not signed by it are rejected.
	AuthorityKey string `yaml:"authority_key"`

	// ModuleID names this enclave image in attestation documents.
	// Default: enclave-service
	ModuleID string `yaml:"module_id"`

	// Attempts is how many times release is tried before startup
	// fails.
	// Default: 5
	Attempts int `yaml:"attempts"`

	// Backoff is the wait before the first retry; it doubles after
	// each failure.
	// Default: 1s
	Backoff string `yaml:"backoff"`

	// Timeout bounds each release attempt.
	// Default: 10s
	Timeout string `yaml:"timeout"`
}

// Default returns the built-in configuration. It is complete on its
// own: a service started with no config file listens on vsock port
// 5000 with the transcode codec and the built-in model.
func Default() *Config {
	return &Config{
		Environment: Development,
		Listen: ListenConfig{
			Network:      "vsock",
			Port:         5000,
			Backlog:      10,
			Framing:      "auto",
			MaxPayload:   1 << 20,
			LegacyBuffer: 4096,
			Workers:      1,
			ReadTimeout:  "30s",
			WriteTimeout: "10s",
		},
		Envelope: EnvelopeConfig{
			Codec: CodecTranscode,
		},
		KeyRelease: KeyReleaseConfig{
			ModuleID: "enclave-service",
			Attempts: 5,
			Backoff:  "1s",
			Timeout:  "10s",
		},
	}
}

// Load loads configuration from the file named by ENCLAVE_CONFIG, or
// returns the defaults when it is unset. VSOCK_PORT is applied either
// way.
func Load() (*Config, error) {
	if configPath := os.Getenv(ConfigEnvVar); configPath != "" {
		return LoadFile(configPath)
	}
	cfg := Default()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads configuration from a specific file path over the
// defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// finish applies environment overrides, VSOCK_PORT, and variable
// expansion.
func (c *Config) finish() error {
	c.applyEnvironmentOverrides()

	if value := os.Getenv(PortEnvVar); value != "" {
		port, err := strconv.ParseUint(value, 10, 32)
		if err != nil || port == 0 {
			return fmt.Errorf("%s=%q is not a valid port", PortEnvVar, value)
		}
		c.Listen.Port = uint32(port)
	}

	c.expandVariables()
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: only the sealed codec carries
		// confidentiality.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Envelope: &EnvelopeConfig{Codec: CodecSealed},
			}
		}
	}

	if overrides == nil {
		return
	}

	if o := overrides.Listen; o != nil {
		override(&c.Listen.Network, o.Network)
		override(&c.Listen.Port, o.Port)
		override(&c.Listen.Address, o.Address)
		override(&c.Listen.Backlog, o.Backlog)
		override(&c.Listen.Framing, o.Framing)
		override(&c.Listen.MaxPayload, o.MaxPayload)
		override(&c.Listen.LegacyBuffer, o.LegacyBuffer)
		override(&c.Listen.Workers, o.Workers)
		override(&c.Listen.ReadTimeout, o.ReadTimeout)
		override(&c.Listen.WriteTimeout, o.WriteTimeout)
	}

	if o := overrides.Envelope; o != nil {
		override(&c.Envelope.Codec, o.Codec)
	}

	if o := overrides.Model; o != nil {
		override(&c.Model.Path, o.Path)
		override(&c.Model.Digest, o.Digest)
	}

	if o := overrides.KeyRelease; o != nil {
		override(&c.KeyRelease.Authority, o.Authority)
		override(&c.KeyRelease.AuthorityKey, o.AuthorityKey)
		override(&c.KeyRelease.ModuleID, o.ModuleID)
		override(&c.KeyRelease.Attempts, o.Attempts)
		override(&c.KeyRelease.Backoff, o.Backoff)
		override(&c.KeyRelease.Timeout, o.Timeout)
	}
}

// override replaces *target with value unless value is the zero value.
func override[T comparable](target *T, value T) {
	var zero T
	if value != zero {
		*target = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Listen.Address = expandVars(c.Listen.Address, vars)
	c.Model.Path = expandVars(c.Model.Path, vars)
	c.KeyRelease.Authority = expandVars(c.KeyRelease.Authority, vars)
	c.KeyRelease.AuthorityKey = expandVars(c.KeyRelease.AuthorityKey, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// maxPayloadCeiling bounds listen.max_payload. Requests are single
// records; anything near this is a misconfiguration.
const maxPayloadCeiling = 64 << 20

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains([]Environment{Development, Staging, Production}, c.Environment) {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	switch c.Listen.Network {
	case "vsock":
		if c.Listen.Port == 0 {
			errs = append(errs, errors.New("listen.port is required for vsock"))
		}
	case "tcp", "unix":
		if c.Listen.Address == "" {
			errs = append(errs, fmt.Errorf("listen.address is required for %s", c.Listen.Network))
		}
	default:
		errs = append(errs, fmt.Errorf("listen.network must be one of: vsock, tcp, unix (got %q)", c.Listen.Network))
	}

	if c.Listen.Backlog < 1 {
		errs = append(errs, errors.New("listen.backlog must be at least 1"))
	}
	if !slices.Contains([]string{"auto", "frame", "legacy"}, c.Listen.Framing) {
		errs = append(errs, fmt.Errorf("listen.framing must be one of: auto, frame, legacy (got %q)", c.Listen.Framing))
	}
	if c.Listen.MaxPayload < 1 || c.Listen.MaxPayload > maxPayloadCeiling {
		errs = append(errs, fmt.Errorf("listen.max_payload must be between 1 and %d", maxPayloadCeiling))
	}
	if c.Listen.LegacyBuffer < 2 || c.Listen.LegacyBuffer > c.Listen.MaxPayload {
		errs = append(errs, errors.New("listen.legacy_buffer must be between 2 and listen.max_payload"))
	}
	if c.Listen.Workers < 1 || c.Listen.Workers > 1024 {
		errs = append(errs, errors.New("listen.workers must be between 1 and 1024"))
	}
	errs = appendDurationError(errs, "listen.read_timeout", c.Listen.ReadTimeout)
	errs = appendDurationError(errs, "listen.write_timeout", c.Listen.WriteTimeout)

	switch c.Envelope.Codec {
	case CodecSealed:
		if c.KeyRelease.Authority == "" {
			errs = append(errs, errors.New("key_release.authority is required for the sealed codec"))
		}
		if c.KeyRelease.AuthorityKey == "" {
			errs = append(errs, errors.New("key_release.authority_key is required for the sealed codec"))
		}
	case CodecTranscode:
		if c.Environment == Production {
			errs = append(errs, errors.New("envelope.codec transcode is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("envelope.codec must be one of: transcode, sealed (got %q)", c.Envelope.Codec))
	}

	if c.Model.Path != "" && c.Envelope.Codec != CodecSealed {
		errs = append(errs, errors.New("model.path requires the sealed codec (the model identity comes from key release)"))
	}
	if c.Model.Digest != "" && len(c.Model.Digest) != 64 {
		errs = append(errs, errors.New("model.digest must be 64 hex characters"))
	}

	if c.KeyRelease.ModuleID == "" {
		errs = append(errs, errors.New("key_release.module_id is required"))
	}
	if c.KeyRelease.Attempts < 1 {
		errs = append(errs, errors.New("key_release.attempts must be at least 1"))
	}
	errs = appendDurationError(errs, "key_release.backoff", c.KeyRelease.Backoff)
	errs = appendDurationError(errs, "key_release.timeout", c.KeyRelease.Timeout)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func appendDurationError(errs []error, field, value string) []error {
	if _, err := parsePositiveDuration(value); err != nil {
		return append(errs, fmt.Errorf("%s: %w", field, err))
	}
	return errs
}

func parsePositiveDuration(value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if duration <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", value)
	}
	return duration, nil
}

// Timeouts returns the parsed connection deadlines. Call after
// Validate.
func (l ListenConfig) Timeouts() (read, write time.Duration) {
	read, _ = parsePositiveDuration(l.ReadTimeout)
	write, _ = parsePositiveDuration(l.WriteTimeout)
	return read, write
}

// Durations returns the parsed retry backoff and per-attempt timeout.
// Call after Validate.
func (k KeyReleaseConfig) Durations() (backoff, timeout time.Duration) {
	backoff, _ = parsePositiveDuration(k.Backoff)
	timeout, _ = parsePositiveDuration(k.Timeout)
	return backoff, timeout
}
