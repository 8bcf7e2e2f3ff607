// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/bureau-foundation/enclave/channel"
	"github.com/bureau-foundation/enclave/keyrelease"
)

// fileConfig is the TOML shape of the authority's policy file.
type fileConfig struct {
	Listen             string   `toml:"listen"`
	Bundle             string   `toml:"bundle"`
	Identity           string   `toml:"identity"`
	SigningKey         string   `toml:"signing_key"`
	Ledger             string   `toml:"ledger"`
	AllowedMeasurement []string `toml:"allowed_measurements"`
	ChallengeTTL       string   `toml:"challenge_ttl"`
	MaxClockSkew       string   `toml:"max_clock_skew"`
	MaxPending         int      `toml:"max_pending"`
}

type authorityConfig struct {
	Listen channel.ListenConfig

	// BundlePath is the age-sealed key bundle; IdentityPath is the age
	// identity that opens it.
	BundlePath   string
	IdentityPath string

	SigningKeyPath string
	LedgerPath     string

	Policy keyrelease.Policy
}

func defaultConfig() authorityConfig {
	return authorityConfig{
		Listen:     channel.ListenConfig{Network: "tcp", Address: "127.0.0.1:7000"},
		LedgerPath: "keyauthority.db",
		Policy:     keyrelease.DefaultPolicy(),
	}
}

// loadConfig reads the TOML file at path over the defaults.
func loadConfig(path string) (authorityConfig, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return authorityConfig{}, fmt.Errorf("load authority config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return authorityConfig{}, fmt.Errorf("load authority config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("listen") {
		cfg.Listen = parseListen(strings.TrimSpace(raw.Listen))
	}
	if meta.IsDefined("bundle") {
		cfg.BundlePath = strings.TrimSpace(raw.Bundle)
	}
	if meta.IsDefined("identity") {
		cfg.IdentityPath = strings.TrimSpace(raw.Identity)
	}
	if meta.IsDefined("signing_key") {
		cfg.SigningKeyPath = strings.TrimSpace(raw.SigningKey)
	}
	if meta.IsDefined("ledger") {
		cfg.LedgerPath = strings.TrimSpace(raw.Ledger)
	}
	if meta.IsDefined("allowed_measurements") {
		for _, text := range raw.AllowedMeasurement {
			measurement, err := keyrelease.ParseMeasurement(strings.TrimSpace(text))
			if err != nil {
				return authorityConfig{}, fmt.Errorf("load authority config: allowed_measurements: %w", err)
			}
			cfg.Policy.Allowed = append(cfg.Policy.Allowed, measurement)
		}
	}
	if meta.IsDefined("challenge_ttl") {
		if cfg.Policy.ChallengeTTL, err = parseDuration("challenge_ttl", raw.ChallengeTTL); err != nil {
			return authorityConfig{}, err
		}
	}
	if meta.IsDefined("max_clock_skew") {
		if cfg.Policy.MaxClockSkew, err = parseDuration("max_clock_skew", raw.MaxClockSkew); err != nil {
			return authorityConfig{}, err
		}
	}
	if meta.IsDefined("max_pending") {
		cfg.Policy.MaxPending = raw.MaxPending
	}

	if err := cfg.validate(); err != nil {
		return authorityConfig{}, fmt.Errorf("load authority config: %w", err)
	}
	return cfg, nil
}

func (c authorityConfig) validate() error {
	var errs []error
	if c.Listen.Address == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	if c.BundlePath == "" {
		errs = append(errs, errors.New("bundle is required"))
	}
	if c.IdentityPath == "" {
		errs = append(errs, errors.New("identity is required"))
	}
	if c.SigningKeyPath == "" {
		errs = append(errs, errors.New("signing_key is required"))
	}
	if c.LedgerPath == "" {
		errs = append(errs, errors.New("ledger is required"))
	}
	if len(c.Policy.Allowed) == 0 {
		errs = append(errs, errors.New("allowed_measurements must list at least one measurement"))
	}
	if c.Policy.MaxPending < 1 {
		errs = append(errs, errors.New("max_pending must be at least 1"))
	}
	return errors.Join(errs...)
}

// parseListen maps "unix:///path" or a bare absolute path to a unix
// socket and anything else to a TCP address.
func parseListen(value string) channel.ListenConfig {
	if path, ok := strings.CutPrefix(value, "unix://"); ok {
		return channel.ListenConfig{Network: "unix", Address: path}
	}
	if strings.HasPrefix(value, "/") {
		return channel.ListenConfig{Network: "unix", Address: value}
	}
	return channel.ListenConfig{Network: "tcp", Address: value}
}

func parseDuration(key, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("load authority config: %s: %w", key, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("load authority config: %s must be positive", key)
	}
	return duration, nil
}
