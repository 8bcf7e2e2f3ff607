// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package inference

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/jsonc"
)

// Rule adds Bonus to the score when the named numeric field is present
// and strictly greater than Above.
type Rule struct {
	Field string  `json:"field"`
	Above float64 `json:"above"`
	Bonus float64 `json:"add"`
}

// Model is the parameter set the engine scores with.
type Model struct {
	Name    string `json:"name"`
	Version string `json:"version"`

	// Baseline is the score before any rule fires.
	Baseline float64 `json:"baseline"`

	Rules []Rule `json:"rules"`

	// MonitorAbove is the unclamped score a result must exceed to be
	// MonitorClosely.
	MonitorAbove float64 `json:"monitorAbove"`

	// Confidence is reported unchanged on every result.
	Confidence float64 `json:"confidence"`
}

// DefaultModel is the built-in vitals model, also used as the degraded
// placeholder when no sealed model can be loaded.
func DefaultModel() Model {
	return Model{
		Name:     "placeholder",
		Version:  "builtin",
		Baseline: 75,
		Rules: []Rule{
			{Field: "heartRate", Above: 100, Bonus: 10},
			{Field: "temperature", Above: 38, Bonus: 5},
		},
		MonitorAbove: 80,
		Confidence:   0.95,
	}
}

// Validate checks that the model can only ever produce valid results.
func (m Model) Validate() error {
	if m.Name == "" {
		return errors.New("model name is required")
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", m.Confidence)
	}
	for index, rule := range m.Rules {
		if rule.Field == "" {
			return fmt.Errorf("rule %d has no field", index)
		}
	}
	return nil
}

// ParseModel reads a JSONC model definition: JSON plus comments and
// trailing commas.
func ParseModel(definition []byte) (Model, error) {
	var model Model
	if err := json.Unmarshal(jsonc.ToJSON(definition), &model); err != nil {
		return Model{}, fmt.Errorf("parsing model definition: %w", err)
	}
	if err := model.Validate(); err != nil {
		return Model{}, fmt.Errorf("invalid model definition: %w", err)
	}
	return model, nil
}
