// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package inference

import (
	"github.com/bureau-foundation/enclave/lib/record"
)

// Engine scores records with one immutable Model. Safe for concurrent
// use.
type Engine struct {
	model Model
}

// NewEngine returns an engine over model. The rules slice is copied so
// the caller cannot change the engine after construction.
func NewEngine(model Model) *Engine {
	model.Rules = append([]Rule(nil), model.Rules...)
	return &Engine{model: model}
}

// Model returns a copy of the engine's parameters.
func (e *Engine) Model() Model {
	model := e.model
	model.Rules = append([]Rule(nil), e.model.Rules...)
	return model
}

// Infer scores sensitive. Missing and non-numeric fields contribute
// nothing.
func (e *Engine) Infer(sensitive *record.Sensitive) record.Result {
	score := e.model.Baseline
	for _, rule := range e.model.Rules {
		if value, ok := sensitive.Number(rule.Field); ok && value > rule.Above {
			score += rule.Bonus
		}
	}

	recommendation := record.Normal
	if score > e.model.MonitorAbove {
		recommendation = record.MonitorClosely
	}

	return record.Result{
		RiskScore:         clamp(score, 0, 100),
		Recommendation:    recommendation,
		Confidence:        e.model.Confidence,
		ProcessedSecurely: true,
	}
}

func clamp(value, low, high float64) float64 {
	return min(max(value, low), high)
}
