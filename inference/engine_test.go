// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package inference

import (
	"testing"

	"github.com/bureau-foundation/enclave/lib/record"
)

func infer(t *testing.T, engine *Engine, fields map[string]any) record.Result {
	t.Helper()
	sensitive, err := record.FromFields(fields)
	if err != nil {
		t.Fatalf("FromFields: %v", err)
	}
	defer sensitive.Close()
	return engine.Infer(sensitive)
}

func TestInfer_DefaultModel(t *testing.T) {
	engine := NewEngine(DefaultModel())

	tests := []struct {
		name           string
		fields         map[string]any
		riskScore      float64
		recommendation record.Recommendation
	}{
		{name: "no vitals", fields: map[string]any{}, riskScore: 75, recommendation: record.Normal},
		{name: "unrelated fields", fields: map[string]any{"patientId": "p-1", "age": 44}, riskScore: 75, recommendation: record.Normal},
		{name: "high heart rate", fields: map[string]any{"heartRate": 110}, riskScore: 85, recommendation: record.MonitorClosely},
		{name: "heart rate at threshold", fields: map[string]any{"heartRate": 100}, riskScore: 75, recommendation: record.Normal},
		{name: "fever only", fields: map[string]any{"temperature": 39}, riskScore: 80, recommendation: record.Normal},
		{name: "temperature at threshold", fields: map[string]any{"temperature": 38}, riskScore: 75, recommendation: record.Normal},
		{name: "both", fields: map[string]any{"heartRate": 110, "temperature": 39}, riskScore: 90, recommendation: record.MonitorClosely},
		{name: "string vitals ignored", fields: map[string]any{"heartRate": "150", "temperature": "40"}, riskScore: 75, recommendation: record.Normal},
		{name: "null vitals ignored", fields: map[string]any{"heartRate": nil}, riskScore: 75, recommendation: record.Normal},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := infer(t, engine, test.fields)
			if result.RiskScore != test.riskScore {
				t.Errorf("riskScore = %v, want %v", result.RiskScore, test.riskScore)
			}
			if result.Recommendation != test.recommendation {
				t.Errorf("recommendation = %q, want %q", result.Recommendation, test.recommendation)
			}
			if result.Confidence != 0.95 {
				t.Errorf("confidence = %v, want 0.95", result.Confidence)
			}
			if !result.ProcessedSecurely {
				t.Error("processedSecurely = false")
			}
		})
	}
}

func TestInfer_ThresholdUsesUnclampedScore(t *testing.T) {
	tests := []struct {
		name           string
		baseline       float64
		fields         map[string]any
		riskScore      float64
		recommendation record.Recommendation
	}{
		{name: "exactly 80", baseline: 70, fields: map[string]any{"heartRate": 120}, riskScore: 80, recommendation: record.Normal},
		{name: "81", baseline: 71, fields: map[string]any{"heartRate": 120}, riskScore: 81, recommendation: record.MonitorClosely},
		{name: "clamped high", baseline: 98, fields: map[string]any{"heartRate": 120, "temperature": 40}, riskScore: 100, recommendation: record.MonitorClosely},
		{name: "baseline above range", baseline: 250, fields: map[string]any{}, riskScore: 100, recommendation: record.MonitorClosely},
		{name: "clamped low", baseline: -40, fields: map[string]any{"heartRate": 120}, riskScore: 0, recommendation: record.Normal},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			model := DefaultModel()
			model.Baseline = test.baseline
			result := infer(t, NewEngine(model), test.fields)

			if result.RiskScore != test.riskScore {
				t.Errorf("riskScore = %v, want %v", result.RiskScore, test.riskScore)
			}
			if result.Recommendation != test.recommendation {
				t.Errorf("recommendation = %q, want %q", result.Recommendation, test.recommendation)
			}
			if result.RiskScore < 0 || result.RiskScore > 100 {
				t.Errorf("riskScore %v escaped [0,100]", result.RiskScore)
			}
		})
	}
}

func TestInfer_Deterministic(t *testing.T) {
	engine := NewEngine(DefaultModel())
	fields := map[string]any{"heartRate": 130, "temperature": 37}
	first := infer(t, engine, fields)
	for range 5 {
		if again := infer(t, engine, fields); again != first {
			t.Fatalf("Infer not deterministic: %+v then %+v", first, again)
		}
	}
}

func TestNewEngine_CopiesRules(t *testing.T) {
	model := DefaultModel()
	engine := NewEngine(model)
	model.Rules[0].Bonus = 1000

	result := infer(t, engine, map[string]any{"heartRate": 110})
	if result.RiskScore != 85 {
		t.Errorf("engine changed through caller's model: riskScore = %v", result.RiskScore)
	}

	copied := engine.Model()
	copied.Rules[0].Bonus = 1000
	if engine.Model().Rules[0].Bonus != 10 {
		t.Error("Model() exposes the engine's rules")
	}
}
