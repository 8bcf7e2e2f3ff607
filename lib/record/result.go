// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package record

import "fmt"

// Recommendation is the engine's categorical advice.
type Recommendation string

const (
	Normal         Recommendation = "Normal"
	MonitorClosely Recommendation = "MonitorClosely"
)

// Result is the output of one inference. Its JSON shape is what the
// host decrypts from a successful response.
type Result struct {
	RiskScore         float64        `json:"riskScore"`
	Recommendation    Recommendation `json:"recommendation"`
	Confidence        float64        `json:"confidence"`
	ProcessedSecurely bool           `json:"processedSecurely"`
}

// Validate checks the ranges every result must satisfy before it is
// encoded.
func (r Result) Validate() error {
	if r.RiskScore < 0 || r.RiskScore > 100 {
		return fmt.Errorf("record: riskScore %v outside [0,100]", r.RiskScore)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("record: confidence %v outside [0,1]", r.Confidence)
	}
	switch r.Recommendation {
	case Normal, MonitorClosely:
	default:
		return fmt.Errorf("record: unknown recommendation %q", r.Recommendation)
	}
	return nil
}
