// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package inference computes a risk result from a sensitive record.
//
// [Engine.Infer] is pure, deterministic, and total: it never fails and
// never keeps anything from the record it reads. The scoring rules are
// data ([Model]), loaded once at startup from a sealed model artifact by
// [LoadModel]. When the artifact is missing, unreadable, or the enclave
// has not been given the identity to open it, LoadModel returns the
// built-in [DefaultModel] with a degraded [Status] rather than failing;
// the service keeps serving with placeholder parameters.
//
// Scoring with the default model:
//
//	score = 75
//	      + 10 if heartRate > 100
//	      +  5 if temperature > 38
//	recommendation = MonitorClosely if score > 80, else Normal
//	riskScore = clamp(score, 0, 100)
//
// The recommendation is decided on the unclamped score.
package inference
