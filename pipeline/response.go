// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"encoding/json"
	"fmt"
)

// Status is the outcome field of a Response.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Code classifies an error response so hosts can branch without parsing
// the message.
type Code string

const (
	CodeDataFormat Code = "data_format"
	CodeEncoding   Code = "encoding"
	CodeInference  Code = "inference"
	CodeInternal   Code = "internal"
)

// Response is written back to the host for every request that carried
// bytes.
type Response struct {
	Status Status `json:"status"`

	// Result is the encoded result envelope on success.
	Result string `json:"result,omitempty"`

	// Error is a human-readable failure description. It never quotes
	// record contents.
	Error string `json:"error,omitempty"`
	Code  Code   `json:"code,omitempty"`

	ProcessedInEnclave bool `json:"processed_in_enclave"`
}

// Success builds a success response carrying envelope.
func Success(envelope []byte) Response {
	return Response{
		Status:             StatusSuccess,
		Result:             string(envelope),
		ProcessedInEnclave: true,
	}
}

// Failure builds an error response.
func Failure(code Code, message string) Response {
	return Response{
		Status:             StatusError,
		Error:              message,
		Code:               code,
		ProcessedInEnclave: true,
	}
}

// Failed reports whether r is an error response.
func (r Response) Failed() bool { return r.Status != StatusSuccess }

// Marshal renders r as wire JSON.
func (r Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// ParseResponse decodes a response written by the enclave.
func ParseResponse(data []byte) (Response, error) {
	var response Response
	if err := json.Unmarshal(data, &response); err != nil {
		return Response{}, fmt.Errorf("parsing enclave response: %w", err)
	}
	switch response.Status {
	case StatusSuccess, StatusError:
	default:
		return Response{}, fmt.Errorf("parsing enclave response: unknown status %q", response.Status)
	}
	return response, nil
}
