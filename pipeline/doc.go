// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline handles one host request end to end: read the
// envelope, decode it into a record, run inference, encode the result,
// and write a [Response].
//
// Each connection moves through the phases Accepted, Reading, Decoding,
// Inferring, Encoding, then RespondingSuccess or RespondingError, and
// finally Closed. A peer that connects and sends nothing skips straight
// from Reading to Closed without a response. Any failure after bytes
// arrive still produces an error response, and every response says
// processed_in_enclave.
//
// The decoded record is closed, zeroing its plaintext, before the
// response is written. Nothing from the record is logged; log lines
// identify requests by the codec's envelope reference.
package pipeline
