// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Framing names a wire format for one request and its response.
type Framing string

const (
	// FramingFrame is the length-prefixed format described in frame.go.
	FramingFrame Framing = "frame"

	// FramingLegacy is a single unframed read. The response is written
	// raw and the connection close marks its end.
	FramingLegacy Framing = "legacy"

	// FramingAuto accepts both per connection: a request that opens
	// with the frame magic is read and answered as a frame, anything
	// else as a legacy single read with a raw response. Neither a
	// base64 envelope nor JSON can begin with "ENCV".
	FramingAuto Framing = "auto"
)

// ParseFraming validates a framing name from configuration.
func ParseFraming(name string) (Framing, error) {
	switch Framing(name) {
	case FramingAuto, FramingFrame, FramingLegacy:
		return Framing(name), nil
	case "":
		return FramingAuto, nil
	}
	return "", fmt.Errorf("unknown framing %q (want %q, %q, or %q)", name, FramingAuto, FramingFrame, FramingLegacy)
}

// Limits bounds what a Framer will read.
type Limits struct {
	// MaxPayload is the largest frame payload accepted.
	MaxPayload int

	// LegacyBuffer is the size of the single legacy read. A read that
	// fills it is rejected rather than truncated.
	LegacyBuffer int
}

// DefaultLimits returns the limits used when configuration leaves them
// unset.
func DefaultLimits() Limits {
	return Limits{MaxPayload: DefaultMaxPayload, LegacyBuffer: DefaultLegacyBuffer}
}

// Framer reads one request from a connection and writes one response.
type Framer interface {
	// ReadRequest returns the request payload. It returns ErrPeerClosed
	// when nothing arrived, ErrMalformed when bytes arrived but cannot
	// be accepted, and ErrTransport for I/O failures.
	ReadRequest(r io.Reader) ([]byte, error)

	// WriteResponse writes payload as the response. failed marks an
	// error response where the format can express it.
	WriteResponse(w io.Writer, payload []byte, failed bool) error

	// Framing reports which wire format this is.
	Framing() Framing

	// Session returns the Framer for one connection. Stateless
	// framings return themselves; FramingAuto returns a fresh framer
	// that remembers what the request used.
	Session() Framer
}

// NewFramer returns the Framer for framing. Zero limits take the
// defaults.
func NewFramer(framing Framing, limits Limits) (Framer, error) {
	if limits.MaxPayload <= 0 {
		limits.MaxPayload = DefaultMaxPayload
	}
	if limits.LegacyBuffer <= 0 {
		limits.LegacyBuffer = DefaultLegacyBuffer
	}
	switch framing {
	case FramingFrame:
		return frameFramer{maxPayload: limits.MaxPayload}, nil
	case FramingLegacy:
		return legacyFramer{bufferSize: limits.LegacyBuffer}, nil
	case FramingAuto, "":
		return &autoFramer{limits: limits}, nil
	}
	return nil, fmt.Errorf("unknown framing %q", framing)
}

type frameFramer struct {
	maxPayload int
}

func (f frameFramer) Framing() Framing { return FramingFrame }

func (f frameFramer) Session() Framer { return f }

func (f frameFramer) ReadRequest(r io.Reader) ([]byte, error) {
	header, payload, err := ReadFrame(r, f.maxPayload)
	if err != nil {
		return nil, err
	}
	if header.IsResponse() {
		return nil, fmt.Errorf("%w: request frame carries the response flag", ErrMalformed)
	}
	return payload, nil
}

func (f frameFramer) WriteResponse(w io.Writer, payload []byte, failed bool) error {
	flags := FlagResponse
	if failed {
		flags |= FlagError
	}
	return WriteFrame(w, flags, payload)
}

type legacyFramer struct {
	bufferSize int
}

func (f legacyFramer) Framing() Framing { return FramingLegacy }

func (f legacyFramer) Session() Framer { return f }

func (f legacyFramer) ReadRequest(r io.Reader) ([]byte, error) {
	buffer := make([]byte, f.bufferSize)
	n, err := r.Read(buffer)
	if n == 0 {
		return nil, emptyRead(err)
	}
	return f.accept(buffer[:n])
}

// accept applies the legacy size rule to the bytes of the single read.
func (f legacyFramer) accept(request []byte) ([]byte, error) {
	if len(request) >= f.bufferSize {
		return nil, fmt.Errorf("%w: request fills the %d-byte read buffer", ErrMalformed, f.bufferSize)
	}
	return request, nil
}

func emptyRead(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return ErrPeerClosed
	}
	return fmt.Errorf("%w: reading request: %w", ErrTransport, err)
}

func (f legacyFramer) WriteResponse(w io.Writer, payload []byte, failed bool) error {
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("%w: writing response: %w", ErrTransport, err)
	}
	return nil
}

// autoFramer serves one connection in FramingAuto. The zero detected
// value answers as legacy, which is what a peer that sent nothing
// recognizable can parse.
type autoFramer struct {
	limits   Limits
	detected Framer
}

func (f *autoFramer) Framing() Framing {
	if f.detected != nil {
		return f.detected.Framing()
	}
	return FramingAuto
}

func (f *autoFramer) Session() Framer { return &autoFramer{limits: f.limits} }

// ReadRequest makes the same single read a legacy framer does, reading
// further only while the bytes so far could still be the frame magic.
func (f *autoFramer) ReadRequest(r io.Reader) ([]byte, error) {
	var magic [4]byte
	binary.BigEndian.PutUint32(magic[:], FrameMagic)

	buffer := make([]byte, f.limits.LegacyBuffer)
	n, err := r.Read(buffer)
	if n == 0 {
		return nil, emptyRead(err)
	}
	for n < len(magic) && n < len(buffer) && bytes.HasPrefix(magic[:], buffer[:n]) && err == nil {
		var more int
		more, err = r.Read(buffer[n:])
		n += more
	}

	if n >= len(magic) && bytes.Equal(buffer[:len(magic)], magic[:]) {
		frames := frameFramer{maxPayload: f.limits.MaxPayload}
		f.detected = frames
		return frames.ReadRequest(io.MultiReader(bytes.NewReader(buffer[:n]), r))
	}
	legacy := legacyFramer{bufferSize: f.limits.LegacyBuffer}
	f.detected = legacy
	return legacy.accept(buffer[:n])
}

func (f *autoFramer) WriteResponse(w io.Writer, payload []byte, failed bool) error {
	if f.detected == nil {
		f.detected = legacyFramer{bufferSize: f.limits.LegacyBuffer}
	}
	return f.detected.WriteResponse(w, payload, failed)
}
