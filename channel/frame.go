// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame header layout, big-endian:
//
//	magic   uint32  "ENCV"
//	version uint16
//	flags   uint16
//	length  uint32  payload bytes that follow
const (
	HeaderSize = 12

	FrameMagic   uint32 = 0x454E4356
	FrameVersion uint16 = 1

	// DefaultMaxPayload bounds a single frame payload.
	DefaultMaxPayload = 1 << 20

	// DefaultLegacyBuffer is the read size of the legacy framing. Host
	// proxies that predate framing send the whole envelope in one write
	// and expect it to arrive in one read of this size.
	DefaultLegacyBuffer = 4096
)

// Flags carried in a frame header.
const (
	FlagResponse uint16 = 1 << 0
	FlagError    uint16 = 1 << 1
)

// Header is a decoded frame header.
type Header struct {
	Version uint16
	Flags   uint16
	Length  uint32
}

// IsResponse reports whether the frame was written by the enclave.
func (h Header) IsResponse() bool { return h.Flags&FlagResponse != 0 }

// IsError reports whether the frame carries an error response.
func (h Header) IsError() bool { return h.Flags&FlagError != 0 }

// ReadFrame reads one frame from r. A stream that ends before any header
// byte arrives yields ErrPeerClosed; one that ends mid-frame yields
// ErrTransport. Header problems and payloads above maxPayload yield
// ErrMalformed without reading the payload.
func ReadFrame(r io.Reader, maxPayload int) (Header, []byte, error) {
	var raw [HeaderSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Header{}, nil, ErrPeerClosed
		}
		return Header{}, nil, fmt.Errorf("%w: reading frame header: %w", ErrTransport, err)
	}

	if magic := binary.BigEndian.Uint32(raw[0:4]); magic != FrameMagic {
		return Header{}, nil, fmt.Errorf("%w: bad frame magic %#08x", ErrMalformed, magic)
	}
	header := Header{
		Version: binary.BigEndian.Uint16(raw[4:6]),
		Flags:   binary.BigEndian.Uint16(raw[6:8]),
		Length:  binary.BigEndian.Uint32(raw[8:12]),
	}
	if header.Version != FrameVersion {
		return header, nil, fmt.Errorf("%w: unsupported frame version %d", ErrMalformed, header.Version)
	}
	if uint64(header.Length) > uint64(maxPayload) {
		return header, nil, fmt.Errorf("%w: payload of %d bytes exceeds limit of %d", ErrMalformed, header.Length, maxPayload)
	}

	payload := make([]byte, header.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return header, nil, fmt.Errorf("%w: reading %d-byte payload: %w", ErrTransport, header.Length, err)
	}
	return header, payload, nil
}

// WriteFrame writes payload to w behind a frame header carrying flags.
// Header and payload go out in a single Write.
func WriteFrame(w io.Writer, flags uint16, payload []byte) error {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return fmt.Errorf("%w: payload of %d bytes does not fit a frame", ErrMalformed, len(payload))
	}
	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], FrameMagic)
	binary.BigEndian.PutUint16(frame[4:6], FrameVersion)
	binary.BigEndian.PutUint16(frame[6:8], flags)
	binary.BigEndian.PutUint32(frame[8:12], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("%w: writing frame: %w", ErrTransport, err)
	}
	return nil
}
