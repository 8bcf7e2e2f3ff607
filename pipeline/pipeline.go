// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/bureau-foundation/enclave/channel"
	"github.com/bureau-foundation/enclave/envelope"
	"github.com/bureau-foundation/enclave/inference"
	"github.com/bureau-foundation/enclave/lib/record"
)

// Error classes seen by the pipeline. Most belong to the packages that
// produce them and are re-exported so callers can classify with one
// import.
var (
	ErrTransport  = channel.ErrTransport
	ErrStartup    = channel.ErrStartup
	ErrDataFormat = envelope.ErrDataFormat
	ErrEncoding   = envelope.ErrEncoding

	// ErrInference means the engine failed on a decoded record.
	ErrInference = errors.New("pipeline: inference failed")
)

// Phase is a step in the life of one connection.
type Phase int

const (
	PhaseAccepted Phase = iota
	PhaseReading
	PhaseDecoding
	PhaseInferring
	PhaseEncoding
	PhaseRespondingSuccess
	PhaseRespondingError
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseAccepted:
		return "accepted"
	case PhaseReading:
		return "reading"
	case PhaseDecoding:
		return "decoding"
	case PhaseInferring:
		return "inferring"
	case PhaseEncoding:
		return "encoding"
	case PhaseRespondingSuccess:
		return "responding-success"
	case PhaseRespondingError:
		return "responding-error"
	case PhaseClosed:
		return "closed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Service is the read-only state requests run against.
type Service interface {
	Codec() envelope.Codec
	Engine() *inference.Engine
}

// Default per-connection deadlines.
const (
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// Timeouts bound how long a connection may stall. Zero values take the
// defaults.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
}

// Pipeline serves requests against one Service. It is safe for
// concurrent use; all per-request state lives on the stack of
// ServeConn.
type Pipeline struct {
	service  Service
	framer   channel.Framer
	logger   *slog.Logger
	timeouts Timeouts
}

// New returns a Pipeline. It implements channel.Handler.
func New(service Service, framer channel.Framer, logger *slog.Logger, timeouts Timeouts) *Pipeline {
	if timeouts.Read <= 0 {
		timeouts.Read = DefaultReadTimeout
	}
	if timeouts.Write <= 0 {
		timeouts.Write = DefaultWriteTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		service:  service,
		framer:   framer,
		logger:   logger,
		timeouts: timeouts,
	}
}

// exchange is the bookkeeping for one connection. It never holds
// record contents.
type exchange struct {
	phase     Phase
	reference string
	size      int
	started   time.Time
	code      Code
}

// ServeConn runs one request on conn and closes it. It never panics
// and never returns before conn is closed.
func (p *Pipeline) ServeConn(ctx context.Context, conn net.Conn) {
	current := &exchange{phase: PhaseAccepted, started: time.Now()}
	framer := p.framer.Session()
	responded := false

	defer func() {
		if recovered := recover(); recovered != nil {
			p.logger.Error("request handler panicked",
				"phase", current.phase.String(),
				"envelope_ref", current.reference,
				"panic", fmt.Sprint(recovered),
			)
			if !responded {
				responded = true
				p.respond(conn, framer, current, Failure(CodeInternal, "internal error"))
			}
		}
		conn.Close()
		current.phase = PhaseClosed
	}()

	current.phase = PhaseReading
	conn.SetReadDeadline(time.Now().Add(p.timeouts.Read))
	payload, err := framer.ReadRequest(conn)
	switch {
	case errors.Is(err, channel.ErrPeerClosed):
		p.logger.Debug("peer closed without sending a request")
		return
	case errors.Is(err, channel.ErrMalformed):
		responded = true
		p.respond(conn, framer, current, Failure(CodeDataFormat, err.Error()))
		return
	case err != nil:
		p.logger.Warn("reading request failed", "error", err)
		return
	}

	response := p.process(ctx, current, payload)
	responded = true
	p.respond(conn, framer, current, response)
}

// Process runs one envelope through decode, inference, and encode
// without a connection.
func (p *Pipeline) Process(ctx context.Context, envelope []byte) Response {
	return p.process(ctx, &exchange{started: time.Now()}, envelope)
}

func (p *Pipeline) process(ctx context.Context, current *exchange, payload []byte) Response {
	codec := p.service.Codec()
	current.size = len(payload)
	current.reference = codec.Reference(payload)

	current.phase = PhaseDecoding
	sensitive, err := codec.Decode(payload)
	if err != nil {
		return p.failure(current, CodeDataFormat, fmt.Errorf("decoding envelope: %w", err))
	}
	defer sensitive.Close()

	if err := ctx.Err(); err != nil {
		return p.failure(current, CodeInternal, fmt.Errorf("request abandoned: %w", err))
	}

	current.phase = PhaseInferring
	result, err := infer(p.service.Engine(), sensitive)
	if err != nil {
		return p.failure(current, CodeInference, err)
	}

	current.phase = PhaseEncoding
	encoded, err := codec.Encode(result)
	if err != nil {
		return p.failure(current, CodeEncoding, fmt.Errorf("encoding result: %w", err))
	}

	// Scrub before anything goes back on the wire.
	sensitive.Close()
	current.phase = PhaseRespondingSuccess
	return Success(encoded)
}

func (p *Pipeline) failure(current *exchange, code Code, err error) Response {
	p.logger.Info("request failed",
		"phase", current.phase.String(),
		"envelope_ref", current.reference,
		"bytes", current.size,
		"code", string(code),
		"error", err,
	)
	current.phase = PhaseRespondingError
	return Failure(code, err.Error())
}

// infer runs the engine, turning a panic into ErrInference.
func infer(engine *inference.Engine, sensitive *record.Sensitive) (result record.Result, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: %v", ErrInference, recovered)
		}
	}()
	result = engine.Infer(sensitive)
	if invalid := result.Validate(); invalid != nil {
		return record.Result{}, fmt.Errorf("%w: %v", ErrInference, invalid)
	}
	return result, nil
}

// respond writes response. Write failures are logged: the connection
// is closing either way.
func (p *Pipeline) respond(conn net.Conn, framer channel.Framer, current *exchange, response Response) {
	if response.Failed() {
		current.phase = PhaseRespondingError
		current.code = response.Code
	} else {
		current.phase = PhaseRespondingSuccess
	}

	data, err := response.Marshal()
	if err != nil {
		p.logger.Error("marshaling response failed", "error", err)
		return
	}

	conn.SetWriteDeadline(time.Now().Add(p.timeouts.Write))
	if err := framer.WriteResponse(conn, data, response.Failed()); err != nil {
		p.logger.Debug("writing response failed",
			"envelope_ref", current.reference,
			"error", err,
		)
		return
	}

	p.logger.Info("request processed",
		"status", string(response.Status),
		"code", string(current.code),
		"envelope_ref", current.reference,
		"bytes", current.size,
		"duration", time.Since(current.started),
	)
}
