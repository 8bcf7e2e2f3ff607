// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel is the enclave's side of the host-guest socket.
//
// Listen binds the guest endpoint: AF_VSOCK inside an enclave, TCP or a
// Unix socket for development and tests. A [Server] accepts connections
// and hands each one to a [Handler]. By default connections are handled
// one at a time, inline with the accept loop, so the response to
// connection N is fully written before connection N+1 is accepted.
// Setting Workers above one lets a bounded number of connections be
// handled concurrently.
//
// Each connection carries exactly one request and one response. The
// [Framer] decides how the request is delimited on the wire: the
// length-prefixed "frame" format, the "legacy" single-read format
// spoken by older host proxies, or "auto", which picks between the two
// per connection from the first bytes of the request.
package channel
