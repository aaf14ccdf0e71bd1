// SPDX-License-Identifier: GPL-3.0-or-later

// Package udpstream implements a writable stream over a UDP socket.
//
// Each [*Stream] targets a single destination. Every [*Stream.Write] sends
// exactly one datagram carrying the whole buffer. Hostnames are resolved
// using a [Resolver] and the UDP address family is chosen from the resolved
// address, so callers can pass "localhost", "127.0.0.1", or "::1" alike.
//
// Streams are driven by a [*Loop], a task queue that runs every callback and
// notification on a single goroutine. Creating a stream never performs I/O
// synchronously: the connect sequence is posted to the loop, so listeners
// attached right after [*Dialer.Create] returns observe every event.
//
// Name resolution defaults to the system resolver. [DNSResolver] resolves
// using DNS over TCP, TLS, or QUIC through a [*DNSTransport].
package udpstream
