// SPDX-License-Identifier: GPL-3.0-or-later

package udpstream

import (
	"net"
	"time"

	"github.com/segmentio/stats/v5"
)

// Dialer creates [*Stream] instances bound to a [*Loop].
//
// Construct using [NewDialer].
//
// The fields hold the collaborators used by the streams; modify them
// before creating streams.
type Dialer struct {
	// Loop is the MANDATORY [*Loop] driving the streams.
	//
	// Set by [NewDialer] to the user-provided value.
	Loop *Loop

	// Resolver is the MANDATORY [Resolver] for hostnames.
	//
	// Set by [NewDialer] to a [*SystemResolver] using [*net.Resolver].
	Resolver Resolver

	// Transport is the MANDATORY [Transport] allocating sockets.
	//
	// Set by [NewDialer] to a [*UDPTransport] using [*net.ListenConfig].
	Transport Transport

	// Logger is the MANDATORY [SLogger].
	//
	// Set by [NewDialer] to [DefaultSLogger].
	Logger SLogger

	// Stats is the OPTIONAL [*stats.Engine] receiving metrics.
	//
	// When nil, no metrics are produced.
	Stats *stats.Engine

	// ConnectTimeout is the OPTIONAL bound on the connect sequence.
	//
	// The deadline covers name resolution and socket allocation. When
	// zero, connecting has no deadline.
	ConnectTimeout time.Duration
}

// NewDialer creates a new [*Dialer] with default collaborators.
func NewDialer(loop *Loop) *Dialer {
	return &Dialer{
		Loop:      loop,
		Resolver:  NewSystemResolver(&net.Resolver{}),
		Transport: NewUDPTransport(&net.ListenConfig{}),
		Logger:    DefaultSLogger(),
	}
}

// NewStream creates an unconnected [*Stream].
//
// Use [*Stream.Connect] to connect it.
func (d *Dialer) NewStream() *Stream {
	return newStream(d)
}

// Create creates a [*Stream] and connects it using args.
//
// See [ParseArgs] for the accepted arguments. Create never fails
// synchronously: errors are reported to the callback, if any, or
// emitted as [EventError] otherwise.
func (d *Dialer) Create(args ...any) *Stream {
	s := d.NewStream()
	s.Connect(args...)
	return s
}

func (d *Dialer) incr(name string, tags ...stats.Tag) {
	if d.Stats != nil {
		d.Stats.Incr(name, tags...)
	}
}

func (d *Dialer) add(name string, value int, tags ...stats.Tag) {
	if d.Stats != nil {
		d.Stats.Add(name, value, tags...)
	}
}
