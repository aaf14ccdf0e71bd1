// SPDX-License-Identifier: GPL-3.0-or-later

package udpstream

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Transport allocates datagram sockets.
//
// [*UDPTransport] is the default implementation.
type Transport interface {
	// Allocate creates a [Socket] for the given [Family].
	Allocate(ctx context.Context, family Family) (Socket, error)
}

// Socket is a datagram socket owned by a single [*Stream].
//
// A Socket emits [EventError] when it fails asynchronously and [EventClose]
// once it has been closed. Notifications may come from any goroutine.
type Socket interface {
	// Send sends buf as a single datagram to dest.
	//
	// Send blocks until the datagram has been handed to the network
	// stack; the [*Stream] never invokes Send concurrently.
	Send(buf []byte, dest netip.AddrPort) error

	// Close releases the socket. The [*Stream] calls Close once.
	Close() error

	// Once registers a one-shot [Listener].
	Once(ev Event, fn Listener) ListenerID

	// RemoveListener unregisters a [Listener].
	RemoveListener(ev Event, id ListenerID)
}

// errUnsupportedFamily indicates allocating a socket for [FamilyUnknown].
var errUnsupportedFamily = errors.New("udpstream: unsupported address family")

// PacketListener is typically [*net.ListenConfig].
type PacketListener interface {
	ListenPacket(ctx context.Context, network, address string) (net.PacketConn, error)
}

// UDPTransport implements [Transport] using unconnected UDP sockets.
//
// Construct using [NewUDPTransport].
type UDPTransport struct {
	// Listener is the [PacketListener] creating sockets.
	//
	// Set by [NewUDPTransport] to the user-provided value.
	Listener PacketListener

	// TTL is the OPTIONAL IPv4 TTL or IPv6 hop limit of outgoing datagrams.
	//
	// Zero keeps the operating system default.
	TTL int
}

// NewUDPTransport creates a new [*UDPTransport].
func NewUDPTransport(listener PacketListener) *UDPTransport {
	return &UDPTransport{Listener: listener}
}

var _ Transport = &UDPTransport{}

// Allocate implements [Transport].
func (t *UDPTransport) Allocate(ctx context.Context, family Family) (Socket, error) {
	var address string
	switch family {
	case FamilyIPv4:
		address = "0.0.0.0:0"
	case FamilyIPv6:
		address = "[::]:0"
	default:
		return nil, errUnsupportedFamily
	}

	pconn, err := t.Listener.ListenPacket(ctx, family.Network(), address)
	if err != nil {
		return nil, err
	}

	if t.TTL > 0 {
		if err := setHopLimit(pconn, family, t.TTL); err != nil {
			pconn.Close()
			return nil, err
		}
	}
	return &udpSocket{pconn: pconn}, nil
}

// setHopLimit sets the IPv4 TTL or the IPv6 hop limit.
func setHopLimit(pconn net.PacketConn, family Family, value int) error {
	if family == FamilyIPv6 {
		return ipv6.NewPacketConn(pconn).SetHopLimit(value)
	}
	return ipv4.NewPacketConn(pconn).SetTTL(value)
}

// udpSocket implements [Socket] for [net.PacketConn].
type udpSocket struct {
	Emitter
	pconn net.PacketConn
	once  sync.Once
}

var _ Socket = &udpSocket{}

// Send implements [Socket].
func (s *udpSocket) Send(buf []byte, dest netip.AddrPort) error {
	_, err := s.pconn.WriteTo(buf, net.UDPAddrFromAddrPort(dest))
	return err
}

// Close implements [Socket].
func (s *udpSocket) Close() (err error) {
	s.once.Do(func() {
		if err = s.pconn.Close(); err != nil {
			s.Emit(EventError, err)
		}
		s.Emit(EventClose, nil)
	})
	return
}

// LocalAddr returns the local address of the socket.
func (s *udpSocket) LocalAddr() net.Addr {
	return s.pconn.LocalAddr()
}
