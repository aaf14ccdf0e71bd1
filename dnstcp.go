// SPDX-License-Identifier: GPL-3.0-or-later

package udpstream

import (
	"context"
	"net"
	"net/netip"

	"github.com/bassosimone/dnscodec"
)

// NetDialer is typically [*net.Dialer].
type NetDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DNSConnDialerTCP dials DNS servers over plain TCP.
//
// Construct using [NewDNSConnDialerTCP].
type DNSConnDialerTCP struct {
	// Dialer is the MANDATORY [NetDialer].
	//
	// Set by [NewDNSConnDialerTCP] to the user-provided value.
	Dialer NetDialer
}

// NewDNSConnDialerTCP creates a new [*DNSConnDialerTCP].
func NewDNSConnDialerTCP(dialer NetDialer) *DNSConnDialerTCP {
	return &DNSConnDialerTCP{Dialer: dialer}
}

var _ DNSConnDialer = &DNSConnDialerTCP{}

// DialContext implements [DNSConnDialer].
func (d *DNSConnDialerTCP) DialContext(ctx context.Context, address netip.AddrPort) (DNSConn, error) {
	conn, err := d.Dialer.DialContext(ctx, "tcp", address.String())
	if err != nil {
		return nil, err
	}
	return NewDNSConnTCP(conn), nil
}

// NewDNSConnTCP wraps an already connected TCP [net.Conn].
func NewDNSConnTCP(conn net.Conn) DNSConn {
	return &tcpDNSConn{conn: conn}
}

// tcpDNSConn serves every exchange on the connection itself.
type tcpDNSConn struct {
	conn net.Conn
}

func (c *tcpDNSConn) Close() error {
	return c.conn.Close()
}

func (c *tcpDNSConn) MutateQuery(query *dnscodec.Query) {
	query.MaxSize = dnscodec.QueryMaxResponseSizeTCP
}

func (c *tcpDNSConn) OpenStream() (DNSStream, error) {
	return tcpDNSStream{c.conn}, nil
}

// tcpDNSStream is a [net.Conn] whose Close leaves the connection open.
type tcpDNSStream struct {
	net.Conn
}

func (tcpDNSStream) Close() error {
	return nil
}
