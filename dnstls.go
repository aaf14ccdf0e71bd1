// SPDX-License-Identifier: GPL-3.0-or-later

package udpstream

import (
	"context"
	"crypto/tls"
	"net"
	"net/netip"

	"github.com/bassosimone/dnscodec"
)

// NewTLSConfigDNSOverTLS returns the [*tls.Config] to use for DNS-over-TLS.
func NewTLSConfigDNSOverTLS(serverName string) *tls.Config {
	return &tls.Config{
		NextProtos: []string{"dot"},
		ServerName: serverName,
	}
}

// NewTLSDialerDNSOverTLS returns the [*tls.Dialer] to use for DNS-over-TLS.
func NewTLSDialerDNSOverTLS(serverName string) *tls.Dialer {
	return &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config:    NewTLSConfigDNSOverTLS(serverName),
	}
}

// TLSDialer is typically [*tls.Dialer].
//
// The caller is responsible for ensuring the dialer actually performs TLS.
type TLSDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DNSConnDialerTLS implements [DNSConnDialer] for DNS over TLS.
//
// Construct using [NewDNSConnDialerTLS].
type DNSConnDialerTLS struct {
	// Dialer is the underlying [TLSDialer].
	Dialer TLSDialer
}

// NewDNSConnDialerTLS creates a new [*DNSConnDialerTLS].
func NewDNSConnDialerTLS(dialer TLSDialer) *DNSConnDialerTLS {
	return &DNSConnDialerTLS{Dialer: dialer}
}

var _ DNSConnDialer = &DNSConnDialerTLS{}

// DialContext implements [DNSConnDialer].
func (d *DNSConnDialerTLS) DialContext(ctx context.Context, address netip.AddrPort) (DNSConn, error) {
	conn, err := d.Dialer.DialContext(ctx, "tcp", address.String())
	if err != nil {
		return nil, err
	}
	return NewDNSConnTLS(conn), nil
}

// NewDNSConnTLS creates a [DNSConn] from an existing TLS [net.Conn].
func NewDNSConnTLS(conn net.Conn) DNSConn {
	return &tlsDNSConn{tcpDNSConn{conn: conn}}
}

// tlsDNSConn implements [DNSConn] for TLS.
type tlsDNSConn struct {
	tcpDNSConn
}

// MutateQuery implements [DNSConn].
func (c *tlsDNSConn) MutateQuery(query *dnscodec.Query) {
	query.Flags |= dnscodec.QueryFlagBlockLengthPadding | dnscodec.QueryFlagDNSSec
	query.MaxSize = dnscodec.QueryMaxResponseSizeTCP
}
