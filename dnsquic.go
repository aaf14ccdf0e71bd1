// SPDX-License-Identifier: GPL-3.0-or-later

package udpstream

import (
	"context"
	"crypto/tls"
	"net"
	"net/netip"
	"sync"

	"github.com/bassosimone/dnscodec"
	"github.com/quic-go/quic-go"
)

// NewTLSConfigDNSOverQUIC returns a [*tls.Config] negotiating the "doq" ALPN (RFC 9250).
func NewTLSConfigDNSOverQUIC(serverName string) *tls.Config {
	return &tls.Config{
		NextProtos: []string{"doq"},
		ServerName: serverName,
	}
}

// QUICDialer establishes QUIC connections to DNS servers.
//
// Construct using [NewQUICDialer].
type QUICDialer struct {
	// QUICConfig contains OPTIONAL [*quic.Config].
	QUICConfig *quic.Config

	// TLSConfig is the MANDATORY [*tls.Config].
	TLSConfig *tls.Config

	// Transport is the MANDATORY [*quic.Transport].
	Transport *quic.Transport
}

// NewQUICDialer creates a [*QUICDialer] sending from pconn and
// verifying the server certificate against serverName.
func NewQUICDialer(pconn net.PacketConn, serverName string) *QUICDialer {
	return &QUICDialer{
		TLSConfig:  NewTLSConfigDNSOverQUIC(serverName),
		QUICConfig: &quic.Config{},
		Transport:  &quic.Transport{Conn: pconn},
	}
}

// Dial performs the QUIC handshake with address.
func (qd *QUICDialer) Dial(ctx context.Context, address netip.AddrPort) (*quic.Conn, error) {
	udpAddr := net.UDPAddrFromAddrPort(address)
	return qd.Transport.Dial(ctx, udpAddr, qd.TLSConfig, qd.QUICConfig)
}

// DNSConnDialerQUIC dials DNS servers over QUIC.
//
// Construct using [NewDNSConnDialerQUIC].
type DNSConnDialerQUIC struct {
	// Dialer is the underlying [*QUICDialer].
	Dialer *QUICDialer
}

// NewDNSConnDialerQUIC creates a new [*DNSConnDialerQUIC].
func NewDNSConnDialerQUIC(dialer *QUICDialer) *DNSConnDialerQUIC {
	return &DNSConnDialerQUIC{Dialer: dialer}
}

var _ DNSConnDialer = &DNSConnDialerQUIC{}

// DialContext implements [DNSConnDialer].
func (d *DNSConnDialerQUIC) DialContext(ctx context.Context, address netip.AddrPort) (DNSConn, error) {
	qconn, err := d.Dialer.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	return NewDNSConnQUIC(qconn), nil
}

// NewDNSConnQUIC wraps an established [*quic.Conn].
func NewDNSConnQUIC(qconn *quic.Conn) DNSConn {
	return &quicDNSConn{qconn: qconn}
}

// doqNoError is the DOQ_NO_ERROR code (RFC 9250 Sect. 4.3).
const doqNoError = 0x00

// quicDNSConn opens one QUIC stream per exchange.
type quicDNSConn struct {
	qconn *quic.Conn
	once  sync.Once
}

// Close implements [DNSConn].
func (c *quicDNSConn) Close() (err error) {
	c.once.Do(func() {
		err = c.qconn.CloseWithError(doqNoError, "")
	})
	return
}

// MutateQuery implements [DNSConn]. DoQ requires a zero message ID.
func (c *quicDNSConn) MutateQuery(query *dnscodec.Query) {
	query.Flags |= dnscodec.QueryFlagBlockLengthPadding | dnscodec.QueryFlagDNSSec
	query.ID = 0
	query.MaxSize = dnscodec.QueryMaxResponseSizeTCP
}

// OpenStream implements [DNSConn].
func (c *quicDNSConn) OpenStream() (DNSStream, error) {
	stream, err := c.qconn.OpenStream()
	if err != nil {
		return nil, err
	}
	return stream, nil
}
