// SPDX-License-Identifier: GPL-3.0-or-later

package udpstream

import (
	"bufio"
	"context"
	"io"
	"math"
	"net/netip"
	"slices"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/runtimex"
	"github.com/miekg/dns"
)

// DNSStream carries one length-prefixed DNS query and its response.
//
// See RFC 7766 Sect. 8 and RFC 9250 Sect. 4.2.
type DNSStream interface {
	SetDeadline(t time.Time) error
	io.ReadWriter

	// Close signals that the query has been written. It is a no-op
	// over TCP and TLS and sends the STREAM FIN over QUIC.
	Close() error
}

// DNSConn is a connection to the DNS server used by a [*DNSResolver].
type DNSConn interface {
	// OpenStream returns the [DNSStream] for the next exchange.
	OpenStream() (DNSStream, error)

	// MutateQuery adjusts the query for the underlying protocol.
	MutateQuery(query *dnscodec.Query)

	Close() error
}

// DNSConnDialer dials a [DNSConn] to a DNS server endpoint.
type DNSConnDialer interface {
	DialContext(ctx context.Context, address netip.AddrPort) (DNSConn, error)
}

// DNSTransport implements [DNSExchanger] over TCP, TLS, or QUIC.
//
// Construct using [NewDNSTransport].
//
// Each lookup dials a fresh [DNSConn] to the Endpoint.
type DNSTransport struct {
	// Dialer is the MANDATORY [DNSConnDialer].
	//
	// Set by [NewDNSTransport] to the user-provided value.
	Dialer DNSConnDialer

	// Endpoint is the MANDATORY DNS server address.
	//
	// Set by [NewDNSTransport] to the user-provided value.
	Endpoint netip.AddrPort

	// ObserveRawQuery OPTIONALLY receives a copy of each raw query.
	ObserveRawQuery func([]byte)

	// ObserveRawResponse OPTIONALLY receives a copy of each raw response.
	ObserveRawResponse func([]byte)
}

// NewDNSTransport creates a new [*DNSTransport].
func NewDNSTransport(dialer DNSConnDialer, endpoint netip.AddrPort) *DNSTransport {
	return &DNSTransport{Dialer: dialer, Endpoint: endpoint}
}

var _ DNSExchanger = &DNSTransport{}

// Exchange implements [DNSExchanger].
//
// The connection is torn down when Exchange returns or ctx is done,
// whichever happens first.
func (dt *DNSTransport) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	conn, err := dt.Dialer.DialContext(ctx, dt.Endpoint)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	context.AfterFunc(ctx, func() { conn.Close() })

	return dt.ExchangeWithConn(ctx, conn, query)
}

// ExchangeWithConn performs a single exchange over conn, which remains
// owned by the caller.
func (dt *DNSTransport) ExchangeWithConn(ctx context.Context, conn DNSConn, query *dnscodec.Query) (*dnscodec.Response, error) {
	stream, err := conn.OpenStream()
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
		defer stream.SetDeadline(time.Time{})
	}

	queryMsg, err := dt.sendQuery(stream, conn, query)
	if err != nil {
		return nil, err
	}
	respMsg, err := dt.recvResponse(stream)
	if err != nil {
		return nil, err
	}
	return dnscodec.ParseResponse(queryMsg, respMsg)
}

// sendQuery writes a mutated copy of query and half-closes the stream.
func (dt *DNSTransport) sendQuery(stream DNSStream, conn DNSConn, query *dnscodec.Query) (*dns.Msg, error) {
	query = query.Clone()
	conn.MutateQuery(query)
	queryMsg, err := query.NewMsg()
	if err != nil {
		return nil, err
	}
	rawQuery, err := queryMsg.Pack()
	if err != nil {
		return nil, err
	}
	if dt.ObserveRawQuery != nil {
		dt.ObserveRawQuery(slices.Clone(rawQuery))
	}
	if _, err := stream.Write(newDNSStreamFrame(rawQuery)); err != nil {
		return nil, err
	}

	// DoQ servers wait for the FIN before answering
	stream.Close()
	return queryMsg, nil
}

// recvResponse reads and decodes one length-prefixed response.
func (dt *DNSTransport) recvResponse(stream DNSStream) (*dns.Msg, error) {
	br := bufio.NewReader(stream)
	var header [2]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, err
	}
	rawResp := make([]byte, int(header[0])<<8|int(header[1]))
	if _, err := io.ReadFull(br, rawResp); err != nil {
		return nil, err
	}
	if dt.ObserveRawResponse != nil {
		dt.ObserveRawResponse(slices.Clone(rawResp))
	}
	respMsg := &dns.Msg{}
	if err := respMsg.Unpack(rawResp); err != nil {
		return nil, err
	}
	return respMsg, nil
}

// newDNSStreamFrame prepends the big-endian length of rawMsg.
func newDNSStreamFrame(rawMsg []byte) []byte {
	runtimex.Assert(len(rawMsg) <= math.MaxUint16)
	frame := make([]byte, 2, 2+len(rawMsg))
	frame[0], frame[1] = byte(len(rawMsg)>>8), byte(len(rawMsg))
	return append(frame, rawMsg...)
}
