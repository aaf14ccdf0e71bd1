// SPDX-License-Identifier: GPL-3.0-or-later

package udpstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// dnsConnStub implements [DNSConn].
type dnsConnStub struct {
	openStream  func() (DNSStream, error)
	mutateQuery func(query *dnscodec.Query)
	closed      int
}

// Close implements [DNSConn].
func (c *dnsConnStub) Close() error {
	c.closed++
	return nil
}

// MutateQuery implements [DNSConn].
func (c *dnsConnStub) MutateQuery(query *dnscodec.Query) {
	if c.mutateQuery != nil {
		c.mutateQuery(query)
	}
}

// OpenStream implements [DNSConn].
func (c *dnsConnStub) OpenStream() (DNSStream, error) {
	return c.openStream()
}

// dnsStreamStub implements [DNSStream].
type dnsStreamStub struct {
	setDeadline func(t time.Time) error
	read        func(p []byte) (int, error)
	write       func(p []byte) (int, error)
	close       func() error
}

func (s *dnsStreamStub) SetDeadline(t time.Time) error { return s.setDeadline(t) }
func (s *dnsStreamStub) Read(p []byte) (int, error)    { return s.read(p) }
func (s *dnsStreamStub) Write(p []byte) (int, error)   { return s.write(p) }
func (s *dnsStreamStub) Close() error                  { return s.close() }

// newDNSStreamStub returns a stream accepting all writes and returning EOF.
func newDNSStreamStub() *dnsStreamStub {
	return &dnsStreamStub{
		setDeadline: func(t time.Time) error { return nil },
		read:        func(p []byte) (int, error) { return 0, io.EOF },
		write:       func(p []byte) (int, error) { return len(p), nil },
		close:       func() error { return nil },
	}
}

// newAnsweringDNSStreamStub returns a stream answering the query it
// receives using the given addresses.
func newAnsweringDNSStreamStub(t *testing.T, addrs ...string) *dnsStreamStub {
	stub := newDNSStreamStub()
	var reader *bytes.Reader
	stub.write = func(p []byte) (int, error) {
		reader = bytes.NewReader(newDNSStreamFrame(newRawDNSReply(t, p[2:], addrs...)))
		return len(p), nil
	}
	stub.read = func(p []byte) (int, error) {
		if reader == nil {
			return 0, io.EOF
		}
		return reader.Read(p)
	}
	return stub
}

// newRawDNSReply answers rawQuery with the addrs matching the query type.
func newRawDNSReply(t *testing.T, rawQuery []byte, addrs ...string) []byte {
	t.Helper()

	query := &dns.Msg{}
	require.NoError(t, query.Unpack(rawQuery))
	question := query.Question[0]

	reply := &dns.Msg{}
	reply.SetReply(query)
	for _, s := range addrs {
		addr := netip.MustParseAddr(s)
		header := dns.RR_Header{
			Name:   question.Name,
			Rrtype: question.Qtype,
			Class:  dns.ClassINET,
			Ttl:    60,
		}
		switch {
		case question.Qtype == dns.TypeA && addr.Is4():
			reply.Answer = append(reply.Answer, &dns.A{Hdr: header, A: net.IP(addr.AsSlice())})
		case question.Qtype == dns.TypeAAAA && addr.Is6():
			reply.Answer = append(reply.Answer, &dns.AAAA{Hdr: header, AAAA: net.IP(addr.AsSlice())})
		}
	}

	rawReply, err := reply.Pack()
	require.NoError(t, err)
	return rawReply
}

// exchangeWithStream runs ExchangeWithConn using a conn returning stream.
func exchangeWithStream(ctx context.Context, stream DNSStream, query *dnscodec.Query) (*dnscodec.Response, error) {
	conn := &dnsConnStub{openStream: func() (DNSStream, error) { return stream, nil }}
	dt := NewDNSTransport(NewDNSConnDialerTCP(&net.Dialer{}), netip.AddrPort{})
	return dt.ExchangeWithConn(ctx, conn, query)
}

func TestDNSTransportExchangeWithConn(t *testing.T) {
	t.Run("successful exchange", func(t *testing.T) {
		stream := newAnsweringDNSStreamStub(t, "1.1.1.1")
		resp, err := exchangeWithStream(context.Background(), stream, dnscodec.NewQuery("example.com", dns.TypeA))
		require.NoError(t, err)
		addrs, err := resp.RecordsA()
		require.NoError(t, err)
		require.Equal(t, []string{"1.1.1.1"}, addrs)
	})

	t.Run("open stream error", func(t *testing.T) {
		expected := errors.New("open stream failed")
		conn := &dnsConnStub{openStream: func() (DNSStream, error) { return nil, expected }}
		dt := NewDNSTransport(NewDNSConnDialerTCP(&net.Dialer{}), netip.AddrPort{})
		_, err := dt.ExchangeWithConn(context.Background(), conn, dnscodec.NewQuery("example.com", dns.TypeA))
		require.ErrorIs(t, err, expected)
		require.Zero(t, conn.closed)
	})

	t.Run("the query is cloned before mutation", func(t *testing.T) {
		query := dnscodec.NewQuery("example.com", dns.TypeA)
		orig := *query
		var rawWritten []byte
		stream := newDNSStreamStub()
		stream.write = func(p []byte) (int, error) {
			rawWritten = append([]byte{}, p...)
			return len(p), nil
		}
		conn := &dnsConnStub{
			openStream: func() (DNSStream, error) { return stream, nil },
			mutateQuery: func(query *dnscodec.Query) {
				query.MaxSize = dnscodec.QueryMaxResponseSizeTCP
			},
		}

		dt := NewDNSTransport(NewDNSConnDialerTCP(&net.Dialer{}), netip.AddrPort{})
		_, err := dt.ExchangeWithConn(context.Background(), conn, query)
		require.Error(t, err)
		require.Equal(t, orig, *query)

		msg := &dns.Msg{}
		require.NoError(t, msg.Unpack(rawWritten[2:]))
		require.True(t, msg.RecursionDesired)
		require.Equal(t, uint16(dnscodec.QueryMaxResponseSizeTCP), msg.IsEdns0().UDPSize())
	})

	t.Run("the frame carries the message length", func(t *testing.T) {
		var rawWritten []byte
		stream := newDNSStreamStub()
		stream.write = func(p []byte) (int, error) {
			rawWritten = append([]byte{}, p...)
			return len(p), nil
		}
		_, err := exchangeWithStream(context.Background(), stream, dnscodec.NewQuery("example.com", dns.TypeA))
		require.Error(t, err)
		require.GreaterOrEqual(t, len(rawWritten), 2)
		require.Equal(t, len(rawWritten)-2, int(rawWritten[0])<<8|int(rawWritten[1]))
	})

	t.Run("observers receive copies", func(t *testing.T) {
		var rawQuery, rawResp, hookQuery, hookResp []byte
		stream := newAnsweringDNSStreamStub(t, "1.1.1.1")
		write := stream.write
		stream.write = func(p []byte) (int, error) {
			rawQuery = append([]byte{}, p[2:]...)
			rawResp = newRawDNSReply(t, rawQuery, "1.1.1.1")
			return write(p)
		}
		conn := &dnsConnStub{openStream: func() (DNSStream, error) { return stream, nil }}

		dt := NewDNSTransport(NewDNSConnDialerTCP(&net.Dialer{}), netip.AddrPort{})
		dt.ObserveRawQuery = func(p []byte) {
			hookQuery = append([]byte{}, p...)
			p[0] ^= 0xff
		}
		dt.ObserveRawResponse = func(p []byte) {
			hookResp = append([]byte{}, p...)
			p[0] ^= 0xff
		}

		_, err := dt.ExchangeWithConn(context.Background(), conn, dnscodec.NewQuery("example.com", dns.TypeA))
		require.NoError(t, err)
		require.Equal(t, rawQuery, hookQuery)
		require.Equal(t, rawResp, hookResp)
	})

	t.Run("the deadline is set and reset", func(t *testing.T) {
		deadline := time.Now().Add(time.Second)
		var deadlines []time.Time
		stream := newDNSStreamStub()
		stream.setDeadline = func(t time.Time) error {
			deadlines = append(deadlines, t)
			return nil
		}

		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		defer cancel()
		_, err := exchangeWithStream(ctx, stream, dnscodec.NewQuery("example.com", dns.TypeA))
		require.Error(t, err)
		require.Len(t, deadlines, 2)
		require.WithinDuration(t, deadline, deadlines[0], time.Second)
		require.True(t, deadlines[1].IsZero())
	})

	t.Run("the stream is closed", func(t *testing.T) {
		var closed int
		stream := newDNSStreamStub()
		stream.close = func() error {
			closed++
			return nil
		}
		_, err := exchangeWithStream(context.Background(), stream, dnscodec.NewQuery("example.com", dns.TypeA))
		require.Error(t, err)
		require.NotZero(t, closed)
	})
}

func TestDNSTransportExchangeWithConnErrors(t *testing.T) {
	type testcase struct {
		name   string
		query  *dnscodec.Query
		stream func() DNSStream
		expect error
	}

	mocked := errors.New("mocked error")
	header := []byte{0x00, 0x01}

	notResponse := func() []byte {
		resp := &dns.Msg{}
		resp.SetRcode(&dns.Msg{Question: []dns.Question{{
			Name:   "example.com.",
			Qtype:  dns.TypeA,
			Qclass: dns.ClassINET,
		}}}, dns.RcodeRefused)
		raw, err := resp.Pack()
		require.NoError(t, err)
		return newDNSStreamFrame(raw)
	}

	cases := []testcase{{
		name:   "cannot create the message",
		query:  dnscodec.NewQuery("\t", dns.TypeA),
		stream: func() DNSStream { return newDNSStreamStub() },
	}, {
		name:   "cannot pack the message",
		query:  dnscodec.NewQuery(strings.Repeat("a", 64)+".example.com", dns.TypeA),
		stream: func() DNSStream { return newDNSStreamStub() },
	}, {
		name:  "write error",
		query: dnscodec.NewQuery("example.com", dns.TypeA),
		stream: func() DNSStream {
			stub := newDNSStreamStub()
			stub.write = func(p []byte) (int, error) { return 0, mocked }
			return stub
		},
		expect: mocked,
	}, {
		name:  "header read error",
		query: dnscodec.NewQuery("example.com", dns.TypeA),
		stream: func() DNSStream {
			stub := newDNSStreamStub()
			stub.read = func(p []byte) (int, error) { return 0, mocked }
			return stub
		},
		expect: mocked,
	}, {
		name:  "body read error",
		query: dnscodec.NewQuery("example.com", dns.TypeA),
		stream: func() DNSStream {
			stub := newDNSStreamStub()
			reader := bytes.NewReader(header)
			stub.read = func(p []byte) (int, error) {
				if reader.Len() <= 0 {
					return 0, mocked
				}
				return reader.Read(p)
			}
			return stub
		},
		expect: mocked,
	}, {
		name:  "unpack error",
		query: dnscodec.NewQuery("example.com", dns.TypeA),
		stream: func() DNSStream {
			stub := newDNSStreamStub()
			stub.read = bytes.NewReader(append(header, 0xff)).Read
			return stub
		},
	}, {
		name:  "not a response",
		query: dnscodec.NewQuery("example.com", dns.TypeA),
		stream: func() DNSStream {
			stub := newDNSStreamStub()
			stub.read = bytes.NewReader(notResponse()).Read
			return stub
		},
		expect: dnscodec.ErrInvalidResponse,
	}}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := exchangeWithStream(context.Background(), tc.stream(), tc.query)
			require.Error(t, err)
			require.Nil(t, resp)
			if tc.expect != nil {
				require.ErrorIs(t, err, tc.expect)
			}
		})
	}
}

// dnsConnDialerStub implements [DNSConnDialer].
type dnsConnDialerStub struct {
	dialContext func(ctx context.Context, address netip.AddrPort) (DNSConn, error)
}

// DialContext implements [DNSConnDialer].
func (d *dnsConnDialerStub) DialContext(ctx context.Context, address netip.AddrPort) (DNSConn, error) {
	return d.dialContext(ctx, address)
}

func TestDNSTransportExchange(t *testing.T) {
	endpoint := netip.MustParseAddrPort("127.0.0.1:853")

	t.Run("dials the endpoint and mutates the query", func(t *testing.T) {
		var (
			gotEndpoint netip.AddrPort
			gotMutate   bool
		)
		dialer := &dnsConnDialerStub{
			dialContext: func(ctx context.Context, address netip.AddrPort) (DNSConn, error) {
				gotEndpoint = address
				conn := &dnsConnStub{
					openStream: func() (DNSStream, error) {
						return newAnsweringDNSStreamStub(t, "1.1.1.1"), nil
					},
					mutateQuery: func(query *dnscodec.Query) { gotMutate = true },
				}
				return conn, nil
			},
		}

		dt := NewDNSTransport(dialer, endpoint)
		resp, err := dt.Exchange(context.Background(), dnscodec.NewQuery("example.com", dns.TypeA))
		require.NoError(t, err)
		require.NotNil(t, resp)
		require.Equal(t, endpoint, gotEndpoint)
		require.True(t, gotMutate)
	})

	t.Run("dial error", func(t *testing.T) {
		expected := errors.New("dial failed")
		dialer := &dnsConnDialerStub{
			dialContext: func(ctx context.Context, address netip.AddrPort) (DNSConn, error) {
				return nil, expected
			},
		}
		dt := NewDNSTransport(dialer, endpoint)
		_, err := dt.Exchange(context.Background(), dnscodec.NewQuery("example.com", dns.TypeA))
		require.ErrorIs(t, err, expected)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		dt := NewDNSTransport(NewDNSConnDialerTCP(&net.Dialer{}), netip.MustParseAddrPort("127.0.0.1:53"))
		_, err := dt.Exchange(ctx, dnscodec.NewQuery("example.com", dns.TypeA))
		require.ErrorIs(t, err, context.Canceled)
	})
}
