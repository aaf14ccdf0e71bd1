// SPDX-License-Identifier: GPL-3.0-or-later

package udpstream

import (
	"context"
	"errors"
	"net/netip"

	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
)

// Resolver maps a hostname to an IP address.
//
// [*SystemResolver] and [*DNSResolver] implement this interface.
type Resolver interface {
	// LookupAddr returns one address for host.
	LookupAddr(ctx context.Context, host string) (netip.Addr, error)
}

// errNoAddresses indicates a successful lookup returning no addresses.
var errNoAddresses = errors.New("udpstream: no addresses for host")

// NetResolver is typically [*net.Resolver].
type NetResolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// SystemResolver implements [Resolver] using a [NetResolver].
//
// Construct using [NewSystemResolver].
type SystemResolver struct {
	// Resolver is the underlying [NetResolver].
	Resolver NetResolver
}

// NewSystemResolver creates a new [*SystemResolver].
func NewSystemResolver(reso NetResolver) *SystemResolver {
	return &SystemResolver{Resolver: reso}
}

var _ Resolver = &SystemResolver{}

// LookupAddr implements [Resolver].
//
// It returns the first address in the order chosen by the resolver.
func (r *SystemResolver) LookupAddr(ctx context.Context, host string) (netip.Addr, error) {
	addrs, err := r.Resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, err
	}
	if len(addrs) <= 0 {
		return netip.Addr{}, errNoAddresses
	}
	return addrs[0].Unmap(), nil
}

// DNSExchanger is typically [*DNSTransport].
type DNSExchanger interface {
	Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error)
}

// DNSResolver implements [Resolver] by querying a DNS server directly.
//
// Construct using [NewDNSResolver].
//
// The resolver queries for A records first and for AAAA records when
// the A query fails or returns no addresses.
type DNSResolver struct {
	// Exchanger is the underlying [DNSExchanger].
	Exchanger DNSExchanger
}

// NewDNSResolver creates a new [*DNSResolver].
func NewDNSResolver(exchanger DNSExchanger) *DNSResolver {
	return &DNSResolver{Exchanger: exchanger}
}

var _ Resolver = &DNSResolver{}

// LookupAddr implements [Resolver].
func (r *DNSResolver) LookupAddr(ctx context.Context, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr, nil
	}
	addr, err := r.lookup(ctx, host, dns.TypeA)
	if err == nil {
		return addr, nil
	}
	if addr, err6 := r.lookup(ctx, host, dns.TypeAAAA); err6 == nil {
		return addr, nil
	}
	return netip.Addr{}, err
}

func (r *DNSResolver) lookup(ctx context.Context, host string, qtype uint16) (netip.Addr, error) {
	resp, err := r.Exchanger.Exchange(ctx, dnscodec.NewQuery(host, qtype))
	if err != nil {
		return netip.Addr{}, err
	}

	var records []string
	switch qtype {
	case dns.TypeAAAA:
		records, err = resp.RecordsAAAA()
	default:
		records, err = resp.RecordsA()
	}
	if err != nil {
		return netip.Addr{}, err
	}
	if len(records) <= 0 {
		return netip.Addr{}, errNoAddresses
	}
	return netip.ParseAddr(records[0])
}
