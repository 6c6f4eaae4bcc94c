package main

import (
	"context"
	"fmt"
	"net"
	"os"
)

// allowLocalEnv lets tests reach httptest servers without --allow-private.
const allowLocalEnv = "MARKCLIP_ALLOW_LOCAL"

var blockedNetworks = mustParseCIDRs(
	"0.0.0.0/8",      // "this" network
	"100.64.0.0/10",  // carrier-grade NAT
	"169.254.0.0/16", // link-local, cloud metadata
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Errorf("parse error on %q: %v", cidr, err))
		}
		out = append(out, block)
	}
	return out
}

// isPrivateIP reports addresses that page and image fetches must not reach.
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, block := range blockedNetworks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// safeDialContext wraps a dialer so that it refuses private and local
// addresses unless allowPrivate is set. The host is resolved once and the
// chosen address is dialed directly, so a second lookup cannot swap it.
func safeDialContext(dialer *net.Dialer, allowPrivate bool) func(context.Context, string, string) (net.Conn, error) {
	if os.Getenv(allowLocalEnv) == "1" {
		allowPrivate = true
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		var ips []net.IP
		if ip := net.ParseIP(host); ip != nil {
			ips = []net.IP{ip}
		} else {
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			for _, a := range addrs {
				ips = append(ips, a.IP)
			}
		}

		var target net.IP
		for _, ip := range ips {
			if allowPrivate || !isPrivateIP(ip) {
				target = ip
				break
			}
		}
		if target == nil {
			return nil, fmt.Errorf("blocked connection to private/local address for %s", host)
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(target.String(), port))
	}
}
