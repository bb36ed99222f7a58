// Package identity resolves caller identities from HTTP requests: the
// network address used for admission control and the wallet identity used
// for staking and voting.
package identity

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"verifychain/models"
)

// WalletHeader carries the caller's wallet address.
const WalletHeader = "X-Wallet-Address"

// Resolver extracts identities from requests.
type Resolver struct {
	trusted []netip.Prefix
}

// NewResolver builds a resolver that honours X-Forwarded-For only when the
// peer is one of trustedProxies. Entries are IP addresses or CIDR prefixes.
func NewResolver(trustedProxies []string) (*Resolver, error) {
	r := &Resolver{}
	for _, p := range trustedProxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.Contains(p, "/") {
			prefix, err := netip.ParsePrefix(p)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", p, err)
			}
			r.trusted = append(r.trusted, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(p)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", p, err)
		}
		addr = addr.Unmap()
		r.trusted = append(r.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return r, nil
}

func (r *Resolver) isTrusted(addr netip.Addr) bool {
	for _, p := range r.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// NetworkAddress returns the caller address. Behind a trusted proxy the
// X-Forwarded-For hops are walked from the right, skipping trusted proxies;
// the first untrusted hop is the client. Entries left of it are client
// supplied and never consulted.
func (r *Resolver) NetworkAddress(req *http.Request) models.Identity {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil {
		return models.Identity(host)
	}
	peer = peer.Unmap()
	if !r.isTrusted(peer) {
		return models.Identity(peer.String())
	}

	client := peer
	hops := forwardedHops(req.Header.Values("X-Forwarded-For"))
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(hops[i])
		if err != nil {
			break
		}
		client = hop.Unmap()
		if !r.isTrusted(client) {
			break
		}
	}
	return models.Identity(client.String())
}

// forwardedHops flattens repeated X-Forwarded-For headers into hop order.
func forwardedHops(values []string) []string {
	var hops []string
	for _, v := range values {
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hops = append(hops, h)
			}
		}
	}
	return hops
}

// Wallet returns the lower-cased wallet identity from the request header,
// or the zero identity when absent.
func (r *Resolver) Wallet(req *http.Request) models.Identity {
	return Normalize(req.Header.Get(WalletHeader))
}

// Normalize trims and lower-cases a wallet address.
func Normalize(addr string) models.Identity {
	return models.Identity(strings.ToLower(strings.TrimSpace(addr)))
}
