package webhook

import (
	"crypto/subtle"
	"net"
	"strings"
)

// Verifier authenticates inbound webhook requests before any payload
// parsing: source IP against the allow-list, then the secret header in
// constant time.
type Verifier struct {
	secret   string
	allowAll bool
	nets     []*net.IPNet
	ips      []net.IP
}

// NewVerifier creates a verifier. Allowed entries may be single IPs or CIDR
// ranges; an empty list admits any source.
func NewVerifier(secret string, allowed []string) *Verifier {
	v := &Verifier{
		secret:   secret,
		allowAll: len(allowed) == 0,
	}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, ipNet, err := net.ParseCIDR(entry); err == nil {
			v.nets = append(v.nets, ipNet)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			v.ips = append(v.ips, ip)
		}
	}
	return v
}

// AllowIP reports whether the source address passes the allow-list.
func (v *Verifier) AllowIP(remote string) bool {
	if v.allowAll {
		return true
	}
	ip := net.ParseIP(remote)
	if ip == nil {
		return false
	}
	for _, known := range v.ips {
		if known.Equal(ip) {
			return true
		}
	}
	for _, ipNet := range v.nets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// VerifySecret compares the presented secret header in constant time. When
// no secret is configured every request passes.
func (v *Verifier) VerifySecret(presented string) bool {
	if v.secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(v.secret), []byte(presented)) == 1
}
