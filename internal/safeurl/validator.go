// Package safeurl blocks URLs that could be used for server-side request
// forgery before any network call is made.
//
// The check is literal-only: a hostname that resolves to a private address at
// fetch time (DNS rebinding) is not caught. Hardening that would change
// observable behavior, so the limitation is documented rather than patched.
package safeurl

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// ErrUnsafeURL is returned for any URL rejected by the validator.
var ErrUnsafeURL = errors.New("unsafe url")

var defaultAllowedSchemes = map[string]struct{}{
	"http":  {},
	"https": {},
}

var blockedRanges = mustPrefixes(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

// Validator rejects URLs with disallowed schemes, missing hosts, localhost
// aliases, and IP literals inside private or link-local ranges.
type Validator struct {
	allowedSchemes map[string]struct{}
}

// NewValidator creates a validator. With no schemes given, only http and
// https are allowed.
func NewValidator(allowedSchemes ...string) *Validator {
	if len(allowedSchemes) == 0 {
		return &Validator{allowedSchemes: defaultAllowedSchemes}
	}
	m := make(map[string]struct{}, len(allowedSchemes))
	for _, s := range allowedSchemes {
		m[strings.ToLower(s)] = struct{}{}
	}
	return &Validator{allowedSchemes: m}
}

// Validate returns nil when rawURL is safe to fetch, or an error wrapping
// ErrUnsafeURL describing why it was rejected.
func (v *Validator) Validate(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return fmt.Errorf("%w: empty url", ErrUnsafeURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid format: %v", ErrUnsafeURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if _, ok := v.allowedSchemes[scheme]; !ok {
		return fmt.Errorf("%w: scheme %q is not allowed", ErrUnsafeURL, scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: url has no hostname", ErrUnsafeURL)
	}

	lower := strings.ToLower(host)
	if lower == "localhost" || lower == "localhost.localdomain" {
		return fmt.Errorf("%w: localhost is blocked", ErrUnsafeURL)
	}

	// Hostname() strips brackets from IPv6 literals already.
	if addr, err := netip.ParseAddr(host); err == nil {
		if blocked(addr) {
			return fmt.Errorf("%w: ip address %s is in a blocked range", ErrUnsafeURL, host)
		}
	}

	return nil
}

// IsSafe is the non-erroring convenience form of Validate.
func (v *Validator) IsSafe(rawURL string) bool {
	return v.Validate(rawURL) == nil
}

func blocked(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range blockedRanges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
