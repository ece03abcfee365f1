package safeurl

import (
	"errors"
	"testing"
)

func TestBlockedSchemes(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	for _, u := range []string{
		"file:///etc/passwd",
		"ftp://example.com/file",
		"data:text/html,<script>alert(1)</script>",
		"javascript:alert(1)",
		"gopher://example.com",
	} {
		if err := v.Validate(u); !errors.Is(err, ErrUnsafeURL) {
			t.Errorf("Validate(%q) = %v, want ErrUnsafeURL", u, err)
		}
	}
}

func TestAllowedPublicURLs(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	for _, u := range []string{
		"http://example.com/feed.xml",
		"https://blog.example.org/posts/1",
		"https://8.8.8.8/",
	} {
		if err := v.Validate(u); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", u, err)
		}
	}
}

func TestPrivateIPLiterals(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	for _, u := range []string{
		"http://10.0.0.1/",
		"http://10.255.255.255/",
		"http://127.0.0.1/",
		"http://172.16.0.1/",
		"http://172.31.255.255/",
		"http://192.168.1.1/",
		"http://169.254.169.254/latest/meta-data/",
		"http://[::1]/",
		"http://[fc00::1]/",
		"http://[fe80::1]/",
	} {
		if v.IsSafe(u) {
			t.Errorf("IsSafe(%q) = true, want false", u)
		}
	}
}

func TestLocalhostBlocked(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	if v.IsSafe("http://localhost:8080/") {
		t.Fatal("localhost should be blocked")
	}
	if v.IsSafe("http://LOCALHOST.localdomain/") {
		t.Fatal("localhost.localdomain should be blocked")
	}
}

func TestMissingHost(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	if v.IsSafe("http:///path-only") {
		t.Fatal("url without hostname should be rejected")
	}
	if v.IsSafe("") {
		t.Fatal("empty url should be rejected")
	}
}

func TestCustomSchemes(t *testing.T) {
	t.Parallel()

	v := NewValidator("https")
	if v.IsSafe("http://example.com/") {
		t.Fatal("http should be rejected when only https is allowed")
	}
	if !v.IsSafe("https://example.com/") {
		t.Fatal("https should be allowed")
	}
}
