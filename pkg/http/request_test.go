package http

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractClientIPDirect(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:54321"

	ip := ExtractClientIP(r, &IPConfig{})
	assert.Equal(t, "203.0.113.7", ip)
}

func TestExtractClientIPIgnoresHeadersFromUntrustedPeer(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:54321"
	r.Header.Set("X-Forwarded-For", "198.51.100.9")
	r.Header.Set("X-Real-IP", "198.51.100.10")

	ip := ExtractClientIP(r, &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}})
	assert.Equal(t, "203.0.113.7", ip)
}

func TestExtractClientIPHonorsTrustedProxy(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:8080"
	r.Header.Set("X-Forwarded-For", "198.51.100.9, 10.1.2.3")

	ip := ExtractClientIP(r, &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}})
	assert.Equal(t, "198.51.100.9", ip)
}

func TestExtractClientIPTrustsBareIPEntries(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.50:1234"
	r.Header.Set("X-Real-IP", "198.51.100.9")

	ip := ExtractClientIP(r, &IPConfig{TrustedProxies: []string{"192.0.2.50"}})
	assert.Equal(t, "198.51.100.9", ip)
}

func TestExtractClientIPSkipsInvalidForwardedEntries(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:8080"
	r.Header.Set("X-Forwarded-For", "not-an-ip, 198.51.100.9")

	ip := ExtractClientIP(r, &IPConfig{TrustedProxies: []string{"10.0.0.0/8"}})
	assert.Equal(t, "198.51.100.9", ip)
}

func TestExtractClientIPNilConfig(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:8080"
	r.Header.Set("X-Forwarded-For", "198.51.100.9")

	// Without a config no proxy is trusted
	ip := ExtractClientIP(r, nil)
	assert.Equal(t, "10.1.2.3", ip)
}

func TestClientFingerprintStable(t *testing.T) {
	r1 := httptest.NewRequest("GET", "/", nil)
	r1.RemoteAddr = "203.0.113.7:1000"
	r1.Header.Set("User-Agent", "carelock-client/1.0")

	r2 := httptest.NewRequest("GET", "/other", nil)
	r2.RemoteAddr = "203.0.113.7:2000" // port must not matter
	r2.Header.Set("User-Agent", "carelock-client/1.0")

	fp1 := ClientFingerprint(r1, nil)
	fp2 := ClientFingerprint(r2, nil)
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 32) // hex of 16 bytes
}

func TestClientFingerprintVariesByClient(t *testing.T) {
	r1 := httptest.NewRequest("GET", "/", nil)
	r1.RemoteAddr = "203.0.113.7:1000"
	r1.Header.Set("User-Agent", "carelock-client/1.0")

	byIP := httptest.NewRequest("GET", "/", nil)
	byIP.RemoteAddr = "203.0.113.8:1000"
	byIP.Header.Set("User-Agent", "carelock-client/1.0")

	byUA := httptest.NewRequest("GET", "/", nil)
	byUA.RemoteAddr = "203.0.113.7:1000"
	byUA.Header.Set("User-Agent", "carelock-client/2.0")

	fp := ClientFingerprint(r1, nil)
	assert.NotEqual(t, fp, ClientFingerprint(byIP, nil))
	assert.NotEqual(t, fp, ClientFingerprint(byUA, nil))
}
