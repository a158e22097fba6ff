package classify

import (
	"fmt"
	"regexp"
	"strings"
)

//largePayloadThreshold is the payload size in bytes above which a capture is
//treated as a possible exploit delivery rather than a probe
const largePayloadThreshold = 1000

var (
	httpRequestPattern  = regexp.MustCompile(`(?i)HTTP/(0\.9|1\.0|1\.1|2|3)`)
	sshBannerPattern    = regexp.MustCompile(`\bssh\b`)
	suspiciousTokens    = regexp.MustCompile(`(admin|root|wget|curl|bash|eval|php|bin)`)
	httpProtocolPattern = regexp.MustCompile(`(?i)HTTP/[0-9.]+`)
	whitespaceRun       = regexp.MustCompile(`\s+`)
)

//headerPriority lists the request headers worth quoting in a comment, most
//interesting first
var headerPriority = []string{"user-agent", "accept", "accept-language", "accept-encoding"}

//Payload classifies a raw captured payload. The rules run in a fixed
//precedence order and the first match wins: empty payload, oversized payload,
//HTTP request, SSH banner, cookie header, suspicious shell tokens, fallback.
//The returned comment carries no sensor prefix; the caller adds it when the
//per-IP summary is flushed.
func Payload(data []byte, length int, port int, proto string) ([]string, string) {
	ascii := string(data)
	simplified := strings.ToLower(whitespaceRun.ReplaceAllString(ascii, " "))

	switch {
	case length == 0:
		return []string{CategoryPortScan},
			fmt.Sprintf("Empty payload on %d/%s (likely service probe)", port, proto)
	case length > largePayloadThreshold:
		return []string{CategoryHacking},
			fmt.Sprintf("Large payload (%d bytes) on %d/%s", length, port, proto)
	case httpRequestPattern.MatchString(simplified):
		return []string{CategoryWebAppAttack}, formatHTTPRequest(ascii, port)
	case sshBannerPattern.MatchString(simplified):
		return []string{CategoryBruteForce, CategorySSH},
			fmt.Sprintf("SSH handshake/banner on %d/%s (%d bytes of payload)", port, proto, length)
	case strings.Contains(simplified, "cookie:"):
		return []string{CategoryWebAppAttack, CategoryHacking},
			fmt.Sprintf("HTTP header with cookie on %d/%s", port, proto)
	case suspiciousTokens.MatchString(simplified):
		return []string{CategoryHacking},
			fmt.Sprintf("Suspicious payload on %d/%s (possible command injection)", port, proto)
	default:
		return []string{CategoryPortScan},
			fmt.Sprintf("Unauthorized traffic on %d/%s (%d bytes of payload)", port, proto, length)
	}
}

//formatHTTPRequest extracts the request line, a prioritized subset of
//headers, and any POST body from a captured HTTP request
func formatHTTPRequest(ascii string, port int) string {
	normalized := strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(ascii)
	lines := strings.Split(strings.TrimSpace(normalized), "\n")

	requestLineRaw := ""
	if len(lines) > 0 {
		requestLineRaw = strings.TrimSpace(lines[0])
		lines = lines[1:]
	}

	protocol := "HTTP"
	if match := httpProtocolPattern.FindString(requestLineRaw); match != "" {
		protocol = strings.ToUpper(match)
	}
	requestLine := strings.TrimSpace(httpProtocolPattern.ReplaceAllString(requestLineRaw, ""))

	headers := make(map[string]string)
	var body []string
	parsingBody := false

	for _, line := range lines {
		if parsingBody {
			body = append(body, line)
			continue
		}
		if strings.TrimSpace(line) == "" {
			parsingBody = true
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		if key == "host" {
			// the host header is the honeypot itself; never quote it
			continue
		}
		headers[key] = strings.TrimSpace(parts[1])
	}

	var formattedHeaders []string
	for _, header := range headerPriority {
		if value, ok := headers[header]; ok {
			formattedHeaders = append(formattedHeaders, capitalizeHeader(header)+": "+value)
		}
	}

	output := fmt.Sprintf("%s request on %d\n\n%s", protocol, port, requestLine)
	if len(formattedHeaders) > 0 {
		output += "\n" + strings.Join(formattedHeaders, "\n")
	}

	if strings.HasPrefix(requestLineRaw, "POST") {
		if bodyContent := strings.TrimSpace(strings.Join(body, "\n")); bodyContent != "" {
			output += "\nPOST Data: " + bodyContent
		}
	}

	return output
}

func capitalizeHeader(header string) string {
	words := strings.Split(header, "-")
	for i, word := range words {
		if len(word) > 0 {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	return strings.Join(words, "-")
}
