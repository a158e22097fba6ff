package util

import (
	"regexp"
	"strings"
	"sync"
)

//SanitizerPlaceholder replaces the operator's own addresses in captured text
const SanitizerPlaceholder = "[SOME-IP]"

type (
	//Sanitizer masks the operator's own IP addresses inside captured strings
	//so they are never leaked into report comments or log lines. The set of
	//addresses may change at runtime (dynamic IP assignments), so the
	//replacement pattern is rebuilt whenever the source set changes.
	Sanitizer struct {
		ownIPs func() []string

		mu      sync.Mutex
		lastKey string
		pattern *regexp.Regexp
	}
)

//NewSanitizer creates a Sanitizer backed by a live own-IP lookup
func NewSanitizer(ownIPs func() []string) *Sanitizer {
	return &Sanitizer{ownIPs: ownIPs}
}

//Apply replaces every occurrence of an operator IP in the given string
func (s *Sanitizer) Apply(text string) string {
	ips := s.ownIPs()
	if len(ips) == 0 {
		return text
	}

	key := strings.Join(ips, "|")

	s.mu.Lock()
	if key != s.lastKey {
		escaped := make([]string, 0, len(ips))
		for _, ip := range ips {
			escaped = append(escaped, regexp.QuoteMeta(ip))
		}
		s.pattern = regexp.MustCompile(strings.Join(escaped, "|"))
		s.lastKey = key
	}
	pattern := s.pattern
	s.mu.Unlock()

	return pattern.ReplaceAllString(text, SanitizerPlaceholder)
}
