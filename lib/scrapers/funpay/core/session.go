package core

import (
	"net/http"
	"strings"
	"sync"
)

const (
	goldenKeyCookie = "golden_key"
	sessionIdCookie = "PHPSESSID"
)

// Session owns the long-lived credential and the rotating session id.
// The session id is advisory: it may be empty and is refreshed
// opportunistically from every response's Set-Cookie headers.
// Last-write-wins is fine, each top-level action re-derives what it
// needs; the mutex only keeps the map access safe.
type Session struct {
	mu        sync.Mutex
	goldenKey string
	sessionId string
	extra     map[string]string
}

func NewSession(goldenKey, sessionId string) *Session {
	return &Session{
		goldenKey: goldenKey,
		sessionId: sessionId,
		extra:     map[string]string{},
	}
}

func (s *Session) HasAuth() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goldenKey != ""
}

func (s *Session) GoldenKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goldenKey
}

func (s *Session) SessionId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionId
}

// CookieHeader renders the value for the Cookie request header.
func (s *Session) CookieHeader() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out strings.Builder
	if s.goldenKey != "" {
		out.WriteString(goldenKeyCookie + "=" + s.goldenKey)
	}
	if s.sessionId != "" {
		if out.Len() > 0 {
			out.WriteString("; ")
		}
		out.WriteString(sessionIdCookie + "=" + s.sessionId)
	}
	for name, value := range s.extra {
		if out.Len() > 0 {
			out.WriteString("; ")
		}
		out.WriteString(name + "=" + value)
	}
	return out.String()
}

// Observe picks rotated cookies out of a response. The golden key is
// never overwritten from the wire.
func (s *Session) Observe(res *http.Response) {
	if res == nil {
		return
	}
	s.ObserveSetCookie(res.Header.Values("Set-Cookie"))
}

func (s *Session) ObserveSetCookie(headers []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, header := range headers {
		pair := strings.SplitN(header, ";", 2)[0]
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if name == "" || value == "" {
			continue
		}

		switch name {
		case sessionIdCookie:
			s.sessionId = value
		case goldenKeyCookie:
		default:
			s.extra[name] = value
		}
	}
}
