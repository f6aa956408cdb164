package identity

import (
	"encoding/base64"
	"net/http"
	"sync"
	"time"
)

// Store abstracts the client-local key-value storage the identity manager
// writes through. A zero expiry means session-scoped: the value lives until
// the browser session ends.
type Store interface {
	Get(name string) (string, bool)
	Set(name, value string, expires time.Time)
}

// CookieStore adapts an HTTP request/response pair to the Store interface.
// Writes become host-only SameSite=Lax cookies; reads see values written
// earlier in the same request before falling back to the request cookies.
// Values are base64url-encoded so structured payloads survive cookie
// value restrictions.
type CookieStore struct {
	request *http.Request
	writer  http.ResponseWriter
	pending map[string]string
}

// NewCookieStore constructs a CookieStore for one request cycle.
func NewCookieStore(w http.ResponseWriter, r *http.Request) *CookieStore {
	return &CookieStore{
		request: r,
		writer:  w,
		pending: make(map[string]string),
	}
}

func (s *CookieStore) Get(name string) (string, bool) {
	if value, ok := s.pending[name]; ok {
		return value, true
	}
	if s.request == nil {
		return "", false
	}
	cookie, err := s.request.Cookie(name)
	if err != nil || cookie == nil || cookie.Value == "" {
		return "", false
	}
	decoded, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

func (s *CookieStore) Set(name, value string, expires time.Time) {
	s.pending[name] = value
	if s.writer == nil {
		return
	}
	cookie := &http.Cookie{
		Name:     name,
		Value:    base64.RawURLEncoding.EncodeToString([]byte(value)),
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	}
	if !expires.IsZero() {
		cookie.Expires = expires.UTC()
	}
	http.SetCookie(s.writer, cookie)
}

// MemoryStore is an in-process Store used by tests and non-HTTP callers.
type MemoryStore struct {
	mu     sync.Mutex
	clock  func() time.Time
	values map[string]memoryEntry
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// NewMemoryStore constructs a MemoryStore using the provided clock.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		clock:  clock,
		values: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.values[name]
	if !ok {
		return "", false
	}
	if !entry.expires.IsZero() && s.clock().After(entry.expires) {
		delete(s.values, name)
		return "", false
	}
	return entry.value, true
}

func (s *MemoryStore) Set(name, value string, expires time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = memoryEntry{value: value, expires: expires}
}
