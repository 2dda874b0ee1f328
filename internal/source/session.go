package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// FileSession is an AuthSession backed by a cookie file exported by the
// external browser login flow. Renew re-reads the file, so a fresh
// login can be picked up without restarting the process.
type FileSession struct {
	path string

	mu      sync.RWMutex
	cookies []*http.Cookie
}

// fileCookie is the on-disk cookie shape.
type fileCookie struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Domain  string `json:"domain"`
	Path    string `json:"path"`
	Expires int64  `json:"expires"` // unix seconds, 0 for session cookies
}

// NewFileSession loads the cookie file at path.
func NewFileSession(path string) (*FileSession, error) {
	s := &FileSession{path: path}
	if err := s.Renew(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

var _ AuthSession = (*FileSession)(nil)

// IsValid reports whether the session holds at least one unexpired cookie.
func (s *FileSession) IsValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.cookies) == 0 {
		return false
	}
	now := time.Now()
	for _, c := range s.cookies {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			return false
		}
	}
	return true
}

// Renew re-reads the cookie file.
func (s *FileSession) Renew(_ context.Context) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read session file: %w", err)
	}

	var raw []fileCookie
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse session file %s: %w", s.path, err)
	}

	cookies := make([]*http.Cookie, 0, len(raw))
	for _, fc := range raw {
		c := &http.Cookie{
			Name:   fc.Name,
			Value:  fc.Value,
			Domain: fc.Domain,
			Path:   fc.Path,
		}
		if fc.Expires > 0 {
			c.Expires = time.Unix(fc.Expires, 0)
		}
		cookies = append(cookies, c)
	}

	s.mu.Lock()
	s.cookies = cookies
	s.mu.Unlock()
	return nil
}

// Cookies returns a copy of the session's cookies.
func (s *FileSession) Cookies() []*http.Cookie {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*http.Cookie, len(s.cookies))
	copy(out, s.cookies)
	return out
}
