package transcribe

import (
	"errors"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
)

// Scope collects every temporary path a request may create so they can all
// be removed when the request ends. Paths are tracked before they are
// created; removing a path that never appeared is not an error.
type Scope struct {
	paths []string
	seen  map[string]struct{}
	log   zerolog.Logger
}

// NewScope returns an empty scope. A Scope belongs to one request and is
// not safe for concurrent use.
func NewScope(log zerolog.Logger) *Scope {
	return &Scope{seen: make(map[string]struct{}), log: log}
}

// Track registers paths for removal on Release.
func (s *Scope) Track(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, ok := s.seen[p]; ok {
			continue
		}
		s.seen[p] = struct{}{}
		s.paths = append(s.paths, p)
	}
}

// Paths returns the tracked paths in registration order.
func (s *Scope) Paths() []string {
	return append([]string(nil), s.paths...)
}

// Release removes all tracked paths. Failures are logged and swallowed.
func (s *Scope) Release() {
	for _, p := range s.paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn().Err(err).Str("path", p).Msg("failed to remove temp file")
		}
	}
	s.paths = nil
}
