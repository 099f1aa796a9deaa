package discovery

import (
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog/log"
)

// Listener is told about workers joining and leaving.
type Listener interface {
	AddWorker(workerID string) bool
	RemoveWorker(workerID string) int
}

// Watcher filters registration events by a glob pattern before passing
// them to a Listener. The pattern uses path.Match syntax; a lone "*"
// matches every key.
type Watcher struct {
	Pattern  string
	listener Listener
}

func NewWatcher(pattern string, l Listener) (*Watcher, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		pattern = "*"
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("worker pattern %q: %w", pattern, err)
	}
	return &Watcher{Pattern: pattern, listener: l}, nil
}

// Matches reports whether key passes the pattern.
func (w *Watcher) Matches(key string) bool {
	if w.Pattern == "*" {
		return key != ""
	}
	ok, _ := path.Match(w.Pattern, key)
	return ok
}

// Registered forwards a matching key to the listener as a new worker.
func (w *Watcher) Registered(key string) bool {
	key = strings.TrimSpace(key)
	if !w.Matches(key) {
		log.Debug().Str("key", key).Str("pattern", w.Pattern).Msg("registration ignored")
		return false
	}
	w.listener.AddWorker(key)
	return true
}

// Deregistered forwards a matching key to the listener as a lost worker.
func (w *Watcher) Deregistered(key string) bool {
	key = strings.TrimSpace(key)
	if !w.Matches(key) {
		log.Debug().Str("key", key).Str("pattern", w.Pattern).Msg("deregistration ignored")
		return false
	}
	w.listener.RemoveWorker(key)
	return true
}

// Seed registers a static worker list and returns how many matched.
func (w *Watcher) Seed(keys []string) int {
	n := 0
	for _, k := range keys {
		if w.Registered(k) {
			n++
		}
	}
	return n
}
