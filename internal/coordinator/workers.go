package coordinator

import (
	"net/url"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// HostOf reduces a worker id to the host key bundles are tracked by. URL
// ids map to their host:port; anything else is used as-is.
func HostOf(workerID string) string {
	if u, err := url.Parse(workerID); err == nil && u.Host != "" {
		return u.Host
	}
	return workerID
}

// registry is the known-worker list. Readers get an immutable snapshot;
// writers replace the slice.
type registry struct {
	mu      sync.RWMutex
	list    []string
	members mapset.Set[string]
}

func newRegistry() *registry {
	return &registry{members: mapset.NewThreadUnsafeSet[string]()}
}

func (r *registry) add(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.members.Add(id) {
		return false
	}
	next := make([]string, len(r.list), len(r.list)+1)
	copy(next, r.list)
	r.list = append(next, id)
	return true
}

func (r *registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.members.Contains(id) {
		return false
	}
	r.members.Remove(id)
	next := make([]string, 0, len(r.list))
	for _, w := range r.list {
		if w != id {
			next = append(next, w)
		}
	}
	r.list = next
	return true
}

func (r *registry) contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members.Contains(id)
}

func (r *registry) snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.list
}

// rotate moves the first worker to the end.
func (r *registry) rotate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) < 2 {
		return
	}
	next := make([]string, 0, len(r.list))
	next = append(next, r.list[1:]...)
	r.list = append(next, r.list[0])
}
