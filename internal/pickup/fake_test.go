package pickup

import (
	"context"
	"errors"
	"sync"

	"feeder/internal/bundle"
)

type completion struct {
	space, worker, bundleID string
	ok                      bool
}

// fakeClient serves queued bundles per space and records completions.
type fakeClient struct {
	mu           sync.Mutex
	work         map[string][]*bundle.Bundle
	takeErr      map[string]error
	completeFail int
	takes        map[string]int
	completions  []completion
}

func newFakeClient() *fakeClient {
	return &fakeClient{work: map[string][]*bundle.Bundle{}, takeErr: map[string]error{}, takes: map[string]int{}}
}

func (f *fakeClient) add(space string, bs ...*bundle.Bundle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.work[space] = append(f.work[space], bs...)
}

func (f *fakeClient) Take(_ context.Context, space, _ string) (*bundle.Bundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.takes[space]++
	if err := f.takeErr[space]; err != nil {
		return nil, err
	}
	q := f.work[space]
	if len(q) == 0 {
		return bundle.New(), nil
	}
	f.work[space] = q[1:]
	return q[0], nil
}

func (f *fakeClient) Complete(_ context.Context, space, worker, bundleID string, ok bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeFail > 0 {
		f.completeFail--
		return errors.New("coordinator unavailable")
	}
	f.completions = append(f.completions, completion{space: space, worker: worker, bundleID: bundleID, ok: ok})
	return nil
}

func (f *fakeClient) done() []completion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]completion(nil), f.completions...)
}
