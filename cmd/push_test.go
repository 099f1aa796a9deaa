package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feeder/internal/bundle"
	"feeder/internal/transport"
)

func setPushFlags(t *testing.T, xmlFiles []string, freshID bool) {
	t.Helper()
	saved := pushFlags
	t.Cleanup(func() { pushFlags = saved })
	pushFlags.xmlFiles = xmlFiles
	pushFlags.freshID = freshID
	pushFlags.outputRoot = "/out"
	pushFlags.eatPrefix = "/in"
	pushFlags.priority = 3
}

func writeBundleXML(t *testing.T, b *bundle.Bundle) string {
	t.Helper()
	data, err := b.ToXML()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), b.ID+".xml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestPushBundlesFromXMLAndFiles(t *testing.T) {
	saved := bundle.NewWithRoots("/out", "/in")
	_, _ = saved.AddFileName("/in/a.txt")
	setPushFlags(t, []string{writeBundleXML(t, saved)}, false)

	got, err := pushBundles([]string{"/in/b.txt", "/in/c.txt"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, saved.Equal(got[0]), "saved bundles are sent as written")
	assert.Equal(t, []string{"/in/b.txt", "/in/c.txt"}, got[1].FileNames())
	assert.Equal(t, 3, got[1].Priority)
	assert.Equal(t, "/out", bundle.Deref(got[1].OutputRoot))
}

func TestPushBundlesFreshID(t *testing.T) {
	saved := bundle.New()
	_, _ = saved.AddFileName("/in/a.txt")
	setPushFlags(t, []string{writeBundleXML(t, saved)}, true)

	got, err := pushBundles(nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEqual(t, saved.ID, got[0].ID)
	assert.Equal(t, saved.FileNames(), got[0].FileNames())
}

func TestPushBundlesNeedsInput(t *testing.T) {
	setPushFlags(t, nil, false)
	_, err := pushBundles(nil)
	require.ErrorIs(t, err, errNothingToPush)

	setPushFlags(t, []string{filepath.Join(t.TempDir(), "missing.xml")}, false)
	_, err = pushBundles(nil)
	require.Error(t, err)
}

func TestSendBundlesPostsToWorker(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
		spaces   []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := bundle.Decode(r.Body)
		if err != nil || r.URL.Path != "/api/v1/bundles" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, b.ID)
		spaces = append(spaces, r.URL.Query().Get("space"))
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	first, second := bundle.New(), bundle.New()
	_, _ = first.AddFileName("/in/a.txt")
	_, _ = second.AddFileName("/in/b.txt")

	client := transport.NewClient(0)
	require.NoError(t, sendBundles(context.Background(), client, srv.URL, "http://space:8080", []*bundle.Bundle{first, second}))
	assert.Equal(t, []string{first.ID, second.ID}, received)
	assert.Equal(t, []string{"http://space:8080", "http://space:8080"}, spaces)
}

func TestSendBundlesStopsWhenWorkerIsBusy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := bundle.New()
	_, _ = b.AddFileName("/in/a.txt")
	err := sendBundles(context.Background(), transport.NewClient(0), srv.URL, "", []*bundle.Bundle{b})
	assert.ErrorIs(t, err, transport.ErrWorkerBusy)
}
