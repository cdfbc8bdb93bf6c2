package binarycache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narci/internal/narinfo"
	"narci/internal/security"
)

const (
	bashID   = "xmxgxig6zxrixicc7905ssgb4yc3lysa-bash-interactive-4.4-p23"
	glibcID  = "4nlgxhb09sdr51nc9hdm8az5b08vzkgx-glibc-2.35-163"
	libffiID = "0d71ygfwbmy1xjlbj1v027dfmy9cqavy-libffi-3.3"
)

// fakeCache serves signed narinfos for a tiny closure: bash -> glibc, libffi -> glibc.
type fakeCache struct {
	mu       sync.Mutex
	docs     map[string]string
	requests map[string]int
	status   int32 // forced status when non-zero
}

func newFakeCache(t *testing.T, key *security.SecretKey) (*fakeCache, *httptest.Server) {
	t.Helper()
	fc := &fakeCache{docs: map[string]string{}, requests: map[string]int{}}

	add := func(id string, size uint64, refs ...string) {
		ni := &narinfo.NarInfo{
			StorePath:   "/nix/store/" + id,
			URL:         "nar/" + id[:32] + ".nar.xz",
			Compression: "xz",
			FileSize:    size / 2,
			NarHash:     "sha256:1b4sb93wp679q4zx9k1ignby1yna3z7c4c2ri3wphylbc2dwsys0",
			NarSize:     size,
		}
		for _, r := range refs {
			ni.References = append(ni.References, narinfo.NarInfoID(r))
		}
		if key != nil {
			ni.Sign(*key)
		}
		fc.docs[id[:32]+".narinfo"] = ni.String()
	}
	add(bashID, 1000, libffiID, glibcID, bashID)
	add(libffiID, 100, glibcID)
	add(glibcID, 10000, glibcID)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		fc.mu.Lock()
		fc.requests[name]++
		doc, ok := fc.docs[name]
		fc.mu.Unlock()

		if s := atomic.LoadInt32(&fc.status); s != 0 {
			w.WriteHeader(int(s))
			return
		}
		if name == "nix-cache-info" {
			fmt.Fprint(w, "StoreDir: /nix/store\nWantMassQuery: 1\nPriority: 30\n")
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/x-nix-narinfo")
		fmt.Fprint(w, doc)
	}))
	t.Cleanup(srv.Close)
	return fc, srv
}

func (fc *fakeCache) count(name string) int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.requests[name]
}

func TestCacheInfo(t *testing.T) {
	_, srv := newFakeCache(t, nil)
	c := NewClient(srv.URL, WithLogger(zerolog.Nop()))

	ci, err := c.CacheInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30, ci.Priority)
	assert.True(t, ci.WantMassQuery)
}

func TestNarInfoFetchAndCache(t *testing.T) {
	fc, srv := newFakeCache(t, nil)
	mem := NewMemoryCache(0)
	c := NewClient(srv.URL+"/", WithLogger(zerolog.Nop()), WithCache(mem, time.Hour, time.Minute))

	ni, err := c.NarInfo(context.Background(), "/nix/store/"+bashID)
	require.NoError(t, err)
	assert.Equal(t, "/nix/store/"+bashID, ni.StorePath)
	assert.Len(t, ni.References, 3)

	_, err = c.NarInfo(context.Background(), bashID[:32])
	require.NoError(t, err)
	assert.Equal(t, 1, fc.count(bashID[:32]+".narinfo"), "second lookup must come from the cache")
	assert.Equal(t, int64(1), mem.Stats().Hits)
}

func TestNarInfoNotFoundIsCachedNegatively(t *testing.T) {
	fc, srv := newFakeCache(t, nil)
	c := NewClient(srv.URL, WithLogger(zerolog.Nop()), WithCache(NewMemoryCache(0), time.Hour, time.Minute))

	missing := strings.Repeat("0", 31) + "a"
	for i := 0; i < 2; i++ {
		_, err := c.NarInfo(context.Background(), missing)
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, 1, fc.count(missing+".narinfo"))
}

func TestNarInfoUpstreamError(t *testing.T) {
	fc, srv := newFakeCache(t, nil)
	atomic.StoreInt32(&fc.status, http.StatusBadGateway)
	c := NewClient(srv.URL, WithLogger(zerolog.Nop()))

	_, err := c.NarInfo(context.Background(), bashID)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
}

func TestNarInfoInvalidInput(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", WithLogger(zerolog.Nop()))
	_, err := c.NarInfo(context.Background(), "not-a-store-path")
	assert.ErrorIs(t, err, narinfo.ErrInvalidStorePath)
}

func TestNarInfoTrustedKeys(t *testing.T) {
	sk, pk, err := security.GenerateKeyPair("test-cache-1")
	require.NoError(t, err)
	_, stranger, err := security.GenerateKeyPair("stranger-1")
	require.NoError(t, err)

	_, srv := newFakeCache(t, &sk)

	trusted := NewClient(srv.URL, WithLogger(zerolog.Nop()), WithTrustedKeys(pk))
	_, err = trusted.NarInfo(context.Background(), bashID)
	require.NoError(t, err)

	untrusted := NewClient(srv.URL, WithLogger(zerolog.Nop()), WithTrustedKeys(stranger))
	_, err = untrusted.NarInfo(context.Background(), bashID)
	assert.ErrorIs(t, err, ErrUntrusted)
}

func TestClosure(t *testing.T) {
	fc, srv := newFakeCache(t, nil)
	c := NewClient(srv.URL, WithLogger(zerolog.Nop()), WithCache(NewMemoryCache(0), time.Hour, time.Minute))

	cl, err := c.Closure(context.Background(), "/nix/store/"+bashID)
	require.NoError(t, err)

	assert.Equal(t, narinfo.NarInfoID(bashID), cl.Root)
	assert.Len(t, cl.Paths, 3)
	assert.Equal(t, uint64(11100), cl.NarSize())
	assert.Equal(t, uint64(5550), cl.FileSize())

	sorted := cl.Sorted()
	assert.Equal(t, "/nix/store/"+libffiID, sorted[0].StorePath)

	// glibc is referenced twice and by itself but fetched once
	assert.Equal(t, 1, fc.count(glibcID[:32]+".narinfo"))
}

func TestClosureMissingReference(t *testing.T) {
	fc, srv := newFakeCache(t, nil)
	fc.mu.Lock()
	delete(fc.docs, glibcID[:32]+".narinfo")
	fc.mu.Unlock()

	c := NewClient(srv.URL, WithLogger(zerolog.Nop()))
	_, err := c.Closure(context.Background(), bashID)
	assert.ErrorIs(t, err, ErrNotFound)
}
