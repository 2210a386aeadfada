package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRemote serves scripted listings. Entries per directory are kept in
// marker-descending order, as the real remote returns them.
type fakeRemote struct {
	mu       gosync.Mutex
	dirs     map[string][]RemoteEntry
	errs     map[string]error
	blocked  map[string]chan struct{}
	requests []PageRequest
	started  chan string
	tamper   func(req PageRequest, p *Page)
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		dirs:    make(map[string][]RemoteEntry),
		errs:    make(map[string]error),
		blocked: make(map[string]chan struct{}),
		started: make(chan string, 64),
	}
}

// entries builds a listing with one file per marker, names "f<marker>".
func entries(markers ...int) []RemoteEntry {
	out := make([]RemoteEntry, len(markers))
	for i, m := range markers {
		out[i] = RemoteEntry{
			Name:     fmt.Sprintf("f%d", m),
			Pickcode: fmt.Sprintf("pc%d", m),
			Marker:   Marker(m),
		}
	}
	return out
}

func (f *fakeRemote) set(dirID string, list []RemoteEntry) {
	f.mu.Lock()
	f.dirs[dirID] = list
	f.mu.Unlock()
}

func (f *fakeRemote) fail(dirID string, err error) {
	f.mu.Lock()
	f.errs[dirID] = err
	f.mu.Unlock()
}

// block makes fetches of dirID hang until the returned func is called or
// the fetch context is cancelled.
func (f *fakeRemote) block(dirID string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.blocked[dirID] = ch
	f.mu.Unlock()
	var once gosync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.blocked, dirID)
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *fakeRemote) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	list := f.dirs[req.DirID]
	err := f.errs[req.DirID]
	wait := f.blocked[req.DirID]
	tamper := f.tamper
	f.mu.Unlock()

	select {
	case f.started <- req.DirID:
	default:
	}
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	p := &Page{OK: true, DirID: req.DirID, Total: len(list), Offset: req.Offset}
	if req.Offset < len(list) {
		end := min(len(list), req.Offset+req.Limit)
		p.Entries = append([]RemoteEntry(nil), list[req.Offset:end]...)
	}
	if tamper != nil {
		tamper(req, p)
	}
	return p, nil
}

func (f *fakeRemote) requestsFor(dirID string) []PageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PageRequest
	for _, r := range f.requests {
		if r.DirID == dirID {
			out = append(out, r)
		}
	}
	return out
}

// firstPages counts syncs of dirID: every sync starts at offset 0.
func (f *fakeRemote) firstPages(dirID string) int {
	n := 0
	for _, r := range f.requestsFor(dirID) {
		if r.Offset == 0 {
			n++
		}
	}
	return n
}

// awaitStart waits until a fetch of dirID has begun.
func (f *fakeRemote) awaitStart(t *testing.T, dirID string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case id := <-f.started:
			if id == dirID {
				return
			}
		case <-deadline:
			t.Fatalf("fetch of %s never started", dirID)
		}
	}
}

func newTestSyncer(f Fetcher) *Syncer {
	return NewSyncer(f, NewNameIndex(nil), NewWatermarks())
}

func requireState(t *testing.T, status func() Status, want SlotState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return status().State == want.String()
	}, 2*time.Second, 5*time.Millisecond, "state never became %s", want)
}
