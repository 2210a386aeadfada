package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSync_ColdDirectoryUsesBulkPage(t *testing.T) {
	f := newFakeRemote()
	f.set("0", entries(300, 200, 100))
	s := newTestSyncer(f)
	ctx := context.Background()

	n, err := s.Sync(ctx, "0")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	reqs := f.requestsFor("0")
	require.Len(t, reqs, 1)
	assert.Equal(t, PageRequest{DirID: "0", Offset: 0, Limit: DefaultBulkPageSize}, reqs[0])
	assert.Equal(t, Marker(300), s.Watermarks().Get("0"))

	for _, m := range []string{"f300", "f200", "f100"} {
		ok, err := s.Index().Has(ctx, m)
		require.NoError(t, err)
		assert.True(t, ok, m)
	}
}

func TestSync_WarmDirectoryUsesSmallPage(t *testing.T) {
	f := newFakeRemote()
	f.set("0", entries(300, 200, 100))
	s := newTestSyncer(f)

	_, err := s.Sync(context.Background(), "0")
	require.NoError(t, err)

	n, err := s.Sync(context.Background(), "0")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	reqs := f.requestsFor("0")
	require.Len(t, reqs, 2)
	assert.Equal(t, DefaultSmallPageSize, reqs[1].Limit)
}

func TestSync_StopsAtWatermark(t *testing.T) {
	f := newFakeRemote()
	f.set("d", entries(50, 40, 30, 20, 10))
	s := newTestSyncer(f)
	s.Watermarks().Advance("d", 30)
	ctx := context.Background()

	n, err := s.Sync(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, Marker(50), s.Watermarks().Get("d"))

	size, err := s.Index().Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)
	ok, _ := s.Index().Has(ctx, "f30")
	assert.False(t, ok, "entry at the watermark must not be rewritten")
}

func TestSync_IdempotentWithoutRemoteChange(t *testing.T) {
	f := newFakeRemote()
	f.set("d", entries(5, 4, 3))
	s := newTestSyncer(f)
	ctx := context.Background()

	first, err := s.Sync(ctx, "d")
	require.NoError(t, err)
	second, err := s.Sync(ctx, "d")
	require.NoError(t, err)

	assert.Equal(t, 3, first)
	assert.Equal(t, 0, second)
	assert.Equal(t, Marker(5), s.Watermarks().Get("d"))
}

func TestSync_PicksUpOnlyNewEntries(t *testing.T) {
	f := newFakeRemote()
	f.set("d", entries(5, 4, 3))
	s := newTestSyncer(f)
	ctx := context.Background()

	_, err := s.Sync(ctx, "d")
	require.NoError(t, err)

	f.set("d", entries(9, 7, 5, 4, 3))
	n, err := s.Sync(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, Marker(9), s.Watermarks().Get("d"))
}

func TestSync_LaterPagesUseBulkSize(t *testing.T) {
	f := newFakeRemote()
	f.set("d", entries(10, 9, 8, 7, 6, 5, 4))
	s := newTestSyncer(f)
	s.SmallPageSize = 2
	s.BulkPageSize = 3
	s.Watermarks().Advance("d", 1)

	n, err := s.Sync(context.Background(), "d")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	reqs := f.requestsFor("d")
	require.Len(t, reqs, 3)
	assert.Equal(t, PageRequest{DirID: "d", Offset: 0, Limit: 2}, reqs[0])
	assert.Equal(t, PageRequest{DirID: "d", Offset: 2, Limit: 3}, reqs[1])
	assert.Equal(t, PageRequest{DirID: "d", Offset: 5, Limit: 3}, reqs[2])
	assert.Equal(t, Marker(10), s.Watermarks().Get("d"))
}

func TestSync_Anomalies(t *testing.T) {
	tests := []struct {
		name   string
		dirID  string
		tamper func(PageRequest, *Page)
	}{
		{"failure state", "d", func(_ PageRequest, p *Page) { p.OK = false }},
		{"other directory", "d", func(_ PageRequest, p *Page) { p.DirID = "e" }},
		{"empty listing", "d", func(_ PageRequest, p *Page) { p.Total = 0; p.Entries = nil }},
		{"entries missing", "d", func(_ PageRequest, p *Page) { p.Entries = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeRemote()
			f.set(tt.dirID, entries(3, 2, 1))
			f.tamper = tt.tamper
			s := newTestSyncer(f)

			n, err := s.Sync(context.Background(), tt.dirID)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
			assert.Equal(t, Marker(0), s.Watermarks().Get(tt.dirID))
		})
	}
}

func TestSync_RootAcceptsAnyReportedDirectory(t *testing.T) {
	f := newFakeRemote()
	f.set(RootID, entries(3, 2, 1))
	f.tamper = func(_ PageRequest, p *Page) { p.DirID = "something-else" }
	s := newTestSyncer(f)

	n, err := s.Sync(context.Background(), RootID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSync_DriftStopsEarlyButAdvances(t *testing.T) {
	f := newFakeRemote()
	f.set("d", entries(6, 5, 4, 3, 2, 1))
	f.tamper = func(req PageRequest, p *Page) {
		if req.Offset > 0 {
			p.Offset = req.Offset + 1
		}
	}
	s := newTestSyncer(f)
	s.BulkPageSize = 2

	n, err := s.Sync(context.Background(), "d")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, Marker(6), s.Watermarks().Get("d"))
	assert.Len(t, f.requestsFor("d"), 2)
}

func TestSync_EmptyLaterPageStops(t *testing.T) {
	f := newFakeRemote()
	f.set("d", entries(6, 5, 4, 3))
	f.tamper = func(req PageRequest, p *Page) {
		if req.Offset > 0 {
			p.Entries = nil
		}
	}
	s := newTestSyncer(f)
	s.BulkPageSize = 2

	n, err := s.Sync(context.Background(), "d")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, f.requestsFor("d"), 2)
}

func TestSync_FetchErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	f := newFakeRemote()
	f.fail("d", boom)
	s := newTestSyncer(f)

	n, err := s.Sync(context.Background(), "d")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, n)
	assert.Equal(t, Marker(0), s.Watermarks().Get("d"))
}

func TestSync_CancelledBeforeFetchReturns(t *testing.T) {
	f := newFakeRemote()
	f.set("d", entries(3, 2, 1))
	release := f.block("d")
	defer release()
	s := newTestSyncer(f)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Sync(ctx, "d")
		done <- err
	}()
	f.awaitStart(t, "d")
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	size, _ := s.Index().Len(context.Background())
	assert.Equal(t, 0, size)
	assert.Equal(t, Marker(0), s.Watermarks().Get("d"))
}

func TestWatermarks_Monotonic(t *testing.T) {
	w := NewWatermarks()
	assert.Equal(t, Marker(0), w.Get("d"))
	assert.True(t, w.Advance("d", 50))
	assert.False(t, w.Advance("d", 40))
	assert.False(t, w.Advance("d", 50))
	assert.Equal(t, Marker(50), w.Get("d"))
	assert.True(t, w.Advance("d", 60))
	assert.Equal(t, map[string]Marker{"d": 60}, w.Snapshot())
}
