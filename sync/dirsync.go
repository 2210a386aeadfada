package sync

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	// DefaultBulkPageSize is used on a cold directory and for every page
	// after the first.
	DefaultBulkPageSize = 10_000
	// DefaultSmallPageSize is the first-page size once a watermark exists.
	DefaultSmallPageSize = 32
)

// Syncer pulls new files of one remote directory into the name index,
// using the directory's watermark to stop at the first already-seen entry.
type Syncer struct {
	fetcher Fetcher
	index   *NameIndex
	marks   *Watermarks

	BulkPageSize  int
	SmallPageSize int
}

// NewSyncer creates a Syncer with the default page sizes.
func NewSyncer(fetcher Fetcher, index *NameIndex, marks *Watermarks) *Syncer {
	return &Syncer{
		fetcher:       fetcher,
		index:         index,
		marks:         marks,
		BulkPageSize:  DefaultBulkPageSize,
		SmallPageSize: DefaultSmallPageSize,
	}
}

// Index returns the name index the syncer writes to.
func (s *Syncer) Index() *NameIndex { return s.index }

// Watermarks returns the watermark store the syncer maintains.
func (s *Syncer) Watermarks() *Watermarks { return s.marks }

// Sync indexes the entries of dirID that are newer than its watermark and
// returns how many were written. Listing anomalies (failure state, a
// different containing directory, an offset that moved) end the sync quietly;
// only fetch errors and cancellation are returned.
//
// When pagination stops early because the listing drifted, the watermark is
// still advanced to the first page's maximum. Entries that were skipped that
// way are picked up only if they resurface above the watermark later.
func (s *Syncer) Sync(ctx context.Context, dirID string) (int, error) {
	l := sub("dirsync")
	last := s.marks.Get(dirID)

	limit := s.SmallPageSize
	if last == 0 {
		limit = s.BulkPageSize
	}
	req := PageRequest{DirID: dirID, Offset: 0, Limit: limit}
	l.Debug("first page", "id", dirID, "last", last, "limit", limit)

	page, err := s.fetch(ctx, req)
	if err != nil {
		return 0, err
	}
	if !s.pageValid(dirID, page) || page.Total == 0 || len(page.Entries) == 0 {
		l.Debug("nothing to index", "id", dirID, "ok", page.OK, "dir", page.DirID, "total", page.Total)
		return 0, nil
	}

	currentMax := page.Entries[0].Marker
	if last >= currentMax {
		l.Debug("unchanged", "id", dirID, "last", last, "max", currentMax)
		return 0, nil
	}

	// Index writes that have started are allowed to finish even if the
	// item is cancelled right after.
	wctx := context.WithoutCancel(ctx)
	count := 0
	req.Limit = s.BulkPageSize
	for {
		for _, e := range page.Entries {
			if e.Marker <= last {
				s.marks.Advance(dirID, currentMax)
				l.Debug("boundary reached", "id", dirID, "count", count, "watermark", currentMax)
				return count, nil
			}
			if err := s.index.Set(wctx, e.Name, e.Pickcode); err != nil {
				return count, fmt.Errorf("sync %s: %w", dirID, err)
			}
			count++
		}

		req.Offset += len(page.Entries)
		if req.Offset >= page.Total {
			break
		}

		next, err := s.fetch(ctx, req)
		if err != nil {
			return count, err
		}
		if !s.pageValid(dirID, next) || next.Offset != req.Offset || len(next.Entries) == 0 {
			l.Warn("listing drifted, stopping early",
				"id", dirID, "offset", req.Offset, "echo", next.Offset, "ok", next.OK, "count", count)
			break
		}
		page = next
	}

	s.marks.Advance(dirID, currentMax)
	if logEnabled(slog.LevelDebug) {
		l.Debug("listing consumed", "id", dirID, "count", count, "watermark", currentMax)
	}
	return count, nil
}

// fetch requests one page and refuses to hand back anything once ctx is done,
// so a cancelled sync never writes after its fetch returns.
func (s *Syncer) fetch(ctx context.Context, req PageRequest) (*Page, error) {
	page, err := s.fetcher.FetchPage(ctx, req)
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s offset %d: %w", req.DirID, req.Offset, err)
	}
	if page == nil {
		return &Page{}, nil
	}
	return page, nil
}

// pageValid checks the success flag and, except for the root, that the
// remote listed the directory that was asked for. A renamed or deleted id
// can otherwise come back with unrelated data.
func (s *Syncer) pageValid(dirID string, p *Page) bool {
	if !p.OK {
		return false
	}
	return dirID == RootID || p.DirID == dirID
}
