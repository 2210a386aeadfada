package sync

import (
	"context"
	"math"
	"time"
)

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// RootID is the directory id of the remote root.
const RootID = "0"

// Forever is the batch interval that never elapses on its own.
const Forever time.Duration = math.MaxInt64

// Marker is a remote entry's modification marker (the "te" timestamp).
// Zero means no marker has been recorded yet.
type Marker int64

// RemoteEntry is one file from a remote directory listing.
type RemoteEntry struct {
	Name     string `json:"name"`
	Pickcode string `json:"pickcode"`
	Marker   Marker `json:"marker"`
}

// PageRequest asks for one page of a directory listing. Listings are always
// files only, ordered by marker descending.
type PageRequest struct {
	DirID  string
	Offset int
	Limit  int
}

// Page is one page of a directory listing as reported by the remote.
type Page struct {
	OK      bool          // remote reported success
	DirID   string        // id of the directory the remote says it listed
	Total   int           // total entries in the listing
	Offset  int           // offset echoed back by the remote
	Entries []RemoteEntry // marker descending
}

// Fetcher fetches listing pages from the remote. Errors are transport
// failures; protocol-level anomalies are reported through Page fields.
type Fetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
}

// Resolver turns a pickcode into a short-lived direct download link.
type Resolver interface {
	ResolveLink(ctx context.Context, pickcode, userAgent string) (string, error)
}
