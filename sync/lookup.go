package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/marusama/semaphore/v2"
	"github.com/tomasen/realip"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultLinkTTL      = 10 * time.Minute
	DefaultResolveLimit = 8

	resolveTimeout = 30 * time.Second
)

type linkKey struct {
	pickcode  string
	userAgent string
}

func (k linkKey) String() string { return k.pickcode + "\x00" + k.userAgent }

// Lookup redirects a file name or pickcode to a direct link. Links are bound
// to the requesting user agent by the remote, so they are cached per
// (pickcode, user agent). Concurrent misses for the same key share one
// resolution.
type Lookup struct {
	index    *NameIndex
	resolver Resolver
	links    *ttlcache.Cache[linkKey, string]
	sem      semaphore.Semaphore
	inflight singleflight.Group
}

// NewLookup creates a Lookup. Non-positive ttl or limit fall back to the
// defaults. Call Close to stop the cache janitor.
func NewLookup(index *NameIndex, resolver Resolver, ttl time.Duration, limit int) *Lookup {
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	if limit <= 0 {
		limit = DefaultResolveLimit
	}
	links := ttlcache.New[linkKey, string](
		ttlcache.WithTTL[linkKey, string](ttl),
		ttlcache.WithDisableTouchOnHit[linkKey, string](),
	)
	go links.Start()
	return &Lookup{
		index:    index,
		resolver: resolver,
		links:    links,
		sem:      semaphore.New(limit),
	}
}

// Close stops the link cache.
func (lk *Lookup) Close() {
	lk.links.Stop()
}

// Link resolves pickcode for userAgent, from cache when possible. A shared
// resolution is not tied to any one caller: a caller whose ctx ends gets
// ctx.Err() while the others still receive the link.
func (lk *Lookup) Link(ctx context.Context, pickcode, userAgent string) (string, error) {
	key := linkKey{pickcode: pickcode, userAgent: userAgent}
	if item := lk.links.Get(key); item != nil {
		return item.Value(), nil
	}

	ch := lk.inflight.DoChan(key.String(), func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()

		if err := lk.sem.Acquire(rctx, 1); err != nil {
			return "", err
		}
		defer lk.sem.Release(1)

		url, err := lk.resolver.ResolveLink(rctx, pickcode, userAgent)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", pickcode, err)
		}
		lk.links.Set(key, url, ttlcache.DefaultTTL)
		return url, nil
	})

	select {
	case res := <-ch:
		if res.Shared && logEnabled(slog.LevelDebug) {
			sub("lookup").Debug("shared resolution", "pickcode", pickcode)
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ServeHTTP handles GET|HEAD /{name} and /?pickcode=. An explicit pickcode
// wins over the path.
func (lk *Lookup) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l := sub("lookup")
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pickcode := r.URL.Query().Get("pickcode")
	name := strings.TrimPrefix(r.URL.Path, "/")
	if pickcode == "" {
		if name == "" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		pc, err := lk.index.Get(r.Context(), name)
		if errors.Is(err, ErrNotFound) {
			l.Debug("name not indexed", "name", name, "client", realip.FromRequest(r))
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err != nil {
			l.Error("index lookup failed", "name", name, "err", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		pickcode = pc
	}

	url, err := lk.Link(r.Context(), pickcode, r.UserAgent())
	if err != nil {
		l.Warn("link resolution failed", "pickcode", pickcode, "client", realip.FromRequest(r), "err", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck
			"pickcode": pickcode,
			"error":    err.Error(),
		})
		return
	}

	l.Info("redirect", "name", name, "pickcode", pickcode, "client", realip.FromRequest(r))
	http.Redirect(w, r, url, http.StatusFound)
}
