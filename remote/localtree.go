package remote

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	gosync "sync"

	"github.com/spf13/afero"
	"golang.org/x/crypto/blake2b"

	pickindex "github.com/ghyeongl/pickindex/sync"
)

// LocalTree serves listings of a directory tree. A directory id is its
// slash path from the tree root ("0" is the root itself), a file's marker is
// its modification time in nanoseconds and its pickcode a blake2b digest of
// its path. Links point below linkBase.
type LocalTree struct {
	fs       afero.Fs
	linkBase string

	mu    gosync.RWMutex
	paths map[string]string // pickcode → file path, filled by listings
}

// NewLocalTree serves fs. linkBase is prefixed to file paths to form links.
func NewLocalTree(fs afero.Fs, linkBase string) *LocalTree {
	return &LocalTree{
		fs:       fs,
		linkBase: strings.TrimRight(linkBase, "/"),
		paths:    make(map[string]string),
	}
}

// NewOsTree serves the directory root of the local filesystem; "~" is
// expanded.
func NewOsTree(root, linkBase string) (*LocalTree, error) {
	expanded, err := expandPath(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		return nil, fmt.Errorf("local tree root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local tree root %s is not a directory", expanded)
	}
	return NewLocalTree(afero.NewBasePathFs(afero.NewOsFs(), expanded), linkBase), nil
}

// Pickcode returns the pickcode of the file at p.
func Pickcode(p string) string {
	sum, _ := blake2b.New(16, nil)
	sum.Write([]byte(cleanPath(p))) //nolint:errcheck
	return hex.EncodeToString(sum.Sum(nil))
}

func cleanPath(p string) string {
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}

func dirPath(id string) string {
	if id == pickindex.RootID || id == "" {
		return "/"
	}
	return cleanPath(id)
}

// FetchPage lists the files directly inside req.DirID. A directory that does
// not exist is reported as a failed listing, not an error.
func (t *LocalTree) FetchPage(ctx context.Context, req pickindex.PageRequest) (*pickindex.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := dirPath(req.DirID)
	infos, err := afero.ReadDir(t.fs, dir)
	if os.IsNotExist(err) {
		return &pickindex.Page{OK: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var entries []pickindex.RemoteEntry
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		p := path.Join(dir, info.Name())
		pc := Pickcode(p)
		entries = append(entries, pickindex.RemoteEntry{
			Name:     info.Name(),
			Pickcode: pc,
			Marker:   pickindex.Marker(info.ModTime().UnixNano()),
		})
		t.remember(pc, p)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Marker != entries[j].Marker {
			return entries[i].Marker > entries[j].Marker
		}
		return entries[i].Name < entries[j].Name
	})

	page := &pickindex.Page{
		OK:     true,
		DirID:  req.DirID,
		Total:  len(entries),
		Offset: req.Offset,
	}
	if req.Offset < len(entries) {
		end := len(entries)
		if req.Limit > 0 && req.Offset+req.Limit < end {
			end = req.Offset + req.Limit
		}
		page.Entries = entries[req.Offset:end]
	}
	return page, nil
}

func (t *LocalTree) remember(pickcode, p string) {
	t.mu.Lock()
	t.paths[pickcode] = p
	t.mu.Unlock()
}

// ResolveLink returns the link of a file seen in an earlier listing. The
// user agent plays no part locally.
func (t *LocalTree) ResolveLink(ctx context.Context, pickcode, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.mu.RLock()
	p, ok := t.paths[pickcode]
	t.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: unknown pickcode %s", ErrLinkUnavailable, pickcode)
	}
	if _, err := t.fs.Stat(p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrLinkUnavailable, err)
	}
	return t.linkBase + (&url.URL{Path: p}).EscapedPath(), nil
}
