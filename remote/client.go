// Package remote implements the listing and link collaborators of the
// indexer: an HTTP client for a 115-style file API and a local tree served
// through afero.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"

	pickindex "github.com/ghyeongl/pickindex/sync"
)

const (
	DefaultBaseURL = "https://webapi.115.com"
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 64 << 20
)

// ErrLinkUnavailable is returned when the remote refuses to produce a link.
var ErrLinkUnavailable = errors.New("link unavailable")

// Client talks to a 115-style web API. Listings come from GET /files and
// links from GET /files/download.
type Client struct {
	baseURL string
	cookies string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a client for baseURL (DefaultBaseURL if empty) sending
// cookies with every request.
func NewClient(baseURL, cookies string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		cookies: strings.TrimSpace(cookies),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func expandPath(p string) (string, error) {
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", p, err)
	}
	return expanded, nil
}

// LoadCookies reads a cookie header value from path; "~" is expanded.
func LoadCookies(path string) (string, error) {
	expanded, err := expandPath(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return "", fmt.Errorf("read cookies: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// marker accepts the "te" field as either a JSON number or a numeric string.
type marker int64

func (m *marker) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("marker %s: %w", b, err)
	}
	*m = marker(v)
	return nil
}

type filesResponse struct {
	State  bool `json:"state"`
	Count  int  `json:"count"`
	Offset int  `json:"offset"`
	Path   []struct {
		CID json.Number `json:"cid"`
	} `json:"path"`
	Data []struct {
		Name     string `json:"n"`
		Pickcode string `json:"pc"`
		Marker   marker `json:"te"`
	} `json:"data"`
}

// FetchPage lists files of req.DirID, most recently updated first.
func (c *Client) FetchPage(ctx context.Context, req pickindex.PageRequest) (*pickindex.Page, error) {
	q := url.Values{
		"aid":           {"1"},
		"asc":           {"0"},
		"cid":           {req.DirID},
		"count_folders": {"0"},
		"cur":           {"0"},
		"limit":         {strconv.Itoa(req.Limit)},
		"o":             {"user_utime"},
		"offset":        {strconv.Itoa(req.Offset)},
		"show_dir":      {"0"},
		"type":          {"4"},
	}

	var resp filesResponse
	if err := c.getJSON(ctx, "/files", q, "", &resp); err != nil {
		return nil, err
	}

	page := &pickindex.Page{
		OK:      resp.State,
		Total:   resp.Count,
		Offset:  resp.Offset,
		Entries: make([]pickindex.RemoteEntry, 0, len(resp.Data)),
	}
	if n := len(resp.Path); n > 0 {
		page.DirID = resp.Path[n-1].CID.String()
	}
	for _, d := range resp.Data {
		page.Entries = append(page.Entries, pickindex.RemoteEntry{
			Name:     d.Name,
			Pickcode: d.Pickcode,
			Marker:   pickindex.Marker(d.Marker),
		})
	}
	return page, nil
}

type downloadResponse struct {
	State bool   `json:"state"`
	Msg   string `json:"msg"`
	Data  map[string]struct {
		URL struct {
			URL string `json:"url"`
		} `json:"url"`
	} `json:"data"`
}

// ResolveLink asks for a download link of pickcode on behalf of userAgent.
// The remote binds the link to that user agent.
func (c *Client) ResolveLink(ctx context.Context, pickcode, userAgent string) (string, error) {
	var resp downloadResponse
	if err := c.getJSON(ctx, "/files/download", url.Values{"pickcode": {pickcode}}, userAgent, &resp); err != nil {
		return "", err
	}
	if !resp.State {
		return "", fmt.Errorf("%w: %s", ErrLinkUnavailable, resp.Msg)
	}
	for _, d := range resp.Data {
		if d.URL.URL != "" {
			return d.URL.URL, nil
		}
	}
	return "", fmt.Errorf("%w: empty response", ErrLinkUnavailable)
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, userAgent string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.cookies != "" {
		req.Header.Set("Cookie", c.cookies)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", path, resp.Status)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}
