// Package upstream provides the client for the third-party music API.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/glebovdev/openspot/internal/fetch"
	"github.com/glebovdev/openspot/internal/queue"
	"github.com/glebovdev/openspot/internal/track"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBaseURL   = "https://dab.yeet.su/api"
	DefaultReferer   = "https://dab.yeet.su/"
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36"
	DefaultType      = "track"
)

var (
	ErrEmptyQuery     = errors.New("search query is required")
	ErrMissingTrackID = errors.New("track id is required")
	ErrNoStreamURL    = errors.New("no stream URL returned from API")
)

// Options configures a Client. Zero values fall back to the package defaults.
type Options struct {
	BaseURL        string
	Referer        string
	UserAgent      string
	SearchPolicy   fetch.Policy
	StreamPolicy   fetch.Policy
	ValidatePolicy fetch.Policy
	SkipValidation bool
}

// SearchParams are the query parameters of a search.
type SearchParams struct {
	Query  string
	Offset int
	Type   string
}

func (p SearchParams) values() url.Values {
	t := p.Type
	if t == "" {
		t = DefaultType
	}
	return url.Values{
		"q":      {p.Query},
		"offset": {strconv.Itoa(p.Offset)},
		"type":   {t},
	}
}

// Client talks to the music API. Every outbound call goes through the shared
// request queue and the retrying fetcher.
type Client struct {
	queue   *queue.Queue
	fetcher *fetch.Fetcher
	opts    Options
	group   singleflight.Group
}

// NewClient creates a Client.
func NewClient(q *queue.Queue, f *fetch.Fetcher, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Referer == "" {
		opts.Referer = DefaultReferer
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.SearchPolicy == (fetch.Policy{}) {
		opts.SearchPolicy = fetch.SearchPolicy
	}
	if opts.StreamPolicy == (fetch.Policy{}) {
		opts.StreamPolicy = fetch.StreamPolicy
	}
	if opts.ValidatePolicy == (fetch.Policy{}) {
		opts.ValidatePolicy = fetch.ValidatePolicy
	}
	return &Client{queue: q, fetcher: f, opts: opts}
}

func (c *Client) apiHeaders() map[string]string {
	return map[string]string{
		"accept":          "*/*",
		"accept-language": "en-GB,en;q=0.7",
		"cache-control":   "no-cache",
		"pragma":          "no-cache",
		"referer":         c.opts.Referer,
		"user-agent":      c.opts.UserAgent,
	}
}

func (c *Client) mediaHeaders(rangeHeader string) map[string]string {
	h := map[string]string{
		"Accept":     "audio/*",
		"User-Agent": c.opts.UserAgent,
	}
	if rangeHeader != "" {
		h["Range"] = rangeHeader
	}
	return h
}

// Search queries the catalogue. Identical searches in flight share one upstream call.
// A search with no hits returns an empty, non-nil track list.
func (c *Client) Search(ctx context.Context, params SearchParams) (*track.SearchResponse, error) {
	if strings.TrimSpace(params.Query) == "" {
		return nil, ErrEmptyQuery
	}
	query := params.values().Encode()

	v, shared, err := c.shared(ctx, "search:"+query, func(ctx context.Context) (any, error) {
		return queue.Do(ctx, c.queue, func(ctx context.Context) (*track.SearchResponse, error) {
			log.Debug().Str("query", params.Query).Msg("Queued search request")

			resp, err := c.fetcher.Fetch(ctx, fetch.Request{
				Method: http.MethodGet,
				URL:    c.opts.BaseURL + "/search?" + query,
				Header: c.apiHeaders(),
			}, c.opts.SearchPolicy)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch search results: %w", err)
			}

			var result track.SearchResponse
			if err := json.Unmarshal(resp.Body(), &result); err != nil {
				return nil, fmt.Errorf("failed to parse search response: %w", err)
			}
			if result.Tracks == nil {
				result.Tracks = []track.Track{}
			}

			log.Debug().Str("query", params.Query).Int("tracks", len(result.Tracks)).Msg("Search completed")
			return &result, nil
		})
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug().Str("query", params.Query).Msg("Joined in-flight search")
	}
	return v.(*track.SearchResponse), nil
}

// StreamURL resolves a playable URL for trackID. The URL is checked with a quick
// HEAD request; a failed check is only logged since playback may still work.
func (c *Client) StreamURL(ctx context.Context, trackID string) (string, error) {
	if trackID == "" {
		return "", ErrMissingTrackID
	}

	v, _, err := c.shared(ctx, "stream:"+trackID, func(ctx context.Context) (any, error) {
		return queue.Do(ctx, c.queue, func(ctx context.Context) (string, error) {
			log.Debug().Str("track", trackID).Msg("Queued stream request")

			resp, err := c.fetcher.Fetch(ctx, fetch.Request{
				Method: http.MethodGet,
				URL:    c.opts.BaseURL + "/stream?" + url.Values{"trackId": {trackID}}.Encode(),
				Header: c.apiHeaders(),
			}, c.opts.StreamPolicy)
			if err != nil {
				return "", fmt.Errorf("failed to get stream URL: %w", err)
			}

			var body struct {
				URL string `json:"url"`
			}
			if err := json.Unmarshal(resp.Body(), &body); err != nil {
				return "", fmt.Errorf("failed to parse stream response: %w", err)
			}
			if body.URL == "" {
				return "", ErrNoStreamURL
			}

			if !c.opts.SkipValidation {
				c.validate(ctx, trackID, body.URL)
			}
			return body.URL, nil
		})
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// shared runs fn once per key for all concurrent callers. fn gets a context
// that outlives any single caller; each caller stops waiting when its own ctx
// is done without affecting the others.
func (c *Client) shared(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (c *Client) validate(ctx context.Context, trackID, streamURL string) {
	_, err := c.fetcher.Fetch(ctx, fetch.Request{
		Method: http.MethodHead,
		URL:    streamURL,
		Header: c.mediaHeaders("bytes=0-"),
	}, c.opts.ValidatePolicy)
	if err != nil {
		log.Warn().Err(err).Str("track", trackID).Msg("Stream URL test failed")
		return
	}
	log.Debug().Str("track", trackID).Msg("Stream URL validated")
}

// openMedia issues a streaming GET through the queue. The queue slot is released
// once response headers arrive; the caller reads and closes the body.
func (c *Client) openMedia(ctx context.Context, mediaURL, rangeHeader string) (*resty.Response, error) {
	return queue.Do(ctx, c.queue, func(ctx context.Context) (*resty.Response, error) {
		return c.fetcher.Fetch(ctx, fetch.Request{
			Method: http.MethodGet,
			URL:    mediaURL,
			Header: c.mediaHeaders(rangeHeader),
			Stream: true,
		}, c.opts.StreamPolicy)
	})
}
