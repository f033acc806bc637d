// Package library provides the business logic layer the player UI works with:
// search results with paging, and liked songs.
package library

import (
	"context"
	"errors"
	"sync"

	"github.com/glebovdev/openspot/internal/storage"
	"github.com/glebovdev/openspot/internal/track"
	"github.com/glebovdev/openspot/internal/upstream"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

var ErrNoMoreResults = errors.New("no more results")

// Searcher runs catalogue searches.
type Searcher interface {
	Search(ctx context.Context, params upstream.SearchParams) (*track.SearchResponse, error)
}

// LikeStore persists liked songs.
type LikeStore interface {
	Like(t track.Track) (storage.LikedSong, error)
	Unlike(trackID string) error
	IsLiked(trackID string) bool
	Liked() ([]storage.LikedSong, error)
}

// Library keeps the current search results and proxies likes to the store.
type Library struct {
	searcher Searcher
	likes    LikeStore

	mu      sync.RWMutex
	query   string
	results []track.Track
	hasMore bool
}

// New creates a Library. likes may be nil, in which case liking is disabled.
func New(searcher Searcher, likes LikeStore) *Library {
	return &Library{searcher: searcher, likes: likes}
}

// Search replaces the current results with the first page for query.
func (l *Library) Search(ctx context.Context, query string) ([]track.Track, error) {
	resp, err := l.searcher.Search(ctx, upstream.SearchParams{Query: query})
	if err != nil {
		return nil, err
	}

	results := lo.UniqBy(resp.Tracks, func(t track.Track) int64 { return t.ID })

	l.mu.Lock()
	l.query = query
	l.results = results
	l.hasMore = hasMore(resp, len(results))
	l.mu.Unlock()

	log.Debug().Str("query", query).Int("count", len(results)).Msg("Search results updated")
	return l.Results(), nil
}

// LoadMore appends the next page of the current search. Tracks already in the
// list are skipped.
func (l *Library) LoadMore(ctx context.Context) ([]track.Track, error) {
	l.mu.RLock()
	query, offset, more := l.query, len(l.results), l.hasMore
	l.mu.RUnlock()

	if query == "" || !more {
		return nil, ErrNoMoreResults
	}

	resp, err := l.searcher.Search(ctx, upstream.SearchParams{Query: query, Offset: offset})
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.query != query {
		// A new search replaced the list while this page was loading.
		return nil, ErrNoMoreResults
	}

	seen := lo.SliceToMap(l.results, func(t track.Track) (int64, struct{}) { return t.ID, struct{}{} })
	added := lo.Filter(resp.Tracks, func(t track.Track, _ int) bool {
		_, dup := seen[t.ID]
		return !dup
	})
	added = lo.UniqBy(added, func(t track.Track) int64 { return t.ID })
	l.results = append(l.results, added...)
	l.hasMore = len(added) > 0 && hasMore(resp, len(l.results))

	return append([]track.Track(nil), added...), nil
}

func hasMore(resp *track.SearchResponse, have int) bool {
	if resp.Pagination != nil {
		return resp.Pagination.HasMore || have < resp.Pagination.Total
	}
	return false
}

// Query returns the query of the current results.
func (l *Library) Query() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.query
}

// HasMore reports whether LoadMore can fetch another page.
func (l *Library) HasMore() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hasMore
}

func (l *Library) Results() []track.Track {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]track.Track(nil), l.results...)
}

func (l *Library) ResultCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.results)
}

// Result returns a copy of the track at index, or nil if out of bounds.
func (l *Library) Result(index int) *track.Track {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index < 0 || index >= len(l.results) {
		return nil
	}
	t := l.results[index]
	return &t
}

func (l *Library) FindIndexByID(trackID int64) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, idx, ok := lo.FindIndexOf(l.results, func(t track.Track) bool { return t.ID == trackID })
	if !ok {
		return -1
	}
	return idx
}

// HighQualityResults returns the current results available above CD quality.
func (l *Library) HighQualityResults() []track.Track {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return lo.Filter(l.results, func(t track.Track, _ int) bool { return t.IsHighQuality() })
}

func (l *Library) IsLiked(t *track.Track) bool {
	if l.likes == nil || t == nil {
		return false
	}
	return l.likes.IsLiked(t.IDString())
}

// ToggleLike likes or unlikes t and returns the new state.
func (l *Library) ToggleLike(t *track.Track) (bool, error) {
	if l.likes == nil || t == nil {
		return false, nil
	}

	if l.likes.IsLiked(t.IDString()) {
		if err := l.likes.Unlike(t.IDString()); err != nil {
			return true, err
		}
		log.Debug().Str("track", t.IDString()).Msg("Track unliked")
		return false, nil
	}

	if _, err := l.likes.Like(*t); err != nil {
		return false, err
	}
	log.Debug().Str("track", t.IDString()).Msg("Track liked")
	return true, nil
}

// LikedTracks returns liked tracks, most recently liked first.
func (l *Library) LikedTracks() ([]track.Track, error) {
	if l.likes == nil {
		return []track.Track{}, nil
	}
	songs, err := l.likes.Liked()
	if err != nil {
		return nil, err
	}
	return lo.Map(songs, func(s storage.LikedSong, _ int) track.Track { return s.Track }), nil
}
