package library

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/glebovdev/openspot/internal/storage"
	"github.com/glebovdev/openspot/internal/track"
	"github.com/glebovdev/openspot/internal/upstream"
)

type fakeSearcher struct {
	mu     sync.Mutex
	pages  map[int]*track.SearchResponse
	err    error
	params []upstream.SearchParams
}

func (f *fakeSearcher) Search(ctx context.Context, params upstream.SearchParams) (*track.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	if resp, ok := f.pages[params.Offset]; ok {
		return resp, nil
	}
	return &track.SearchResponse{Tracks: []track.Track{}}, nil
}

func tracks(ids ...int64) []track.Track {
	out := make([]track.Track, len(ids))
	for i, id := range ids {
		out[i] = track.Track{ID: id, Title: "Song"}
	}
	return out
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "lib.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSearchAndLoadMore(t *testing.T) {
	searcher := &fakeSearcher{pages: map[int]*track.SearchResponse{
		0: {Tracks: tracks(1, 2, 2, 3), Pagination: &track.Pagination{Total: 6, HasMore: true}},
		3: {Tracks: tracks(3, 4, 5), Pagination: &track.Pagination{Offset: 3, Total: 6, HasMore: false}},
	}}
	lib := New(searcher, nil)

	results, err := lib.Search(context.Background(), "daft punk")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Search() returned %d tracks, want 3 (duplicates removed)", len(results))
	}
	if !lib.HasMore() {
		t.Fatal("HasMore() = false after first page")
	}

	added, err := lib.LoadMore(context.Background())
	if err != nil {
		t.Fatalf("LoadMore() error = %v", err)
	}
	if len(added) != 2 || added[0].ID != 4 || added[1].ID != 5 {
		t.Errorf("LoadMore() added %v, want tracks 4 and 5", added)
	}
	if lib.ResultCount() != 5 {
		t.Errorf("ResultCount() = %d, want 5", lib.ResultCount())
	}
	if searcher.params[1].Offset != 3 || searcher.params[1].Query != "daft punk" {
		t.Errorf("second page params = %+v", searcher.params[1])
	}

	// 5 < Total keeps paging possible, but the next page is empty.
	if _, err := lib.LoadMore(context.Background()); err != nil {
		t.Fatalf("LoadMore() error = %v", err)
	}
	if lib.HasMore() {
		t.Error("HasMore() = true after an empty page")
	}
	if _, err := lib.LoadMore(context.Background()); !errors.Is(err, ErrNoMoreResults) {
		t.Errorf("LoadMore() error = %v, want ErrNoMoreResults", err)
	}
}

func TestSearchError(t *testing.T) {
	lib := New(&fakeSearcher{err: errors.New("upstream down")}, nil)

	if _, err := lib.Search(context.Background(), "x"); err == nil {
		t.Fatal("Search() expected error")
	}
	if lib.ResultCount() != 0 {
		t.Error("failed search should not change results")
	}
}

func TestLoadMoreWithoutSearch(t *testing.T) {
	lib := New(&fakeSearcher{}, nil)
	if _, err := lib.LoadMore(context.Background()); !errors.Is(err, ErrNoMoreResults) {
		t.Errorf("LoadMore() error = %v, want ErrNoMoreResults", err)
	}
}

func TestResultAccessors(t *testing.T) {
	searcher := &fakeSearcher{pages: map[int]*track.SearchResponse{
		0: {Tracks: []track.Track{
			{ID: 10, Title: "A"},
			{ID: 11, Title: "B", AudioQuality: track.AudioQuality{IsHiRes: true}},
		}},
	}}
	lib := New(searcher, nil)
	if _, err := lib.Search(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		index   int
		wantNil bool
		wantID  int64
	}{
		{0, false, 10},
		{1, false, 11},
		{-1, true, 0},
		{2, true, 0},
	}
	for _, tt := range tests {
		got := lib.Result(tt.index)
		if (got == nil) != tt.wantNil {
			t.Errorf("Result(%d) nil = %v, want %v", tt.index, got == nil, tt.wantNil)
			continue
		}
		if got != nil && got.ID != tt.wantID {
			t.Errorf("Result(%d).ID = %d, want %d", tt.index, got.ID, tt.wantID)
		}
	}

	if idx := lib.FindIndexByID(11); idx != 1 {
		t.Errorf("FindIndexByID(11) = %d, want 1", idx)
	}
	if idx := lib.FindIndexByID(99); idx != -1 {
		t.Errorf("FindIndexByID(99) = %d, want -1", idx)
	}
	if hq := lib.HighQualityResults(); len(hq) != 1 || hq[0].ID != 11 {
		t.Errorf("HighQualityResults() = %v", hq)
	}

	// Results are copies.
	lib.Result(0).Title = "changed"
	if lib.Result(0).Title != "A" {
		t.Error("Result() should return a copy")
	}
}

func TestToggleLike(t *testing.T) {
	lib := New(&fakeSearcher{}, openStore(t))
	song := &track.Track{ID: 5, Title: "Song"}

	liked, err := lib.ToggleLike(song)
	if err != nil || !liked {
		t.Fatalf("ToggleLike() = %v, %v; want true", liked, err)
	}
	if !lib.IsLiked(song) {
		t.Error("IsLiked() = false after like")
	}

	likedTracks, err := lib.LikedTracks()
	if err != nil || len(likedTracks) != 1 || likedTracks[0].ID != 5 {
		t.Errorf("LikedTracks() = %v, %v", likedTracks, err)
	}

	liked, err = lib.ToggleLike(song)
	if err != nil || liked {
		t.Fatalf("second ToggleLike() = %v, %v; want false", liked, err)
	}
	if lib.IsLiked(song) {
		t.Error("IsLiked() = true after unlike")
	}
}

func TestLikesDisabledWithoutStore(t *testing.T) {
	lib := New(&fakeSearcher{}, nil)
	song := &track.Track{ID: 1}

	if liked, err := lib.ToggleLike(song); liked || err != nil {
		t.Errorf("ToggleLike() = %v, %v", liked, err)
	}
	if got, err := lib.LikedTracks(); err != nil || len(got) != 0 {
		t.Errorf("LikedTracks() = %v, %v", got, err)
	}
}
