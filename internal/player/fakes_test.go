package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glebovdev/openspot/internal/track"
	"github.com/glebovdev/openspot/internal/upstream"
)

type fakeHandle struct {
	mu       sync.Mutex
	events   HandleEvents
	factory  *fakeFactory
	src      Source
	prepared bool
	playing  bool
	closed   bool
	pos      time.Duration
	dur      time.Duration
	volumes  []float64
	prepares int
}

func (h *fakeHandle) Prepare(ctx context.Context, src Source) error {
	if err := h.factory.prepareErr(src.Kind); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.src = src
	h.prepared = true
	h.prepares++
	h.pos = 0
	h.dur = h.factory.duration(src.Kind)
	return nil
}

func (h *fakeHandle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.prepared || h.closed {
		return ErrNotPrepared
	}
	h.playing = true
	return nil
}

func (h *fakeHandle) Pause() {
	h.mu.Lock()
	h.playing = false
	h.mu.Unlock()
}

func (h *fakeHandle) SetVolume(v float64) {
	h.mu.Lock()
	h.volumes = append(h.volumes, v)
	h.mu.Unlock()
}

func (h *fakeHandle) Position() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

func (h *fakeHandle) Duration() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dur
}

func (h *fakeHandle) Seek(d time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.src.Kind == SourceRemote && (h.playing || d < h.pos) {
		return ErrNotSeekable
	}
	h.pos = d
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.playing = false
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) setPosition(d time.Duration) {
	h.mu.Lock()
	h.pos = d
	h.mu.Unlock()
}

func (h *fakeHandle) end() {
	h.mu.Lock()
	h.pos = h.dur
	h.mu.Unlock()
	h.events.OnEnded()
}

func (h *fakeHandle) fail(err error) {
	h.events.OnError(err)
}

func (h *fakeHandle) snapshot() fakeHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fakeHandle{
		src:      h.src,
		prepared: h.prepared,
		playing:  h.playing,
		closed:   h.closed,
		pos:      h.pos,
		dur:      h.dur,
		volumes:  append([]float64(nil), h.volumes...),
		prepares: h.prepares,
	}
}

type fakeFactory struct {
	mu        sync.Mutex
	handles   []*fakeHandle
	durations map[SourceKind]time.Duration
	failures  map[SourceKind]error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		durations: map[SourceKind]time.Duration{
			SourceChunk:  20 * time.Second,
			SourceFull:   180 * time.Second,
			SourceRemote: 180 * time.Second,
		},
		failures: map[SourceKind]error{},
	}
}

func (f *fakeFactory) NewHandle(events HandleEvents) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fakeHandle{events: events, factory: f}
	f.handles = append(f.handles, h)
	return h
}

func (f *fakeFactory) prepareErr(kind SourceKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures[kind]
}

func (f *fakeFactory) failPrepare(kind SourceKind, err error) {
	f.mu.Lock()
	f.failures[kind] = err
	f.mu.Unlock()
}

func (f *fakeFactory) duration(kind SourceKind) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.durations[kind]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

func (f *fakeFactory) handle(i int) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[i]
}

type fullResult struct {
	media *upstream.Media
	err   error
}

type fakeResolver struct {
	mu         sync.Mutex
	urlErr     error
	chunk      *upstream.Media
	chunkErr   error
	full       chan fullResult
	block      map[string]chan struct{}
	urlCalls   int
	rangeCalls int
	rangeEnd   int64
	fullCalls  int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		chunk: &upstream.Media{Data: []byte("chunk-bytes"), TotalSize: 1000},
		full:  make(chan fullResult, 1),
		block: map[string]chan struct{}{},
	}
}

func (r *fakeResolver) StreamURL(ctx context.Context, trackID string) (string, error) {
	r.mu.Lock()
	r.urlCalls++
	block := r.block[trackID]
	err := r.urlErr
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "https://cdn.example.com/" + trackID + ".flac", nil
}

func (r *fakeResolver) FetchRange(ctx context.Context, url string, start, end int64) (*upstream.Media, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rangeCalls++
	r.rangeEnd = end
	if r.chunkErr != nil {
		return nil, r.chunkErr
	}
	return r.chunk, nil
}

func (r *fakeResolver) FetchFull(ctx context.Context, url string, progress upstream.ProgressFunc) (*upstream.Media, error) {
	r.mu.Lock()
	r.fullCalls++
	r.mu.Unlock()

	progress(40)
	select {
	case res := <-r.full:
		return res.media, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *fakeResolver) completeFull() {
	r.full <- fullResult{media: &upstream.Media{Data: make([]byte, 1000), TotalSize: 1000}}
}

func (r *fakeResolver) failFull() {
	r.full <- fullResult{err: errors.New("connection reset")}
}

type fakeCache struct {
	mu    sync.Mutex
	data  map[string][]byte
	saves []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}}
}

func (c *fakeCache) Get(trackID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.data[trackID]
	return d, ok
}

func (c *fakeCache) Save(trackID string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saves = append(c.saves, trackID)
	c.data[trackID] = data
	return nil
}

func (c *fakeCache) saved() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.saves...)
}

type gatedSleeper struct {
	mu      sync.Mutex
	delays  []time.Duration
	entered chan struct{}
	release chan struct{}
}

func (s *gatedSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()

	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *gatedSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func testTrack(id int64) *track.Track {
	return &track.Track{ID: id, Title: "Song", Artist: "Band", Duration: 180}
}

func newTestLoader(t *testing.T) (*Loader, *fakeResolver, *fakeFactory, *gatedSleeper) {
	t.Helper()
	resolver := newFakeResolver()
	factory := newFakeFactory()
	sleeper := &gatedSleeper{}

	opts := DefaultOptions()
	opts.MonitorInterval = time.Hour

	l := NewLoader(resolver, factory, opts).WithSleeper(sleeper.sleep)
	t.Cleanup(l.Stop)
	return l, resolver, factory, sleeper
}

func currentGen(l *Loader) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
