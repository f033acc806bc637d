// Package player loads tracks progressively and plays them: a small initial
// byte range starts playback quickly while the full file downloads, and the
// player then switches over to the full file without an audible gap.
package player

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebovdev/openspot/internal/track"
	"github.com/glebovdev/openspot/internal/upstream"
	"github.com/rs/zerolog/log"
)

const (
	DefaultChunkSize         = 8194304
	DefaultHandoverMargin    = 8 * time.Second
	DefaultHandoverRatio     = 0.8
	DefaultCrossfadeDuration = 50 * time.Millisecond
	DefaultCrossfadeSteps    = 3
	DefaultPrepareTimeout    = 800 * time.Millisecond
	DefaultMonitorInterval   = 250 * time.Millisecond
)

var (
	ErrSeekUnavailable = errors.New("seeking is available once the full track has loaded")
	ErrNoTrack         = errors.New("no track loaded")
	ErrSuperseded      = errors.New("load superseded by a newer track")
	ErrNoSource        = errors.New("no playable source available")
)

// Resolver fetches stream URLs and audio bytes.
type Resolver interface {
	StreamURL(ctx context.Context, trackID string) (string, error)
	FetchRange(ctx context.Context, url string, start, end int64) (*upstream.Media, error)
	FetchFull(ctx context.Context, url string, progress upstream.ProgressFunc) (*upstream.Media, error)
}

// TrackCache stores fully downloaded tracks.
type TrackCache interface {
	Get(trackID string) ([]byte, bool)
	Save(trackID string, data []byte) error
}

type Options struct {
	ChunkSize         int64
	HandoverMargin    time.Duration
	HandoverRatio     float64
	CrossfadeDuration time.Duration
	CrossfadeSteps    int
	PrepareTimeout    time.Duration
	MonitorInterval   time.Duration
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:         DefaultChunkSize,
		HandoverMargin:    DefaultHandoverMargin,
		HandoverRatio:     DefaultHandoverRatio,
		CrossfadeDuration: DefaultCrossfadeDuration,
		CrossfadeSteps:    DefaultCrossfadeSteps,
		PrepareTimeout:    DefaultPrepareTimeout,
		MonitorInterval:   DefaultMonitorInterval,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.HandoverMargin <= 0 {
		o.HandoverMargin = d.HandoverMargin
	}
	if o.HandoverRatio <= 0 || o.HandoverRatio >= 1 {
		o.HandoverRatio = d.HandoverRatio
	}
	if o.CrossfadeDuration <= 0 {
		o.CrossfadeDuration = d.CrossfadeDuration
	}
	if o.CrossfadeSteps <= 0 {
		o.CrossfadeSteps = d.CrossfadeSteps
	}
	if o.PrepareTimeout <= 0 {
		o.PrepareTimeout = d.PrepareTimeout
	}
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = d.MonitorInterval
	}
	return o
}

// Status is a snapshot of the loader for display.
type Status struct {
	State            PlayerState
	Track            *track.Track
	Position         time.Duration
	Duration         time.Duration
	Source           SourceKind
	DownloadProgress int
	FullReady        bool
	CanSeek          bool
	Volume           float64
	Muted            bool
	Transitioning    bool
	LastError        string
}

// Loader owns the audio handles of the current track. Its mutex is never held
// across network calls or crossfade sleeps; a generation counter discards the
// results of loads that have been superseded.
type Loader struct {
	resolver Resolver
	factory  HandleFactory
	cache    TrackCache
	opts     Options
	sleep    func(ctx context.Context, d time.Duration) error

	mu            sync.Mutex
	gen           uint64
	ctx           context.Context
	cancel        context.CancelFunc
	track         *track.Track
	streamURL     string
	chunk         *Source
	full          *Source
	active        Handle
	activeKind    SourceKind
	transitioning bool
	chunkEnded    bool
	endedAt       time.Duration
	fullFailed    bool
	progress      int
	state         PlayerState
	wantPlaying   bool
	volume        float64
	muted         bool
	lastError     string
	resumeAt      time.Duration
	resume        *resumePoint
	onTrackEnd    func(*track.Track)
}

func NewLoader(resolver Resolver, factory HandleFactory, opts Options) *Loader {
	return &Loader{
		resolver: resolver,
		factory:  factory,
		opts:     opts.withDefaults(),
		sleep:    sleepContext,
		ctx:      context.Background(),
		volume:   1,
		state:    StateIdle,
	}
}

// WithCache enables the on-disk track cache.
func (l *Loader) WithCache(c TrackCache) *Loader {
	l.cache = c
	return l
}

// WithSleeper replaces the sleep used between crossfade steps.
func (l *Loader) WithSleeper(s func(ctx context.Context, d time.Duration) error) *Loader {
	l.sleep = s
	return l
}

// OnTrackEnd registers a callback fired when a track plays to its end.
func (l *Loader) OnTrackEnd(fn func(*track.Track)) {
	l.mu.Lock()
	l.onTrackEnd = fn
	l.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Load starts playing t, aborting whatever was loading or playing before. It
// returns once playback has started. ctx bounds every download for the track.
func (l *Loader) Load(ctx context.Context, t *track.Track) error {
	if t == nil {
		return ErrNoTrack
	}
	loadCtx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	l.gen++
	gen := l.gen
	prev := l.resetLocked()
	l.ctx = loadCtx
	l.cancel = cancel
	l.track = t
	l.state = StateLoading
	l.wantPlaying = true
	l.lastError = ""
	l.resumeAt = l.takeResumeLocked(t.IDString())
	resumeAt := l.resumeAt
	l.mu.Unlock()
	closeHandle(prev)

	log.Info().Str("track", t.DisplayName()).Msg("Loading track")

	if data, ok := l.cachedTrack(t); ok {
		src := Source{Kind: SourceFull, Data: data, TotalSize: int64(len(data))}
		l.mu.Lock()
		if gen == l.gen {
			l.full = &src
			l.progress = 100
		}
		l.mu.Unlock()
		log.Debug().Str("track", t.IDString()).Msg("Playing from track cache")
		return l.start(loadCtx, gen, src, resumeAt)
	}

	streamURL, err := l.resolver.StreamURL(loadCtx, t.IDString())
	if err != nil {
		if loadCtx.Err() != nil || !l.isCurrent(gen) {
			return ErrSuperseded
		}
		return l.fail(gen, "Failed to get stream URL", err)
	}

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return ErrSuperseded
	}
	l.streamURL = streamURL
	l.mu.Unlock()

	src := Source{Kind: SourceRemote, URL: streamURL, Duration: time.Duration(t.Duration) * time.Second}
	media, err := l.resolver.FetchRange(loadCtx, streamURL, 0, l.opts.ChunkSize-1)
	switch {
	case err == nil && media.Complete():
		src = Source{Kind: SourceFull, Data: media.Data, TotalSize: media.TotalSize}
		l.mu.Lock()
		if gen == l.gen {
			l.full = &src
			l.progress = 100
		}
		l.mu.Unlock()
		l.saveToCache(t, media.Data)
	case err == nil:
		src = Source{Kind: SourceChunk, Data: media.Data, TotalSize: media.TotalSize}
		l.mu.Lock()
		if gen == l.gen {
			l.chunk = &src
		}
		l.mu.Unlock()
	default:
		if loadCtx.Err() != nil || !l.isCurrent(gen) {
			return ErrSuperseded
		}
		log.Warn().Err(err).Str("track", t.IDString()).Msg("Initial chunk failed, streaming directly")
	}

	if err := l.start(loadCtx, gen, src, resumeAt); err != nil {
		return err
	}

	if src.Kind != SourceFull {
		go l.downloadFull(loadCtx, gen, t, streamURL)
		go l.monitor(loadCtx, gen)
	}
	return nil
}

// start brings up the first handle of a load, recovering through the other
// sources if it cannot be played.
func (l *Loader) start(ctx context.Context, gen uint64, src Source, pos time.Duration) error {
	err := l.activate(ctx, gen, src, pos, true)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSuperseded) || ctx.Err() != nil {
		return ErrSuperseded
	}
	log.Warn().Err(err).Str("source", src.Kind.String()).Msg("Failed to start playback")
	return l.recover(gen, src.Kind, pos)
}

// activate prepares a new handle for src positioned at pos and makes it the
// active handle, closing whatever was active before.
func (l *Loader) activate(ctx context.Context, gen uint64, src Source, pos time.Duration, play bool) error {
	h := l.newHandle(gen)
	if err := h.Prepare(ctx, src); err != nil {
		h.Close()
		return err
	}
	h.SetVolume(l.effectiveVolume())

	if pos > 0 {
		if d := h.Duration(); d == 0 || pos < d {
			if err := h.Seek(pos); err != nil {
				log.Debug().Err(err).Dur("position", pos).Msg("Could not restore position")
			}
		}
	}
	if play {
		if err := h.Play(); err != nil {
			h.Close()
			return err
		}
	}

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		h.Close()
		return ErrSuperseded
	}
	old := l.active
	l.active = h
	l.activeKind = src.Kind
	if src.Kind != SourceChunk {
		l.chunkEnded = false
	}
	if l.resumeAt > 0 && pos >= l.resumeAt && h.Duration() > pos {
		l.resumeAt = 0
	}
	if play {
		l.state = StatePlaying
	} else {
		l.state = StatePaused
	}
	l.mu.Unlock()

	if old != nil && old != h {
		old.Close()
	}
	return nil
}

func (l *Loader) newHandle(gen uint64) Handle {
	var h Handle
	h = l.factory.NewHandle(HandleEvents{
		OnEnded: func() { l.handleEnded(gen, h) },
		OnError: func(err error) { l.handleError(gen, h, err) },
	})
	return h
}

func (l *Loader) downloadFull(ctx context.Context, gen uint64, t *track.Track, streamURL string) {
	media, err := l.resolver.FetchFull(ctx, streamURL, func(p int) {
		l.mu.Lock()
		if gen == l.gen {
			l.progress = p
		}
		l.mu.Unlock()
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("track", t.IDString()).Msg("Full download failed")

		l.mu.Lock()
		if gen != l.gen {
			l.mu.Unlock()
			return
		}
		l.fullFailed = true
		ended, pos := l.chunkEnded, l.endedAt
		l.mu.Unlock()

		if ended {
			_ = l.recover(gen, SourceChunk, pos)
		}
		return
	}

	src := Source{Kind: SourceFull, Data: media.Data, TotalSize: media.TotalSize}
	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return
	}
	l.full = &src
	l.progress = 100
	l.mu.Unlock()

	log.Debug().Str("track", t.IDString()).Int("bytes", len(media.Data)).Msg("Full track downloaded")
	l.saveToCache(t, media.Data)
	l.checkHandover(gen)
}

func (l *Loader) monitor(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(l.opts.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			done := gen != l.gen || l.activeKind == SourceFull
			l.mu.Unlock()
			if done {
				return
			}
			l.checkHandover(gen)
		}
	}
}

func (l *Loader) handleEnded(gen uint64, h Handle) {
	l.mu.Lock()
	if gen != l.gen || h != l.active {
		l.mu.Unlock()
		return
	}

	if l.activeKind == SourceChunk {
		l.chunkEnded = true
		l.endedAt = h.Duration()
		fullReady, fullFailed, pos := l.full != nil, l.fullFailed, l.endedAt
		if !fullReady && !fullFailed {
			l.state = StateBuffering
		}
		l.mu.Unlock()

		switch {
		case fullReady:
			l.checkHandover(gen)
		case fullFailed:
			_ = l.recover(gen, SourceChunk, pos)
		default:
			log.Debug().Dur("position", pos).Msg("Chunk ended before full download, waiting")
		}
		return
	}

	t := l.track
	l.state = StateIdle
	l.wantPlaying = false
	cb := l.onTrackEnd
	l.mu.Unlock()

	log.Debug().Msg("Track finished")
	if cb != nil {
		cb(t)
	}
}

func (l *Loader) handleError(gen uint64, h Handle, err error) {
	l.mu.Lock()
	if gen != l.gen || h != l.active || l.transitioning {
		l.mu.Unlock()
		return
	}
	kind := l.activeKind
	pos := h.Position()
	l.mu.Unlock()

	log.Warn().Err(err).Str("source", kind.String()).Msg("Playback error, attempting recovery")
	_ = l.recover(gen, kind, pos)
}

// recover retries playback at pos with the full file, the chunk and finally
// the stream URL, skipping the source that just failed.
func (l *Loader) recover(gen uint64, failed SourceKind, pos time.Duration) error {
	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return ErrSuperseded
	}
	var candidates []Source
	if l.full != nil && failed != SourceFull {
		candidates = append(candidates, *l.full)
	}
	if l.chunk != nil && failed != SourceChunk && !l.chunkEnded {
		candidates = append(candidates, *l.chunk)
	}
	if l.streamURL != "" && failed != SourceRemote {
		dur := time.Duration(0)
		if l.track != nil {
			dur = time.Duration(l.track.Duration) * time.Second
		}
		candidates = append(candidates, Source{Kind: SourceRemote, URL: l.streamURL, Duration: dur})
	}
	playing := l.wantPlaying
	ctx := l.ctx
	l.mu.Unlock()

	for _, src := range candidates {
		err := l.activate(ctx, gen, src, pos, playing)
		if err == nil {
			log.Info().Str("source", src.Kind.String()).Dur("position", pos).Msg("Recovered playback")
			return nil
		}
		if errors.Is(err, ErrSuperseded) || ctx.Err() != nil {
			return ErrSuperseded
		}
		log.Warn().Err(err).Str("source", src.Kind.String()).Msg("Recovery source failed")
	}

	return l.fail(gen, "Playback failed", ErrNoSource)
}

// fail stops playback of the current load and records msg for display.
func (l *Loader) fail(gen uint64, msg string, err error) error {
	l.mu.Lock()
	var h Handle
	if gen == l.gen {
		h = l.active
		l.active = nil
		l.activeKind = SourceNone
		l.transitioning = false
		l.state = StateError
		l.wantPlaying = false
		l.lastError = msg
	}
	l.mu.Unlock()
	closeHandle(h)

	log.Error().Err(err).Msg(msg)
	return fmt.Errorf("%s: %w", strings.ToLower(msg), err)
}

// resetLocked releases everything belonging to the current load and returns the
// active handle for the caller to close outside the lock.
func (l *Loader) resetLocked() Handle {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	h := l.active
	l.active = nil
	l.activeKind = SourceNone
	l.streamURL = ""
	l.chunk = nil
	l.full = nil
	l.transitioning = false
	l.chunkEnded = false
	l.endedAt = 0
	l.fullFailed = false
	l.progress = 0
	l.resumeAt = 0
	return h
}

func closeHandle(h Handle) {
	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		log.Debug().Err(err).Msg("Error closing audio handle")
	}
}

func (l *Loader) isCurrent(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return gen == l.gen
}

func (l *Loader) cachedTrack(t *track.Track) ([]byte, bool) {
	if l.cache == nil {
		return nil, false
	}
	return l.cache.Get(t.IDString())
}

func (l *Loader) saveToCache(t *track.Track, data []byte) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Save(t.IDString(), data); err != nil {
		log.Warn().Err(err).Str("track", t.IDString()).Msg("Failed to cache track")
	}
}

// Stop halts playback and releases all buffers.
func (l *Loader) Stop() {
	l.mu.Lock()
	l.gen++
	h := l.resetLocked()
	l.track = nil
	l.state = StateIdle
	l.wantPlaying = false
	l.mu.Unlock()
	closeHandle(h)

	log.Debug().Msg("Playback stopped")
}

// TogglePause pauses or resumes the active handle.
func (l *Loader) TogglePause() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active == nil {
		return
	}

	switch l.state {
	case StatePlaying, StateBuffering:
		l.active.Pause()
		l.wantPlaying = false
		l.state = StatePaused
		log.Debug().Msg("Playback paused")
	case StatePaused:
		l.wantPlaying = true
		if l.chunkEnded {
			l.state = StateBuffering
			return
		}
		if err := l.active.Play(); err != nil {
			log.Warn().Err(err).Msg("Failed to resume playback")
			return
		}
		l.state = StatePlaying
		log.Debug().Msg("Playback resumed")
	}
}

// Seek moves playback to d. Only the full file can be seeked.
func (l *Loader) Seek(d time.Duration) error {
	l.mu.Lock()
	h, kind, transitioning := l.active, l.activeKind, l.transitioning
	l.mu.Unlock()

	if h == nil {
		return ErrNoTrack
	}
	if kind != SourceFull || transitioning {
		return ErrSeekUnavailable
	}
	return h.Seek(d)
}

// CanSeek reports whether Seek is currently allowed.
func (l *Loader) CanSeek() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active != nil && l.activeKind == SourceFull && !l.transitioning
}

// SetVolume sets the linear volume in 0..1.
func (l *Loader) SetVolume(v float64) {
	l.mu.Lock()
	l.volume = clampVolume(v)
	h, transitioning := l.active, l.transitioning
	eff := l.effectiveVolumeLocked()
	l.mu.Unlock()

	if h != nil && !transitioning {
		h.SetVolume(eff)
	}
	log.Debug().Msgf("Volume set to %.0f%%", v*100)
}

// ToggleMute flips mute and returns the new state.
func (l *Loader) ToggleMute() bool {
	l.mu.Lock()
	l.muted = !l.muted
	muted := l.muted
	h, transitioning := l.active, l.transitioning
	eff := l.effectiveVolumeLocked()
	l.mu.Unlock()

	if h != nil && !transitioning {
		h.SetVolume(eff)
	}
	return muted
}

func (l *Loader) Volume() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.volume
}

func (l *Loader) Muted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.muted
}

func (l *Loader) effectiveVolume() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.effectiveVolumeLocked()
}

func (l *Loader) effectiveVolumeLocked() float64 {
	if l.muted {
		return 0
	}
	return l.volume
}

func (l *Loader) State() PlayerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loader) Track() *track.Track {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.track
}

func (l *Loader) LastError() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastError
}

// Status returns a snapshot for display.
func (l *Loader) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Status{
		State:            l.state,
		Track:            l.track,
		Source:           l.activeKind,
		DownloadProgress: l.progress,
		FullReady:        l.full != nil,
		CanSeek:          l.active != nil && l.activeKind == SourceFull && !l.transitioning,
		Volume:           l.volume,
		Muted:            l.muted,
		Transitioning:    l.transitioning,
		LastError:        l.lastError,
	}
	switch {
	case l.chunkEnded:
		s.Position = l.endedAt
	case l.active != nil:
		s.Position = l.active.Position()
	}
	if l.track != nil && l.track.Duration > 0 {
		s.Duration = time.Duration(l.track.Duration) * time.Second
	} else if l.active != nil {
		s.Duration = l.active.Duration()
	}
	return s
}
