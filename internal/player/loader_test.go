package player

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/glebovdev/openspot/internal/track"
)

func TestShouldHandover(t *testing.T) {
	tests := []struct {
		name     string
		pos      time.Duration
		dur      time.Duration
		expected bool
	}{
		{"20s chunk before margin", 11900 * time.Millisecond, 20 * time.Second, false},
		{"20s chunk at margin", 12 * time.Second, 20 * time.Second, true},
		{"20s chunk at ratio", 16 * time.Second, 20 * time.Second, true},
		{"9s chunk before margin", 900 * time.Millisecond, 9 * time.Second, false},
		{"9s chunk at margin", time.Second, 9 * time.Second, true},
		{"60s chunk before ratio", 47 * time.Second, 60 * time.Second, false},
		{"60s chunk at ratio", 48 * time.Second, 60 * time.Second, true},
		{"5s chunk starts at zero", 0, 5 * time.Second, true},
		{"unknown duration", 30 * time.Second, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldHandover(tt.pos, tt.dur, DefaultHandoverMargin, DefaultHandoverRatio)
			if got != tt.expected {
				t.Errorf("ShouldHandover(%v, %v) = %v, want %v", tt.pos, tt.dur, got, tt.expected)
			}
		})
	}
}

func TestHandoverAt(t *testing.T) {
	tests := []struct {
		dur      time.Duration
		expected time.Duration
	}{
		{20 * time.Second, 12 * time.Second},
		{9 * time.Second, time.Second},
		{60 * time.Second, 48 * time.Second},
		{4 * time.Second, 0},
	}

	for _, tt := range tests {
		if got := HandoverAt(tt.dur, DefaultHandoverMargin, DefaultHandoverRatio); got != tt.expected {
			t.Errorf("HandoverAt(%v) = %v, want %v", tt.dur, got, tt.expected)
		}
	}
}

func TestLoadStartsWithChunk(t *testing.T) {
	l, resolver, factory, _ := newTestLoader(t)

	if err := l.Load(context.Background(), testTrack(1)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if factory.count() != 1 {
		t.Fatalf("handles = %d, want 1", factory.count())
	}
	h := factory.handle(0).snapshot()
	if h.src.Kind != SourceChunk || !h.playing {
		t.Errorf("first handle = %v playing=%v, want playing chunk", h.src.Kind, h.playing)
	}

	resolver.mu.Lock()
	rangeEnd := resolver.rangeEnd
	resolver.mu.Unlock()
	if rangeEnd != DefaultChunkSize-1 {
		t.Errorf("range end = %d, want %d", rangeEnd, DefaultChunkSize-1)
	}

	status := l.Status()
	if status.State != StatePlaying || status.Source != SourceChunk {
		t.Errorf("status = %s from %s", status.State, status.Source)
	}
	if status.CanSeek || l.CanSeek() {
		t.Error("seek should be unavailable while playing the chunk")
	}
	if err := l.Seek(5 * time.Second); !errors.Is(err, ErrSeekUnavailable) {
		t.Errorf("Seek() error = %v, want ErrSeekUnavailable", err)
	}

	waitFor(t, "download progress", func() bool { return l.Status().DownloadProgress == 40 })
}

func TestProactiveHandoverWaitsForThreshold(t *testing.T) {
	l, resolver, factory, sleeper := newTestLoader(t)
	cache := newFakeCache()
	l.WithCache(cache)

	if err := l.Load(context.Background(), testTrack(1)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	chunk := factory.handle(0)

	resolver.completeFull()
	waitFor(t, "full download", func() bool { return l.Status().FullReady })

	chunk.setPosition(11 * time.Second)
	l.checkHandover(currentGen(l))
	if l.Status().Source != SourceChunk {
		t.Fatal("handover happened before the threshold")
	}

	chunk.setPosition(12 * time.Second)
	l.checkHandover(currentGen(l))
	waitFor(t, "handover to full", func() bool { return l.Status().Source == SourceFull })

	if factory.count() != 2 {
		t.Fatalf("handles = %d, want 2", factory.count())
	}

	next := factory.handle(1).snapshot()
	if next.src.Kind != SourceFull || !next.playing {
		t.Errorf("next handle = %s playing=%v", next.src.Kind, next.playing)
	}
	if next.pos != 12*time.Second {
		t.Errorf("next handle position = %v, want 12s", next.pos)
	}
	assertVolumes(t, "incoming", next.volumes, []float64{0, 1.0 / 3, 2.0 / 3, 1})

	old := chunk.snapshot()
	assertVolumes(t, "outgoing", old.volumes, []float64{1, 2.0 / 3, 1.0 / 3, 0})
	if old.playing || !old.closed {
		t.Errorf("old handle playing=%v closed=%v, want stopped and closed", old.playing, old.closed)
	}

	delays := sleeper.recorded()
	if len(delays) != DefaultCrossfadeSteps {
		t.Errorf("crossfade steps = %d, want %d", len(delays), DefaultCrossfadeSteps)
	}

	if !l.CanSeek() {
		t.Error("seek should be available after handover")
	}
	if err := l.Seek(90 * time.Second); err != nil {
		t.Errorf("Seek() error = %v", err)
	}
	if got := factory.handle(1).Position(); got != 90*time.Second {
		t.Errorf("position after seek = %v", got)
	}

	waitFor(t, "track cached", func() bool { return len(cache.saved()) == 1 })
	if saved := cache.saved(); saved[0] != "1" {
		t.Errorf("cached tracks = %v, want [1]", saved)
	}
}

func TestReactiveHandoverWhenChunkEndsFirst(t *testing.T) {
	l, resolver, factory, _ := newTestLoader(t)

	if err := l.Load(context.Background(), testTrack(1)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	chunk := factory.handle(0)
	chunk.end()

	if l.State() != StateBuffering {
		t.Errorf("state after chunk end = %s, want BUFFERING", l.State())
	}
	if factory.count() != 1 {
		t.Fatalf("handles = %d before full download, want 1", factory.count())
	}

	resolver.completeFull()
	waitFor(t, "handover to full", func() bool { return l.Status().Source == SourceFull })

	next := factory.handle(1).snapshot()
	if next.pos != 20*time.Second {
		t.Errorf("resumed at %v, want 20s", next.pos)
	}
	if !next.playing {
		t.Error("full handle should be playing")
	}
	if l.State() != StatePlaying {
		t.Errorf("state = %s, want PLAYING", l.State())
	}
}

func TestChunkFailureFallsBackToRemote(t *testing.T) {
	l, resolver, factory, _ := newTestLoader(t)
	resolver.chunkErr = errors.New("range not satisfiable")

	if err := l.Load(context.Background(), testTrack(1)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	remote := factory.handle(0)
	if got := remote.snapshot().src; got.Kind != SourceRemote || got.URL == "" {
		t.Fatalf("first handle source = %+v, want remote with URL", got)
	}
	if l.CanSeek() {
		t.Error("seek should be unavailable on remote stream")
	}

	remote.setPosition(3 * time.Second)
	resolver.completeFull()
	waitFor(t, "handover to full", func() bool { return l.Status().Source == SourceFull })

	if pos := factory.handle(1).snapshot().pos; pos != 3*time.Second {
		t.Errorf("full handle position = %v, want 3s", pos)
	}
}

func TestFullFailureAfterChunkEndResumesRemoteAtPosition(t *testing.T) {
	l, resolver, factory, _ := newTestLoader(t)

	if err := l.Load(context.Background(), testTrack(1)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	factory.handle(0).end()
	if l.State() != StateBuffering {
		t.Fatalf("state after chunk end = %s, want BUFFERING", l.State())
	}

	resolver.failFull()
	waitFor(t, "recovery to remote", func() bool { return l.Status().Source == SourceRemote })

	remote := factory.handle(1).snapshot()
	if remote.src.Kind != SourceRemote {
		t.Fatalf("recovered source = %s, want remote", remote.src.Kind)
	}
	if remote.pos != 20*time.Second {
		t.Errorf("remote resumed at %v, want 20s", remote.pos)
	}
	if !remote.playing {
		t.Error("remote handle should be playing")
	}
	if l.State() != StatePlaying {
		t.Errorf("state = %s, want PLAYING", l.State())
	}
}

func TestOnlyOneHandoverAtATime(t *testing.T) {
	l, resolver, factory, sleeper := newTestLoader(t)
	sleeper.entered = make(chan struct{}, 1)
	sleeper.release = make(chan struct{})

	if err := l.Load(context.Background(), testTrack(1)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	factory.handle(0).setPosition(15 * time.Second)
	resolver.completeFull()
	waitFor(t, "full download", func() bool { return l.Status().FullReady })

	gen := currentGen(l)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.checkHandover(gen)
	}()

	<-sleeper.entered
	if !l.Status().Transitioning {
		t.Error("expected transition in progress")
	}
	l.checkHandover(gen)
	l.checkHandover(gen)
	if factory.count() != 2 {
		t.Errorf("handles during transition = %d, want 2", factory.count())
	}
	if err := l.Seek(time.Second); !errors.Is(err, ErrSeekUnavailable) {
		t.Errorf("Seek() during transition error = %v", err)
	}

	close(sleeper.release)
	wg.Wait()
	waitFor(t, "handover to full", func() bool { return l.Status().Source == SourceFull })
	if factory.count() != 2 {
		t.Errorf("handles after transition = %d, want 2", factory.count())
	}
}

func TestHandoverWhilePausedSkipsCrossfade(t *testing.T) {
	l, resolver, factory, sleeper := newTestLoader(t)

	if err := l.Load(context.Background(), testTrack(1)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	l.TogglePause()
	if l.State() != StatePaused {
		t.Fatalf("state = %s, want PAUSED", l.State())
	}

	factory.handle(0).setPosition(16 * time.Second)
	resolver.completeFull()
	waitFor(t, "handover to full", func() bool { return l.Status().Source == SourceFull })

	next := factory.handle(1).snapshot()
	if next.playing {
		t.Error("full handle should stay paused")
	}
	if len(sleeper.recorded()) != 0 {
		t.Error("paused handover should not crossfade")
	}
	if l.State() != StatePaused {
		t.Errorf("state = %s, want PAUSED", l.State())
	}

	l.TogglePause()
	if !factory.handle(1).snapshot().playing {
		t.Error("resume should play the full handle")
	}
}

func TestHandoverFallsBackToHardCut(t *testing.T) {
	l, resolver, factory, _ := newTestLoader(t)
	l.WithSleeper(func(ctx context.Context, d time.Duration) error {
		return errors.New("interrupted")
	})

	if err := l.Load(context.Background(), testTrack(1)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	chunk := factory.handle(0)
	chunk.setPosition(14 * time.Second)
	resolver.completeFull()
	waitFor(t, "handover to full", func() bool { return l.Status().Source == SourceFull })

	h := chunk.snapshot()
	if h.src.Kind != SourceFull || h.prepares != 2 {
		t.Errorf("hard cut handle source=%s prepares=%d, want full/2", h.src.Kind, h.prepares)
	}
	if h.pos != 14*time.Second || !h.playing {
		t.Errorf("hard cut handle pos=%v playing=%v", h.pos, h.playing)
	}
	if !factory.handle(1).snapshot().closed {
		t.Error("abandoned crossfade handle should be closed")
	}
}

func TestRecoveryUsesAlternateSource(t *testing.T) {
	l, resolver, factory, _ := newTestLoader(t)

	if err := l.Load(context.Background(), testTrack(1)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	factory.handle(0).setPosition(12 * time.Second)
	resolver.completeFull()
	waitFor(t, "handover to full", func() bool { return l.Status().Source == SourceFull })

	full := factory.handle(1)
	full.setPosition(13 * time.Second)
	full.fail(errors.New("decode error"))

	if l.Status().Source != SourceChunk {
		t.Fatalf("source after recovery = %s, want chunk", l.Status().Source)
	}
	recovered := factory.handle(2).snapshot()
	if recovered.pos != 13*time.Second || !recovered.playing {
		t.Errorf("recovered handle pos=%v playing=%v", recovered.pos, recovered.playing)
	}
	if !full.snapshot().closed {
		t.Error("failed handle should be closed")
	}
}

func TestRecoveryWithoutSourcesStops(t *testing.T) {
	l, _, factory, _ := newTestLoader(t)
	factory.failPrepare(SourceRemote, errors.New("unreachable"))

	if err := l.Load(context.Background(), testTrack(1)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	factory.handle(0).fail(errors.New("bad frame"))

	status := l.Status()
	if status.State != StateError {
		t.Errorf("state = %s, want ERROR", status.State)
	}
	if status.LastError != "Playback failed" {
		t.Errorf("LastError = %q", status.LastError)
	}
	if status.Source != SourceNone {
		t.Errorf("source = %s, want none", status.Source)
	}
}

func TestStreamURLFailureSurfacesError(t *testing.T) {
	l, resolver, factory, _ := newTestLoader(t)
	resolver.urlErr = errors.New("api request failed with status 500 after 3 attempts")

	if err := l.Load(context.Background(), testTrack(1)); err == nil {
		t.Fatal("Load() should fail")
	}
	if l.State() != StateError || l.LastError() != "Failed to get stream URL" {
		t.Errorf("state=%s lastError=%q", l.State(), l.LastError())
	}
	if factory.count() != 0 {
		t.Errorf("handles = %d, want 0", factory.count())
	}
}

func TestLoadSupersedesPreviousLoad(t *testing.T) {
	l, resolver, _, _ := newTestLoader(t)
	resolver.block["1"] = make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		errCh <- l.Load(context.Background(), testTrack(1))
	}()
	waitFor(t, "first load to start", func() bool {
		resolver.mu.Lock()
		defer resolver.mu.Unlock()
		return resolver.urlCalls == 1
	})

	if err := l.Load(context.Background(), testTrack(2)); err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Errorf("first Load() error = %v, want ErrSuperseded", err)
	}
	if got := l.Track(); got == nil || got.ID != 2 {
		t.Errorf("current track = %+v, want 2", got)
	}
	if l.State() != StatePlaying {
		t.Errorf("state = %s, want PLAYING", l.State())
	}
}

func TestTrackChangeReleasesPreviousHandles(t *testing.T) {
	l, _, factory, _ := newTestLoader(t)

	if err := l.Load(context.Background(), testTrack(1)); err != nil {
		t.Fatal(err)
	}
	first := factory.handle(0)
	if err := l.Load(context.Background(), testTrack(2)); err != nil {
		t.Fatal(err)
	}
	if !first.snapshot().closed {
		t.Error("previous track handle should be closed")
	}

	// Events from the old handle are ignored.
	first.end()
	if l.State() != StatePlaying {
		t.Errorf("state = %s, want PLAYING", l.State())
	}
}

func TestCacheHitPlaysFullDirectly(t *testing.T) {
	l, resolver, factory, _ := newTestLoader(t)
	cache := newFakeCache()
	cache.data["1"] = []byte("cached audio")
	l.WithCache(cache)

	if err := l.Load(context.Background(), testTrack(1)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if factory.handle(0).snapshot().src.Kind != SourceFull {
		t.Error("cached track should play from the full source")
	}
	if !l.CanSeek() {
		t.Error("cached track should be seekable")
	}

	resolver.mu.Lock()
	defer resolver.mu.Unlock()
	if resolver.urlCalls != 0 || resolver.rangeCalls != 0 || resolver.fullCalls != 0 {
		t.Errorf("resolver calls url=%d range=%d full=%d, want none", resolver.urlCalls, resolver.rangeCalls, resolver.fullCalls)
	}
}

func TestTrackEndCallback(t *testing.T) {
	l, _, factory, _ := newTestLoader(t)
	cache := newFakeCache()
	cache.data["5"] = []byte("cached audio")
	l.WithCache(cache)

	var ended *track.Track
	l.OnTrackEnd(func(t *track.Track) { ended = t })

	if err := l.Load(context.Background(), testTrack(5)); err != nil {
		t.Fatal(err)
	}
	factory.handle(0).end()

	if ended == nil || ended.ID != 5 {
		t.Errorf("OnTrackEnd got %+v, want track 5", ended)
	}
	if l.State() != StateIdle {
		t.Errorf("state = %s, want IDLE", l.State())
	}
}

func TestVolumeAndMute(t *testing.T) {
	l, _, factory, _ := newTestLoader(t)

	if err := l.Load(context.Background(), testTrack(1)); err != nil {
		t.Fatal(err)
	}
	h := factory.handle(0)

	l.SetVolume(0.5)
	if !l.ToggleMute() {
		t.Fatal("ToggleMute() = false, want true")
	}
	if l.ToggleMute() {
		t.Fatal("ToggleMute() = true, want false")
	}
	l.SetVolume(2)

	assertVolumes(t, "handle", h.snapshot().volumes, []float64{1, 0.5, 0, 0.5, 1})
	if l.Volume() != 1 {
		t.Errorf("Volume() = %v, want clamped 1", l.Volume())
	}
}

func TestSessionRestore(t *testing.T) {
	l, _, factory, _ := newTestLoader(t)
	l.RestoreSession(SessionState{Volume: 0.4, IsMuted: true, CurrentTime: 5, TrackID: "1"})

	if l.Volume() != 0.4 || !l.Muted() {
		t.Errorf("volume=%v muted=%v", l.Volume(), l.Muted())
	}

	if err := l.Load(context.Background(), testTrack(1)); err != nil {
		t.Fatal(err)
	}
	h := factory.handle(0).snapshot()
	if h.pos != 5*time.Second {
		t.Errorf("restored position = %v, want 5s", h.pos)
	}
	assertVolumes(t, "muted handle", h.volumes, []float64{0})

	s := l.Session()
	if s.TrackID != "1" || s.CurrentTime != 5 || !s.IsMuted || s.Volume != 0.4 {
		t.Errorf("Session() = %+v", s)
	}
}

func TestSessionRestoreIgnoresOtherTrack(t *testing.T) {
	l, _, factory, _ := newTestLoader(t)
	l.RestoreSession(SessionState{Volume: 1, CurrentTime: 5, TrackID: "99"})

	if err := l.Load(context.Background(), testTrack(1)); err != nil {
		t.Fatal(err)
	}
	if pos := factory.handle(0).snapshot().pos; pos != 0 {
		t.Errorf("position = %v, want 0 for a different track", pos)
	}
}

func TestStopReleasesEverything(t *testing.T) {
	l, _, factory, _ := newTestLoader(t)

	if err := l.Load(context.Background(), testTrack(1)); err != nil {
		t.Fatal(err)
	}
	l.Stop()

	if !factory.handle(0).snapshot().closed {
		t.Error("handle should be closed after Stop")
	}
	status := l.Status()
	if status.State != StateIdle || status.Track != nil || status.FullReady {
		t.Errorf("status after Stop = %+v", status)
	}
}

func assertVolumes(t *testing.T, name string, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("%s volumes = %v, want %v", name, got, want)
		return
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("%s volumes = %v, want %v", name, got, want)
			return
		}
	}
}
