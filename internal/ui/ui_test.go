package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/glebovdev/openspot/internal/player"
	"github.com/glebovdev/openspot/internal/track"
)

func TestNewPlayingSpinner(t *testing.T) {
	spinner := NewPlayingSpinner()

	if spinner == nil {
		t.Fatal("NewPlayingSpinner() returned nil")
	}

	if len(spinner.Frames) < 2 {
		t.Errorf("Expected at least 2 frames, got %d", len(spinner.Frames))
	}

	for i, frame := range spinner.Frames {
		if frame == "" {
			t.Errorf("Frame[%d] is empty", i)
		}
	}

	if spinner.FPS <= 0 {
		t.Error("PlayingSpinner.FPS should be positive")
	}
}

func TestJoinParts(t *testing.T) {
	tests := []struct {
		name     string
		parts    []string
		expected string
	}{
		{"empty slice", []string{}, ""},
		{"nil slice", nil, ""},
		{"single part", []string{"PLAYING"}, "PLAYING"},
		{"two parts", []string{"PLAYING", "FULL"}, "PLAYING │ FULL"},
		{"skips empty", []string{"PLAYING", "", "▁▂▃▅▇"}, "PLAYING │ ▁▂▃▅▇"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := joinParts(tt.parts)
			if result != tt.expected {
				t.Errorf("joinParts(%v) = %q, want %q", tt.parts, result, tt.expected)
			}
		})
	}
}

func TestFriendlyErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"no such host", errors.New("dial tcp: lookup example.com: no such host"), "Unable to connect"},
		{"connection refused", errors.New("dial tcp 127.0.0.1:80: connection refused"), "Connection refused"},
		{"timeout", errors.New("context deadline exceeded"), "timed out"},
		{"unreachable", errors.New("connect: network is unreachable"), "unreachable"},
		{"forbidden", errors.New("api request failed with status 403"), "forbidden"},
		{"not found", errors.New("api request failed with status 404"), "not found"},
		{"rate limited", errors.New("api request failed with status 429 after 3 attempts"), "Too many requests"},
		{"server error", errors.New("api request failed with status 503 after 3 attempts"), "having trouble"},
		{"no source", player.ErrNoSource, "No playable source"},
		{"dial suffix", errors.New("failed to fetch: dial tcp 10.0.0.1:443"), "failed to fetch"},
		{"passthrough", errors.New("something odd"), "something odd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := friendlyErrorMessage(tt.err.Error())
			if !strings.Contains(result, tt.contains) {
				t.Errorf("friendlyErrorMessage(%q) = %q, want it to contain %q", tt.err, result, tt.contains)
			}
		})
	}
}

func TestFriendlyErrorMessageTruncates(t *testing.T) {
	long := strings.Repeat("x", 150)
	result := friendlyErrorMessage(long)
	if len(result) != 103 || !strings.HasSuffix(result, "...") {
		t.Errorf("friendlyErrorMessage() length = %d, want truncated to 103", len(result))
	}
}

func TestRenderProgress(t *testing.T) {
	tr := &track.Track{ID: 1, Title: "Song"}

	if got := renderProgress(player.Status{}, ""); got != "" {
		t.Errorf("renderProgress() without track = %q, want empty", got)
	}

	status := player.Status{
		Track:    tr,
		Position: 30 * time.Second,
		Duration: 2 * time.Minute,
		CanSeek:  true,
	}
	got := renderProgress(status, "")
	want := "0:30 " + strings.Repeat("━", 10) + strings.Repeat("─", 30) + " 2:00"
	if got != want {
		t.Errorf("renderProgress() = %q, want %q", got, want)
	}

	status.CanSeek = false
	if got := renderProgress(status, ""); !strings.Contains(got, "seek unavailable") {
		t.Errorf("renderProgress() = %q, want seek hint", got)
	}

	status.Position = 5 * time.Minute
	status.CanSeek = true
	got = renderProgress(status, "")
	if strings.Contains(got, "─") {
		t.Errorf("renderProgress() past the end = %q, want a full bar", got)
	}
}

func TestViewCycle(t *testing.T) {
	v := ViewResults
	names := []string{}
	for range 4 {
		names = append(names, v.String())
		v = v.next()
	}
	want := "Results,Queue,Liked,Results"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("view cycle = %s, want %s", got, want)
	}
	if View(7).String() != "Unknown" {
		t.Errorf("View(7).String() = %q, want Unknown", View(7).String())
	}
}

func TestVolumePercent(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{0, 0},
		{0.704, 70},
		{1, 100},
		{1.5, 100},
		{-1, 0},
	}
	for _, tt := range tests {
		if got := volumePercent(tt.in); got != tt.want {
			t.Errorf("volumePercent(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

type staticStatus struct {
	status player.Status
}

func (s *staticStatus) Status() player.Status {
	return s.status
}

func TestStatusRendererRender(t *testing.T) {
	tr := &track.Track{ID: 1, Title: "Song"}

	tests := []struct {
		name     string
		status   player.Status
		contains []string
	}{
		{"idle", player.Status{}, []string{"IDLE"}},
		{"idle muted", player.Status{Muted: true}, []string{"IDLE", "MUTED"}},
		{"loading", player.Status{State: player.StateLoading, Track: tr}, []string{"LOADING"}},
		{"buffering", player.Status{State: player.StateBuffering, Track: tr, DownloadProgress: 40}, []string{"BUFFERING", "40%"}},
		{"playing preview", player.Status{State: player.StatePlaying, Track: tr, Source: player.SourceChunk, DownloadProgress: 60}, []string{"PLAYING", "PREVIEW", "60%"}},
		{"playing full", player.Status{State: player.StatePlaying, Track: tr, Source: player.SourceFull, FullReady: true}, []string{"PLAYING", "FULL", "▁▂▃▅▇"}},
		{"playing stream muted", player.Status{State: player.StatePlaying, Track: tr, Source: player.SourceRemote, Muted: true}, []string{"STREAM", "MUTED"}},
		{"paused", player.Status{State: player.StatePaused, Track: tr, Source: player.SourceFull}, []string{"PAUSED", "FULL"}},
		{"error", player.Status{State: player.StateError, LastError: "boom"}, []string{"✗ boom"}},
		{"error without message", player.Status{State: player.StateError}, []string{"ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewStatusRenderer(&staticStatus{status: tt.status})
			got := r.Render()
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("Render() = %q, want it to contain %q", got, want)
				}
			}
		})
	}
}

func TestStatusRendererAnimation(t *testing.T) {
	r := NewStatusRenderer(&staticStatus{status: player.Status{State: player.StateLoading}})
	first := r.Render()

	for range r.ticksPerFrame - 1 {
		r.AdvanceAnimation()
	}
	if got := r.Render(); got != first {
		t.Errorf("frame changed before %d ticks: %q -> %q", r.ticksPerFrame, first, got)
	}

	r.AdvanceAnimation()
	if got := r.Render(); got == first {
		t.Error("frame did not advance after a full tick cycle")
	}
}

func TestStatusRendererPrimaryColor(t *testing.T) {
	r := NewStatusRenderer(&staticStatus{status: player.Status{State: player.StatePlaying}})
	r.SetPrimaryColor("red")
	if got := r.Render(); !strings.HasPrefix(got, "[red]") {
		t.Errorf("Render() = %q, want colored indicator", got)
	}
}

func TestFormatDownload(t *testing.T) {
	if got := formatDownload(player.Status{DownloadProgress: 0}); got != "▁▁▁▁▁ 0%" {
		t.Errorf("formatDownload(0) = %q", got)
	}
	if got := formatDownload(player.Status{DownloadProgress: 100}); got != "▁▂▃▅▇ 100%" {
		t.Errorf("formatDownload(100) = %q", got)
	}
}
