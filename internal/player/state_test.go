package player

import (
	"fmt"
	"testing"
)

func TestPercentToExponent(t *testing.T) {
	tests := []struct {
		percent  float64
		expected float64
	}{
		{0, MinVolumeDB},
		{100, 0},
		{-10, MinVolumeDB},
		{150, 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("percent_%v", tt.percent), func(t *testing.T) {
			result := percentToExponent(tt.percent)
			if result != tt.expected {
				t.Errorf("percentToExponent(%v) = %v, want %v", tt.percent, result, tt.expected)
			}
		})
	}
}

func TestPercentToExponentCurve(t *testing.T) {
	p25 := percentToExponent(25)
	p50 := percentToExponent(50)
	p75 := percentToExponent(75)

	if p25 >= p50 || p50 >= p75 {
		t.Error("Volume curve should be monotonically increasing")
	}

	if p25 <= MinVolumeDB || p75 >= 0 {
		t.Error("Mid-range volumes should be between min and max")
	}
}

func TestPlayerStateString(t *testing.T) {
	tests := []struct {
		state    PlayerState
		expected string
	}{
		{StateIdle, "IDLE"},
		{StateLoading, "LOADING"},
		{StateBuffering, "BUFFERING"},
		{StatePlaying, "PLAYING"},
		{StatePaused, "PAUSED"},
		{StateError, "ERROR"},
		{PlayerState(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := tt.state.String()
			if result != tt.expected {
				t.Errorf("PlayerState(%d).String() = %q, want %q", tt.state, result, tt.expected)
			}
		})
	}
}

func TestSourceKindString(t *testing.T) {
	tests := []struct {
		kind     SourceKind
		expected string
	}{
		{SourceNone, "none"},
		{SourceChunk, "chunk"},
		{SourceFull, "full"},
		{SourceRemote, "remote"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.expected {
			t.Errorf("SourceKind(%d).String() = %q, want %q", tt.kind, got, tt.expected)
		}
	}
}

func TestClampVolume(t *testing.T) {
	tests := []struct {
		in, expected float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{3, 1},
	}

	for _, tt := range tests {
		if got := clampVolume(tt.in); got != tt.expected {
			t.Errorf("clampVolume(%v) = %v, want %v", tt.in, got, tt.expected)
		}
	}
}

func TestIsFLAC(t *testing.T) {
	if !isFLAC([]byte("fLaC\x00\x00")) {
		t.Error("isFLAC should detect the stream marker")
	}
	if isFLAC([]byte("ID3")) || isFLAC(nil) {
		t.Error("isFLAC should reject other data")
	}
}
