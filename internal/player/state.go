package player

import "math"

const (
	VolumeCurveExponent = 0.5
	MinVolumeDB         = -10.0
)

type PlayerState int

const (
	StateIdle PlayerState = iota
	StateLoading
	StateBuffering
	StatePlaying
	StatePaused
	StateError
)

func (s PlayerState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateLoading:
		return "LOADING"
	case StateBuffering:
		return "BUFFERING"
	case StatePlaying:
		return "PLAYING"
	case StatePaused:
		return "PAUSED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// percentToExponent maps a 0-100 volume onto the exponent used by effects.Volume
// with base 2, so that perceived loudness grows roughly linearly.
func percentToExponent(p float64) float64 {
	if p <= 0 {
		return MinVolumeDB
	}
	if p >= 100 {
		return 0
	}

	normalized := p / 100.0
	adjusted := math.Pow(normalized, VolumeCurveExponent)
	return (1.0 - adjusted) * MinVolumeDB
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
