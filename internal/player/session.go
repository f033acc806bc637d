package player

import "time"

// SessionState is the player state persisted between runs.
type SessionState struct {
	Volume      float64 `json:"volume"`
	IsMuted     bool    `json:"isMuted"`
	CurrentTime float64 `json:"currentTime"` // seconds
	TrackID     string  `json:"trackId"`
}

type resumePoint struct {
	trackID string
	at      time.Duration
}

// Session captures the current volume, mute and position.
func (l *Loader) Session() SessionState {
	status := l.Status()
	s := SessionState{
		Volume:      status.Volume,
		IsMuted:     status.Muted,
		CurrentTime: status.Position.Seconds(),
	}
	if status.Track != nil {
		s.TrackID = status.Track.IDString()
	}
	return s
}

// RestoreSession applies volume and mute at once. The saved position is only
// used if the next loaded track is the one it was saved for.
func (l *Loader) RestoreSession(s SessionState) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.volume = clampVolume(s.Volume)
	l.muted = s.IsMuted
	l.resume = nil
	if s.TrackID != "" && s.CurrentTime > 0 {
		l.resume = &resumePoint{
			trackID: s.TrackID,
			at:      time.Duration(s.CurrentTime * float64(time.Second)),
		}
	}
}

// takeResumeLocked consumes the restored position if it belongs to trackID.
func (l *Loader) takeResumeLocked(trackID string) time.Duration {
	r := l.resume
	l.resume = nil
	if r == nil || r.trackID != trackID {
		return 0
	}
	return r.at
}
