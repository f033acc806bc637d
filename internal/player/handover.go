package player

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// ShouldHandover reports whether playback at pos in a chunk of length dur has
// reached the switch point. Either threshold is sufficient, so the earlier of
// dur-margin and ratio*dur wins.
func ShouldHandover(pos, dur, margin time.Duration, ratio float64) bool {
	if dur <= 0 {
		return false
	}
	return pos >= HandoverAt(dur, margin, ratio)
}

// HandoverAt returns the earliest position at which a chunk of length dur is
// handed over to the full file.
func HandoverAt(dur, margin time.Duration, ratio float64) time.Duration {
	byMargin := dur - margin
	byRatio := time.Duration(float64(dur) * ratio)
	at := min(byMargin, byRatio)
	if at < 0 {
		return 0
	}
	return at
}

// checkHandover starts a switch to the full file when it is ready and the
// current source calls for it. At most one switch runs at a time.
func (l *Loader) checkHandover(gen uint64) {
	l.mu.Lock()
	if gen != l.gen || l.transitioning || l.full == nil || l.active == nil || l.activeKind == SourceFull {
		l.mu.Unlock()
		return
	}

	var pos time.Duration
	switch {
	case l.chunkEnded:
		pos = l.endedAt
	case l.activeKind == SourceChunk:
		pos = l.active.Position()
		if !ShouldHandover(pos, l.active.Duration(), l.opts.HandoverMargin, l.opts.HandoverRatio) {
			l.mu.Unlock()
			return
		}
	default:
		// Remote streams switch as soon as the file is here.
		pos = l.active.Position()
	}
	if l.resumeAt > pos {
		pos = l.resumeAt
	}
	l.transitioning = true
	l.mu.Unlock()

	l.handover(gen, pos)
}

func (l *Loader) handover(gen uint64, pos time.Duration) {
	l.mu.Lock()
	old := l.active
	full := *l.full
	playing := l.wantPlaying
	vol := l.effectiveVolumeLocked()
	ctx := l.ctx
	l.mu.Unlock()

	log.Debug().Dur("position", pos).Bool("playing", playing).Msg("Handing over to full track")

	next, err := l.prepareAt(ctx, gen, full, pos)
	if err == nil {
		if playing {
			err = l.crossfade(ctx, old, next, vol)
		} else {
			next.SetVolume(vol)
		}
	}

	if err != nil {
		closeHandle(next)
		if ctx.Err() != nil || !l.isCurrent(gen) {
			return
		}
		log.Warn().Err(err).Msg("Seamless switch failed, falling back to hard cut")

		if cutErr := l.hardCut(ctx, old, full, pos, playing, vol); cutErr != nil {
			log.Warn().Err(cutErr).Msg("Hard cut failed")
			l.mu.Lock()
			if gen == l.gen {
				l.transitioning = false
			}
			l.mu.Unlock()
			_ = l.recover(gen, SourceFull, pos)
			return
		}
		next = old
	}

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		if next != old {
			closeHandle(next)
		}
		return
	}
	replaced := l.active
	l.active = next
	l.activeKind = SourceFull
	l.transitioning = false
	l.chunkEnded = false
	l.resumeAt = 0
	if playing {
		l.state = StatePlaying
	}
	l.mu.Unlock()

	if replaced != nil && replaced != next {
		closeHandle(replaced)
	}
	log.Debug().Msg("Now playing from full track")
}

func (l *Loader) prepareAt(ctx context.Context, gen uint64, src Source, pos time.Duration) (Handle, error) {
	prepCtx, cancel := context.WithTimeout(ctx, l.opts.PrepareTimeout)
	defer cancel()

	h := l.newHandle(gen)
	if err := h.Prepare(prepCtx, src); err != nil {
		closeHandle(h)
		return nil, err
	}
	h.SetVolume(0)
	if pos > 0 {
		if err := h.Seek(pos); err != nil {
			closeHandle(h)
			return nil, err
		}
	}
	return h, nil
}

// crossfade starts next silently and ramps it up while ramping old down.
func (l *Loader) crossfade(ctx context.Context, old, next Handle, vol float64) error {
	if err := next.Play(); err != nil {
		return err
	}

	steps := l.opts.CrossfadeSteps
	interval := l.opts.CrossfadeDuration / time.Duration(steps)
	for i := 1; i <= steps; i++ {
		if err := l.sleep(ctx, interval); err != nil {
			next.Pause()
			old.SetVolume(vol)
			return err
		}
		frac := float64(i) / float64(steps)
		next.SetVolume(vol * frac)
		old.SetVolume(vol * (1 - frac))
	}
	old.Pause()
	return nil
}

// hardCut re-points the single handle h at src.
func (l *Loader) hardCut(ctx context.Context, h Handle, src Source, pos time.Duration, playing bool, vol float64) error {
	h.Pause()
	if err := h.Prepare(ctx, src); err != nil {
		return err
	}
	h.SetVolume(vol)
	if err := h.Seek(pos); err != nil {
		log.Debug().Err(err).Dur("position", pos).Msg("Could not restore position after hard cut")
	}
	if playing {
		return h.Play()
	}
	return nil
}
