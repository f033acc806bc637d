package player

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSampleRate = beep.SampleRate(44100)
	SpeakerBufferSize = time.Millisecond * 250
	ResampleQuality   = 4
)

var (
	ErrNotPrepared = errors.New("handle not prepared")
	ErrNotSeekable = errors.New("source is not seekable")
)

// Opener opens a remote audio stream.
type Opener func(ctx context.Context, url string) (io.ReadCloser, error)

// SpeakerFactory creates handles that play through the shared beep speaker.
// All handles are mixed at one output sample rate.
type SpeakerFactory struct {
	sampleRate beep.SampleRate
	opener     Opener

	initOnce sync.Once
	initErr  error
}

func NewSpeakerFactory(sampleRate int, opener Opener) *SpeakerFactory {
	sr := beep.SampleRate(sampleRate)
	if sr <= 0 {
		sr = DefaultSampleRate
	}
	return &SpeakerFactory{sampleRate: sr, opener: opener}
}

func (f *SpeakerFactory) init() error {
	f.initOnce.Do(func() {
		if err := speaker.Init(f.sampleRate, f.sampleRate.N(SpeakerBufferSize)); err != nil {
			f.initErr = fmt.Errorf("failed to initialize speaker: %w", err)
			return
		}
		log.Debug().Msgf("Speaker initialized with sample rate: %d Hz, buffer: %v", f.sampleRate, SpeakerBufferSize)
	})
	return f.initErr
}

func (f *SpeakerFactory) NewHandle(events HandleEvents) Handle {
	h := &SpeakerHandle{factory: f, events: events}
	h.volume = &effects.Volume{Base: 2, Volume: 0, Silent: true}
	h.ctrl = &beep.Ctrl{Streamer: h.volume, Paused: true}
	return h
}

// SpeakerHandle decodes FLAC or MP3 and feeds it to the speaker.
type SpeakerHandle struct {
	factory *SpeakerFactory
	events  HandleEvents

	mu       sync.Mutex
	decoder  beep.StreamSeekCloser
	body     io.Closer
	format   beep.Format
	kind     SourceKind
	length   int // playable samples at the decoder's rate
	duration time.Duration
	started  bool
	closed   bool

	// guarded by the speaker lock
	volume *effects.Volume
	ctrl   *beep.Ctrl
}

type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error { return nil }

type readCloser struct {
	io.Reader
	io.Closer
}

// Prepare decodes src and points the handle at it. A prepared handle can be
// re-pointed at another source by calling Prepare again.
func (h *SpeakerHandle) Prepare(ctx context.Context, src Source) error {
	if err := h.factory.init(); err != nil {
		return err
	}

	decoder, format, body, err := h.decode(ctx, src)
	if err != nil {
		return err
	}

	length := decoder.Len()
	duration := format.SampleRate.D(length)
	if src.Kind == SourceChunk && src.TotalSize > int64(len(src.Data)) && length > 0 {
		// The header describes the whole file; only a fraction of it is here.
		length = int(int64(length) * int64(len(src.Data)) / src.TotalSize)
		duration = format.SampleRate.D(length)
	}
	if length <= 0 && src.Duration > 0 {
		duration = src.Duration
	}

	var streamer beep.Streamer = decoder
	if format.SampleRate != h.factory.sampleRate {
		streamer = beep.Resample(ResampleQuality, format.SampleRate, h.factory.sampleRate, decoder)
	}
	seq := beep.Seq(streamer, beep.Callback(func() { h.finished(decoder) }))

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		decoder.Close()
		if body != nil {
			body.Close()
		}
		return ErrNotPrepared
	}
	oldDecoder, oldBody := h.decoder, h.body
	h.decoder = decoder
	h.body = body
	h.format = format
	h.kind = src.Kind
	h.length = length
	h.duration = duration
	h.mu.Unlock()

	speaker.Lock()
	h.volume.Streamer = seq
	speaker.Unlock()

	if oldDecoder != nil {
		oldDecoder.Close()
	}
	if oldBody != nil {
		oldBody.Close()
	}

	log.Debug().
		Str("source", src.Kind.String()).
		Int("sampleRate", int(format.SampleRate)).
		Dur("duration", duration).
		Msg("Audio handle prepared")
	return nil
}

func (h *SpeakerHandle) decode(ctx context.Context, src Source) (beep.StreamSeekCloser, beep.Format, io.Closer, error) {
	switch src.Kind {
	case SourceChunk, SourceFull:
		if len(src.Data) == 0 {
			return nil, beep.Format{}, nil, fmt.Errorf("empty %s source", src.Kind)
		}
		rc := readSeekNopCloser{bytes.NewReader(src.Data)}
		var (
			decoder beep.StreamSeekCloser
			format  beep.Format
			err     error
		)
		if isFLAC(src.Data) {
			decoder, format, err = flac.Decode(rc)
		} else {
			decoder, format, err = mp3.Decode(rc)
		}
		if err != nil {
			return nil, beep.Format{}, nil, fmt.Errorf("failed to decode %s source: %w", src.Kind, err)
		}
		return decoder, format, nil, nil

	case SourceRemote:
		if h.factory.opener == nil {
			return nil, beep.Format{}, nil, errors.New("no opener for remote source")
		}
		body, err := h.factory.opener(ctx, src.URL)
		if err != nil {
			return nil, beep.Format{}, nil, fmt.Errorf("failed to open stream: %w", err)
		}
		br := bufio.NewReaderSize(body, 64*1024)
		magic, _ := br.Peek(4)

		var (
			decoder beep.StreamSeekCloser
			format  beep.Format
		)
		if isFLAC(magic) {
			decoder, format, err = flac.Decode(br)
		} else {
			decoder, format, err = mp3.Decode(readCloser{Reader: br, Closer: body})
		}
		if err != nil {
			body.Close()
			return nil, beep.Format{}, nil, fmt.Errorf("failed to decode stream: %w", err)
		}
		return decoder, format, body, nil

	default:
		return nil, beep.Format{}, nil, fmt.Errorf("unknown source kind %d", src.Kind)
	}
}

func isFLAC(data []byte) bool {
	return len(data) >= 4 && string(data[:4]) == "fLaC"
}

// finished runs on the speaker goroutine with the speaker locked.
func (h *SpeakerHandle) finished(decoder beep.StreamSeekCloser) {
	h.mu.Lock()
	current := h.decoder == decoder && !h.closed
	kind := h.kind
	if current {
		// The mixer drops a drained streamer; the next Play has to add it back.
		h.started = false
	}
	h.mu.Unlock()
	if !current {
		return
	}

	err := decoder.Err()
	// A chunk is cut mid-frame, so a decode error at its end is a normal end.
	if err != nil && kind != SourceChunk {
		if h.events.OnError != nil {
			go h.events.OnError(err)
		}
		return
	}
	if h.events.OnEnded != nil {
		go h.events.OnEnded()
	}
}

func (h *SpeakerHandle) Play() error {
	h.mu.Lock()
	if h.decoder == nil || h.closed {
		h.mu.Unlock()
		return ErrNotPrepared
	}
	first := !h.started
	h.started = true
	h.mu.Unlock()

	speaker.Lock()
	h.ctrl.Paused = false
	speaker.Unlock()

	if first {
		speaker.Play(h.ctrl)
	}
	return nil
}

func (h *SpeakerHandle) Pause() {
	speaker.Lock()
	h.ctrl.Paused = true
	speaker.Unlock()
}

func (h *SpeakerHandle) SetVolume(v float64) {
	v = clampVolume(v)
	speaker.Lock()
	h.volume.Volume = percentToExponent(v * 100)
	h.volume.Silent = v == 0
	speaker.Unlock()
}

func (h *SpeakerHandle) Position() time.Duration {
	h.mu.Lock()
	decoder, format := h.decoder, h.format
	h.mu.Unlock()
	if decoder == nil {
		return 0
	}

	speaker.Lock()
	pos := decoder.Position()
	speaker.Unlock()
	return format.SampleRate.D(pos)
}

func (h *SpeakerHandle) Duration() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.duration
}

func (h *SpeakerHandle) Seek(d time.Duration) error {
	h.mu.Lock()
	decoder, format, kind, length, started := h.decoder, h.format, h.kind, h.length, h.started
	h.mu.Unlock()
	if decoder == nil {
		return ErrNotPrepared
	}

	target := format.SampleRate.N(d)
	if target < 0 {
		target = 0
	}
	if kind == SourceRemote {
		// A stream only moves forward, and only before it reaches the mixer.
		if started || target < decoder.Position() {
			return ErrNotSeekable
		}
		return skipSamples(decoder, target)
	}
	if length > 0 && target >= length {
		target = length - 1
	}

	speaker.Lock()
	err := decoder.Seek(target)
	speaker.Unlock()
	if err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	return nil
}

// skipSamples decodes and discards audio until the decoder reaches target.
func skipSamples(decoder beep.StreamSeekCloser, target int) error {
	buf := make([][2]float64, 4096)
	for decoder.Position() < target {
		n := min(len(buf), target-decoder.Position())
		got, ok := decoder.Stream(buf[:n])
		if !ok || got == 0 {
			if err := decoder.Err(); err != nil {
				return fmt.Errorf("failed to skip stream: %w", err)
			}
			return ErrNotSeekable
		}
	}
	return nil
}

func (h *SpeakerHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	decoder, body := h.decoder, h.body
	h.decoder, h.body = nil, nil
	h.mu.Unlock()

	speaker.Lock()
	h.ctrl.Streamer = nil
	speaker.Unlock()

	var err error
	if decoder != nil {
		err = decoder.Close()
	}
	if body != nil {
		if cerr := body.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
