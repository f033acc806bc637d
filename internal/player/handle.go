package player

import (
	"context"
	"time"
)

// SourceKind identifies where a handle's audio comes from.
type SourceKind int

const (
	SourceNone SourceKind = iota
	// SourceChunk is the initial byte range held in memory.
	SourceChunk
	// SourceFull is the complete file held in memory.
	SourceFull
	// SourceRemote streams straight from the stream URL.
	SourceRemote
)

func (k SourceKind) String() string {
	switch k {
	case SourceChunk:
		return "chunk"
	case SourceFull:
		return "full"
	case SourceRemote:
		return "remote"
	default:
		return "none"
	}
}

// Source is audio that a Handle can be pointed at.
type Source struct {
	Kind      SourceKind
	Data      []byte
	URL       string
	TotalSize int64         // size of the whole file; larger than len(Data) for a chunk
	Duration  time.Duration // hint for sources that cannot report their own length
}

// Handle is a playable audio source. Handles start paused after Prepare.
type Handle interface {
	Prepare(ctx context.Context, src Source) error
	Play() error
	Pause()
	SetVolume(v float64) // linear 0..1
	Position() time.Duration
	Duration() time.Duration
	// Seek on a remote source only skips forward, and only before the first Play.
	Seek(d time.Duration) error
	Close() error
}

// HandleEvents are invoked from the audio goroutine. Implementations must not
// block in them.
type HandleEvents struct {
	OnEnded func()
	OnError func(err error)
}

// HandleFactory creates handles.
type HandleFactory interface {
	NewHandle(events HandleEvents) Handle
}

// HandleFactoryFunc adapts a function to HandleFactory.
type HandleFactoryFunc func(events HandleEvents) Handle

func (f HandleFactoryFunc) NewHandle(events HandleEvents) Handle {
	return f(events)
}
