// Package playqueue keeps the ordered list of tracks to play along with the
// current position, shuffle and repeat state.
package playqueue

import (
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/glebovdev/openspot/internal/track"
)

var ErrIndexOutOfRange = errors.New("queue index out of range")

// RepeatMode controls what happens at the end of the queue.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatAll
	RepeatOne
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatAll:
		return "all"
	case RepeatOne:
		return "one"
	default:
		return "off"
	}
}

// Queue is safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	tracks   []*track.Track
	order    []int // permutation of track indexes, identity when not shuffled
	pos      int   // position in order, -1 when empty
	shuffled bool
	repeat   RepeatMode
	rand     *rand.Rand
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		pos:  -1,
		rand: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x2545f4914f6cdd1d)),
	}
}

// WithRand replaces the shuffle source.
func (q *Queue) WithRand(r *rand.Rand) *Queue {
	q.mu.Lock()
	q.rand = r
	q.mu.Unlock()
	return q
}

// SetTracks replaces the queue contents and selects start. Out-of-range starts
// are clamped. Under shuffle the started track leads the new random order.
func (q *Queue) SetTracks(tracks []*track.Track, start int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tracks = append([]*track.Track(nil), tracks...)
	if len(q.tracks) == 0 {
		q.order = nil
		q.pos = -1
		return
	}

	start = clamp(start, 0, len(q.tracks)-1)
	if q.shuffled {
		q.order = q.shuffledOrder(start)
		q.pos = 0
		return
	}
	q.order = identity(len(q.tracks))
	q.pos = start
}

// Add appends a track to the end of the queue.
func (q *Queue) Add(t *track.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tracks = append(q.tracks, t)
	q.order = append(q.order, len(q.tracks)-1)
	if q.pos < 0 {
		q.pos = 0
	}
}

// Next advances and returns the new current track, or nil when playback should
// stop. The position is unchanged when nil is returned.
func (q *Queue) Next() *track.Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pos < 0 {
		return nil
	}
	if q.repeat == RepeatOne {
		return q.currentLocked()
	}
	if q.pos+1 < len(q.order) {
		q.pos++
		return q.currentLocked()
	}

	switch {
	case q.repeat == RepeatAll:
		q.pos = 0
	case q.shuffled:
		q.reshuffleFrom(q.order[q.pos])
	default:
		return nil
	}
	return q.currentLocked()
}

// Previous steps back. It wraps to the end only under RepeatAll.
func (q *Queue) Previous() *track.Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pos < 0 {
		return nil
	}
	if q.pos > 0 {
		q.pos--
		return q.currentLocked()
	}
	if q.repeat == RepeatAll {
		q.pos = len(q.order) - 1
		return q.currentLocked()
	}
	return nil
}

// ToggleShuffle flips shuffle and returns the new state. The current track stays current.
func (q *Queue) ToggleShuffle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.shuffled = !q.shuffled
	if q.pos < 0 {
		return q.shuffled
	}

	current := q.order[q.pos]
	if q.shuffled {
		q.order = q.shuffledOrder(current)
		q.pos = 0
	} else {
		q.order = identity(len(q.tracks))
		q.pos = current
	}
	return q.shuffled
}

// ToggleRepeat cycles off, all, one and back to off.
func (q *Queue) ToggleRepeat() RepeatMode {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.repeat = (q.repeat + 1) % 3
	return q.repeat
}

// SetRepeat sets the repeat mode directly.
func (q *Queue) SetRepeat(m RepeatMode) {
	q.mu.Lock()
	q.repeat = m
	q.mu.Unlock()
}

// SetCurrentIndex makes the track at index i (in insertion order) current.
func (q *Queue) SetCurrentIndex(i int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if i < 0 || i >= len(q.tracks) {
		return ErrIndexOutOfRange
	}
	for p, idx := range q.order {
		if idx == i {
			q.pos = p
			break
		}
	}
	return nil
}

// RemoveAt removes the track at index i (in insertion order). Removing the
// current track moves to the one that followed it.
func (q *Queue) RemoveAt(i int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if i < 0 || i >= len(q.tracks) {
		return ErrIndexOutOfRange
	}

	q.tracks = append(q.tracks[:i], q.tracks[i+1:]...)
	if len(q.tracks) == 0 {
		q.order = nil
		q.pos = -1
		return nil
	}

	removedPos := -1
	order := make([]int, 0, len(q.order)-1)
	for p, idx := range q.order {
		switch {
		case idx == i:
			removedPos = p
		case idx > i:
			order = append(order, idx-1)
		default:
			order = append(order, idx)
		}
	}
	q.order = order

	if removedPos < q.pos {
		q.pos--
	}
	q.pos = clamp(q.pos, 0, len(q.order)-1)
	return nil
}

// Clear empties the queue. Shuffle and repeat settings are kept.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.tracks = nil
	q.order = nil
	q.pos = -1
	q.mu.Unlock()
}

// Current returns the current track or nil.
func (q *Queue) Current() *track.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentLocked()
}

// CurrentIndex returns the insertion-order index of the current track, or -1.
func (q *Queue) CurrentIndex() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pos < 0 {
		return -1
	}
	return q.order[q.pos]
}

// Tracks returns the tracks in insertion order.
func (q *Queue) Tracks() []*track.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*track.Track(nil), q.tracks...)
}

// Upcoming returns the tracks that will play after the current one, in play order.
func (q *Queue) Upcoming() []*track.Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pos < 0 {
		return nil
	}
	upcoming := make([]*track.Track, 0, len(q.order)-q.pos-1)
	for _, idx := range q.order[q.pos+1:] {
		upcoming = append(upcoming, q.tracks[idx])
	}
	return upcoming
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks)
}

func (q *Queue) Shuffled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuffled
}

func (q *Queue) Repeat() RepeatMode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.repeat
}

func (q *Queue) currentLocked() *track.Track {
	if q.pos < 0 {
		return nil
	}
	return q.tracks[q.order[q.pos]]
}

// shuffledOrder returns a random permutation with anchor first.
func (q *Queue) shuffledOrder(anchor int) []int {
	rest := make([]int, 0, len(q.tracks)-1)
	for i := range q.tracks {
		if i != anchor {
			rest = append(rest, i)
		}
	}
	q.rand.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	return append([]int{anchor}, rest...)
}

// reshuffleFrom starts a fresh random pass that does not open with last.
func (q *Queue) reshuffleFrom(last int) {
	order := identity(len(q.tracks))
	q.rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	if len(order) > 1 && order[0] == last {
		order[0], order[len(order)-1] = order[len(order)-1], order[0]
	}
	q.order = order
	q.pos = 0
}

func identity(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
