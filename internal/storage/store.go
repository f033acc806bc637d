// Package storage persists liked songs and the last player session in a
// bbolt database.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/glebovdev/openspot/internal/player"
	"github.com/glebovdev/openspot/internal/track"
	"go.etcd.io/bbolt"
)

const DefaultFileName = "openspot.db"

var (
	likedBucket   = []byte("liked")
	sessionBucket = []byte("session")
	sessionKey    = []byte("current")
	queueKey      = []byte("queue")
)

var ErrNotFound = errors.New("not found")

// SavedQueue is the play queue as it was when the player last quit.
type SavedQueue struct {
	Tracks  []track.Track `json:"tracks"`
	Current int           `json:"current"`
}

// LikedSong is a track the user liked, with the time it was liked.
type LikedSong struct {
	Track   track.Track `json:"track"`
	LikedAt time.Time   `json:"likedAt"`
}

type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	options := &bbolt.Options{Timeout: 1 * time.Second}
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("could not open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{likedBucket, sessionBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Like stores t as liked. Liking a song again refreshes its LikedAt.
func (s *Store) Like(t track.Track) (LikedSong, error) {
	song := LikedSong{Track: t, LikedAt: time.Now().UTC()}
	value, err := json.Marshal(song)
	if err != nil {
		return LikedSong{}, fmt.Errorf("error serializing liked song: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(likedBucket).Put([]byte(t.IDString()), value)
	})
	if err != nil {
		return LikedSong{}, err
	}
	return song, nil
}

// Unlike removes the song with the given id. Unknown ids return ErrNotFound.
func (s *Store) Unlike(trackID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(likedBucket)
		if b.Get([]byte(trackID)) == nil {
			return fmt.Errorf("liked song %s: %w", trackID, ErrNotFound)
		}
		return b.Delete([]byte(trackID))
	})
}

func (s *Store) IsLiked(trackID string) bool {
	var found bool
	_ = s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(likedBucket).Get([]byte(trackID)) != nil
		return nil
	})
	return found
}

// Liked returns all liked songs, most recently liked first.
func (s *Store) Liked() ([]LikedSong, error) {
	songs := []LikedSong{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(likedBucket).ForEach(func(k, v []byte) error {
			var song LikedSong
			if err := json.Unmarshal(v, &song); err != nil {
				return fmt.Errorf("error deserializing liked song %s: %w", k, err)
			}
			songs = append(songs, song)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(songs, func(i, j int) bool {
		return songs[i].LikedAt.After(songs[j].LikedAt)
	})
	return songs, nil
}

// ClearLiked removes every liked song.
func (s *Store) ClearLiked() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(likedBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(likedBucket)
		return err
	})
}

func (s *Store) SaveSession(state player.SessionState) error {
	value, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("error serializing session: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionBucket).Put(sessionKey, value)
	})
}

// LoadSession returns the saved session, or ErrNotFound if none was saved.
func (s *Store) LoadSession() (player.SessionState, error) {
	var state player.SessionState
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(sessionBucket).Get(sessionKey)
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &state)
	})
	return state, err
}

func (s *Store) SaveQueue(q SavedQueue) error {
	value, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("error serializing queue: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionBucket).Put(queueKey, value)
	})
}

// LoadQueue returns the saved queue, or ErrNotFound if none was saved.
func (s *Store) LoadQueue() (SavedQueue, error) {
	var q SavedQueue
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(sessionBucket).Get(queueKey)
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &q)
	})
	return q, err
}
