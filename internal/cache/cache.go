// Package cache keeps fully downloaded tracks on disk so replays skip the
// network.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultExpiry is how long cached tracks are valid (7 days).
	DefaultExpiry = 7 * 24 * time.Hour
	// DefaultMaxBytes caps the total size of the track cache.
	DefaultMaxBytes int64 = 2 << 30
	// TrackSubdir is the subdirectory for cached audio.
	TrackSubdir = "tracks"
	// AppName is used for the cache directory name.
	AppName = "openspot"

	trackExt = ".audio"
)

// Cache manages disk-based caching of downloaded tracks.
type Cache struct {
	baseDir  string
	expiry   time.Duration
	maxBytes int64
}

// NewCache creates a Cache in the user cache directory with default limits.
func NewCache() (*Cache, error) {
	cacheDir, err := GetCacheDir()
	if err != nil {
		return nil, err
	}
	return New(cacheDir, DefaultExpiry, DefaultMaxBytes), nil
}

// New creates a Cache rooted at baseDir. A maxBytes of zero disables the size cap.
func New(baseDir string, expiry time.Duration, maxBytes int64) *Cache {
	return &Cache{
		baseDir:  baseDir,
		expiry:   expiry,
		maxBytes: maxBytes,
	}
}

// GetCacheDir returns the platform-specific cache directory for the application.
func GetCacheDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user cache directory: %w", err)
	}

	return filepath.Join(userCacheDir, AppName), nil
}

func (c *Cache) trackDir() string {
	return filepath.Join(c.baseDir, TrackSubdir)
}

func (c *Cache) trackPath(trackID string) string {
	return filepath.Join(c.trackDir(), hashKey(trackID)+trackExt)
}

func hashKey(key string) string {
	hash := md5.Sum([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Get returns the cached audio for trackID. Expired entries are removed.
func (c *Cache) Get(trackID string) ([]byte, bool) {
	path := c.trackPath(trackID)

	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}

	if time.Since(info.ModTime()) > c.expiry {
		if err := os.Remove(path); err != nil {
			log.Debug().Err(err).Str("file", path).Msg("Failed to remove expired cache file")
		}
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Debug().Err(err).Str("file", path).Msg("Failed to read cached track")
		return nil, false
	}

	// Touch so the size cap evicts least recently played first.
	now := time.Now()
	_ = os.Chtimes(path, now, now)

	return data, true
}

// Save stores data for trackID, writing through a temp file so readers never
// see a partial track.
func (c *Cache) Save(trackID string, data []byte) error {
	dir := c.trackDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".track-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := os.Rename(tmpPath, c.trackPath(trackID)); err != nil {
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	tmpPath = ""

	return c.enforceLimit()
}

type cachedFile struct {
	path    string
	size    int64
	modTime time.Time
}

func (c *Cache) files() ([]cachedFile, error) {
	dir := c.trackDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	files := make([]cachedFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != trackExt {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			log.Debug().Err(err).Str("file", entry.Name()).Msg("Failed to get file info")
			continue
		}
		files = append(files, cachedFile{
			path:    filepath.Join(dir, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return files, nil
}

// enforceLimit evicts the oldest tracks until the cache fits in maxBytes.
func (c *Cache) enforceLimit() error {
	if c.maxBytes <= 0 {
		return nil
	}

	files, err := c.files()
	if err != nil {
		return err
	}

	var total int64
	for _, f := range files {
		total += f.size
	}
	if total <= c.maxBytes {
		return nil
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	var evicted int
	for _, f := range files {
		if total <= c.maxBytes {
			break
		}
		if err := os.Remove(f.path); err != nil {
			log.Debug().Err(err).Str("file", f.path).Msg("Failed to evict cached track")
			continue
		}
		total -= f.size
		evicted++
	}

	log.Debug().Int("evicted", evicted).Int64("bytes", total).Msg("Track cache trimmed")
	return nil
}

// Size returns the number of cached tracks and their total size in bytes.
func (c *Cache) Size() (int, int64, error) {
	files, err := c.files()
	if err != nil {
		return 0, 0, err
	}
	var total int64
	for _, f := range files {
		total += f.size
	}
	return len(files), total, nil
}

// CleanExpired removes cache files older than the expiry duration.
func (c *Cache) CleanExpired() error {
	files, err := c.files()
	if err != nil {
		return err
	}

	now := time.Now()
	var removed, failed int
	for _, f := range files {
		if now.Sub(f.modTime) <= c.expiry {
			continue
		}
		if err := os.Remove(f.path); err != nil {
			log.Debug().Err(err).Str("file", f.path).Msg("Failed to remove expired cache file")
			failed++
		} else {
			removed++
		}
	}

	if removed > 0 || failed > 0 {
		log.Debug().Int("removed", removed).Int("failed", failed).Msg("Cache cleanup completed")
	}

	return nil
}
