// Package track defines the data structures for tracks returned by the music API.
package track

import (
	"fmt"
	"strconv"
)

// Images holds the album art variants for a track.
type Images struct {
	Small     string  `json:"small"`
	Thumbnail string  `json:"thumbnail"`
	Large     string  `json:"large"`
	Back      *string `json:"back"`
}

// AudioQuality describes the best available encoding of a track.
type AudioQuality struct {
	MaximumBitDepth     int     `json:"maximumBitDepth"`
	MaximumSamplingRate float64 `json:"maximumSamplingRate"` // kHz
	IsHiRes             bool    `json:"isHiRes"`
}

// Track is a playable unit as returned by the upstream search endpoint.
type Track struct {
	ID           int64        `json:"id"`
	Title        string       `json:"title"`
	Artist       string       `json:"artist"`
	ArtistID     int64        `json:"artistId,omitempty"`
	AlbumTitle   string       `json:"albumTitle,omitempty"`
	AlbumID      string       `json:"albumId,omitempty"`
	AlbumCover   string       `json:"albumCover,omitempty"`
	ReleaseDate  string       `json:"releaseDate,omitempty"`
	Genre        string       `json:"genre,omitempty"`
	Duration     int          `json:"duration"` // seconds
	Images       Images       `json:"images"`
	AudioQuality AudioQuality `json:"audioQuality"`
}

// Pagination is the paging block of a search response.
type Pagination struct {
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// SearchResponse is the body returned by the upstream search endpoint.
type SearchResponse struct {
	Tracks     []Track     `json:"tracks"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// IDString returns the track id in the form the stream endpoint expects.
func (t *Track) IDString() string {
	return strconv.FormatInt(t.ID, 10)
}

// DisplayName returns "Artist - Title", or just the title when the artist is unknown.
func (t *Track) DisplayName() string {
	if t.Artist == "" {
		return t.Title
	}
	return fmt.Sprintf("%s - %s", t.Artist, t.Title)
}

// OptimalImage returns the largest available artwork URL.
func (t *Track) OptimalImage() string {
	switch {
	case t.Images.Large != "":
		return t.Images.Large
	case t.Images.Small != "":
		return t.Images.Small
	default:
		return t.Images.Thumbnail
	}
}

// IsHighQuality reports whether the track is available above CD quality.
func (t *Track) IsHighQuality() bool {
	q := t.AudioQuality
	return q.IsHiRes || q.MaximumBitDepth > 16 || q.MaximumSamplingRate > 44.1
}

// QualityBadge returns a short label for the track quality, or "" for standard quality.
func (t *Track) QualityBadge() string {
	if t.AudioQuality.IsHiRes {
		return "Hi-Res"
	}
	if t.AudioQuality.MaximumBitDepth == 24 {
		return "HD"
	}
	return ""
}

// FormatDuration renders seconds as m:ss.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
