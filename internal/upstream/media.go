package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const readBufferSize = 32 * 1024

// Media is a downloaded (possibly partial) audio file.
type Media struct {
	Data        []byte
	TotalSize   int64 // size of the whole file when known, else len(Data)
	ContentType string
}

// Complete reports whether Data holds the whole file.
func (m *Media) Complete() bool {
	return int64(len(m.Data)) >= m.TotalSize
}

// ProgressFunc receives download progress in whole percent.
type ProgressFunc func(percent int)

// FetchRange downloads bytes [start, end] of mediaURL. Servers that ignore the
// range header are read only up to the requested length.
func (c *Client) FetchRange(ctx context.Context, mediaURL string, start, end int64) (*Media, error) {
	if end < start {
		return nil, fmt.Errorf("invalid range %d-%d", start, end)
	}

	resp, err := c.openMedia(ctx, mediaURL, fmt.Sprintf("bytes=%d-%d", start, end))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch range: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, end-start+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read range: %w", err)
	}

	total := int64(len(data))
	if n, ok := ParseContentRangeTotal(resp.Header().Get("Content-Range")); ok {
		total = n
	} else if resp.StatusCode() == http.StatusOK && resp.RawResponse.ContentLength > 0 {
		total = resp.RawResponse.ContentLength
	}

	return &Media{
		Data:        data,
		TotalSize:   total,
		ContentType: resp.Header().Get("Content-Type"),
	}, nil
}

// FetchFull downloads the whole file, reporting progress when the size is known.
func (c *Client) FetchFull(ctx context.Context, mediaURL string, progress ProgressFunc) (*Media, error) {
	resp, err := c.openMedia(ctx, mediaURL, "")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	size := resp.RawResponse.ContentLength
	data, err := readWithProgress(body, size, progress)
	if err != nil {
		return nil, fmt.Errorf("failed to read media: %w", err)
	}

	return &Media{
		Data:        data,
		TotalSize:   int64(len(data)),
		ContentType: resp.Header().Get("Content-Type"),
	}, nil
}

// OpenStream opens mediaURL for progressive reading. The caller closes the body.
func (c *Client) OpenStream(ctx context.Context, mediaURL string) (io.ReadCloser, error) {
	resp, err := c.openMedia(ctx, mediaURL, "")
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	return resp.RawBody(), nil
}

func readWithProgress(r io.Reader, size int64, progress ProgressFunc) ([]byte, error) {
	var data []byte
	if size > 0 {
		data = make([]byte, 0, size)
	}

	buf := make([]byte, readBufferSize)
	last := -1
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
			if progress != nil && size > 0 {
				pct := int(int64(len(data)) * 100 / size)
				if pct > 100 {
					pct = 100
				}
				if pct != last {
					last = pct
					progress(pct)
				}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	if progress != nil && last != 100 {
		progress(100)
	}
	return data, nil
}

// ParseContentRangeTotal extracts the complete length from a Content-Range value
// such as "bytes 0-99/1234".
func ParseContentRangeTotal(header string) (int64, bool) {
	idx := strings.LastIndexByte(header, '/')
	if idx < 0 {
		return 0, false
	}
	total, err := strconv.ParseInt(strings.TrimSpace(header[idx+1:]), 10, 64)
	if err != nil || total <= 0 {
		return 0, false
	}
	return total, true
}
