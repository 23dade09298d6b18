// Package audio holds voice segment handling for outbound replies:
// segment ownership/cleanup and merging several clips into one.
package audio

import (
	"log/slog"
	"os"
)

// Segment is an encoded audio file on local disk (OGG/Opus for Telegram voice).
type Segment struct {
	Path string
}

// Size returns the file size in bytes, or 0 if the file cannot be stat'ed.
func (s Segment) Size() int64 {
	fi, err := os.Stat(s.Path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// NonEmpty drops segments whose file is missing or zero bytes.
func NonEmpty(segs []Segment) []Segment {
	out := make([]Segment, 0, len(segs))
	for _, s := range segs {
		if s.Path != "" && s.Size() > 0 {
			out = append(out, s)
		}
	}
	return out
}

// Cleanup collects temp files owned by a task and removes them on Close.
// The zero value is ready to use. Not safe for concurrent use.
type Cleanup struct {
	paths []string
}

// Track registers segments for removal.
func (c *Cleanup) Track(segs ...Segment) {
	for _, s := range segs {
		if s.Path != "" {
			c.paths = append(c.paths, s.Path)
		}
	}
}

// Close removes every tracked file. Missing files are ignored.
func (c *Cleanup) Close() {
	for _, p := range c.paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Debug("audio: remove temp file failed", "path", p, "error", err)
		}
	}
	c.paths = nil
}
