package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	DefaultSampleRate = 48000
	DefaultBitrate    = "48k"
)

// CommandRunner executes an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands through os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// MergerConfig configures a Merger. Zero values fall back to defaults.
type MergerConfig struct {
	FFmpegPath string
	SampleRate int
	Bitrate    string
	TempDir    string
	Run        CommandRunner
}

// Merger combines voice segments into a single playable clip with ffmpeg.
type Merger struct {
	ffmpeg     string
	sampleRate int
	bitrate    string
	tempDir    string
	run        CommandRunner
}

func NewMerger(cfg MergerConfig) *Merger {
	m := &Merger{
		ffmpeg:     cfg.FFmpegPath,
		sampleRate: cfg.SampleRate,
		bitrate:    cfg.Bitrate,
		tempDir:    cfg.TempDir,
		run:        cfg.Run,
	}
	if m.ffmpeg == "" {
		m.ffmpeg = "ffmpeg"
	}
	if m.sampleRate <= 0 {
		m.sampleRate = DefaultSampleRate
	}
	if m.bitrate == "" {
		m.bitrate = DefaultBitrate
	}
	if m.tempDir == "" {
		m.tempDir = os.TempDir()
	}
	if m.run == nil {
		m.run = ExecRunner
	}
	return m
}

// Merge returns a single clip for segs.
//
//   - no segments: nil, nil (no voice reply)
//   - one segment: that segment, untouched
//   - several: a new OGG/Opus file concatenating them in order
//
// The merged file is new and owned by the caller. On error no output is left behind.
func (m *Merger) Merge(ctx context.Context, segs []Segment) (*Segment, error) {
	switch len(segs) {
	case 0:
		return nil, nil
	case 1:
		s := segs[0]
		return &s, nil
	}

	out := filepath.Join(m.tempDir, fmt.Sprintf("combined_%s.ogg", strings.ReplaceAll(uuid.NewString(), "-", "")))
	args := m.concatArgs(segs, out)

	if output, err := m.run(ctx, m.ffmpeg, args...); err != nil {
		os.Remove(out)
		return nil, fmt.Errorf("merge %d voice segments: %w: %s", len(segs), err, strings.TrimSpace(string(output)))
	}
	if fi, err := os.Stat(out); err != nil || fi.Size() == 0 {
		os.Remove(out)
		return nil, fmt.Errorf("merge %d voice segments: ffmpeg produced no output", len(segs))
	}
	return &Segment{Path: out}, nil
}

// concatArgs builds: -i a -i b ... -filter_complex "[0:a][1:a]concat=n=2:v=0:a=1,aresample=48000" -c:a libopus -b:a 48k out
func (m *Merger) concatArgs(segs []Segment, out string) []string {
	args := []string{"-y", "-loglevel", "error"}
	var streams strings.Builder
	for i, s := range segs {
		args = append(args, "-i", s.Path)
		fmt.Fprintf(&streams, "[%d:a]", i)
	}
	filter := fmt.Sprintf("%sconcat=n=%d:v=0:a=1,aresample=%s", streams.String(), len(segs), strconv.Itoa(m.sampleRate))
	return append(args,
		"-filter_complex", filter,
		"-c:a", "libopus",
		"-b:a", m.bitrate,
		out,
	)
}
