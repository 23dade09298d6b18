// Package tts renders replies to speech with the piper CLI.
//
// In file mode each group of sentences becomes one OGG/Opus segment suitable
// for Telegram voice messages. In device mode the whole reply is played on the
// local audio device and no segments are returned.
package tts

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/voicebridge/internal/audio"
	"github.com/nextlevelbuilder/voicebridge/internal/textchunk"
)

// Mode selects where synthesized speech goes.
type Mode string

const (
	ModeFile   Mode = "file"
	ModeDevice Mode = "device"
	ModeOff    Mode = "off"
)

// ParseMode maps a config value to a Mode. Empty means file.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFile:
		return ModeFile, nil
	case ModeDevice:
		return ModeDevice, nil
	case ModeOff:
		return ModeOff, nil
	}
	return "", fmt.Errorf("unknown tts mode %q", s)
}

// InputRunner executes a command with stdin and returns its combined output.
type InputRunner func(ctx context.Context, stdin, name string, args ...string) ([]byte, error)

// ExecInputRunner runs commands through os/exec, feeding stdin.
func ExecInputRunner(ctx context.Context, stdin, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Config configures a Piper. Zero values fall back to defaults.
type Config struct {
	Mode                Mode
	PiperPath           string
	Voice               string
	PlayerCmd           []string
	FFmpegPath          string
	SampleRate          int
	Bitrate             string
	TempDir             string
	Parallel            int
	SentencesPerSegment int

	// Speak runs piper; Run runs ffmpeg and the player.
	Speak InputRunner
	Run   audio.CommandRunner
}

// Piper implements delivery.Synthesizer.
type Piper struct {
	mu   sync.RWMutex
	mode Mode

	piper      string
	voice      string
	player     []string
	ffmpeg     string
	sampleRate int
	bitrate    string
	tempDir    string
	parallel   int
	perSegment int
	speak      InputRunner
	run        audio.CommandRunner
}

func New(cfg Config) *Piper {
	p := &Piper{
		mode:       cfg.Mode,
		piper:      cfg.PiperPath,
		voice:      cfg.Voice,
		player:     cfg.PlayerCmd,
		ffmpeg:     cfg.FFmpegPath,
		sampleRate: cfg.SampleRate,
		bitrate:    cfg.Bitrate,
		tempDir:    cfg.TempDir,
		parallel:   cfg.Parallel,
		perSegment: cfg.SentencesPerSegment,
		speak:      cfg.Speak,
		run:        cfg.Run,
	}
	if p.mode == "" {
		p.mode = ModeFile
	}
	if p.piper == "" {
		p.piper = "piper"
	}
	if len(p.player) == 0 {
		p.player = []string{"aplay", "-q"}
	}
	if p.ffmpeg == "" {
		p.ffmpeg = "ffmpeg"
	}
	if p.sampleRate <= 0 {
		p.sampleRate = audio.DefaultSampleRate
	}
	if p.bitrate == "" {
		p.bitrate = audio.DefaultBitrate
	}
	if p.tempDir == "" {
		p.tempDir = os.TempDir()
	}
	if p.parallel <= 0 {
		p.parallel = 2
	}
	if p.perSegment <= 0 {
		p.perSegment = 3
	}
	if p.speak == nil {
		p.speak = ExecInputRunner
	}
	if p.run == nil {
		p.run = audio.ExecRunner
	}
	return p
}

// Mode returns the current output mode.
func (p *Piper) Mode() Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}

// SetMode switches output mode. Takes effect for the next Synthesize call.
func (p *Piper) SetMode(m Mode) {
	p.mu.Lock()
	p.mode = m
	p.mu.Unlock()
	slog.Info("tts: mode changed", "mode", m)
}

// Synthesize renders text according to the current mode.
// Returned segments are owned by the caller and ordered as in text.
func (p *Piper) Synthesize(ctx context.Context, text string) ([]audio.Segment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	switch p.Mode() {
	case ModeOff:
		return nil, nil
	case ModeDevice:
		return nil, p.play(ctx, text)
	}
	return p.renderAll(ctx, Group(text, p.perSegment))
}

// Group splits text into sentence groups of at most n sentences.
// Paragraph breaks always end a group.
func Group(text string, n int) []string {
	if n <= 0 {
		n = 1
	}
	var groups []string
	for _, para := range strings.Split(text, "\n\n") {
		sents := textchunk.Sentences(strings.Join(strings.Fields(para), " "))
		for i := 0; i < len(sents); i += n {
			end := min(i+n, len(sents))
			groups = append(groups, strings.Join(sents[i:end], " "))
		}
	}
	return groups
}

func (p *Piper) renderAll(ctx context.Context, groups []string) ([]audio.Segment, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	segs := make([]audio.Segment, len(groups))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.parallel)
	for i, g := range groups {
		eg.Go(func() error {
			seg, err := p.render(egCtx, g)
			if err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
			segs[i] = seg
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		var c audio.Cleanup
		c.Track(segs...)
		c.Close()
		return nil, err
	}
	return segs, nil
}

// render turns one text group into an OGG/Opus file.
func (p *Piper) render(ctx context.Context, text string) (audio.Segment, error) {
	id := uuid.NewString()
	wav := filepath.Join(p.tempDir, "tts_"+id+".wav")
	ogg := filepath.Join(p.tempDir, "tts_"+id+".ogg")

	var c audio.Cleanup
	c.Track(audio.Segment{Path: wav})
	defer c.Close()

	if err := p.speakTo(ctx, text, wav); err != nil {
		return audio.Segment{}, err
	}
	out, err := p.run(ctx, p.ffmpeg,
		"-y", "-loglevel", "error",
		"-i", wav,
		"-c:a", "libopus", "-b:a", p.bitrate, "-ar", fmt.Sprint(p.sampleRate), "-ac", "1",
		ogg)
	if err != nil {
		os.Remove(ogg)
		return audio.Segment{}, fmt.Errorf("encode opus: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return audio.Segment{Path: ogg}, nil
}

func (p *Piper) speakTo(ctx context.Context, text, wav string) error {
	args := []string{"--output_file", wav}
	if p.voice != "" {
		args = append([]string{"--model", p.voice}, args...)
	}
	out, err := p.speak(ctx, text, p.piper, args...)
	if err != nil {
		return fmt.Errorf("piper: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// play speaks text on the local device.
func (p *Piper) play(ctx context.Context, text string) error {
	wav := filepath.Join(p.tempDir, "tts_"+uuid.NewString()+".wav")
	var c audio.Cleanup
	c.Track(audio.Segment{Path: wav})
	defer c.Close()

	if err := p.speakTo(ctx, strings.Join(strings.Fields(text), " "), wav); err != nil {
		return err
	}
	args := append(append([]string{}, p.player[1:]...), wav)
	if out, err := p.run(ctx, p.player[0], args...); err != nil {
		return fmt.Errorf("play: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
