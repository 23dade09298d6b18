package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/voicebridge/internal/audio"
	"github.com/nextlevelbuilder/voicebridge/internal/delivery"
)

const (
	// defaultMediaMaxBytes is the Bot API download limit (20MB).
	defaultMediaMaxBytes int64 = 20 * 1024 * 1024

	downloadMaxRetries = 3

	// sttSampleRate is what speech models expect.
	sttSampleRate = 16000
)

// fileAPI is the subset of *telego.Bot used to fetch voice notes.
type fileAPI interface {
	GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error)
	FileDownloadURL(filepath string) string
}

// transcriber turns a voice note into text.
type transcriber interface {
	Transcribe(ctx context.Context, fileID string) (string, error)
}

// voiceTranscriber downloads a voice note, converts it to 16 kHz mono WAV
// and sends it to the STT proxy. Temporary files are always removed.
type voiceTranscriber struct {
	files    fileAPI
	stt      *sttClient
	ffmpeg   string
	run      audio.CommandRunner
	maxBytes int64
	tempDir  string
	client   *http.Client
}

func (v *voiceTranscriber) Transcribe(ctx context.Context, fileID string) (string, error) {
	if !v.stt.configured() {
		return "", &delivery.InputError{Stage: "transcribe", Err: errors.New("speech-to-text is not configured")}
	}

	var cleanup audio.Cleanup
	defer cleanup.Close()

	raw, err := v.download(ctx, fileID)
	if err != nil {
		return "", &delivery.InputError{Stage: "download", Err: err}
	}
	cleanup.Track(audio.Segment{Path: raw})

	wav := strings.TrimSuffix(raw, filepath.Ext(raw)) + ".wav"
	cleanup.Track(audio.Segment{Path: wav})
	args := []string{"-y", "-loglevel", "error", "-i", raw, "-ac", "1", "-ar", fmt.Sprint(sttSampleRate), wav}
	if out, err := v.run(ctx, v.ffmpeg, args...); err != nil {
		return "", &delivery.InputError{Stage: "transcode", Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))}
	}

	text, err := v.stt.transcribe(ctx, wav)
	if err != nil {
		return "", &delivery.InputError{Stage: "transcribe", Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &delivery.InputError{Stage: "transcribe", Err: errors.New("no speech recognized")}
	}
	return text, nil
}

// download fetches a file by id into a temp file and returns its path.
func (v *voiceTranscriber) download(ctx context.Context, fileID string) (string, error) {
	var file *telego.File
	var err error

	for attempt := 1; attempt <= downloadMaxRetries; attempt++ {
		file, err = v.files.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
		if err == nil {
			break
		}
		if attempt < downloadMaxRetries {
			slog.Debug("retrying file lookup", "file_id", fileID, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("get file info after %d attempts: %w", downloadMaxRetries, err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("empty file path for file_id %s", fileID)
	}
	if int64(file.FileSize) > v.maxBytes {
		return "", fmt.Errorf("file too large: %d bytes (max %d)", file.FileSize, v.maxBytes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.files.FileDownloadURL(file.FilePath), nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	ext := filepath.Ext(file.FilePath)
	if ext == "" {
		ext = ".oga"
	}
	tmp, err := os.CreateTemp(v.tempDir, "voicebridge_voice_*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer tmp.Close()

	written, err := io.Copy(tmp, io.LimitReader(resp.Body, v.maxBytes+1))
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save file: %w", err)
	}
	if written > v.maxBytes {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("file exceeds max size during download: %d bytes", written)
	}
	return tmp.Name(), nil
}
