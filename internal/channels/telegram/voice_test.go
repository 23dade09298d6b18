package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/voicebridge/internal/config"
	"github.com/nextlevelbuilder/voicebridge/internal/delivery"
)

type fakeFiles struct {
	base string
	file *telego.File
	err  error
}

func (f *fakeFiles) GetFile(context.Context, *telego.GetFileParams) (*telego.File, error) {
	return f.file, f.err
}

func (f *fakeFiles) FileDownloadURL(path string) string { return f.base + "/file/" + path }

// fakeFFmpeg writes the output path (last arg) so the STT step has a file.
func fakeFFmpeg(args *[]string) func(ctx context.Context, name string, a ...string) ([]byte, error) {
	return func(_ context.Context, _ string, a ...string) ([]byte, error) {
		*args = a
		return nil, os.WriteFile(a[len(a)-1], []byte("wav"), 0o600)
	}
}

func newVoiceServer(t *testing.T, transcript string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/file/voice/file_1.oga":
			w.Write([]byte("ogg-bytes"))
		case sttTranscribeEndpoint:
			json.NewEncoder(w).Encode(sttResponse{Transcript: transcript})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestVoice(t *testing.T, srv *httptest.Server, args *[]string) *voiceTranscriber {
	return &voiceTranscriber{
		files:    &fakeFiles{base: srv.URL, file: &telego.File{FileID: "f", FilePath: "voice/file_1.oga", FileSize: 9}},
		stt:      newSTTClient(config.STTConfig{ProxyURL: srv.URL}),
		ffmpeg:   "ffmpeg",
		run:      fakeFFmpeg(args),
		maxBytes: defaultMediaMaxBytes,
		tempDir:  t.TempDir(),
		client:   srv.Client(),
	}
}

func TestVoiceTranscriber_Success(t *testing.T) {
	srv := newVoiceServer(t, "  hello from voice ")
	var args []string
	v := newTestVoice(t, srv, &args)

	text, err := v.Transcribe(context.Background(), "f")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello from voice" {
		t.Errorf("text = %q", text)
	}
	want := []string{"-y", "-loglevel", "error", "-i"}
	for i, a := range want {
		if args[i] != a {
			t.Fatalf("ffmpeg args = %v", args)
		}
	}
	if args[5] != "-ac" || args[6] != "1" || args[7] != "-ar" || args[8] != "16000" {
		t.Errorf("ffmpeg args = %v", args)
	}
	entries, _ := os.ReadDir(v.tempDir)
	if len(entries) != 0 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestVoiceTranscriber_Failures(t *testing.T) {
	srv := newVoiceServer(t, "")

	t.Run("not configured", func(t *testing.T) {
		var args []string
		v := newTestVoice(t, srv, &args)
		v.stt = newSTTClient(config.STTConfig{})
		assertInputError(t, v, "transcribe")
	})

	t.Run("too large", func(t *testing.T) {
		var args []string
		v := newTestVoice(t, srv, &args)
		v.maxBytes = 4
		assertInputError(t, v, "download")
	})

	t.Run("get file fails", func(t *testing.T) {
		var args []string
		v := newTestVoice(t, srv, &args)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		v.files = &fakeFiles{err: errors.New("boom")}
		var ie *delivery.InputError
		if _, err := v.Transcribe(ctx, "f"); !errors.As(err, &ie) || ie.Stage != "download" {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("transcode fails", func(t *testing.T) {
		var args []string
		v := newTestVoice(t, srv, &args)
		v.run = func(context.Context, string, ...string) ([]byte, error) {
			return []byte("Invalid data found"), errors.New("exit status 1")
		}
		assertInputError(t, v, "transcode")
		entries, _ := os.ReadDir(v.tempDir)
		if len(entries) != 0 {
			t.Errorf("temp files left behind: %v", entries)
		}
	})

	t.Run("empty transcript", func(t *testing.T) {
		var args []string
		v := newTestVoice(t, srv, &args)
		assertInputError(t, v, "transcribe")
	})
}

func assertInputError(t *testing.T, v *voiceTranscriber, stage string) {
	t.Helper()
	_, err := v.Transcribe(context.Background(), "f")
	var ie *delivery.InputError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want InputError", err)
	}
	if ie.Stage != stage {
		t.Errorf("stage = %q, want %q (%v)", ie.Stage, stage, err)
	}
	if msg := delivery.FormatFailure(err); !strings.HasPrefix(msg, "❌ Voice note error: ") {
		t.Errorf("failure message = %q", msg)
	}
}
