package textchunk

import (
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"
)

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func assertChunks(t *testing.T, text string, limit int, chunks []string) {
	t.Helper()
	for i, c := range chunks {
		n := utf8.RuneCountInString(c)
		if n == 0 {
			t.Errorf("chunk %d is empty", i)
		}
		if n > limit {
			t.Errorf("chunk %d has %d runes, limit %d", i, n, limit)
		}
	}
	if got, want := stripSpace(strings.Join(chunks, "")), stripSpace(text); got != want {
		t.Errorf("content not preserved:\n got %q\nwant %q", got, want)
	}
}

func TestSplit_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\n\t\n"} {
		if got := Split(in, 100); len(got) != 0 {
			t.Errorf("Split(%q) = %q, want empty", in, got)
		}
	}
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	got := Split("hello there", 100)
	if len(got) != 1 || got[0] != "hello there" {
		t.Fatalf("got %q", got)
	}
}

func TestSplit_PacksParagraphs(t *testing.T) {
	text := "aaaa\n\nbbbb\n\ncccc"
	got := Split(text, 10)
	want := []string{"aaaa\n\nbbbb", "cccc"}
	if len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
	assertChunks(t, text, 10, got)
}

func TestSplit_SentenceFallback(t *testing.T) {
	para := "One two three. Four five six? Seven eight nine! Ten eleven."
	got := Split(para, 30)
	if len(got) < 2 {
		t.Fatalf("expected sentence split, got %q", got)
	}
	for _, c := range got {
		if strings.HasPrefix(c, " ") || strings.HasSuffix(c, " ") {
			t.Errorf("chunk %q has untrimmed whitespace", c)
		}
	}
	if got[0] != "One two three. Four five six?" {
		t.Errorf("first chunk = %q", got[0])
	}
	assertChunks(t, para, 30, got)
}

func TestSplit_HardSliceNoPunctuation(t *testing.T) {
	text := strings.Repeat("x", 10000)
	got := Split(text, DefaultLimit)
	want := (10000 + DefaultLimit - 1) / DefaultLimit
	if len(got) != want {
		t.Fatalf("got %d chunks, want %d", len(got), want)
	}
	for i, c := range got[:len(got)-1] {
		if utf8.RuneCountInString(c) != DefaultLimit {
			t.Errorf("chunk %d has %d runes, want exactly %d", i, utf8.RuneCountInString(c), DefaultLimit)
		}
	}
	assertChunks(t, text, DefaultLimit, got)
}

func TestSplit_CountsRunesNotBytes(t *testing.T) {
	text := strings.Repeat("é", 25)
	got := Split(text, 10)
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	assertChunks(t, text, 10, got)
}

func TestSplit_MixedDocument(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString(strings.Repeat("word ", 30))
		sb.WriteString("end. ")
		if i%5 == 4 {
			sb.WriteString("\n\n")
		}
	}
	sb.WriteString(strings.Repeat("z", 500))
	text := sb.String()

	for _, limit := range []int{50, 200, 777, DefaultLimit} {
		assertChunks(t, text, limit, Split(text, limit))
	}
}

func TestSentences(t *testing.T) {
	got := Sentences("Hi. How are you?  Fine!\nok")
	want := []string{"Hi.", "How are you?", "Fine!", "ok"}
	if len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}
