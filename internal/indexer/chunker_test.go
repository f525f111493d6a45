package indexer

import (
	"errors"
	"strings"
	"testing"

	"github.com/hyperjump/shiori/internal/models"
)

func TestChunk_splitsOnDelimiter(t *testing.T) {
	text := "First  passage\nspans lines.\n\n\n\nSecond passage.\n\n   \n\nThird."
	chunks, mainText, hash, err := Chunk(text, "")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"First passage spans lines.", "Second passage.", "Third."}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks %q, want %d", len(chunks), chunks, len(want))
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i], want[i])
		}
	}
	if mainText != strings.Join(want, "\n") {
		t.Errorf("mainText = %q", mainText)
	}
	if hash != HashText(mainText) || len(hash) != 64 {
		t.Errorf("hash = %q", hash)
	}
}

func TestChunk_sentenceFallbackWithoutDelimiter(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 12; i++ {
		b.WriteString("This is sentence number ")
		b.WriteString(string(rune('a' + i)))
		b.WriteString(". ")
	}
	b.WriteString("And a trailing fragment")
	chunks, _, _, err := Chunk(b.String(), "\n\n")
	if err != nil {
		t.Fatal(err)
	}
	// 13 sentences in groups of 5.
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3: %q", len(chunks), chunks)
	}
	if !strings.HasSuffix(chunks[2], "And a trailing fragment") {
		t.Errorf("trailing fragment lost: %q", chunks[2])
	}
	if !strings.HasPrefix(chunks[1], "This is sentence number f.") {
		t.Errorf("second chunk starts with %q", chunks[1])
	}
}

func TestChunk_sentenceFallbackOnOversizedPiece(t *testing.T) {
	long := strings.Repeat("word ", 500) + "end."
	text := "Short intro.\n\n" + long
	chunks, _, _, err := Chunk(text, "\n\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected sentence grouping into 1 chunk, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[0], "Short intro. word word") {
		t.Errorf("unexpected chunk start: %q", chunks[0][:40])
	}
}

func TestChunk_deterministicHash(t *testing.T) {
	text := "alpha beta\n\ngamma delta"
	_, _, h1, err := Chunk(text, "")
	if err != nil {
		t.Fatal(err)
	}
	_, _, h2, _ := Chunk(text, "")
	_, _, h3, _ := Chunk("alpha   beta\n\n\n\ngamma\tdelta", "")
	if h1 != h2 {
		t.Error("same input must give same hash")
	}
	if h1 != h3 {
		t.Error("whitespace-only differences normalize to the same hash")
	}
}

func TestChunk_empty(t *testing.T) {
	for _, text := range []string{"", "   \n\t ", "\n\n\n\n"} {
		_, _, _, err := Chunk(text, "")
		if !errors.Is(err, models.ErrEmptyContent) {
			t.Errorf("Chunk(%q) err = %v, want ErrEmptyContent", text, err)
		}
	}
}

func TestNewDocument(t *testing.T) {
	doc, err := NewDocument("one\n\ntwo", "  Title  ", "notes/a.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "Title" || doc.Source != "notes/a.txt" {
		t.Errorf("unexpected meta: %+v", doc)
	}
	if len(doc.Chunks) != 2 || doc.Hash != HashText("one\ntwo") {
		t.Errorf("unexpected doc: %+v", doc)
	}
}
