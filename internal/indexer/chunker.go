package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/shiori/internal/models"
)

const (
	// DefaultDelimiter separates passages in raw text.
	DefaultDelimiter = "\n\n"
	// MaxPieceRunes is the longest delimiter-split piece accepted before falling back to sentences.
	MaxPieceRunes = 2048
	// SentencesPerChunk is the group size used by the sentence fallback.
	SentencesPerChunk = 5
	// mainTextJoiner joins chunks into the hashed main text.
	mainTextJoiner = "\n"
)

// sentenceRe matches a run of text up to and including terminal punctuation (and any closing
// quotes or brackets), or the trailing fragment at the end of input.
var sentenceRe = regexp.MustCompile(`[^.!?]+(?:[.!?]+["'”’)\]]*|$)`)

// Chunk splits text into ordered passages and returns them with the joined main text and its
// SHA-256 hex hash. The same text and delimiter always yield the same hash.
// Returns ErrEmptyContent when nothing but whitespace remains.
func Chunk(text, delimiter string) (chunks []string, mainText, hash string, err error) {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	if strings.Contains(text, delimiter) {
		chunks = splitPieces(text, delimiter)
	}
	if len(chunks) == 0 || exceeds(chunks, MaxPieceRunes) {
		chunks = groupSentences(text, SentencesPerChunk)
	}
	if len(chunks) == 0 {
		return nil, "", "", models.NewDomainError(models.CodeEmptyContent, "text has no non-empty chunks")
	}
	mainText = strings.Join(chunks, mainTextJoiner)
	return chunks, mainText, HashText(mainText), nil
}

// NewDocument chunks text and returns a Document carrying its content hash and metadata.
func NewDocument(text, title, source, delimiter string) (*models.Document, error) {
	chunks, mainText, hash, err := Chunk(text, delimiter)
	if err != nil {
		return nil, err
	}
	return &models.Document{
		MainText: mainText,
		Chunks:   chunks,
		Hash:     hash,
		Title:    strings.TrimSpace(title),
		Source:   source,
	}, nil
}

// HashText returns the lowercase hex SHA-256 digest of s.
func HashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func splitPieces(text, delimiter string) []string {
	parts := strings.Split(text, delimiter)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = normalizeSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func exceeds(pieces []string, limit int) bool {
	for _, p := range pieces {
		if utf8.RuneCountInString(p) > limit {
			return true
		}
	}
	return false
}

// groupSentences tokenizes text into sentences and joins every n consecutive sentences.
func groupSentences(text string, n int) []string {
	var sentences []string
	for _, m := range sentenceRe.FindAllString(text, -1) {
		if s := normalizeSpace(m); s != "" {
			sentences = append(sentences, s)
		}
	}
	var chunks []string
	for i := 0; i < len(sentences); i += n {
		end := i + n
		if end > len(sentences) {
			end = len(sentences)
		}
		chunks = append(chunks, strings.Join(sentences[i:end], " "))
	}
	return chunks
}

// normalizeSpace trims s and collapses internal whitespace runs to single spaces.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
