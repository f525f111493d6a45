// Package cli renders engine results for the command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/storage"
	"github.com/hyperjump/shiori/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json"; empty means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "", string(OutputText):
		return OutputText, nil
	case string(OutputJSON):
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// PreviewLength is how many runes of each hit are shown in text mode.
const PreviewLength = 200

const rule = "─────────────────────────────────────────────────────────"

// WriteHits writes search hits.
func WriteHits(w io.Writer, hits []*models.SearchHit, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]any{"hits": nonNil(hits)})
	}
	fmt.Fprintf(w, "\nFound %d results\n\n", len(hits))
	for i, h := range hits {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "#%d | Score: %.4f | Chunk %d/%d\n", i+1, h.Score, h.Seq+1, max(h.Total, 1))
		fmt.Fprintf(w, "ID: %s\n", h.ID)
		fmt.Fprintf(w, "Document: %s (%s)\n", h.Title, shortHash(h.Hash))
		if h.Source != "" {
			fmt.Fprintf(w, "Source: %s\n", h.Source)
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(h.Text, PreviewLength))
	}
	return nil
}

// WritePassages writes consolidated passages in full.
func WritePassages(w io.Writer, passages []*models.Passage, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]any{"passages": nonNil(passages)})
	}
	fmt.Fprintf(w, "\nFound %d passages\n\n", len(passages))
	for i, p := range passages {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "#%d | Score: %.4f | %s (%s)\n", i+1, p.Score, p.Title, shortHash(p.Hash))
		ranges := make([]string, len(p.Ranges))
		for j, r := range p.Ranges {
			ranges[j] = fmt.Sprintf("%d-%d", r.Start, r.End)
		}
		fmt.Fprintf(w, "Chunks: %s\n", strings.Join(ranges, ", "))
		if p.Source != "" {
			fmt.Fprintf(w, "Source: %s\n", p.Source)
		}
		fmt.Fprintf(w, "\n%s\n\n", p.Text)
	}
	return nil
}

// WriteChunks writes chunk texts, one block per chunk.
func WriteChunks(w io.Writer, chunks []string, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]any{"chunks": nonNil(chunks)})
	}
	for i, c := range chunks {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, c)
	}
	return nil
}

// WriteStats writes store statistics.
func WriteStats(w io.Writer, stats *storage.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "Backend:    %s\n", stats.Backend)
	fmt.Fprintf(w, "Documents:  %d\n", stats.Documents)
	fmt.Fprintf(w, "Chunks:     %d\n", stats.Chunks)
	fmt.Fprintf(w, "Vectors:    %d\n", stats.Vectors)
	fmt.Fprintf(w, "Disk usage: %s\n", FormatBytes(stats.DiskBytes))
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// nonNil keeps JSON output an array rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
