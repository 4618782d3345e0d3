// Package text splits page-level document content into bounded, overlapping
// windows suitable for retrieval.
package text

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"docquery/internal/document"
	"docquery/internal/resilience"
)

// Chunk is a bounded text window derived from one page. Consecutive chunks
// from the same page share Overlap leading/trailing characters.
type Chunk struct {
	Content  string
	Overlap  int
	Metadata map[string]string
}

// Splitter performs hierarchical splitting: paragraph boundaries first, then
// lines, then spaces, then hard character cuts, until every piece fits the
// chunk size. Splitting is CPU-bound, so Split runs it off the caller's
// goroutine under its own deadline.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
	Timeout      time.Duration
}

var separators = []string{"\n\n", "\n", " "}

// Minimum plausible mean chunk size; below this the split is likely degenerate.
const degenerateMeanSize = 50

func NewSplitter(chunkSize, chunkOverlap int, timeout time.Duration) *Splitter {
	return &Splitter{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap, Timeout: timeout}
}

// Split chunks all pages, preserving page order. It fails with a timeout error
// if splitting exceeds the configured budget.
func (s *Splitter) Split(ctx context.Context, pages []document.PageText) ([]Chunk, error) {
	op := resilience.WithTimeout(func(ctx context.Context) ([]Chunk, error) {
		return s.splitAll(ctx, pages)
	}, s.Timeout, "document_chunking")
	return op(ctx)
}

func (s *Splitter) splitAll(ctx context.Context, pages []document.PageText) ([]Chunk, error) {
	if len(pages) == 0 {
		return nil, errors.New("no pages to chunk")
	}

	total := 0
	var chunks []Chunk
	for _, page := range pages {
		if strings.TrimSpace(page.Content) == "" {
			continue
		}
		for _, c := range s.splitText(page.Content) {
			c.Metadata = cloneMetadata(page.Metadata)
			chunks = append(chunks, c)
			total += len(c.Content)
		}
	}

	if len(chunks) == 0 {
		return nil, errors.New("chunking produced no content")
	}

	if mean := total / len(chunks); mean < degenerateMeanSize && len(chunks) > 1 {
		slog.WarnContext(ctx, "mean chunk size implausibly small, split may be degenerate",
			"mean", mean, "chunks", len(chunks))
	}

	return chunks, nil
}

// splitText produces windows of at most ChunkSize characters. Each window
// after the first begins with the trailing ChunkOverlap characters of its
// predecessor (less when the predecessor is shorter than the overlap).
func (s *Splitter) splitText(text string) []Chunk {
	stride := s.ChunkSize - s.ChunkOverlap
	pieces := splitExact(text, separators, stride)

	var chunks []Chunk
	var cur strings.Builder
	curOverlap := 0

	flush := func() {
		content := cur.String()
		if strings.TrimSpace(content) != "" {
			chunks = append(chunks, Chunk{Content: content, Overlap: curOverlap})
		}
	}

	for _, p := range pieces {
		if cur.Len() > 0 && cur.Len()+len(p) > s.ChunkSize {
			prev := cur.String()
			flush()
			cur.Reset()
			seed := s.ChunkOverlap
			if seed > len(prev) {
				seed = len(prev)
			}
			if seed > 0 {
				cur.WriteString(prev[len(prev)-seed:])
			}
			curOverlap = seed
		}
		cur.WriteString(p)
	}
	flush()

	return chunks
}

// splitExact splits text into pieces of at most limit characters whose
// concatenation reproduces text exactly. Separators stay attached to the piece
// that precedes them, descending to finer separators only for oversize pieces.
func splitExact(text string, seps []string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	if len(seps) == 0 {
		var out []string
		for len(text) > limit {
			out = append(out, text[:limit])
			text = text[limit:]
		}
		if len(text) > 0 {
			out = append(out, text)
		}
		return out
	}

	segs := strings.SplitAfter(text, seps[0])
	if len(segs) == 1 {
		return splitExact(text, seps[1:], limit)
	}

	var out []string
	var cur strings.Builder
	for _, seg := range segs {
		if len(seg) > limit {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			out = append(out, splitExact(seg, seps[1:], limit)...)
			continue
		}
		if cur.Len()+len(seg) > limit {
			out = append(out, cur.String())
			cur.Reset()
		}
		cur.WriteString(seg)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func cloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
