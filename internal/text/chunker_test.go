package text

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docquery/internal/document"
	"docquery/internal/resilience"
)

func testSplitter(size, overlap int) *Splitter {
	return NewSplitter(size, overlap, 5*time.Second)
}

func pagesOf(contents ...string) []document.PageText {
	var pages []document.PageText
	for i, c := range contents {
		pages = append(pages, document.PageText{
			Content:  c,
			Metadata: map[string]string{"source": "http://example.com/doc.pdf", "page": strconv.Itoa(i + 1)},
		})
	}
	return pages
}

func TestSplit_ShortPageSingleChunk(t *testing.T) {
	s := testSplitter(100, 20)
	chunks, err := s.Split(context.Background(), pagesOf("This is a simple paragraph."))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "This is a simple paragraph.", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].Overlap)
	assert.Equal(t, "http://example.com/doc.pdf", chunks[0].Metadata["source"])
}

func TestSplit_ChunkSizeBound(t *testing.T) {
	s := testSplitter(100, 20)
	long := strings.Repeat("word ", 200) // 1000 chars
	chunks, err := s.Split(context.Background(), pagesOf(long))
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Content), 100)
		assert.NotEmpty(t, strings.TrimSpace(c.Content))
	}
}

func TestSplit_OverlapInvariant(t *testing.T) {
	s := testSplitter(100, 20)
	long := strings.Repeat("alpha beta gamma delta. ", 40)
	chunks, err := s.Split(context.Background(), pagesOf(long))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		overlap := chunks[i].Overlap
		require.Equal(t, 20, overlap)
		tail := chunks[i-1].Content[len(chunks[i-1].Content)-overlap:]
		head := chunks[i].Content[:overlap]
		assert.Equal(t, tail, head, "chunk %d must start with the tail of chunk %d", i, i-1)
	}
}

func TestSplit_ParagraphBoundariesPreferred(t *testing.T) {
	s := testSplitter(50, 0)
	text := "First paragraph here.\n\nSecond paragraph here.\n\nThird paragraph here."
	chunks, err := s.Split(context.Background(), pagesOf(text))
	require.NoError(t, err)
	// Each paragraph fits a chunk; splits land on paragraph boundaries.
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Content), 50)
		assert.Contains(t, c.Content, "paragraph")
	}
	joined := ""
	for _, c := range chunks {
		joined += c.Content
	}
	assert.Equal(t, text, joined)
}

func TestSplit_HardCutWithoutSeparators(t *testing.T) {
	s := testSplitter(64, 16)
	text := strings.Repeat("a", 500) // no separators at all
	chunks, err := s.Split(context.Background(), pagesOf(text))
	require.NoError(t, err)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Content), 64)
	}
	// Reconstruct: strip each chunk's overlap prefix and concatenate.
	var rebuilt strings.Builder
	for _, c := range chunks {
		rebuilt.WriteString(c.Content[c.Overlap:])
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestSplit_MultiplePagesKeepOrderAndMetadata(t *testing.T) {
	s := testSplitter(1000, 200)
	chunks, err := s.Split(context.Background(), pagesOf("page one body text", "page two body text"))
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "1", chunks[0].Metadata["page"])
	assert.Equal(t, "2", chunks[1].Metadata["page"])
	// Overlap never crosses a page boundary.
	assert.Equal(t, 0, chunks[1].Overlap)
}

func TestSplit_EmptyInput(t *testing.T) {
	s := testSplitter(100, 20)
	_, err := s.Split(context.Background(), nil)
	assert.Error(t, err)

	_, err = s.Split(context.Background(), pagesOf("   \n  "))
	assert.Error(t, err)
}

func TestSplit_TimeoutKind(t *testing.T) {
	s := NewSplitter(1000, 200, time.Nanosecond)
	big := strings.Repeat("lorem ipsum dolor sit amet. ", 100000)
	_, err := s.Split(context.Background(), pagesOf(big))
	if err != nil {
		var te *resilience.TimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "document_chunking", te.Operation)
	}
}

func TestSplitExact_Reassembles(t *testing.T) {
	text := "one two three\nfour five six\n\nseven eight nine ten eleven twelve"
	pieces := splitExact(text, separators, 10)
	joined := strings.Join(pieces, "")
	assert.Equal(t, text, joined)
	for _, p := range pieces {
		assert.LessOrEqual(t, len(p), 10)
	}
}
