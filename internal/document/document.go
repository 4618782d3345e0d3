// Package document acquires the raw bytes of a remote document and turns them
// into page-level text records.
package document

// PageText is one page of extracted document content. Metadata carries at
// minimum the origin URL under "source".
type PageText struct {
	Content  string
	Metadata map[string]string
}

// Extractor converts a local file into page-level text. Implementations may
// fail on malformed input.
type Extractor interface {
	Extract(path string) ([]PageText, error)
}

// FallbackContent is the placeholder page body substituted when download or
// extraction fails persistently, so the pipeline can still produce a degraded
// answer set instead of aborting the whole request.
const FallbackContent = "Document processing failed. Please try again with a different document or check the URL."
