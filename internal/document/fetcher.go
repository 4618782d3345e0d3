package document

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"docquery/internal/resilience"
)

const downloadChunkSize = 8192

// Fetcher downloads a document over HTTP, streams it to temporary storage in
// bounded chunks, and delegates text extraction to an Extractor. The whole
// acquisition is layered timeout -> retry -> raw, with a fallback that
// substitutes a single synthetic page on persistent failure.
type Fetcher struct {
	client          *http.Client
	extractor       Extractor
	maxBytes        int64
	downloadTimeout time.Duration
	extractTimeout  time.Duration
	maxRetries      int
	backoffFactor   float64
}

type FetcherOptions struct {
	MaxBytes        int64
	ConnectTimeout  time.Duration
	DownloadTimeout time.Duration
	ExtractTimeout  time.Duration
	MaxRetries      int
	BackoffFactor   float64
}

func NewFetcher(extractor Extractor, opts FetcherOptions) *Fetcher {
	transport := &http.Transport{
		ResponseHeaderTimeout: opts.ConnectTimeout,
		IdleConnTimeout:       30 * time.Second,
	}
	return &Fetcher{
		client:          &http.Client{Transport: transport},
		extractor:       extractor,
		maxBytes:        opts.MaxBytes,
		downloadTimeout: opts.DownloadTimeout,
		extractTimeout:  opts.ExtractTimeout,
		maxRetries:      opts.MaxRetries,
		backoffFactor:   opts.BackoffFactor,
	}
}

// Fetch returns the page-level text of the document at rawURL. On persistent
// download or extraction failure it resolves to a single placeholder page so
// the caller can still answer in degraded mode.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]PageText, error) {
	primary := resilience.WithTimeout(
		resilience.WithRetry(
			func(ctx context.Context) ([]PageText, error) { return f.fetch(ctx, rawURL) },
			f.maxRetries, f.backoffFactor, resilience.IsExternal,
		),
		f.downloadTimeout, "document_processing",
	)

	fallback := func(ctx context.Context) ([]PageText, error) {
		slog.WarnContext(ctx, "using document processing fallback", "url", rawURL)
		return []PageText{{
			Content:  FallbackContent,
			Metadata: map[string]string{"source": rawURL, "fallback": "true"},
		}}, nil
	}

	return resilience.WithFallback(primary, fallback, "document_processing")(ctx)
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) ([]PageText, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	path, err := f.download(ctx, rawURL)
	if path != "" {
		defer func() {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				slog.WarnContext(ctx, "failed to remove temp file", "path", path, "error", rmErr)
			}
		}()
	}
	if err != nil {
		return nil, err
	}

	pages, err := f.extract(ctx, path)
	if err != nil {
		return nil, err
	}

	total := 0
	for i := range pages {
		if pages[i].Metadata == nil {
			pages[i].Metadata = make(map[string]string)
		}
		pages[i].Metadata["source"] = rawURL
		pages[i].Metadata["page"] = fmt.Sprintf("%d", i+1)
		total += len(pages[i].Content)
	}

	if len(pages) == 0 {
		return nil, &resilience.DocumentError{Operation: "content_validation", Detail: "no content extracted from document"}
	}
	if total < 10 {
		return nil, &resilience.DocumentError{Operation: "content_validation", Detail: "extracted content is too short (possible processing error)"}
	}

	slog.InfoContext(ctx, "document processed", "url", rawURL, "pages", len(pages), "chars", total)
	return pages, nil
}

// download streams the body to a temp file in bounded chunks and returns the
// file path. The path is returned even on error so the caller can clean up.
func (f *Fetcher) download(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &resilience.DocumentError{Operation: "url_validation", Detail: err.Error()}
	}
	req.Header.Set("User-Agent", "docquery/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &resilience.ExternalServiceError{Service: "document_download", Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &resilience.ExternalServiceError{
			Service: "document_download",
			Detail:  fmt.Sprintf("HTTP %d: %s", resp.StatusCode, resp.Status),
		}
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if contentType != "" && !strings.Contains(contentType, "pdf") && !strings.Contains(contentType, "application/octet-stream") {
		slog.WarnContext(ctx, "unexpected content type", "content_type", contentType)
	}

	if cl := resp.ContentLength; cl > 0 && cl > f.maxBytes {
		return "", &resilience.DocumentError{
			Operation: "file_size",
			Detail:    fmt.Sprintf("document too large: %.1fMB (max %dMB)", float64(cl)/(1024*1024), f.maxBytes/(1024*1024)),
		}
	}

	tmp, err := os.CreateTemp("", "docquery-*.pdf")
	if err != nil {
		return "", &resilience.DocumentError{Operation: "temp_storage", Detail: err.Error()}
	}
	path := tmp.Name()

	// The declared length can lie or be absent, so the cap is also enforced
	// while streaming.
	written, err := copyBounded(tmp, resp.Body, f.maxBytes)
	closeErr := tmp.Close()
	if err != nil {
		return path, err
	}
	if closeErr != nil {
		return path, &resilience.DocumentError{Operation: "temp_storage", Detail: closeErr.Error()}
	}

	slog.InfoContext(ctx, "download completed", "url", rawURL, "bytes", written)
	return path, nil
}

func copyBounded(dst io.Writer, src io.Reader, maxBytes int64) (int64, error) {
	buf := make([]byte, downloadChunkSize)
	var written int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > maxBytes {
				return written, &resilience.DocumentError{
					Operation: "file_size",
					Detail:    fmt.Sprintf("document exceeds %dMB ceiling", maxBytes/(1024*1024)),
				}
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, &resilience.DocumentError{Operation: "temp_storage", Detail: werr.Error()}
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, &resilience.ExternalServiceError{Service: "document_download", Detail: err.Error()}
		}
	}
}

// extract runs the CPU-bound extractor off the calling goroutine under its own
// deadline.
func (f *Fetcher) extract(ctx context.Context, path string) ([]PageText, error) {
	op := resilience.WithTimeout(func(ctx context.Context) ([]PageText, error) {
		pages, err := f.extractor.Extract(path)
		if err != nil {
			return nil, &resilience.DocumentError{Operation: "pdf_processing", Detail: err.Error()}
		}
		return pages, nil
	}, f.extractTimeout, "pdf_processing")
	return op(ctx)
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &resilience.DocumentError{Operation: "url_validation", Detail: err.Error()}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &resilience.DocumentError{Operation: "url_validation", Detail: "invalid URL provided"}
	}
	return nil
}
