// Package pipeline coordinates the request-scoped stages: fetch the document,
// chunk it, index the chunks, then answer every question against the index.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"docquery/internal/answer"
	"docquery/internal/document"
	"docquery/internal/index"
	"docquery/internal/resilience"
	"docquery/internal/text"
	"docquery/internal/trace"
)

var ErrInvalidQuestionCount = errors.New("invalid question count")

// Fetcher acquires a document and returns its page text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]document.PageText, error)
}

// Splitter chunks page text.
type Splitter interface {
	Split(ctx context.Context, pages []document.PageText) ([]text.Chunk, error)
}

// Indexer embeds and stores chunks, returning a per-document searcher.
type Indexer interface {
	IndexChunks(ctx context.Context, documentID string, chunks []text.Chunk) (*index.Searcher, error)
}

// Answerer resolves a batch of questions against a searcher.
type Answerer interface {
	AnswerAll(ctx context.Context, searcher answer.Searcher, questions []string) []string
}

// Readiness gates request processing on resource initialization.
type Readiness interface {
	Ready() bool
}

// Options carries the per-stage budgets and the question ceiling.
type Options struct {
	MaxQuestions       int
	StoreCreateTimeout time.Duration
	GenerateTimeout    time.Duration
}

type Coordinator struct {
	fetcher   Fetcher
	splitter  Splitter
	indexer   Indexer
	answerer  Answerer
	readiness Readiness
	monitor   *trace.Monitor
	opts      Options
}

func NewCoordinator(fetcher Fetcher, splitter Splitter, indexer Indexer, answerer Answerer,
	readiness Readiness, monitor *trace.Monitor, opts Options) *Coordinator {
	return &Coordinator{
		fetcher:   fetcher,
		splitter:  splitter,
		indexer:   indexer,
		answerer:  answerer,
		readiness: readiness,
		monitor:   monitor,
		opts:      opts,
	}
}

// ProcessRequest runs the full pipeline for one document and its questions.
// The returned slice always holds exactly one answer per question.
func (c *Coordinator) ProcessRequest(ctx context.Context, url string, questions []string) ([]string, error) {
	if !c.readiness.Ready() {
		return nil, &resilience.ResourceInitError{
			Resource: "registry",
			Detail:   "resources are not initialized",
		}
	}
	if len(questions) < 1 || len(questions) > c.opts.MaxQuestions {
		return nil, fmt.Errorf("%w: got %d, want 1..%d", ErrInvalidQuestionCount, len(questions), c.opts.MaxQuestions)
	}

	requestID := uuid.New().String()
	tr := c.monitor.StartRequest(requestID, map[string]interface{}{
		"url":       url,
		"questions": len(questions),
	})
	defer c.monitor.FinishRequest(tr)

	slog.InfoContext(ctx, "processing request", "request_id", requestID, "questions", len(questions))

	pages, err := c.fetchStage(ctx, tr, url)
	if err != nil {
		return nil, err
	}

	chunks, err := c.chunkStage(ctx, tr, pages)
	if err != nil {
		return nil, err
	}

	searcher, err := c.indexStage(ctx, tr, requestID, chunks)
	if err != nil {
		return nil, err
	}

	answers := c.answerStage(ctx, tr, searcher, questions)

	// The response contract: one answer per question, in order, always.
	for len(answers) < len(questions) {
		answers = append(answers, answer.FallbackAnswer)
	}
	return answers[:len(questions)], nil
}

func (c *Coordinator) fetchStage(ctx context.Context, tr *trace.RequestTrace, url string) ([]document.PageText, error) {
	op := tr.StartOperation("document_download", map[string]interface{}{"url": url})
	pages, err := c.fetcher.Fetch(ctx, url)
	op.Finish(err)
	if err != nil {
		return nil, err
	}
	return pages, nil
}

func (c *Coordinator) chunkStage(ctx context.Context, tr *trace.RequestTrace, pages []document.PageText) ([]text.Chunk, error) {
	op := tr.StartOperation("document_chunking", map[string]interface{}{"pages": len(pages)})
	chunks, err := c.splitter.Split(ctx, pages)
	op.Finish(err)
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

func (c *Coordinator) indexStage(ctx context.Context, tr *trace.RequestTrace, documentID string, chunks []text.Chunk) (*index.Searcher, error) {
	op := tr.StartOperation("vector_store_creation", map[string]interface{}{"chunks": len(chunks)})

	run := resilience.WithTimeout(func(ctx context.Context) (*index.Searcher, error) {
		return c.indexer.IndexChunks(ctx, documentID, chunks)
	}, c.opts.StoreCreateTimeout, "vector_store_creation")

	searcher, err := run(ctx)
	op.Finish(err)
	if err != nil {
		return nil, err
	}
	return searcher, nil
}

func (c *Coordinator) answerStage(ctx context.Context, tr *trace.RequestTrace, searcher *index.Searcher, questions []string) []string {
	op := tr.StartOperation("answer_generation", map[string]interface{}{"questions": len(questions)})

	// The batch budget scales with the number of questions so a full batch is
	// not starved by a single-question budget.
	budget := c.opts.GenerateTimeout * time.Duration(len(questions))
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	answers := c.answerer.AnswerAll(ctx, searcher, questions)
	op.Finish(nil)
	return answers
}
