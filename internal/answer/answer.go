// Package answer generates grounded answers for a batch of questions over one
// indexed document. Questions run in parallel under a worker cap; a failed
// question degrades to an apology rather than failing the batch.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"docquery/internal/index"
	"docquery/internal/resilience"
)

const systemPrompt = "You are an expert document query assistant. " +
	"Based on the provided context from relevant documents, answer the question in 1 paragraph. " +
	"If the context doesn't contain enough information to answer the question, say so clearly."

// FallbackAnswer resolves a question whose pipeline failed entirely.
const FallbackAnswer = "I'm sorry, I couldn't generate an answer for this question due to a technical issue. " +
	"Please try rephrasing your question or try again later."

// FallbackSearchContext stands in for retrieval output when the document
// yields no relevant chunks.
const FallbackSearchContext = "I couldn't search the document for relevant information. " +
	"Please ensure the document was processed correctly and try again."

const (
	maxContextChars  = 4000
	maxQuestionChars = 500

	// A truncated chunk shorter than this is dropped instead of kept.
	minRemainder = 100

	// Answers shorter than this are suspicious but still returned.
	minAnswerChars = 10

	generateRetries = 2
	retryBackoff    = 1.0
)

// Searcher retrieves the chunks most relevant to a question.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]index.SearchResult, error)
}

// Generator produces a completion from a system instruction and a user prompt.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

type Answerer struct {
	generator       Generator
	topK            int
	searchTimeout   time.Duration
	generateTimeout time.Duration
	workers         int64
}

func New(generator Generator, topK int, searchTimeout, generateTimeout time.Duration, workers int64) *Answerer {
	return &Answerer{
		generator:       generator,
		topK:            topK,
		searchTimeout:   searchTimeout,
		generateTimeout: generateTimeout,
		workers:         workers,
	}
}

// AnswerAll answers every question concurrently and returns answers in
// question order. The result always has exactly one entry per question.
func (a *Answerer) AnswerAll(ctx context.Context, searcher Searcher, questions []string) []string {
	answers := make([]string, len(questions))

	if searcher == nil {
		slog.ErrorContext(ctx, "no searcher available, degrading entire batch")
		for i := range answers {
			answers[i] = FallbackAnswer
		}
		return answers
	}

	sem := semaphore.NewWeighted(a.workers)
	var wg sync.WaitGroup

	for i, q := range questions {
		if err := sem.Acquire(ctx, 1); err != nil {
			answers[i] = FallbackAnswer
			continue
		}
		wg.Add(1)
		go func(i int, question string) {
			defer wg.Done()
			defer sem.Release(1)
			answers[i] = a.answerOne(ctx, searcher, question, i)
		}(i, q)
	}
	wg.Wait()

	return answers
}

// answerOne resolves a single question. Retries cover transient generation
// failures; on final failure the constant apology is returned so the batch
// shape is preserved.
func (a *Answerer) answerOne(ctx context.Context, searcher Searcher, question string, idx int) string {
	name := fmt.Sprintf("question_%d", idx)

	op := resilience.WithFallback(
		resilience.WithRetry(func(ctx context.Context) (string, error) {
			return a.answer(ctx, searcher, question)
		}, generateRetries, retryBackoff, resilience.IsExternal),
		func(ctx context.Context) (string, error) {
			return FallbackAnswer, nil
		}, name)

	answer, err := op(ctx)
	if err != nil {
		// WithFallback only errors when the fallback itself fails, and a
		// constant cannot. Guard anyway.
		slog.ErrorContext(ctx, "answer resolution failed", "question_index", idx, "error", err)
		return FallbackAnswer
	}
	return answer
}

func (a *Answerer) answer(ctx context.Context, searcher Searcher, question string) (string, error) {
	retrieve := resilience.WithTimeout(func(ctx context.Context) ([]index.SearchResult, error) {
		return searcher.Search(ctx, question, a.topK)
	}, a.searchTimeout, "document_retrieval")

	results, err := retrieve(ctx)
	if err != nil {
		return "", err
	}

	contextText := buildContext(results)
	if contextText == "" {
		slog.WarnContext(ctx, "retrieval returned no usable context", "question_length", len(question))
		contextText = FallbackSearchContext
	}

	prompt := buildPrompt(contextText, question)

	generate := resilience.WithTimeout(func(ctx context.Context) (string, error) {
		out, err := a.generator.Generate(ctx, systemPrompt, prompt)
		if err != nil {
			return "", &resilience.ExternalServiceError{Service: "llm", Detail: err.Error()}
		}
		return out, nil
	}, a.generateTimeout, "answer_generation")

	raw, err := generate(ctx)
	if err != nil {
		return "", err
	}

	answer := strings.TrimSpace(raw)
	if answer == "" {
		slog.WarnContext(ctx, "generation returned an empty answer")
		return FallbackAnswer, nil
	}
	if len(answer) < minAnswerChars {
		slog.WarnContext(ctx, "generated answer is suspiciously short", "length", len(answer))
	}
	return answer, nil
}

// buildContext concatenates retrieved chunks under the context budget. A chunk
// that only partially fits is truncated with an ellipsis when the remaining
// budget is still worth filling, otherwise dropped.
func buildContext(results []index.SearchResult) string {
	var b strings.Builder
	used := 0

	for i, r := range results {
		content := strings.TrimSpace(r.Content)
		if content == "" {
			continue
		}
		label := fmt.Sprintf("Document %d:\n", i+1)
		need := len(label) + len(content) + 2

		if used+need > maxContextChars {
			remaining := maxContextChars - used - len(label) - 2
			if remaining <= minRemainder {
				break
			}
			content = content[:remaining-3] + "..."
			b.WriteString(label)
			b.WriteString(content)
			b.WriteString("\n\n")
			break
		}

		b.WriteString(label)
		b.WriteString(content)
		b.WriteString("\n\n")
		used += need
	}

	return strings.TrimSpace(b.String())
}

// buildPrompt caps both sides so a hostile or degenerate input cannot blow the
// prompt budget.
func buildPrompt(contextText, question string) string {
	if len(contextText) > maxContextChars {
		contextText = contextText[:maxContextChars]
	}
	if len(question) > maxQuestionChars {
		question = question[:maxQuestionChars]
	}
	return fmt.Sprintf("Context from the document:\n%s\n\nQuestion: %s", contextText, question)
}
