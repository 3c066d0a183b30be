// Package search implements the semantic query engine: embed the
// query text, fetch nearest neighbors scoped to the caller, hydrate
// them from the metadata store and record the query.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/screenvault/screenvault/internal/models"
	"github.com/screenvault/screenvault/internal/observability"
	"github.com/screenvault/screenvault/internal/provider"
	"github.com/screenvault/screenvault/internal/repository"
	"github.com/screenvault/screenvault/internal/vector"
)

var (
	// ErrEmptyQuery is returned for a blank query string.
	ErrEmptyQuery = errors.New("search: query text is empty")
	// ErrEmbeddingUnavailable is returned when the provider cannot
	// embed the query. Searches never fall back to non-semantic
	// matching; an unavailable embedder means no answer.
	ErrEmbeddingUnavailable = errors.New("search: embedding unavailable")
)

const defaultTopK = 10

// Engine executes semantic searches over a user's indexed screenshots.
type Engine struct {
	provider    provider.Provider
	index       vector.Index
	screenshots repository.ScreenshotStore
	history     repository.QueryHistoryStore
	logger      observability.Logger
	metrics     observability.MetricsClient
}

// NewEngine creates a search engine.
func NewEngine(
	p provider.Provider,
	index vector.Index,
	screenshots repository.ScreenshotStore,
	history repository.QueryHistoryStore,
	logger observability.Logger,
	metrics observability.MetricsClient,
) *Engine {
	if logger == nil {
		logger = observability.NewLogger("search")
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	return &Engine{
		provider:    p,
		index:       index,
		screenshots: screenshots,
		history:     history,
		logger:      logger,
		metrics:     metrics,
	}
}

// Search returns up to topK of the user's screenshots ranked by
// similarity to the query. Candidates whose records have left the
// indexed state since their vector was written are dropped, so results
// can number fewer than topK. An empty result is a valid answer.
func (e *Engine) Search(ctx context.Context, userID uuid.UUID, query string, topK int) ([]models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	start := time.Now()

	embedding, err := e.provider.Embed(ctx, query)
	if err != nil {
		e.metrics.IncrementCounter("search_embed_failures", 1)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	matches, err := e.index.Query(ctx, userID, embedding, topK)
	if err != nil {
		return nil, err
	}

	results, err := e.hydrate(ctx, userID, matches)
	if err != nil {
		return nil, err
	}

	e.recordQuery(ctx, userID, query, embedding, results)

	e.metrics.RecordDuration("search_query", time.Since(start))
	e.metrics.IncrementCounter("search_queries", 1)
	e.logger.Debug("Search executed", map[string]interface{}{
		"user_id":     userID.String(),
		"results":     len(results),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return results, nil
}

// History pages through the user's past queries, newest first.
func (e *Engine) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.QueryHistoryEntry, error) {
	return e.history.ListByUser(ctx, userID, limit, offset)
}

// hydrate joins vector matches with their metadata records, dropping
// candidates that are gone or no longer indexed. Order follows score
// descending; equal scores break toward the newer screenshot.
func (e *Engine) hydrate(ctx context.Context, userID uuid.UUID, matches []models.VectorMatch) ([]models.SearchResult, error) {
	results := make([]models.SearchResult, 0, len(matches))
	for _, m := range matches {
		rec, err := e.screenshots.GetForUser(ctx, userID, m.ScreenshotID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if !rec.Searchable() {
			continue
		}
		results = append(results, models.SearchResult{Screenshot: rec, Score: m.Score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Screenshot.CreatedAt.After(results[j].Screenshot.CreatedAt)
	})
	return results, nil
}

// recordQuery appends the search to history. History is best-effort:
// a failed insert never fails the search.
func (e *Engine) recordQuery(ctx context.Context, userID uuid.UUID, query string, embedding []float32, results []models.SearchResult) {
	entry := &models.QueryHistoryEntry{
		UserID:    userID,
		QueryText: query,
		Embedding: embedding,
	}
	for _, r := range results {
		entry.ResultIDs = append(entry.ResultIDs, r.Screenshot.ID)
		entry.Scores = append(entry.Scores, r.Score)
	}

	if err := e.history.Insert(ctx, entry); err != nil {
		e.logger.Warn("Failed to record query history", map[string]interface{}{
			"user_id": userID.String(),
			"error":   err.Error(),
		})
	}
}
