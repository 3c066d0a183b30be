// Package pipeline drives a screenshot through analysis, embedding
// and indexing, committing each transition before advancing so a crash
// resumes from the last durable state instead of restarting from
// scratch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/screenvault/screenvault/internal/models"
	"github.com/screenvault/screenvault/internal/observability"
	"github.com/screenvault/screenvault/internal/provider"
	"github.com/screenvault/screenvault/internal/repository"
	"github.com/screenvault/screenvault/internal/storage"
	"github.com/screenvault/screenvault/internal/vector"
)

// Pipeline executes the enrichment state machine for one screenshot at
// a time. The per-screenshot in-flight guard in the worker guarantees
// no two Process calls run concurrently for the same id.
type Pipeline struct {
	screenshots repository.ScreenshotStore
	index       vector.Index
	blobs       storage.BlobStore
	provider    provider.Provider
	logger      observability.Logger
	metrics     observability.MetricsClient
}

// New creates an enrichment pipeline.
func New(
	screenshots repository.ScreenshotStore,
	index vector.Index,
	blobs storage.BlobStore,
	p provider.Provider,
	logger observability.Logger,
	metrics observability.MetricsClient,
) *Pipeline {
	if logger == nil {
		logger = observability.NewLogger("pipeline")
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	return &Pipeline{
		screenshots: screenshots,
		index:       index,
		blobs:       blobs,
		provider:    p,
		logger:      logger,
		metrics:     metrics,
	}
}

// errAbandoned stops the state machine when the record was deleted
// underneath the job. Process converts it to a clean completion.
var errAbandoned = errors.New("pipeline: job abandoned")

// Process advances the screenshot from its current committed state to
// indexed. Errors bubble up classified: the caller decides between
// backoff retry and routing to failed. A missing or deleted record is
// not an error; the job is simply obsolete.
func (p *Pipeline) Process(ctx context.Context, screenshotID uuid.UUID) error {
	start := time.Now()

	if err := p.run(ctx, screenshotID); err != nil {
		if errors.Is(err, errAbandoned) {
			return nil
		}
		return err
	}

	p.metrics.RecordDuration("pipeline_process", time.Since(start))
	p.metrics.IncrementCounter("pipeline_indexed", 1)
	p.logger.Info("Screenshot indexed", map[string]interface{}{
		"screenshot_id": screenshotID.String(),
		"provider":      p.provider.Name(),
		"duration_ms":   time.Since(start).Milliseconds(),
	})
	return nil
}

func (p *Pipeline) run(ctx context.Context, screenshotID uuid.UUID) error {
	rec, err := p.screenshots.GetByID(ctx, screenshotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Deleted while queued. Clear any partial vector entry.
			return p.abandon(ctx, screenshotID)
		}
		return err
	}

	switch rec.Status {
	case models.StatusIndexed, models.StatusFailed:
		return errAbandoned
	case models.StatusDeleted:
		return p.abandon(ctx, screenshotID)
	case models.StatusPending:
		if err := p.screenshots.TransitionStatus(ctx, rec.ID, models.StatusPending, models.StatusAnalyzing); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return p.abandon(ctx, screenshotID)
			}
			return err
		}
		rec.Status = models.StatusAnalyzing
		fallthrough
	case models.StatusAnalyzing:
		if err := p.analyzeStep(ctx, rec); err != nil {
			return err
		}
		fallthrough
	case models.StatusEmbedding:
		if err := p.indexStep(ctx, rec); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unexpected status %q for %s", rec.Status, rec.ID)
	}
	return nil
}

// analyzeStep downloads the blob, runs provider analysis and commits
// the result together with the analyzing -> embedding transition.
func (p *Pipeline) analyzeStep(ctx context.Context, rec *models.Screenshot) error {
	image, err := p.blobs.Download(ctx, rec.BlobKey)
	if err != nil {
		return err
	}

	result, err := p.analyzeWithSingleRetry(ctx, image, rec.ContentType)
	if err != nil {
		return err
	}

	// Cancellation check before committing: a concurrent delete must
	// win over the analysis result.
	if err := p.ensureAlive(ctx, rec.ID); err != nil {
		return err
	}

	if err := p.screenshots.SaveAnalysis(ctx, rec.ID, result); err != nil {
		if p.goneOrDeleted(ctx, rec.ID, err) {
			return p.abandon(ctx, rec.ID)
		}
		return err
	}

	rec.Tag = result.Tag
	rec.Description = result.Description
	rec.RawText = result.RawText
	rec.Status = models.StatusEmbedding

	p.metrics.RecordDuration("provider_analyze", result.Latency)
	return nil
}

// analyzeWithSingleRetry retries a malformed provider response exactly
// once before treating it as permanent.
func (p *Pipeline) analyzeWithSingleRetry(ctx context.Context, image []byte, contentType string) (*models.AnalysisResult, error) {
	result, err := p.provider.Analyze(ctx, image, contentType)
	if err != nil && provider.RetryOnce(err) {
		p.logger.Warn("Invalid provider response, retrying once", map[string]interface{}{
			"error": err.Error(),
		})
		result, err = p.provider.Analyze(ctx, image, contentType)
	}
	return result, err
}

// indexStep embeds the committed analysis text and performs the
// two-write commit: vector upsert first, then the metadata flip to
// indexed. A crash between the two writes leaves a vector entry with
// an embedding-status record, which Reconcile repairs.
func (p *Pipeline) indexStep(ctx context.Context, rec *models.Screenshot) error {
	analysis := models.AnalysisResult{Tag: rec.Tag, Description: rec.Description, RawText: rec.RawText}
	embedding, err := p.provider.Embed(ctx, analysis.EmbeddingText())
	if err != nil {
		return err
	}

	if err := p.ensureAlive(ctx, rec.ID); err != nil {
		return err
	}

	if err := p.index.Upsert(ctx, &models.VectorEntry{
		ScreenshotID: rec.ID,
		UserID:       rec.UserID,
		Tag:          rec.Tag,
		Embedding:    embedding,
	}); err != nil {
		return err
	}

	if err := p.screenshots.MarkIndexed(ctx, rec.ID, p.provider.EmbeddingModel()); err != nil {
		if p.goneOrDeleted(ctx, rec.ID, err) {
			// Deleted between the two writes: unwind the vector entry.
			return p.abandon(ctx, rec.ID)
		}
		return err
	}

	rec.Status = models.StatusIndexed
	return nil
}

// goneOrDeleted reports whether a guarded-update failure means the
// record was removed or soft-deleted underneath the pipeline.
func (p *Pipeline) goneOrDeleted(ctx context.Context, id uuid.UUID, err error) bool {
	if errors.Is(err, repository.ErrNotFound) {
		return true
	}
	if !errors.Is(err, repository.ErrInvalidTransition) {
		return false
	}
	rec, gerr := p.screenshots.GetByID(ctx, id)
	if errors.Is(gerr, repository.ErrNotFound) {
		return true
	}
	return gerr == nil && rec.Status == models.StatusDeleted
}

// ensureAlive aborts the job when the record was deleted underneath
// it, cleaning up any partial vector entry.
func (p *Pipeline) ensureAlive(ctx context.Context, id uuid.UUID) error {
	rec, err := p.screenshots.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return p.abandon(ctx, id)
		}
		return err
	}
	if rec.Status == models.StatusDeleted {
		return p.abandon(ctx, id)
	}
	return nil
}

// abandon drops any partial vector entry for a deleted record and
// halts the state machine. Process turns the sentinel into a clean
// completion so the job is acked, not retried.
func (p *Pipeline) abandon(ctx context.Context, id uuid.UUID) error {
	if err := p.index.Delete(ctx, id); err != nil {
		p.logger.Warn("Failed to clean up vector entry for deleted screenshot", map[string]interface{}{
			"screenshot_id": id.String(),
			"error":         err.Error(),
		})
	}
	p.metrics.IncrementCounter("pipeline_abandoned", 1)
	return errAbandoned
}
