package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/screenvault/screenvault/internal/models"
	"github.com/screenvault/screenvault/internal/repository"
)

const reconcileBatchSize = 200

// Reconcile repairs divergence between the vector index and the
// metadata store left by a crash between the two index writes, in
// either direction:
//
//   - a vector entry whose record is stuck at embedding means the
//     upsert landed but the status flip did not; finish the flip.
//   - a vector entry whose record is gone, deleted or failed is
//     garbage; drop it.
//   - an indexed record with no vector entry lost its upsert; rebuild
//     the embedding from the persisted analysis text.
//
// Records still at pending or analyzing are owned by the queue and are
// left alone.
func (p *Pipeline) Reconcile(ctx context.Context) error {
	start := time.Now()
	var repaired, dropped, rebuilt int

	stale, err := p.index.StaleEntries(ctx, reconcileBatchSize)
	if err != nil {
		return err
	}
	for _, entry := range stale {
		switch entry.Status {
		case models.StatusEmbedding:
			err := p.screenshots.MarkIndexed(ctx, entry.ScreenshotID, p.provider.EmbeddingModel())
			if err != nil && !p.goneOrDeleted(ctx, entry.ScreenshotID, err) {
				return err
			}
			repaired++
		case models.StatusDeleted, models.StatusFailed:
			if err := p.index.Delete(ctx, entry.ScreenshotID); err != nil {
				return err
			}
			dropped++
		}
	}

	missing, err := p.index.MissingEntries(ctx, reconcileBatchSize)
	if err != nil {
		return err
	}
	for _, id := range missing {
		ok, err := p.rebuildEntry(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			rebuilt++
		}
	}

	if repaired+dropped+rebuilt > 0 {
		p.logger.Info("Reconciled vector index", map[string]interface{}{
			"repaired":    repaired,
			"dropped":     dropped,
			"rebuilt":     rebuilt,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		p.metrics.IncrementCounter("reconcile_repairs", float64(repaired+dropped+rebuilt))
	}
	p.metrics.RecordDuration("pipeline_reconcile", time.Since(start))
	return nil
}

// rebuildEntry re-derives the embedding for an indexed record whose
// vector entry disappeared. The analysis text is already committed, so
// only the embed call is repeated.
func (p *Pipeline) rebuildEntry(ctx context.Context, id uuid.UUID) (bool, error) {
	rec, err := p.screenshots.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if rec.Status != models.StatusIndexed {
		return false, nil
	}

	analysis := models.AnalysisResult{Tag: rec.Tag, Description: rec.Description, RawText: rec.RawText}
	embedding, err := p.provider.Embed(ctx, analysis.EmbeddingText())
	if err != nil {
		return false, err
	}

	if err := p.index.Upsert(ctx, &models.VectorEntry{
		ScreenshotID: rec.ID,
		UserID:       rec.UserID,
		Tag:          rec.Tag,
		Embedding:    embedding,
	}); err != nil {
		return false, err
	}
	return true, nil
}
