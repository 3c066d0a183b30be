// Package ingest owns the screenshot write path: accepting uploads,
// recording metadata, queueing enrichment, and the delete cascade.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/screenvault/screenvault/internal/cache"
	"github.com/screenvault/screenvault/internal/models"
	"github.com/screenvault/screenvault/internal/observability"
	"github.com/screenvault/screenvault/internal/queue"
	"github.com/screenvault/screenvault/internal/repository"
	"github.com/screenvault/screenvault/internal/storage"
	"github.com/screenvault/screenvault/internal/vector"
)

var (
	// ErrEmptyUpload is returned for a zero-byte submission.
	ErrEmptyUpload = errors.New("ingest: upload is empty")
	// ErrUnsupportedContentType is returned for non-image uploads.
	ErrUnsupportedContentType = errors.New("ingest: unsupported content type")
	// ErrNotReprocessable is returned when reprocess targets a record
	// that is not in the failed state.
	ErrNotReprocessable = errors.New("ingest: screenshot is not in a failed state")
)

// acceptedContentTypes are the image formats the vision providers handle.
var acceptedContentTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// Coordinator sequences the multi-store writes of the ingestion path.
// The ordering invariant: the blob exists before the record, and the
// record exists before the job.
type Coordinator struct {
	screenshots repository.ScreenshotStore
	index       vector.Index
	blobs       storage.BlobStore
	jobs        queue.JobQueue
	cache       cache.Cache
	urlTTL      time.Duration
	logger      observability.Logger
	metrics     observability.MetricsClient
}

// NewCoordinator creates an ingestion coordinator. urlTTL bounds how
// long issued signed URLs stay cached.
func NewCoordinator(
	screenshots repository.ScreenshotStore,
	index vector.Index,
	blobs storage.BlobStore,
	jobs queue.JobQueue,
	c cache.Cache,
	urlTTL time.Duration,
	logger observability.Logger,
	metrics observability.MetricsClient,
) *Coordinator {
	if logger == nil {
		logger = observability.NewLogger("ingest")
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	if urlTTL <= 0 {
		urlTTL = 7 * 24 * time.Hour
	}
	return &Coordinator{
		screenshots: screenshots,
		index:       index,
		blobs:       blobs,
		jobs:        jobs,
		cache:       c,
		urlTTL:      urlTTL,
		logger:      logger,
		metrics:     metrics,
	}
}

// Submit accepts an uploaded image, stores the blob, records the
// pending metadata and queues enrichment. On any failure nothing
// user-visible remains: a record is never created without its blob,
// and a record that cannot be queued is rolled back.
func (c *Coordinator) Submit(ctx context.Context, userID uuid.UUID, data []byte, contentType string) (*models.Screenshot, error) {
	if len(data) == 0 {
		return nil, ErrEmptyUpload
	}
	if !acceptedContentTypes[contentType] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}

	id := uuid.New()
	blobKey := fmt.Sprintf("screenshots/%s/%s", userID, id)

	if err := c.blobs.Upload(ctx, blobKey, data, contentType); err != nil {
		return nil, err
	}

	rec := &models.Screenshot{
		ID:          id,
		UserID:      userID,
		BlobKey:     blobKey,
		ContentType: contentType,
		FileSize:    int64(len(data)),
		Status:      models.StatusPending,
	}
	if err := c.screenshots.Create(ctx, rec); err != nil {
		c.cleanupBlob(ctx, blobKey)
		return nil, err
	}

	if err := c.jobs.Enqueue(ctx, queue.EnrichmentJob{ScreenshotID: id, UserID: userID}); err != nil {
		// Unqueued pending records are invisible to every recovery
		// path, so unwind the submission entirely.
		if derr := c.screenshots.Delete(ctx, id); derr != nil {
			c.logger.Error("Failed to roll back record after enqueue failure", map[string]interface{}{
				"screenshot_id": id.String(),
				"error":         derr.Error(),
			})
		}
		c.cleanupBlob(ctx, blobKey)
		return nil, err
	}

	c.metrics.IncrementCounter("ingest_submitted", 1)
	c.logger.Info("Screenshot submitted", map[string]interface{}{
		"screenshot_id": id.String(),
		"user_id":       userID.String(),
		"content_type":  contentType,
		"file_size":     rec.FileSize,
	})
	return rec, nil
}

// Get returns one of the user's screenshots with a signed download
// URL. Soft-deleted records are reported as missing.
func (c *Coordinator) Get(ctx context.Context, userID, id uuid.UUID) (*models.Screenshot, error) {
	rec, err := c.screenshots.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == models.StatusDeleted {
		return nil, repository.ErrNotFound
	}

	rec.SignedURL, err = c.signedURL(ctx, rec.BlobKey)
	if err != nil {
		// The metadata is still useful without a download link.
		c.logger.Warn("Failed to issue signed URL", map[string]interface{}{
			"screenshot_id": id.String(),
			"error":         err.Error(),
		})
	}
	return rec, nil
}

// List pages through the user's screenshots, newest first.
func (c *Coordinator) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Screenshot, error) {
	return c.screenshots.ListByUser(ctx, userID, limit, offset)
}

// Delete removes a screenshot. The soft delete commits first so any
// in-flight enrichment job observes it; blob, vector entry and the row
// itself are cleaned up best-effort afterwards, with the reconciler
// covering a vector entry that survives a partial cascade.
func (c *Coordinator) Delete(ctx context.Context, userID, id uuid.UUID) error {
	rec, err := c.screenshots.GetForUser(ctx, userID, id)
	if err != nil {
		return err
	}

	if rec.Status != models.StatusDeleted {
		if err := c.screenshots.MarkDeleted(ctx, id); err != nil &&
			!errors.Is(err, repository.ErrInvalidTransition) {
			return err
		}
	}

	clean := true
	if err := c.index.Delete(ctx, id); err != nil {
		clean = false
		c.logger.Warn("Failed to delete vector entry", map[string]interface{}{
			"screenshot_id": id.String(),
			"error":         err.Error(),
		})
	}
	if err := c.blobs.Delete(ctx, rec.BlobKey); err != nil {
		clean = false
		c.logger.Warn("Failed to delete blob", map[string]interface{}{
			"screenshot_id": id.String(),
			"error":         err.Error(),
		})
	}
	if err := c.cache.Delete(ctx, signedURLKey(rec.BlobKey)); err != nil &&
		!errors.Is(err, cache.ErrNotFound) {
		c.logger.Debug("Failed to evict signed URL", map[string]interface{}{
			"screenshot_id": id.String(),
			"error":         err.Error(),
		})
	}

	// Keep the tombstone when cleanup was incomplete so a later delete
	// call can finish the cascade.
	if clean {
		if err := c.screenshots.Delete(ctx, id); err != nil &&
			!errors.Is(err, repository.ErrNotFound) {
			return err
		}
	}

	c.metrics.IncrementCounter("ingest_deleted", 1)
	return nil
}

// Reprocess re-queues a failed screenshot from scratch. Only failed
// records are eligible; everything else is either already moving or
// already done.
func (c *Coordinator) Reprocess(ctx context.Context, userID, id uuid.UUID) error {
	rec, err := c.screenshots.GetForUser(ctx, userID, id)
	if err != nil {
		return err
	}
	if rec.Status != models.StatusFailed {
		return fmt.Errorf("%w: status is %s", ErrNotReprocessable, rec.Status)
	}

	if err := c.screenshots.ResetForRetry(ctx, id); err != nil {
		return err
	}

	if err := c.jobs.Enqueue(ctx, queue.EnrichmentJob{ScreenshotID: id, UserID: userID}); err != nil {
		// Put the record back where a retry of this call can find it.
		if ferr := c.screenshots.MarkFailed(ctx, id, "reprocess enqueue failed"); ferr != nil {
			c.logger.Error("Failed to restore failed state after enqueue failure", map[string]interface{}{
				"screenshot_id": id.String(),
				"error":         ferr.Error(),
			})
		}
		return err
	}

	c.metrics.IncrementCounter("ingest_reprocessed", 1)
	return nil
}

// signedURL returns a cached signed URL for the blob, issuing and
// caching a fresh one on miss. Cache outages degrade to direct issuing.
func (c *Coordinator) signedURL(ctx context.Context, blobKey string) (string, error) {
	key := signedURLKey(blobKey)

	var url string
	if err := c.cache.Get(ctx, key, &url); err == nil && url != "" {
		return url, nil
	}

	url, err := c.blobs.SignedURL(ctx, blobKey)
	if err != nil {
		return "", err
	}

	// Expire the cached copy well before the URL itself does.
	if err := c.cache.Set(ctx, key, url, c.urlTTL/2); err != nil {
		c.logger.Debug("Failed to cache signed URL", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return url, nil
}

func signedURLKey(blobKey string) string {
	return "screenvault:signedurl:" + blobKey
}

func (c *Coordinator) cleanupBlob(ctx context.Context, key string) {
	if err := c.blobs.Delete(ctx, key); err != nil {
		c.logger.Warn("Failed to clean up orphaned blob", map[string]interface{}{
			"blob_key": key,
			"error":    err.Error(),
		})
	}
}
