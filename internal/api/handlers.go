package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/screenvault/screenvault/internal/ingest"
	"github.com/screenvault/screenvault/internal/observability"
	"github.com/screenvault/screenvault/internal/repository"
	"github.com/screenvault/screenvault/internal/search"
	"github.com/screenvault/screenvault/internal/storage"
	"github.com/screenvault/screenvault/internal/vector"
)

type handlers struct {
	coordinator   *ingest.Coordinator
	engine        *search.Engine
	logger        observability.Logger
	metrics       observability.MetricsClient
	maxUploadSize int64
}

// submitScreenshot accepts a multipart upload under the "file" field,
// or a raw image body when the request is not multipart.
func (h *handlers) submitScreenshot(c *gin.Context) {
	data, contentType, err := h.readUpload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.coordinator.Submit(c.Request.Context(), currentUser(c), data, contentType)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, rec)
}

func (h *handlers) readUpload(c *gin.Context) ([]byte, string, error) {
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)
	}

	file, header, err := c.Request.FormFile("file")
	if err == nil {
		defer func() { _ = file.Close() }()
		data, rerr := io.ReadAll(file)
		if rerr != nil {
			return nil, "", rerr
		}
		return data, header.Header.Get("Content-Type"), nil
	}
	if errors.Is(err, http.ErrNotMultipart) {
		data, rerr := io.ReadAll(c.Request.Body)
		if rerr != nil {
			return nil, "", rerr
		}
		return data, c.ContentType(), nil
	}
	return nil, "", err
}

func (h *handlers) getScreenshot(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	rec, err := h.coordinator.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handlers) listScreenshots(c *gin.Context) {
	limit, offset := pageParams(c)
	recs, err := h.coordinator.List(c.Request.Context(), currentUser(c), limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"screenshots": recs, "count": len(recs)})
}

func (h *handlers) deleteScreenshot(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.coordinator.Delete(c.Request.Context(), currentUser(c), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) reprocessScreenshot(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.coordinator.Reprocess(c.Request.Context(), currentUser(c), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *handlers) search(c *gin.Context) {
	query := c.Query("q")
	topK, _ := strconv.Atoi(c.DefaultQuery("top_k", "10"))

	results, err := h.engine.Search(c.Request.Context(), currentUser(c), query, topK)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (h *handlers) queryHistory(c *gin.Context) {
	limit, offset := pageParams(c)
	entries, err := h.engine.History(c.Request.Context(), currentUser(c), limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queries": entries, "count": len(entries)})
}

func (h *handlers) pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed screenshot id"})
		return uuid.Nil, false
	}
	return id, true
}

func pageParams(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// writeError maps domain errors to HTTP statuses.
func (h *handlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "screenshot not found"})
	case errors.Is(err, ingest.ErrEmptyUpload),
		errors.Is(err, ingest.ErrUnsupportedContentType),
		errors.Is(err, search.ErrEmptyQuery):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ingest.ErrNotReprocessable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, search.ErrEmbeddingUnavailable),
		errors.Is(err, storage.ErrStorageUnavailable),
		errors.Is(err, vector.ErrIndexUnavailable):
		h.metrics.IncrementCounter("api_unavailable", 1)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
	default:
		h.logger.Error("Unhandled request error", map[string]interface{}{
			"error": err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
