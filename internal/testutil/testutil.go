// Package testutil provides in-memory implementations of the storage,
// index, queue and blob contracts for tests that exercise the
// pipeline, coordinator and search engine without live backends.
package testutil

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/screenvault/screenvault/internal/models"
	"github.com/screenvault/screenvault/internal/queue"
	"github.com/screenvault/screenvault/internal/repository"
	"github.com/screenvault/screenvault/internal/vector"
)

// MemStore is an in-memory ScreenshotStore with the same compare-and-set
// semantics as the Postgres implementation. Errs injects failures by
// method name.
type MemStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.Screenshot
	Errs    map[string]error
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[uuid.UUID]*models.Screenshot)}
}

func (s *MemStore) failure(method string) error {
	if s.Errs == nil {
		return nil
	}
	return s.Errs[method]
}

// Put seeds a record directly, bypassing lifecycle checks.
func (s *MemStore) Put(rec *models.Screenshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ID] = &cp
}

func (s *MemStore) Create(ctx context.Context, rec *models.Screenshot) error {
	if err := s.failure("Create"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *MemStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Screenshot, error) {
	if err := s.failure("GetByID"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemStore) GetForUser(ctx context.Context, userID, id uuid.UUID) (*models.Screenshot, error) {
	if err := s.failure("GetForUser"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.UserID != userID {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemStore) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Screenshot, error) {
	if err := s.failure("ListByUser"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Screenshot
	for _, rec := range s.records {
		if rec.UserID == userID && rec.Status != models.StatusDeleted {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.Status) error {
	if err := s.failure("TransitionStatus"); err != nil {
		return err
	}
	if !models.ValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, from, to)
	}
	return s.update(id, func(rec *models.Screenshot) error {
		if rec.Status != from {
			return repository.ErrInvalidTransition
		}
		rec.Status = to
		return nil
	})
}

func (s *MemStore) SaveAnalysis(ctx context.Context, id uuid.UUID, res *models.AnalysisResult) error {
	if err := s.failure("SaveAnalysis"); err != nil {
		return err
	}
	return s.update(id, func(rec *models.Screenshot) error {
		if rec.Status != models.StatusAnalyzing {
			return repository.ErrInvalidTransition
		}
		rec.Tag = res.Tag
		rec.Description = res.Description
		rec.RawText = res.RawText
		rec.Status = models.StatusEmbedding
		return nil
	})
}

func (s *MemStore) MarkIndexed(ctx context.Context, id uuid.UUID, embeddingModel string) error {
	if err := s.failure("MarkIndexed"); err != nil {
		return err
	}
	return s.update(id, func(rec *models.Screenshot) error {
		if rec.Status != models.StatusEmbedding {
			return repository.ErrInvalidTransition
		}
		rec.Status = models.StatusIndexed
		rec.EmbeddingModel = embeddingModel
		rec.LastError = ""
		return nil
	})
}

func (s *MemStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if err := s.failure("MarkFailed"); err != nil {
		return err
	}
	return s.update(id, func(rec *models.Screenshot) error {
		if rec.Status == models.StatusDeleted || rec.Status == models.StatusFailed {
			return repository.ErrInvalidTransition
		}
		rec.Status = models.StatusFailed
		rec.LastError = reason
		return nil
	})
}

func (s *MemStore) MarkDeleted(ctx context.Context, id uuid.UUID) error {
	if err := s.failure("MarkDeleted"); err != nil {
		return err
	}
	return s.update(id, func(rec *models.Screenshot) error {
		if rec.Status == models.StatusDeleted {
			return repository.ErrInvalidTransition
		}
		rec.Status = models.StatusDeleted
		return nil
	})
}

func (s *MemStore) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	if err := s.failure("ResetForRetry"); err != nil {
		return err
	}
	return s.update(id, func(rec *models.Screenshot) error {
		if rec.Status != models.StatusFailed {
			return repository.ErrInvalidTransition
		}
		rec.Status = models.StatusPending
		rec.AttemptCount = 0
		rec.LastError = ""
		return nil
	})
}

func (s *MemStore) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	if err := s.failure("IncrementAttempts"); err != nil {
		return 0, err
	}
	var attempts int
	err := s.update(id, func(rec *models.Screenshot) error {
		rec.AttemptCount++
		attempts = rec.AttemptCount
		return nil
	})
	return attempts, err
}

func (s *MemStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.failure("Delete"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *MemStore) update(id uuid.UUID, fn func(*models.Screenshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	if err := fn(rec); err != nil {
		return err
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// MemIndex is an in-memory vector.Index using true cosine similarity.
// When Store is set, StaleEntries and MissingEntries compare against
// its records the way the SQL joins do.
type MemIndex struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*models.VectorEntry
	Store   *MemStore
	Errs    map[string]error
}

// NewMemIndex creates an empty index.
func NewMemIndex(store *MemStore) *MemIndex {
	return &MemIndex{entries: make(map[uuid.UUID]*models.VectorEntry), Store: store}
}

func (x *MemIndex) failure(method string) error {
	if x.Errs == nil {
		return nil
	}
	return x.Errs[method]
}

func (x *MemIndex) Upsert(ctx context.Context, entry *models.VectorEntry) error {
	if err := x.failure("Upsert"); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	cp := *entry
	cp.Embedding = append([]float32(nil), entry.Embedding...)
	x.entries[entry.ScreenshotID] = &cp
	return nil
}

func (x *MemIndex) Query(ctx context.Context, userID uuid.UUID, embedding []float32, topK int) ([]models.VectorMatch, error) {
	if err := x.failure("Query"); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	var matches []models.VectorMatch
	for _, entry := range x.entries {
		if entry.UserID != userID {
			continue
		}
		matches = append(matches, models.VectorMatch{
			ScreenshotID: entry.ScreenshotID,
			Score:        cosine(embedding, entry.Embedding),
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (x *MemIndex) Delete(ctx context.Context, screenshotID uuid.UUID) error {
	if err := x.failure("Delete"); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.entries, screenshotID)
	return nil
}

func (x *MemIndex) Exists(ctx context.Context, screenshotID uuid.UUID) (bool, error) {
	if err := x.failure("Exists"); err != nil {
		return false, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.entries[screenshotID]
	return ok, nil
}

func (x *MemIndex) StaleEntries(ctx context.Context, limit int) ([]vector.StaleEntry, error) {
	if err := x.failure("StaleEntries"); err != nil {
		return nil, err
	}
	x.mu.Lock()
	ids := make([]uuid.UUID, 0, len(x.entries))
	for id := range x.entries {
		ids = append(ids, id)
	}
	x.mu.Unlock()

	var out []vector.StaleEntry
	for _, id := range ids {
		status := models.StatusDeleted
		if x.Store != nil {
			if rec, err := x.Store.GetByID(ctx, id); err == nil {
				status = rec.Status
			}
		}
		if status != models.StatusIndexed {
			out = append(out, vector.StaleEntry{ScreenshotID: id, Status: status})
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (x *MemIndex) MissingEntries(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if err := x.failure("MissingEntries"); err != nil {
		return nil, err
	}
	if x.Store == nil {
		return nil, nil
	}
	x.Store.mu.Lock()
	defer x.Store.mu.Unlock()
	x.mu.Lock()
	defer x.mu.Unlock()
	var out []uuid.UUID
	for id, rec := range x.Store.records {
		if rec.Status != models.StatusIndexed {
			continue
		}
		if _, ok := x.entries[id]; !ok {
			out = append(out, id)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Entry returns the stored vector entry for assertions.
func (x *MemIndex) Entry(id uuid.UUID) (*models.VectorEntry, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	entry, ok := x.entries[id]
	return entry, ok
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MemBlobs is an in-memory BlobStore.
type MemBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	Errs    map[string]error
	Signed  int
}

// NewMemBlobs creates an empty blob store.
func NewMemBlobs() *MemBlobs {
	return &MemBlobs{objects: make(map[string][]byte)}
}

func (b *MemBlobs) failure(method string) error {
	if b.Errs == nil {
		return nil
	}
	return b.Errs[method]
}

func (b *MemBlobs) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if err := b.failure("Upload"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

func (b *MemBlobs) Download(ctx context.Context, key string) ([]byte, error) {
	if err := b.failure("Download"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", key)
	}
	return append([]byte(nil), data...), nil
}

func (b *MemBlobs) Delete(ctx context.Context, key string) error {
	if err := b.failure("Delete"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *MemBlobs) SignedURL(ctx context.Context, key string) (string, error) {
	if err := b.failure("SignedURL"); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Signed++
	return "https://blobs.test/" + key + "?sig=test", nil
}

// Has reports whether a blob exists.
func (b *MemBlobs) Has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok
}

// MemQueue is an in-memory JobQueue.
type MemQueue struct {
	mu     sync.Mutex
	jobs   []queue.Message
	acked  map[string]bool
	nextID int
	Errs   map[string]error
}

// NewMemQueue creates an empty queue.
func NewMemQueue() *MemQueue {
	return &MemQueue{acked: make(map[string]bool)}
}

func (q *MemQueue) failure(method string) error {
	if q.Errs == nil {
		return nil
	}
	return q.Errs[method]
}

func (q *MemQueue) Enqueue(ctx context.Context, job queue.EnrichmentJob) error {
	if err := q.failure("Enqueue"); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	q.jobs = append(q.jobs, queue.Message{
		Job:           job,
		ReceiptHandle: fmt.Sprintf("receipt-%d", q.nextID),
	})
	return nil
}

func (q *MemQueue) Receive(ctx context.Context) ([]queue.Message, error) {
	if err := q.failure("Receive"); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.jobs
	q.jobs = nil
	return out, nil
}

func (q *MemQueue) Ack(ctx context.Context, receiptHandle string) error {
	if err := q.failure("Ack"); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked[receiptHandle] = true
	return nil
}

func (q *MemQueue) ExtendLease(ctx context.Context, receiptHandle string, d time.Duration) error {
	return q.failure("ExtendLease")
}

// Acked reports whether the receipt was acknowledged.
func (q *MemQueue) Acked(receiptHandle string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked[receiptHandle]
}

// Pending returns the number of undelivered jobs.
func (q *MemQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
