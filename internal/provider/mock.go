package provider

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/screenvault/screenvault/internal/models"
)

// MockProvider is a deterministic in-process provider used in tests
// and local development. Embeddings are derived from a content hash so
// equal texts always map to equal vectors.
type MockProvider struct {
	dimensions int

	mu           sync.Mutex
	analyzeCalls int
	embedCalls   int

	// AnalyzeFn and EmbedFn override the default behavior when set.
	AnalyzeFn func(ctx context.Context, image []byte, contentType string) (*models.AnalysisResult, error)
	EmbedFn   func(ctx context.Context, text string) ([]float32, error)
}

// NewMockProvider creates a mock provider with the given vector size.
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &MockProvider{dimensions: dimensions}
}

func (p *MockProvider) Name() string           { return "mock" }
func (p *MockProvider) Dimensions() int        { return p.dimensions }
func (p *MockProvider) EmbeddingModel() string { return "mock-embed-v1" }

func (p *MockProvider) Analyze(ctx context.Context, image []byte, contentType string) (*models.AnalysisResult, error) {
	p.mu.Lock()
	p.analyzeCalls++
	p.mu.Unlock()

	if p.AnalyzeFn != nil {
		return p.AnalyzeFn(ctx, image, contentType)
	}

	sum := sha256.Sum256(image)
	return &models.AnalysisResult{
		Tag:         "mock",
		Description: fmt.Sprintf("mock analysis of %d bytes (%x)", len(image), sum[:4]),
		RawText:     "",
		Provider:    p.Name(),
		Latency:     time.Millisecond,
	}, nil
}

func (p *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.embedCalls++
	p.mu.Unlock()

	if p.EmbedFn != nil {
		return p.EmbedFn(ctx, text)
	}
	return DeterministicEmbedding(text, p.dimensions), nil
}

// AnalyzeCalls returns how many times Analyze was invoked.
func (p *MockProvider) AnalyzeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.analyzeCalls
}

// EmbedCalls returns how many times Embed was invoked.
func (p *MockProvider) EmbedCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.embedCalls
}

// DeterministicEmbedding produces a unit-norm vector seeded by the
// text content. Similar only to itself, which is enough for tests.
func DeterministicEmbedding(text string, dimensions int) []float32 {
	sum := sha256.Sum256([]byte(text))
	out := make([]float32, dimensions)
	var norm float64
	for i := range out {
		// Stretch the 32 hash bytes across the vector.
		b := sum[(i*4)%len(sum):]
		v := float64(int32(binary.BigEndian.Uint32(b[:4])))/math.MaxInt32 + float64(i%7)*0.01
		out[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range out {
			out[i] *= scale
		}
	}
	return out
}
