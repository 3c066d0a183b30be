package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screenvault/screenvault/internal/observability"
)

func TestBreakerOpensAfterConsecutiveTransientFailures(t *testing.T) {
	mock := NewMockProvider(4)
	mock.EmbedFn = func(ctx context.Context, text string) ([]float32, error) {
		return nil, ErrUnavailable
	}
	p := NewBreakerProvider(mock, observability.NewNoopLogger())

	for i := 0; i < 5; i++ {
		_, err := p.Embed(context.Background(), "text")
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	require.Equal(t, 5, mock.EmbedCalls())

	// Breaker is open now; the backend is no longer called.
	_, err := p.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 5, mock.EmbedCalls())
}

func TestBreakerIgnoresPermanentFailures(t *testing.T) {
	mock := NewMockProvider(4)
	mock.EmbedFn = func(ctx context.Context, text string) ([]float32, error) {
		return nil, ErrAuthFailure
	}
	p := NewBreakerProvider(mock, observability.NewNoopLogger())

	// Auth failures do not trip the breaker no matter how many.
	for i := 0; i < 10; i++ {
		_, err := p.Embed(context.Background(), "text")
		assert.ErrorIs(t, err, ErrAuthFailure)
	}
	assert.Equal(t, 10, mock.EmbedCalls())
}

func TestBreakerPassesThroughSuccess(t *testing.T) {
	mock := NewMockProvider(4)
	p := NewBreakerProvider(mock, observability.NewNoopLogger())

	embedding, err := p.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, embedding, 4)

	result, err := p.Analyze(context.Background(), []byte("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "mock", result.Tag)
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	mock := NewMockProvider(4)
	fail := true
	calls := 0
	mock.EmbedFn = func(ctx context.Context, text string) ([]float32, error) {
		calls++
		if fail {
			return nil, ErrTimeout
		}
		return DeterministicEmbedding(text, 4), nil
	}
	p := NewBreakerProvider(mock, observability.NewNoopLogger())

	for i := 0; i < 4; i++ {
		_, _ = p.Embed(context.Background(), "text")
	}
	fail = false

	// A success before the fifth consecutive failure keeps it closed.
	_, err := p.Embed(context.Background(), "text")
	require.NoError(t, err)

	fail = true
	_, err = p.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 6, calls, "breaker must still be closed")
}

func TestCachingProviderMemoizesEmbeddings(t *testing.T) {
	mock := NewMockProvider(4)
	p, err := NewCachingProvider(mock, 16)
	require.NoError(t, err)

	first, err := p.Embed(context.Background(), "same text")
	require.NoError(t, err)
	second, err := p.Embed(context.Background(), "same text")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, mock.EmbedCalls(), "second call must hit the cache")

	_, err = p.Embed(context.Background(), "different text")
	require.NoError(t, err)
	assert.Equal(t, 2, mock.EmbedCalls())
}

func TestCachingProviderReturnsCopies(t *testing.T) {
	mock := NewMockProvider(4)
	p, err := NewCachingProvider(mock, 16)
	require.NoError(t, err)

	first, err := p.Embed(context.Background(), "text")
	require.NoError(t, err)
	first[0] = 999

	second, err := p.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.NotEqual(t, float32(999), second[0], "caller mutation must not poison the cache")
}

func TestCachingProviderDoesNotCacheErrors(t *testing.T) {
	mock := NewMockProvider(4)
	failing := true
	mock.EmbedFn = func(ctx context.Context, text string) ([]float32, error) {
		if failing {
			return nil, ErrUnavailable
		}
		return DeterministicEmbedding(text, 4), nil
	}
	p, err := NewCachingProvider(mock, 16)
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrUnavailable)

	failing = false
	embedding, err := p.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, embedding, 4)
}

func TestCachingProviderNeverCachesAnalyze(t *testing.T) {
	mock := NewMockProvider(4)
	p, err := NewCachingProvider(mock, 16)
	require.NoError(t, err)

	_, err = p.Analyze(context.Background(), []byte("img"), "image/png")
	require.NoError(t, err)
	_, err = p.Analyze(context.Background(), []byte("img"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, 2, mock.AnalyzeCalls())
}
