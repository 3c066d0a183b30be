package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/screenvault/screenvault/internal/config"
	"github.com/screenvault/screenvault/internal/models"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements Provider on the OpenAI API: a vision chat
// completion for analysis and the embeddings endpoint for vectors.
type OpenAIProvider struct {
	apiKey         string
	baseURL        string
	visionModel    string
	embeddingModel string
	dimensions     int
	timeout        time.Duration
	httpClient     *http.Client
}

// NewOpenAIProvider creates an OpenAI-backed provider.
func NewOpenAIProvider(cfg config.ProviderConfig) (*OpenAIProvider, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIProvider{
		apiKey:         cfg.OpenAIAPIKey,
		baseURL:        defaultOpenAIBaseURL,
		visionModel:    cfg.OpenAIModel,
		embeddingModel: cfg.EmbeddingModel,
		dimensions:     cfg.Dimensions,
		timeout:        timeout,
		httpClient:     &http.Client{Timeout: timeout},
	}, nil
}

func (p *OpenAIProvider) Name() string           { return "openai" }
func (p *OpenAIProvider) Dimensions() int        { return p.dimensions }
func (p *OpenAIProvider) EmbeddingModel() string { return p.embeddingModel }

// WithBaseURL overrides the API endpoint. Used in tests.
func (p *OpenAIProvider) WithBaseURL(url string) *OpenAIProvider {
	p.baseURL = url
	return p
}

type openAIChatRequest struct {
	Model          string              `json:"model"`
	Messages       []openAIChatMessage `json:"messages"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat *openAIRespFormat   `json:"response_format,omitempty"`
}

type openAIRespFormat struct {
	Type string `json:"type"`
}

type openAIChatMessage struct {
	Role    string              `json:"role"`
	Content []openAIChatContent `json:"content"`
}

type openAIChatContent struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze sends the image as a data URL to the vision model and parses
// the structured JSON reply.
func (p *OpenAIProvider) Analyze(ctx context.Context, image []byte, contentType string) (*models.AnalysisResult, error) {
	start := time.Now()

	dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(image))
	reqBody := openAIChatRequest{
		Model: p.visionModel,
		Messages: []openAIChatMessage{{
			Role: "user",
			Content: []openAIChatContent{
				{Type: "text", Text: analysisPrompt},
				{Type: "image_url", ImageURL: &openAIImageURL{URL: dataURL}},
			},
		}},
		MaxTokens:      2048,
		Temperature:    0.3,
		ResponseFormat: &openAIRespFormat{Type: "json_object"},
	}

	body, err := p.post(ctx, "/chat/completions", reqBody)
	if err != nil {
		return nil, err
	}

	var chatResp openAIChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("%w: parse chat response: %v", ErrInvalidResponse, err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in chat response", ErrInvalidResponse)
	}

	var payload struct {
		Tag         string `json:"tag"`
		Description string `json:"description"`
		RawText     string `json:"raw_text"`
	}
	if err := json.Unmarshal([]byte(chatResp.Choices[0].Message.Content), &payload); err != nil {
		return nil, fmt.Errorf("%w: parse analysis payload: %v", ErrInvalidResponse, err)
	}

	result := &models.AnalysisResult{
		Tag:         payload.Tag,
		Description: payload.Description,
		RawText:     payload.RawText,
		Provider:    p.Name(),
		Latency:     time.Since(start),
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return result, nil
}

type openAIEmbedRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed generates an embedding for the given text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := p.post(ctx, "/embeddings", openAIEmbedRequest{
		Input: text,
		Model: p.embeddingModel,
	})
	if err != nil {
		return nil, err
	}

	var embedResp openAIEmbedResponse
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, fmt.Errorf("%w: parse embeddings response: %v", ErrInvalidResponse, err)
	}
	if len(embedResp.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedding data in response", ErrInvalidResponse)
	}
	embedding := embedResp.Data[0].Embedding
	if p.dimensions > 0 && len(embedding) != p.dimensions {
		return nil, fmt.Errorf("%w: expected %d dimensions, got %d", ErrInvalidResponse, p.dimensions, len(embedding))
	}
	return embedding, nil
}

// post issues one JSON request with the per-call deadline applied and
// the response classified into the failure taxonomy.
func (p *OpenAIProvider) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, string(body))
	}
	return body, nil
}
