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

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider implements Provider on the Google Generative Language
// API: generateContent with inline image data for analysis and
// embedContent for vectors.
type GeminiProvider struct {
	apiKey         string
	baseURL        string
	visionModel    string
	embeddingModel string
	dimensions     int
	timeout        time.Duration
	httpClient     *http.Client
}

// NewGeminiProvider creates a Gemini-backed provider.
func NewGeminiProvider(cfg config.ProviderConfig) (*GeminiProvider, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" || embeddingModel == "text-embedding-3-small" {
		// The config default is the OpenAI model name; substitute the
		// Gemini equivalent when this provider is active.
		embeddingModel = "text-embedding-004"
	}
	return &GeminiProvider{
		apiKey:         cfg.GeminiAPIKey,
		baseURL:        defaultGeminiBaseURL,
		visionModel:    cfg.GeminiModel,
		embeddingModel: embeddingModel,
		dimensions:     cfg.Dimensions,
		timeout:        timeout,
		httpClient:     &http.Client{Timeout: timeout},
	}, nil
}

func (p *GeminiProvider) Name() string           { return "gemini" }
func (p *GeminiProvider) Dimensions() int        { return p.dimensions }
func (p *GeminiProvider) EmbeddingModel() string { return p.embeddingModel }

// WithBaseURL overrides the API endpoint. Used in tests.
func (p *GeminiProvider) WithBaseURL(url string) *GeminiProvider {
	p.baseURL = url
	return p
}

type geminiGenerateRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Analyze sends the image inline to the Gemini model and parses the
// structured JSON reply.
func (p *GeminiProvider) Analyze(ctx context.Context, image []byte, contentType string) (*models.AnalysisResult, error) {
	start := time.Now()

	reqBody := geminiGenerateRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{Text: analysisPrompt},
				{InlineData: &geminiInlineData{
					MimeType: contentType,
					Data:     base64.StdEncoding.EncodeToString(image),
				}},
			},
		}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      0.3,
			MaxOutputTokens:  2048,
			ResponseMimeType: "application/json",
		},
	}

	path := fmt.Sprintf("/models/%s:generateContent", p.visionModel)
	body, err := p.post(ctx, path, reqBody)
	if err != nil {
		return nil, err
	}

	var genResp geminiGenerateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return nil, fmt.Errorf("%w: parse generate response: %v", ErrInvalidResponse, err)
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: no candidates in generate response", ErrInvalidResponse)
	}

	var payload struct {
		Tag         string `json:"tag"`
		Description string `json:"description"`
		RawText     string `json:"raw_text"`
	}
	if err := json.Unmarshal([]byte(genResp.Candidates[0].Content.Parts[0].Text), &payload); err != nil {
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

type geminiEmbedRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Embed generates an embedding for the given text.
func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	path := fmt.Sprintf("/models/%s:embedContent", p.embeddingModel)
	body, err := p.post(ctx, path, geminiEmbedRequest{
		Model:   "models/" + p.embeddingModel,
		Content: geminiContent{Parts: []geminiPart{{Text: text}}},
	})
	if err != nil {
		return nil, err
	}

	var embedResp geminiEmbedResponse
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, fmt.Errorf("%w: parse embed response: %v", ErrInvalidResponse, err)
	}
	if len(embedResp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: no embedding values in response", ErrInvalidResponse)
	}
	return embedResp.Embedding.Values, nil
}

func (p *GeminiProvider) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	url := p.baseURL + path + "?key=" + p.apiKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
