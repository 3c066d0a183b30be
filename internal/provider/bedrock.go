package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"github.com/screenvault/screenvault/internal/config"
	"github.com/screenvault/screenvault/internal/models"
)

const bedrockEmbedModel = "amazon.titan-embed-text-v1"

// BedrockAPI is the slice of the Bedrock runtime used here, split out
// so tests can inject a fake.
type BedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider implements Provider on Amazon Bedrock: an Anthropic
// vision model for analysis and Titan for text embeddings. Unlike the
// HTTP providers, both operations go through InvokeModel.
type BedrockProvider struct {
	client      BedrockAPI
	visionModel string
	dimensions  int
	timeout     time.Duration
}

// NewBedrockProvider creates a Bedrock-backed provider.
func NewBedrockProvider(ctx context.Context, cfg config.ProviderConfig) (*BedrockProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.BedrockRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &BedrockProvider{
		client:      bedrockruntime.NewFromConfig(awsCfg),
		visionModel: cfg.BedrockModel,
		dimensions:  cfg.Dimensions,
		timeout:     timeout,
	}, nil
}

// NewBedrockProviderWithClient injects a custom runtime client. Used
// in tests.
func NewBedrockProviderWithClient(client BedrockAPI, visionModel string, dimensions int, timeout time.Duration) *BedrockProvider {
	return &BedrockProvider{client: client, visionModel: visionModel, dimensions: dimensions, timeout: timeout}
}

func (p *BedrockProvider) Name() string           { return "bedrock" }
func (p *BedrockProvider) Dimensions() int        { return p.dimensions }
func (p *BedrockProvider) EmbeddingModel() string { return bedrockEmbedModel }

type anthropicMessagesRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float64            `json:"temperature"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicMessagesResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// Analyze invokes the Anthropic vision model with the image inline.
func (p *BedrockProvider) Analyze(ctx context.Context, image []byte, contentType string) (*models.AnalysisResult, error) {
	start := time.Now()

	reqBody, err := json.Marshal(anthropicMessagesRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        2048,
		Temperature:      0.3,
		Messages: []anthropicMessage{{
			Role: "user",
			Content: []anthropicContent{
				{Type: "image", Source: &anthropicSource{
					Type:      "base64",
					MediaType: contentType,
					Data:      base64.StdEncoding.EncodeToString(image),
				}},
				{Type: "text", Text: analysisPrompt},
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.invoke(ctx, p.visionModel, reqBody)
	if err != nil {
		return nil, err
	}

	var msgResp anthropicMessagesResponse
	if err := json.Unmarshal(output, &msgResp); err != nil {
		return nil, fmt.Errorf("%w: parse messages response: %v", ErrInvalidResponse, err)
	}
	if len(msgResp.Content) == 0 {
		return nil, fmt.Errorf("%w: empty messages response", ErrInvalidResponse)
	}

	var payload struct {
		Tag         string `json:"tag"`
		Description string `json:"description"`
		RawText     string `json:"raw_text"`
	}
	if err := json.Unmarshal([]byte(msgResp.Content[0].Text), &payload); err != nil {
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

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed generates an embedding with the Titan text model.
func (p *BedrockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(titanEmbedRequest{InputText: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.invoke(ctx, bedrockEmbedModel, reqBody)
	if err != nil {
		return nil, err
	}

	var embedResp titanEmbedResponse
	if err := json.Unmarshal(output, &embedResp); err != nil {
		return nil, fmt.Errorf("%w: parse embed response: %v", ErrInvalidResponse, err)
	}
	if len(embedResp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: no embedding in response", ErrInvalidResponse)
	}
	return embedResp.Embedding, nil
}

func (p *BedrockProvider) invoke(ctx context.Context, modelID string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, classifyBedrockError(err)
	}
	return output.Body, nil
}

// classifyBedrockError maps SDK error codes into the taxonomy.
func classifyBedrockError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case "AccessDeniedException", "UnrecognizedClientException":
			return fmt.Errorf("%w: %v", ErrAuthFailure, err)
		case "ModelTimeoutException":
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		case "ValidationException":
			return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		case "ServiceUnavailableException", "InternalServerException", "ModelNotReadyException":
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return classifyTransport(err)
}
