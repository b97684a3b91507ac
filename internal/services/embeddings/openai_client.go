package embeddings

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
)

// OpenAIClient converses with the vendor embedding API. Batching, retries,
// rate limiting, and caching live in the service layer; this type only
// issues single requests and accounts token usage.
type OpenAIClient struct {
	client     openai.Client
	model      string
	dimensions int
	tokensUsed atomic.Int64
}

var _ interfaces.EmbeddingClient = (*OpenAIClient)(nil)

func NewOpenAIClient(config *common.EmbeddingsConfig) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("embeddings api_key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	model := config.Model
	if model == "" {
		model = "text-embedding-3-small"
	}

	return &OpenAIClient{
		client:     openai.NewClient(opts...),
		model:      model,
		dimensions: config.Dimensions,
	}, nil
}

func (c *OpenAIClient) Model() string   { return c.model }
func (c *OpenAIClient) Dimensions() int { return c.dimensions }

// TokensUsed reports cumulative prompt tokens across all requests.
func (c *OpenAIClient) TokensUsed() int64 { return c.tokensUsed.Load() }

// Embed returns one vector per input, in input order.
func (c *OpenAIClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	params := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Model:          openai.EmbeddingModel(c.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if c.dimensions > 0 {
		params.Dimensions = openai.Int(int64(c.dimensions))
	}

	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(inputs))
	}
	c.tokensUsed.Add(resp.Usage.PromptTokens)

	// The API reports an index per datum; trust it rather than response order.
	vectors := make([][]float32, len(inputs))
	for _, item := range resp.Data {
		idx := int(item.Index)
		if idx < 0 || idx >= len(vectors) {
			return nil, fmt.Errorf("embedding response index %d out of range", idx)
		}
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		vectors[idx] = vec
	}
	return vectors, nil
}
