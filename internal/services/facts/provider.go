package facts

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
)

const (
	providerMaxRetries = 3

	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultGeminiModel    = "gemini-2.5-flash"
)

// NewProvider builds the configured fact-extraction backend.
func NewProvider(logger arbor.ILogger, config *common.FactsConfig) (interfaces.LLMProvider, error) {
	switch config.Provider {
	case "anthropic":
		return newAnthropicProvider(logger, config)
	case "gemini":
		return newGeminiProvider(logger, config)
	default:
		return nil, fmt.Errorf("invalid facts provider %q: must be 'anthropic' or 'gemini'", config.Provider)
	}
}

// rateLimited matches 429s and quota exhaustion across both vendors.
func rateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit")
}

// vendorDelayRegex matches "Please retry in Xs" or "retryDelay:Xs" hints.
var vendorDelayRegex = regexp.MustCompile(`(?i)(?:Please retry in |retryDelay[:\s]+)(\d+(?:\.\d+)?)\s*s`)

// vendorRetryDelay parses a vendor-suggested retry delay out of an error
// message, or 0 when absent.
func vendorRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}
	matches := vendorDelayRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}
	seconds, parseErr := strconv.ParseFloat(matches[1], 64)
	if parseErr != nil {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func completionBackoff(attempt int, err error) time.Duration {
	if rateLimited(err) {
		if hint := vendorRetryDelay(err); hint > 0 {
			return hint + 5*time.Second
		}
		return time.Duration(attempt+1) * 20 * time.Second
	}
	return time.Duration(attempt+1) * 2 * time.Second
}

type anthropicProvider struct {
	client      anthropic.Client
	logger      arbor.ILogger
	model       string
	maxTokens   int
	temperature float64
}

var _ interfaces.LLMProvider = (*anthropicProvider)(nil)

func newAnthropicProvider(logger arbor.ILogger, config *common.FactsConfig) (*anthropicProvider, error) {
	if config.Anthropic.APIKey == "" {
		return nil, fmt.Errorf("facts.anthropic.api_key is required")
	}

	model := config.Anthropic.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := config.Anthropic.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	return &anthropicProvider{
		client:      anthropic.NewClient(option.WithAPIKey(config.Anthropic.APIKey)),
		logger:      logger,
		model:       model,
		maxTokens:   maxTokens,
		temperature: config.Temperature,
	}, nil
}

func (p *anthropicProvider) Name() string  { return "anthropic" }
func (p *anthropicProvider) Model() string { return p.model }

func (p *anthropicProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if p.temperature > 0 {
		params.Temperature = anthropic.Float(p.temperature)
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	var resp *anthropic.Message
	var apiErr error
	for attempt := 0; attempt <= providerMaxRetries; attempt++ {
		resp, apiErr = p.client.Messages.New(ctx, params)
		if apiErr == nil {
			break
		}
		if attempt == providerMaxRetries {
			break
		}
		backoff := completionBackoff(attempt, apiErr)
		p.logger.Warn().
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Err(apiErr).
			Msg("Retrying Claude API call")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
	if apiErr != nil {
		return "", fmt.Errorf("Claude API call failed after %d retries: %w", providerMaxRetries, apiErr)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from Claude API")
	}
	return text.String(), nil
}

type geminiProvider struct {
	logger      arbor.ILogger
	apiKey      string
	model       string
	temperature float64

	mu     sync.Mutex
	client *genai.Client
}

var _ interfaces.LLMProvider = (*geminiProvider)(nil)

func newGeminiProvider(logger arbor.ILogger, config *common.FactsConfig) (*geminiProvider, error) {
	if config.Gemini.APIKey == "" {
		return nil, fmt.Errorf("facts.gemini.api_key is required")
	}

	model := config.Gemini.Model
	if model == "" {
		model = defaultGeminiModel
	}

	return &geminiProvider{
		logger:      logger,
		apiKey:      config.Gemini.APIKey,
		model:       model,
		temperature: config.Temperature,
	}, nil
}

func (p *geminiProvider) Name() string  { return "gemini" }
func (p *geminiProvider) Model() string { return p.model }

// getClient creates the genai client on first use; creation needs a context.
func (p *geminiProvider) getClient(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	p.client = client
	return client, nil
}

func (p *geminiProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return "", err
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if p.temperature > 0 {
		config.Temperature = genai.Ptr(float32(p.temperature))
	}
	if systemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	contents := []*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}

	var resp *genai.GenerateContentResponse
	var apiErr error
	for attempt := 0; attempt <= providerMaxRetries; attempt++ {
		resp, apiErr = client.Models.GenerateContent(ctx, p.model, contents, config)
		if apiErr == nil {
			break
		}
		if attempt == providerMaxRetries {
			break
		}
		backoff := completionBackoff(attempt, apiErr)
		p.logger.Warn().
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Err(apiErr).
			Msg("Retrying Gemini API call")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
	if apiErr != nil {
		return "", fmt.Errorf("Gemini API call failed after %d retries: %w", providerMaxRetries, apiErr)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("empty response from Gemini API")
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty text in Gemini response")
	}
	return text, nil
}
