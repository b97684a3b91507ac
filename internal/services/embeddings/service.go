package embeddings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

const (
	defaultBatchSize = 64
	minBatchSize     = 50
	maxBatchSize     = 100
)

// Service turns a version's embeddable spans into vector chunks. The vendor
// client stays dumb; this layer owns batching, the rate limiter, retries,
// the vector cache, and chunk persistence.
type Service struct {
	client interfaces.EmbeddingClient
	cache  *VectorCache
	spans  interfaces.SpanStorage
	docs   interfaces.DocumentStorage
	logger arbor.ILogger

	limiter     *rate.Limiter
	tok         tokenizer
	batchSize   int
	maxTokens   int
	maxAttempts int
	concurrency int
}

var _ interfaces.EmbeddingService = (*Service)(nil)

func NewService(logger arbor.ILogger, config *common.EmbeddingsConfig, client interfaces.EmbeddingClient, cache *VectorCache, spans interfaces.SpanStorage, docs interfaces.DocumentStorage) *Service {
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if batchSize < minBatchSize {
		batchSize = minBatchSize
	}
	if batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}

	rpm := config.RequestsPerMin
	if rpm <= 0 {
		rpm = 3000
	}
	rps := rate.Limit(float64(rpm) / 60.0)

	attempts := config.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}

	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &Service{
		client:      client,
		cache:       cache,
		spans:       spans,
		docs:        docs,
		logger:      logger,
		limiter:     rate.NewLimiter(rps, max(1, int(rps))),
		batchSize:   batchSize,
		maxTokens:   config.MaxTokens,
		maxAttempts: attempts,
		concurrency: concurrency,
	}
}

// EmbedVersion embeds every embeddable span of the version that has no chunk
// yet and returns the version's total chunk count. Already-covered spans are
// skipped, so re-running after a partial failure only pays for the remainder.
func (s *Service) EmbedVersion(ctx context.Context, tenantID, versionID string) (int, error) {
	if s.client == nil {
		return 0, fmt.Errorf("embeddings: %w", interfaces.ErrProviderUnavailable)
	}
	version, err := s.docs.GetVersion(ctx, tenantID, versionID)
	if err != nil {
		return 0, err
	}

	allSpans, err := s.spans.ListSpansByVersion(ctx, tenantID, versionID, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to list spans for version %s: %w", versionID, err)
	}
	existing, err := s.spans.ListChunksByVersion(ctx, tenantID, versionID)
	if err != nil {
		return 0, fmt.Errorf("failed to list chunks for version %s: %w", versionID, err)
	}

	covered := make(map[string]bool, len(existing))
	for _, chunk := range existing {
		if chunk.SpanID != "" {
			covered[chunk.SpanID] = true
		}
	}

	var pending []*models.Span
	for _, span := range allSpans {
		if !span.SpanType.Embeddable() || covered[span.ID] {
			continue
		}
		pending = append(pending, span)
	}
	if len(pending) == 0 {
		s.logger.Debug().
			Str("version_id", versionID).
			Int("chunks", len(existing)).
			Msg("No spans pending embedding")
		return len(existing), nil
	}

	texts := make([]string, len(pending))
	for i, span := range pending {
		texts[i] = s.prepare(span.TextContent)
	}

	vectors, err := s.embedAll(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed %d spans for version %s: %w", len(pending), versionID, err)
	}

	now := time.Now().UTC()
	chunks := make([]*models.EmbeddingChunk, len(pending))
	for i, span := range pending {
		chunk := &models.EmbeddingChunk{
			ID:          common.NewChunkID(),
			TenantID:    tenantID,
			VersionID:   versionID,
			DocumentID:  version.DocumentID,
			SpanID:      span.ID,
			ChunkIndex:  len(existing) + i,
			TextContent: span.TextContent,
			Embedding:   vectors[i],
			CreatedAt:   now,
		}
		if span.Locator.Type == models.LocatorTypeText {
			chunk.CharStart = span.Locator.OffsetStart
			chunk.CharEnd = span.Locator.OffsetEnd
		}
		chunks[i] = chunk
	}

	if err := s.spans.StoreChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("failed to store %d chunks for version %s: %w", len(chunks), versionID, err)
	}

	s.logger.Info().
		Str("version_id", versionID).
		Int("embedded", len(chunks)).
		Int("skipped", len(allSpans)-len(pending)).
		Str("model", s.client.Model()).
		Msg("Embedded version spans")
	return len(existing) + len(chunks), nil
}

// EmbedQuery embeds a single search query through the same normalization,
// cache, and retry path as span text.
func (s *Service) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if s.client == nil {
		return nil, fmt.Errorf("embeddings: %w", interfaces.ErrProviderUnavailable)
	}
	vectors, err := s.embedAll(ctx, []string{s.prepare(query)})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return vectors[0], nil
}

func (s *Service) prepare(text string) string {
	return s.tok.truncate(normalize(text), s.maxTokens)
}

// embedAll resolves one vector per input, in input order. Empty strings map
// to the zero vector at the client's dimension without a vendor call; cache
// hits are likewise served locally. Misses are batched and fanned out over a
// bounded pool, with the shared limiter keeping the aggregate request rate
// under the provider ceiling.
func (s *Service) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	var misses []int
	for i, text := range texts {
		if text == "" {
			vectors[i] = make([]float32, s.client.Dimensions())
			continue
		}
		if vec, ok := s.cache.Get(cacheKey(s.client.Model(), s.client.Dimensions(), text)); ok {
			vectors[i] = vec
			continue
		}
		misses = append(misses, i)
	}
	if len(misses) == 0 {
		return vectors, nil
	}

	pool := workerpool.New(s.concurrency)
	var (
		mu       sync.Mutex
		firstErr error
	)
	for start := 0; start < len(misses); start += s.batchSize {
		batch := misses[start:min(start+s.batchSize, len(misses))]
		pool.Submit(func() {
			mu.Lock()
			failed := firstErr != nil
			mu.Unlock()
			if failed {
				return
			}

			inputs := make([]string, len(batch))
			for j, idx := range batch {
				inputs[j] = texts[idx]
			}
			out, err := s.embedWithRetry(ctx, inputs)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			for j, idx := range batch {
				vectors[idx] = out[j]
				s.cache.Put(cacheKey(s.client.Model(), s.client.Dimensions(), texts[idx]), out[j])
			}
		})
	}
	pool.StopWait()

	if firstErr != nil {
		return nil, firstErr
	}
	return vectors, nil
}

func (s *Service) embedWithRetry(ctx context.Context, inputs []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		vectors, err := s.client.Embed(ctx, inputs)
		if err == nil {
			if len(vectors) != len(inputs) {
				return nil, fmt.Errorf("embedding client returned %d vectors for %d inputs", len(vectors), len(inputs))
			}
			return vectors, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
		if attempt == s.maxAttempts-1 {
			break
		}

		delay := retryDelay(attempt)
		if hint := retryAfter(err); hint > 0 {
			delay = hint
		}
		s.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Str("delay", delay.String()).
			Msg("Embedding request failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", s.maxAttempts, lastErr)
}
