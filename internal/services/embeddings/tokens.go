package embeddings

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// charsPerToken approximates English prose density for the fallback path
// when the tokenizer vocabulary cannot be loaded.
const charsPerToken = 4

type tokenizer struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

func (t *tokenizer) encoding() *tiktoken.Tiktoken {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return
		}
		t.enc = enc
	})
	return t.enc
}

// truncate caps text at maxTokens. With the tokenizer available the cut is
// exact; otherwise a character heuristic bounds the worst case.
func (t *tokenizer) truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if enc := t.encoding(); enc != nil {
		ids := enc.Encode(text, nil, nil)
		if len(ids) <= maxTokens {
			return text
		}
		return enc.Decode(ids[:maxTokens])
	}
	limit := maxTokens * charsPerToken
	if len(text) <= limit {
		return text
	}
	return strings.ToValidUTF8(text[:limit], "")
}

// normalize collapses runs of whitespace to single spaces before embedding
// so formatting differences do not perturb vectors or cache keys.
func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
