package harness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
)

// EstimateTokens is a fast heuristic of roughly four bytes per token.
func EstimateTokens(s string) int {
	l := len(s)
	if l == 0 {
		return 0
	}
	return (l + 3) / 4
}

// HeuristicTokenizer counts tokens with EstimateTokens.
var HeuristicTokenizer ports.Tokenizer = ports.TokenizerFunc(EstimateTokens)

// CachingTokenizer memoises counts of a slower tokenizer. Transcripts are re-counted
// on every turn, so each stored turn is only tokenized once while it stays cached.
type CachingTokenizer struct {
	base       ports.Tokenizer
	cache      ports.Cache
	ttlSeconds int
}

// NewCachingTokenizer wraps base with cache.
func NewCachingTokenizer(base ports.Tokenizer, cache ports.Cache, ttlSeconds int) *CachingTokenizer {
	return &CachingTokenizer{base: base, cache: cache, ttlSeconds: ttlSeconds}
}

func (t *CachingTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}

	sum := sha256.Sum256([]byte(text))
	key := "tok:" + hex.EncodeToString(sum[:])

	ctx := context.Background()
	if raw, ok := t.cache.Get(ctx, key); ok {
		if n, err := strconv.Atoi(string(raw)); err == nil {
			return n
		}
	}

	n := t.base.CountTokens(text)
	_ = t.cache.Set(ctx, key, []byte(strconv.Itoa(n)), t.ttlSeconds)
	return n
}

var _ ports.Tokenizer = (*CachingTokenizer)(nil)
