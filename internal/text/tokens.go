package text

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

var (
	tokenizer     *tiktoken.Tiktoken
	tokenizerOnce sync.Once
	tokenizerErr  error
)

func getTokenizer() (*tiktoken.Tiktoken, error) {
	tokenizerOnce.Do(func() {
		tokenizer, tokenizerErr = tiktoken.GetEncoding("cl100k_base")
		if tokenizerErr != nil {
			slog.Error("failed to initialize tokenizer", "error", tokenizerErr)
		}
	})
	return tokenizer, tokenizerErr
}

// EstimateTokens is a model-agnostic ballpark used when the encoding is
// unavailable.
func EstimateTokens(s string) int {
	return len(s)/3 + 5
}

// CountTokens counts s in cl100k_base tokens, falling back to EstimateTokens.
func CountTokens(s string) int {
	if s == "" {
		return 0
	}
	tk, err := getTokenizer()
	if err != nil {
		return EstimateTokens(s)
	}
	return len(tk.Encode(s, nil, nil))
}

// FitBudget returns how many of the leading items fit in maxTokens when each
// item costs CountTokens(item) plus overhead.
func FitBudget(items []string, maxTokens, overhead int) int {
	used := 0
	for i, it := range items {
		cost := CountTokens(it) + overhead
		if used+cost > maxTokens {
			return i
		}
		used += cost
	}
	return len(items)
}
