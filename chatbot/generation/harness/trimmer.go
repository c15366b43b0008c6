package harness

import (
	"slices"

	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
)

// Trimmer derives the bounded window of a transcript that is sent to the model.
type Trimmer struct {
	tokenizer ports.Tokenizer
}

// NewTrimmer creates a trimmer. A nil tokenizer falls back to the heuristic estimate.
func NewTrimmer(tokenizer ports.Tokenizer) *Trimmer {
	if tokenizer == nil {
		tokenizer = HeuristicTokenizer
	}
	return &Trimmer{tokenizer: tokenizer}
}

// Trim keeps the newest turns whose token sum fits maxTokens, then drops leading
// turns until the window starts on a human turn. maxTokens <= 0 disables the budget.
//
// When the budget cannot hold even the latest human turn, the window falls back to
// everything from that turn onward so the model never loses the newest exchange.
// The input is never modified; the result is a fresh slice.
func (t *Trimmer) Trim(turns []ports.Turn, maxTokens int) []ports.Turn {
	if len(turns) == 0 {
		return []ports.Turn{}
	}

	start := 0
	if maxTokens > 0 {
		start = len(turns)
		total := 0
		for i := len(turns) - 1; i >= 0; i-- {
			n := t.tokenizer.CountTokens(turns[i].Content)
			if total+n > maxTokens {
				break
			}
			total += n
			start = i
		}
	}

	for start < len(turns) && turns[start].Role != ports.RoleHuman {
		start++
	}

	if start == len(turns) {
		start = lastHumanIndex(turns)
		if start < 0 {
			return []ports.Turn{}
		}
	}

	return slices.Clone(turns[start:])
}

func lastHumanIndex(turns []ports.Turn) int {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == ports.RoleHuman {
			return i
		}
	}
	return -1
}
