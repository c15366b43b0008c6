package harness

import (
	"strings"

	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
)

// PromptBuilder assembles model-ready inputs from system text, the bounded window and the question.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder { return &PromptBuilder{} }

// Assemble returns {system, window..., question} as a Provider PromptInput. It is pure
// and cannot fail; an empty window yields just the system text and the question.
func (b *PromptBuilder) Assemble(system string, window []ports.Turn, question string) ports.PromptInput {
	messages := make([]ports.PromptMessage, 0, len(window))
	for _, turn := range window {
		messages = append(messages, ports.PromptMessage{Role: turn.Role, Content: normalize(turn.Content)})
	}

	return ports.PromptInput{
		System:   strings.TrimSpace(normalize(system)),
		Messages: messages,
		Question: normalize(question),
		Meta:     map[string]string{},
	}
}

// normalize converts CRLF and lone CR line endings to LF.
func normalize(s string) string {
	if !strings.ContainsRune(s, '\r') {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
