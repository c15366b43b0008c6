package adapters

import (
	"testing"

	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderChatPrompt_ChatML(t *testing.T) {
	out, err := renderChatPrompt(chatTemplateFor("qwen2.5-0.5b-instruct.gguf"), testPrompt())
	require.NoError(t, err)

	assert.Equal(t, "<|im_start|>system\nBe helpful.<|im_end|>\n"+
		"<|im_start|>user\nHi<|im_end|>\n"+
		"<|im_start|>assistant\nHello!<|im_end|>\n"+
		"<|im_start|>user\nWhat did I say?<|im_end|>\n"+
		"<|im_start|>assistant\n", out)
}

func TestRenderChatPrompt_Gemma(t *testing.T) {
	out, err := renderChatPrompt(chatTemplateFor("Gemma-2b-it.gguf"), ports.PromptInput{Question: "Hi"})
	require.NoError(t, err)

	assert.Equal(t, "<start_of_turn>user\nHi<end_of_turn>\n<start_of_turn>model\n", out)
}

func TestLlamaConfig_Validate(t *testing.T) {
	cfg := LlamaConfig{}
	assert.Error(t, cfg.validate())

	cfg = LlamaConfig{ModelPath: "m.gguf", ContextSize: 2048}
	require.NoError(t, cfg.validate())
	assert.Equal(t, 1, cfg.PoolSize)
	assert.Equal(t, 4, cfg.Threads)
}
