package adapters

import (
	"errors"
	"fmt"
)

// LlamaConfig configures the local GGUF provider.
type LlamaConfig struct {
	ModelPath   string
	ContextSize int
	GPULayers   int
	Threads     int
	MaxTokens   int // default generation budget when the request sets none
	PoolSize    int
}

func (c *LlamaConfig) validate() error {
	if c.ModelPath == "" {
		return errors.New("llm.model_path is required for the llama provider")
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 1
	}
	if c.ContextSize <= 0 {
		return fmt.Errorf("invalid context size %d", c.ContextSize)
	}
	if c.Threads <= 0 {
		c.Threads = 4
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 512
	}
	return nil
}
