package adapters

import (
	"fmt"

	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// fallbackEncoding covers OpenAI-compatible servers whose model names tiktoken
// does not know.
const fallbackEncoding = "cl100k_base"

func init() {
	// BPE ranks ship inside the binary; nothing is fetched at runtime.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// TiktokenTokenizer counts tokens with the BPE encoding an OpenAI model uses.
type TiktokenTokenizer struct {
	encoding *tiktoken.Tiktoken
	name     string
}

// NewTiktokenTokenizer picks the encoding for model, or cl100k_base when the
// model is unknown.
func NewTiktokenTokenizer(model string) (*TiktokenTokenizer, error) {
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return &TiktokenTokenizer{encoding: enc, name: model}, nil
	}
	enc, err := tiktoken.GetEncoding(fallbackEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", fallbackEncoding, err)
	}
	return &TiktokenTokenizer{encoding: enc, name: fallbackEncoding}, nil
}

func (t *TiktokenTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// Encoding names the model or encoding in use.
func (t *TiktokenTokenizer) Encoding() string { return t.name }

var _ ports.Tokenizer = (*TiktokenTokenizer)(nil)
