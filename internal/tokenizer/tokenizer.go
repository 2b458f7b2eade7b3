package tokenizer

import (
	"fmt"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// TikToken wraps tiktoken-go to implement domain.Tokenizer.
type TikToken struct {
	name     string
	encoding *tiktoken.Tiktoken
}

// getEncoding is the tiktoken loader. Package-level so tests can inject failures.
var getEncoding = tiktoken.GetEncoding

var (
	cacheMu sync.Mutex
	cache   = map[string]*TikToken{}
)

// NewTikToken creates a new TikToken tokenizer with the given encoding name.
// Common encodings: "cl100k_base" (GPT-4/3.5), "o200k_base" (GPT-4o).
// Loaded encodings are cached for the life of the process.
// Returns an error if the encoding is not recognized.
func NewTikToken(encodingName string) (*TikToken, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if t, ok := cache[encodingName]; ok {
		return t, nil
	}
	enc, err := getEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: unknown encoding %q: %w", encodingName, err)
	}
	t := &TikToken{name: encodingName, encoding: enc}
	cache[encodingName] = t
	return t, nil
}

// Name returns the encoding name.
func (t *TikToken) Name() string { return t.name }

// CountTokens returns the number of tokens in the given text.
func (t *TikToken) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	tokens := t.encoding.Encode(text, nil, nil)
	return len(tokens), nil
}
