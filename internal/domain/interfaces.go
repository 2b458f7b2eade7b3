package domain

import "context"

// Tokenizer counts tokens in a string with a local encoding.
type Tokenizer interface {
	// CountTokens returns the number of tokens in the given text.
	CountTokens(text string) (int, error)
}

// Counter counts the tokens of a payload for a single model.
// Implementations may encode locally or call a provider API.
type Counter interface {
	// Count returns the token count and whether it is an approximation.
	Count(ctx context.Context, payload Payload) (tokens int, approximate bool, err error)
}
