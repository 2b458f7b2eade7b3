package tokenizer

import (
	"context"
	"fmt"
	"strings"

	"tokencount/internal/domain"
)

// messageSeparator joins the parts of an approximated conversation.
const messageSeparator = "\n\n"

// LocalCounter counts a payload with a local tokenizer. It implements domain.Counter.
type LocalCounter struct {
	tok domain.Tokenizer
}

// NewLocalCounter returns a counter backed by tok. tok must not be nil.
func NewLocalCounter(tok domain.Tokenizer) *LocalCounter {
	if tok == nil {
		panic("tokenizer: tokenizer must not be nil")
	}
	return &LocalCounter{tok: tok}
}

// Count encodes plain text directly. Message lists are rendered with
// ApproximateMessages first and the result is flagged approximate.
func (c *LocalCounter) Count(ctx context.Context, payload domain.Payload) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if !payload.IsMessages() {
		n, err := c.tok.CountTokens(payload.Text)
		if err != nil {
			return 0, false, fmt.Errorf("token encoding failed: %w", err)
		}
		return n, false, nil
	}
	n, err := c.tok.CountTokens(ApproximateMessages(payload.Messages))
	if err != nil {
		return 0, true, fmt.Errorf("token encoding failed: %w", err)
	}
	return n, true, nil
}

// ApproximateMessages renders messages as "<role>" followed by the content,
// every part separated by a blank line. It does not reproduce any model's
// real chat template, so counts derived from it are approximate.
func ApproximateMessages(msgs []domain.Message) string {
	parts := make([]string, 0, 2*len(msgs))
	for _, m := range msgs {
		parts = append(parts, "<"+string(m.Role)+">")
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, messageSeparator)
}

var _ domain.Counter = (*LocalCounter)(nil)
