package llm

import (
	"context"
	"errors"
)

var ErrNotConfigured = errors.New("no language model configured")

// Disabled stands in when no API key is set. Every completion fails, so chat
// sends keep the user's message and report the failure.
type Disabled struct{}

func (Disabled) Complete(context.Context, string) (string, error) {
	return "", ErrNotConfigured
}
