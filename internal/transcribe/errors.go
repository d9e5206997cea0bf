package transcribe

import (
	"errors"
	"fmt"
)

// Kind classifies a transcription failure.
type Kind int

const (
	KindOther Kind = iota
	KindRateLimited
	KindInvalidCredentials
	KindFileTooLarge
	KindNetwork
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindFileTooLarge:
		return "file_too_large"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	}
	return "other"
}

// Retryable reports whether a failure of this kind may succeed on another attempt.
func (k Kind) Retryable() bool {
	return k != KindInvalidCredentials && k != KindFileTooLarge
}

// ErrEmptyTranscript is reported when the service returns no text. It is
// never retried.
var ErrEmptyTranscript = errors.New("empty transcript")

type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("transcribe: %s (status %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("transcribe: %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure kind carried by err. Errors that are not
// *Error are classified as KindOther.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindOther
}
