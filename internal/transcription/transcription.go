package transcription

import (
	"context"
	"errors"
	"fmt"

	"github.com/yegors/handsfree/internal/audio"
	"github.com/yegors/handsfree/pkg/logger"
)

// Import logger functions
var (
	String   = logger.String
	Int      = logger.Int
	Duration = logger.Duration
)

// Failure kinds. Every backend error matches exactly one of these with errors.Is.
var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("rate limited by provider")
	ErrBackend       = errors.New("backend error")
	ErrNetwork       = errors.New("network error")
	ErrNotConfigured = errors.New("transcription backend not configured")
	ErrEmptyAudio    = errors.New("audio data is empty")
)

// Request is one transcription call
type Request struct {
	Segment  audio.Segment
	Language string // ISO-639-1 code, empty lets the backend detect
	Prompt   string // optional domain hint
}

// Client transcribes sealed segments. Implementations are stateless per call.
type Client interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (string, error)
}

// Validator is implemented by clients that can tell up front whether they
// are usable, e.g. because a credential is missing
type Validator interface {
	Validate() error
}

// Closer is implemented by clients holding resources such as a loaded model
type Closer interface {
	Close() error
}

// ProgressFunc receives backend progress notices such as model loading
type ProgressFunc func(stage string, detail string)

// Error is a typed transcription failure
type Error struct {
	Provider   string
	Kind       error // one of the failure kinds above
	StatusCode int
	Code       string
	Message    string
	Cause      error
}

// NewError creates a transcription error
func NewError(provider string, kind error, status int, code, message string, cause error) *Error {
	return &Error{
		Provider:   provider,
		Kind:       kind,
		StatusCode: status,
		Code:       code,
		Message:    message,
		Cause:      cause,
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s transcription %v [%s]: %s", e.Provider, e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s transcription %v: %s", e.Provider, e.Kind, msg)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the failure kind as well as the cause chain
func (e *Error) Is(target error) bool {
	if e.Kind != nil && target == e.Kind {
		return true
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Provider == t.Provider && e.Code == t.Code
}

// KindOf returns the failure kind of err, defaulting to ErrBackend
func KindOf(err error) error {
	for _, kind := range []error{ErrUnauthorized, ErrRateLimited, ErrNetwork, ErrNotConfigured, ErrEmptyAudio, ErrBackend} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrNetwork
	}
	return ErrBackend
}

// KindName returns the short name used in events and metrics
func KindName(kind error) string {
	switch kind {
	case ErrUnauthorized:
		return "unauthorized"
	case ErrRateLimited:
		return "rate_limited"
	case ErrNetwork:
		return "network"
	case ErrNotConfigured:
		return "not_configured"
	case ErrEmptyAudio:
		return "empty_audio"
	default:
		return "backend"
	}
}
