package transcription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yegors/handsfree/pkg/logger"
	"google.golang.org/genai"
)

const geminiInstruction = "Transcribe the speech in this audio verbatim. " +
	"Return only the transcript text with no commentary. " +
	"If there is no intelligible speech, return an empty response."

// GeminiClient transcribes segments by sending inline audio to a Gemini model
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *logger.Logger
}

// NewGeminiClient creates a Gemini transcription client. An empty API key
// yields a client that reports ErrNotConfigured.
func NewGeminiClient(ctx context.Context, apiKey, model string, timeoutSeconds int, log *logger.Logger) (*GeminiClient, error) {
	c := &GeminiClient{
		model:   model,
		timeout: time.Duration(timeoutSeconds) * time.Second,
		logger:  log.Named("gemini"),
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if apiKey == "" {
		c.logger.Warn("Gemini API key is empty - transcription will not work")
		return c, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: c.timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	c.client = client
	return c, nil
}

// Name returns the provider identifier
func (c *GeminiClient) Name() string {
	return "gemini"
}

// Validate fails when no API key was configured
func (c *GeminiClient) Validate() error {
	if c.client == nil {
		return fmt.Errorf("%w: set transcription.api_key or GEMINI_API_KEY", ErrNotConfigured)
	}
	return nil
}

// Transcribe sends the WAV payload inline with a transcription instruction
func (c *GeminiClient) Transcribe(ctx context.Context, req Request) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	if len(req.Segment.Data) == 0 {
		return "", ErrEmptyAudio
	}

	instruction := geminiInstruction
	if req.Language != "" {
		instruction += fmt.Sprintf(" The speech is in language %q.", req.Language)
	}
	if req.Prompt != "" {
		instruction += " Context: " + req.Prompt
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(instruction),
			genai.NewPartFromBytes(req.Segment.Data, "audio/wav"),
		}, genai.RoleUser),
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", c.classify(err)
	}

	text := strings.TrimSpace(resp.Text())
	c.logger.Debug("Transcription completed",
		Int("sequence", req.Segment.Sequence),
		Int("text_length", len(text)),
		Duration("latency", time.Since(start)))
	return text, nil
}

// classify maps SDK errors onto the failure kinds
func (c *GeminiClient) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		var kind error
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			kind = ErrUnauthorized
		case apiErr.Code == http.StatusTooManyRequests:
			kind = ErrRateLimited
		default:
			kind = ErrBackend
		}
		return NewError(c.Name(), kind, apiErr.Code, apiErr.Status, apiErr.Message, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(c.Name(), ErrNetwork, 0, "", "request aborted", err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return NewError(c.Name(), ErrNetwork, 0, "", "request failed", err)
	}
	return NewError(c.Name(), ErrBackend, 0, "", "request failed", err)
}
