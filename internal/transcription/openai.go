package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/yegors/handsfree/pkg/logger"
	"golang.org/x/time/rate"
)

// DefaultOpenAIBase is the upstream API root
var DefaultOpenAIBase = "https://api.openai.com"

const openAITranscribeEndpoint = "/v1/audio/transcriptions"

// OpenAIClient transcribes segments with an OpenAI-compatible
// /v1/audio/transcriptions endpoint
type OpenAIClient struct {
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
	// baseURL is stored without a trailing slash
	baseURL string
}

// OpenAIOption configures the OpenAI client
type OpenAIOption func(*OpenAIClient)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(c *OpenAIClient) {
		c.httpClient = client
	}
}

// WithRequestsPerMinute paces requests on the client side
func WithRequestsPerMinute(rpm int) OpenAIOption {
	return func(c *OpenAIClient) {
		if rpm > 0 {
			c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
		}
	}
}

// NewOpenAIClient creates a new OpenAI client.
// The base URL is resolved in the following order:
// 1. The `baseURL` parameter, if non-empty.
// 2. The OPENAI_API_BASE environment variable.
// 3. DefaultOpenAIBase.
func NewOpenAIClient(apiKey, model string, timeoutSeconds int, log *logger.Logger, baseURL string, opts ...OpenAIOption) *OpenAIClient {
	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		if env := os.Getenv("OPENAI_API_BASE"); env != "" {
			base = env
		} else {
			base = DefaultOpenAIBase
		}
	}
	// Accept bases that already carry the /v1 suffix
	base = strings.TrimSuffix(strings.TrimRight(base, "/"), "/v1")

	c := &OpenAIClient{
		apiKey:  apiKey,
		model:   model,
		logger:  log.Named("openai"),
		baseURL: base,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider identifier
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Validate fails when no API key is configured
func (c *OpenAIClient) Validate() error {
	if c.apiKey == "" {
		return fmt.Errorf("%w: set transcription.api_key or OPENAI_API_KEY", ErrNotConfigured)
	}
	return nil
}

// Transcribe uploads the segment as a WAV file and returns the text
func (c *OpenAIClient) Transcribe(ctx context.Context, req Request) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	if len(req.Segment.Data) == 0 {
		return "", ErrEmptyAudio
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", NewError(c.Name(), ErrNetwork, 0, "", "rate limiter wait aborted", err)
		}
	}

	// Build multipart form
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", fmt.Sprintf("segment-%d.wav", req.Segment.Sequence))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(req.Segment.Data); err != nil {
		return "", fmt.Errorf("failed to write audio data: %w", err)
	}
	fields := map[string]string{
		"model":           c.model,
		"language":        req.Language,
		"prompt":          req.Prompt,
		"response_format": "json",
	}
	for _, key := range []string{"model", "language", "prompt", "response_format"} {
		if fields[key] == "" {
			continue
		}
		if err := writer.WriteField(key, fields[key]); err != nil {
			return "", fmt.Errorf("failed to write %s field: %w", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+openAITranscribeEndpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", NewError(c.Name(), ErrNetwork, 0, "", "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewError(c.Name(), ErrNetwork, resp.StatusCode, "", "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", c.handleError(resp.StatusCode, body)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", NewError(c.Name(), ErrBackend, resp.StatusCode, "", "failed to parse response", err)
	}

	c.logger.Debug("Transcription completed",
		Int("sequence", req.Segment.Sequence),
		Int("text_length", len(result.Text)),
		Duration("latency", time.Since(start)))

	return strings.TrimSpace(result.Text), nil
}

// handleError maps an error response onto the failure kinds
func (c *OpenAIClient) handleError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}

	message := strings.TrimSpace(string(body))
	code := ""
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		if errResp.Error.Code != nil {
			code = fmt.Sprint(errResp.Error.Code)
		}
	}

	var kind error
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		kind = ErrUnauthorized
	case statusCode == http.StatusTooManyRequests:
		kind = ErrRateLimited
	default:
		kind = ErrBackend
	}

	return NewError(c.Name(), kind, statusCode, code, message, errors.New(http.StatusText(statusCode)))
}
