package transcription

import (
	"context"
	"fmt"
	"sync"

	"github.com/yegors/handsfree/internal/config"
	"github.com/yegors/handsfree/pkg/logger"
)

type backendFactory func(ctx context.Context, cfg config.TranscriptionConfig, progress ProgressFunc, log *logger.Logger) (Client, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]backendFactory{
		"openai": func(_ context.Context, cfg config.TranscriptionConfig, _ ProgressFunc, log *logger.Logger) (Client, error) {
			return NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.TimeoutSecs, log, cfg.BaseURL,
				WithRequestsPerMinute(cfg.RequestsPerMinute)), nil
		},
		"gemini": func(ctx context.Context, cfg config.TranscriptionConfig, _ ProgressFunc, log *logger.Logger) (Client, error) {
			return NewGeminiClient(ctx, cfg.APIKey, cfg.Model, cfg.TimeoutSecs, log)
		},
	}
)

func registerBackend(name string, f backendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = f
}

// New creates the configured transcription client
func New(ctx context.Context, cfg config.TranscriptionConfig, progress ProgressFunc, log *logger.Logger) (Client, error) {
	backendsMu.RLock()
	f, ok := backends[cfg.Backend]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transcription backend %q not compiled in", cfg.Backend)
	}
	return f(ctx, cfg, progress, log)
}
