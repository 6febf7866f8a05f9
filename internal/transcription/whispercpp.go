//go:build whispercpp

package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/yegors/handsfree/internal/config"
	"github.com/yegors/handsfree/pkg/logger"
)

func init() {
	registerBackend("whispercpp", func(_ context.Context, cfg config.TranscriptionConfig, progress ProgressFunc, log *logger.Logger) (Client, error) {
		return NewWhisperCppClient(cfg.WhisperModelPath, uint(cfg.WhisperThreads), progress, log), nil
	})
}

// WhisperCppClient runs a local ggml whisper model. The model is loaded on
// first use and calls are serialized on it.
type WhisperCppClient struct {
	modelPath string
	threads   uint
	progress  ProgressFunc
	logger    *logger.Logger

	mu    sync.Mutex
	model whisper.Model
}

// NewWhisperCppClient creates a client for the model at modelPath
func NewWhisperCppClient(modelPath string, threads uint, progress ProgressFunc, log *logger.Logger) *WhisperCppClient {
	return &WhisperCppClient{
		modelPath: modelPath,
		threads:   threads,
		progress:  progress,
		logger:    log.Named("whispercpp"),
	}
}

// Name returns the provider identifier
func (w *WhisperCppClient) Name() string {
	return "whispercpp"
}

// Validate fails when no model path is configured
func (w *WhisperCppClient) Validate() error {
	if w.modelPath == "" {
		return fmt.Errorf("%w: set transcription.whisper_model_path", ErrNotConfigured)
	}
	return nil
}

func (w *WhisperCppClient) loadLocked() error {
	if w.model != nil {
		return nil
	}
	w.report("model_loading", w.modelPath)
	start := time.Now()
	model, err := whisper.New(w.modelPath)
	if err != nil {
		return NewError(w.Name(), ErrBackend, 0, "", "failed to load model", err)
	}
	w.model = model
	w.logger.Info("Whisper model loaded",
		String("path", w.modelPath),
		logger.Bool("multilingual", model.IsMultilingual()),
		Duration("load_time", time.Since(start)))
	w.report("model_loaded", w.modelPath)
	return nil
}

func (w *WhisperCppClient) report(stage, detail string) {
	if w.progress != nil {
		w.progress(stage, detail)
	}
}

// Transcribe runs inference on the segment
func (w *WhisperCppClient) Transcribe(ctx context.Context, req Request) (string, error) {
	if err := w.Validate(); err != nil {
		return "", err
	}
	if len(req.Segment.Data) == 0 {
		return "", ErrEmptyAudio
	}

	samples, err := SegmentToFloat32(req.Segment)
	if err != nil {
		return "", NewError(w.Name(), ErrBackend, 0, "", "failed to decode segment", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.loadLocked(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", NewError(w.Name(), ErrNetwork, 0, "", "request aborted", err)
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return "", NewError(w.Name(), ErrBackend, 0, "", "failed to create context", err)
	}
	if req.Language != "" {
		if err := wctx.SetLanguage(req.Language); err != nil {
			w.logger.Warn("Failed to set language", String("language", req.Language), logger.Error(err))
		}
	}
	if req.Prompt != "" {
		wctx.SetInitialPrompt(req.Prompt)
	}
	if w.threads > 0 {
		wctx.SetThreads(w.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", NewError(w.Name(), ErrBackend, 0, "", "inference failed", err)
	}

	var text strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", NewError(w.Name(), ErrBackend, 0, "", "failed to read segment", err)
		}
		text.WriteString(segment.Text)
	}
	return strings.TrimSpace(text.String()), nil
}

// Close releases the model
func (w *WhisperCppClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model == nil {
		return nil
	}
	err := w.model.Close()
	w.model = nil
	return err
}
