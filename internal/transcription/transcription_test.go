package transcription

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/handsfree/internal/audio"
	"github.com/yegors/handsfree/internal/config"
	"github.com/yegors/handsfree/pkg/logger"
)

func testSegment(t *testing.T, format audio.Format, samples []int16) audio.Segment {
	t.Helper()
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	data, err := audio.EncodeWAV(pcm, format)
	require.NoError(t, err)
	return audio.Segment{
		Data:           data,
		Format:         format,
		Duration:       format.Duration(len(pcm)),
		ContainsSpeech: true,
		Sequence:       7,
	}
}

func newTestOpenAI(url string, opts ...OpenAIOption) *OpenAIClient {
	return NewOpenAIClient("sk-test", "whisper-1", 5, logger.NewNop(), url, opts...)
}

func TestOpenAITranscribe(t *testing.T) {
	seg := testSegment(t, audio.Format{SampleRate: 16000, Channels: 1}, make([]int16, 1600))

	var gotFields map[string]string
	var gotFile []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotFields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			gotFields[k] = v[0]
		}
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "segment-7.wav", hdr.Filename)
		gotFile, _ = io.ReadAll(f)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  hello world \n"}`))
	}))
	defer srv.Close()

	c := newTestOpenAI(srv.URL)
	text, err := c.Transcribe(context.Background(), Request{Segment: seg, Language: "en", Prompt: "names: Yegor"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
	assert.Equal(t, seg.Data, gotFile)
	assert.Equal(t, map[string]string{
		"model":           "whisper-1",
		"language":        "en",
		"prompt":          "names: Yegor",
		"response_format": "json",
	}, gotFields)
}

func TestOpenAIOmitsEmptyFields(t *testing.T) {
	seg := testSegment(t, audio.Format{SampleRate: 16000, Channels: 1}, make([]int16, 160))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, hasLang := r.MultipartForm.Value["language"]
		_, hasPrompt := r.MultipartForm.Value["prompt"]
		assert.False(t, hasLang)
		assert.False(t, hasPrompt)
		_, _ = w.Write([]byte(`{"text":""}`))
	}))
	defer srv.Close()

	text, err := newTestOpenAI(srv.URL).Transcribe(context.Background(), Request{Segment: seg})
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestOpenAIErrorMapping(t *testing.T) {
	seg := testSegment(t, audio.Format{SampleRate: 16000, Channels: 1}, make([]int16, 160))

	tests := []struct {
		name   string
		status int
		body   string
		kind   error
		code   string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`, ErrUnauthorized, "invalid_api_key"},
		{"forbidden", http.StatusForbidden, `{"error":{"message":"nope"}}`, ErrUnauthorized, ""},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","code":"rate_limit_exceeded"}}`, ErrRateLimited, "rate_limit_exceeded"},
		{"server error", http.StatusInternalServerError, `upstream exploded`, ErrBackend, ""},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad audio"}}`, ErrBackend, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestOpenAI(srv.URL).Transcribe(context.Background(), Request{Segment: seg})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.kind, KindOf(err))

			var terr *Error
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tt.status, terr.StatusCode)
			assert.Equal(t, tt.code, terr.Code)
			assert.Equal(t, "openai", terr.Provider)
		})
	}
}

func TestOpenAIMalformedResponse(t *testing.T) {
	seg := testSegment(t, audio.Format{SampleRate: 16000, Channels: 1}, make([]int16, 160))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := newTestOpenAI(srv.URL).Transcribe(context.Background(), Request{Segment: seg})
	assert.ErrorIs(t, err, ErrBackend)
}

func TestOpenAINetworkError(t *testing.T) {
	seg := testSegment(t, audio.Format{SampleRate: 16000, Channels: 1}, make([]int16, 160))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestOpenAI(url).Transcribe(context.Background(), Request{Segment: seg})
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, "network", KindName(KindOf(err)))
}

func TestOpenAIContextTimeout(t *testing.T) {
	seg := testSegment(t, audio.Format{SampleRate: 16000, Channels: 1}, make([]int16, 160))
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestOpenAI(srv.URL).Transcribe(ctx, Request{Segment: seg})
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestOpenAINotConfigured(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewOpenAIClient("", "whisper-1", 5, logger.NewNop(), srv.URL)
	assert.ErrorIs(t, c.Validate(), ErrNotConfigured)

	_, err := c.Transcribe(context.Background(), Request{Segment: audio.Segment{Data: []byte{1}}})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Zero(t, calls.Load())
}

func TestOpenAIEmptyAudio(t *testing.T) {
	_, err := newTestOpenAI("http://127.0.0.1:1").Transcribe(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrEmptyAudio)
}

func TestOpenAIBaseURL(t *testing.T) {
	t.Setenv("OPENAI_API_BASE", "")

	tests := []struct {
		name string
		base string
		env  string
		want string
	}{
		{"default", "", "", DefaultOpenAIBase},
		{"explicit", "http://localhost:8080", "", "http://localhost:8080"},
		{"trailing slash", "http://localhost:8080/", "", "http://localhost:8080"},
		{"v1 suffix", "https://proxy.example/v1/", "", "https://proxy.example"},
		{"env", "", "https://env.example/v1", "https://env.example"},
		{"param wins", "http://param.example", "https://env.example", "http://param.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OPENAI_API_BASE", tt.env)
			c := NewOpenAIClient("k", "m", 1, logger.NewNop(), tt.base)
			assert.Equal(t, tt.want, c.baseURL)
		})
	}
}

func TestOpenAIRateLimiterPaces(t *testing.T) {
	seg := testSegment(t, audio.Format{SampleRate: 16000, Channels: 1}, make([]int16, 160))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	c := newTestOpenAI(srv.URL, WithRequestsPerMinute(1))
	require.NotNil(t, c.limiter)

	_, err := c.Transcribe(context.Background(), Request{Segment: seg})
	require.NoError(t, err)

	// The second call would wait a minute for a token
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Transcribe(ctx, Request{Segment: seg})
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestErrorType(t *testing.T) {
	cause := errors.New("boom")
	err := NewError("openai", ErrRateLimited, 429, "rate_limit_exceeded", "slow down", cause)

	assert.Equal(t, "openai transcription rate limited by provider [rate_limit_exceeded]: slow down", err.Error())
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrBackend)

	wrapped := fmt.Errorf("segment 3: %w", err)
	assert.ErrorIs(t, wrapped, ErrRateLimited)
	assert.ErrorIs(t, wrapped, &Error{Provider: "openai", Code: "rate_limit_exceeded"})

	noMsg := NewError("gemini", ErrBackend, 0, "", "", cause)
	assert.Equal(t, "gemini transcription backend error: boom", noMsg.Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrNotConfigured, KindOf(fmt.Errorf("x: %w", ErrNotConfigured)))
	assert.Equal(t, ErrNetwork, KindOf(context.DeadlineExceeded))
	assert.Equal(t, ErrBackend, KindOf(errors.New("mystery")))

	assert.Equal(t, "unauthorized", KindName(ErrUnauthorized))
	assert.Equal(t, "rate_limited", KindName(ErrRateLimited))
	assert.Equal(t, "not_configured", KindName(ErrNotConfigured))
	assert.Equal(t, "empty_audio", KindName(ErrEmptyAudio))
	assert.Equal(t, "backend", KindName(errors.New("other")))
}

func TestGeminiNotConfigured(t *testing.T) {
	c, err := NewGeminiClient(context.Background(), "", "gemini-2.5-flash", 5, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "gemini", c.Name())
	assert.ErrorIs(t, c.Validate(), ErrNotConfigured)

	_, err = c.Transcribe(context.Background(), Request{Segment: audio.Segment{Data: []byte{1}}})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestFactory(t *testing.T) {
	log := logger.NewNop()

	c, err := New(context.Background(), config.TranscriptionConfig{Backend: "openai", APIKey: "k", Model: "whisper-1", TimeoutSecs: 5}, nil, log)
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())

	c, err = New(context.Background(), config.TranscriptionConfig{Backend: "gemini", Model: "gemini-2.5-flash"}, nil, log)
	require.NoError(t, err)
	assert.Equal(t, "gemini", c.Name())

	_, err = New(context.Background(), config.TranscriptionConfig{Backend: "carrier-pigeon"}, nil, log)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "carrier-pigeon"))
}

func TestSegmentToFloat32(t *testing.T) {
	t.Run("mono passthrough", func(t *testing.T) {
		seg := testSegment(t, audio.Format{SampleRate: 16000, Channels: 1}, []int16{0, 16384, -16384, 32767})
		out, err := SegmentToFloat32(seg)
		require.NoError(t, err)
		require.Len(t, out, 4)
		assert.InDelta(t, 0.0, out[0], 1e-6)
		assert.InDelta(t, 0.5, out[1], 1e-6)
		assert.InDelta(t, -0.5, out[2], 1e-6)
		assert.InDelta(t, 1.0, out[3], 1e-4)
	})

	t.Run("stereo downmix", func(t *testing.T) {
		assert.Equal(t, []int16{150, -50}, toMono([]int16{100, 200, -100, 0}, 2))
	})

	t.Run("resample to 16k", func(t *testing.T) {
		seg := testSegment(t, audio.Format{SampleRate: 48000, Channels: 1}, make([]int16, 4800))
		out, err := SegmentToFloat32(seg)
		require.NoError(t, err)
		assert.InDelta(t, 1600, len(out), 64)
	})

	t.Run("invalid data", func(t *testing.T) {
		_, err := SegmentToFloat32(audio.Segment{Data: []byte("garbage")})
		assert.Error(t, err)
	})
}
