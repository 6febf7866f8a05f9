package surface

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/handsfree/internal/config"
	"github.com/yegors/handsfree/internal/pipeline"
	"github.com/yegors/handsfree/internal/segmenter"
	"github.com/yegors/handsfree/pkg/logger"
)

type recordingSink struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (s *recordingSink) Type(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("no focus")
	}
	s.calls = append(s.calls, "type:"+text)
	return nil
}

func (s *recordingSink) Submit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "submit")
	return nil
}

func (s *recordingSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func newSettings(enabled, indicator bool) *config.Settings {
	cfg := config.Default()
	cfg.Surface.Enabled = enabled
	cfg.Surface.ShowIndicator = indicator
	return config.NewSettings(cfg)
}

func runTypist(t *testing.T, typist *Typist) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		typist.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func transcript(session string, seq int, text string) pipeline.TranscriptResult {
	return pipeline.TranscriptResult{SessionID: session, Sequence: seq, Text: text, IsFinal: true}
}

func drained(session string, reason segmenter.StopReason) pipeline.LifecycleEvent {
	return pipeline.LifecycleEvent{Kind: pipeline.LifecycleDrained, SessionID: session, Reason: reason}
}

func TestTypistJoinsSegmentsAndSubmits(t *testing.T) {
	sink := &recordingSink{}
	typist := NewTypist(sink, newSettings(true, false), true, logger.NewNop())
	runTypist(t, typist)

	typist.onTranscript(transcript("a", 1, "git status"))
	typist.onTranscript(transcript("a", 2, "  and push  "))
	typist.onTranscript(transcript("a", 3, "   "))
	typist.onLifecycle(pipeline.LifecycleEvent{Kind: pipeline.LifecycleStopped, SessionID: "a", Reason: segmenter.StopUser})
	typist.onLifecycle(drained("a", segmenter.StopUser))
	typist.onTranscript(transcript("b", 1, "ls"))

	want := []string{"type:git status", "type: and push", "submit", "type:ls"}
	require.Eventually(t, func() bool { return len(sink.snapshot()) == len(want) }, time.Second, time.Millisecond)
	assert.Equal(t, want, sink.snapshot())
}

func TestTypistSubmitRules(t *testing.T) {
	tests := []struct {
		name         string
		submitOnStop bool
		reason       segmenter.StopReason
		typed        bool
		want         []string
	}{
		{"user stop", true, segmenter.StopUser, true, []string{"type:hello", "submit"}},
		{"silence timeout", true, segmenter.StopSilenceTimeout, true, []string{"type:hello"}},
		{"capture lost", true, segmenter.StopCaptureLost, true, []string{"type:hello"}},
		{"submit disabled", false, segmenter.StopUser, true, []string{"type:hello"}},
		{"nothing typed", true, segmenter.StopUser, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			typist := NewTypist(sink, newSettings(true, false), tt.submitOnStop, logger.NewNop())
			if tt.typed {
				typist.deliver(transcript("s", 1, "hello"))
			}
			typist.finish(drained("s", tt.reason))
			assert.Equal(t, tt.want, sink.snapshot())
		})
	}
}

func TestTypistRespectsSurfaceSetting(t *testing.T) {
	cfg := config.Default()
	cfg.Surface.Enabled = false
	settings := config.NewSettings(cfg)

	sink := &recordingSink{}
	typist := NewTypist(sink, settings, true, logger.NewNop())

	typist.deliver(transcript("s", 1, "dropped"))
	typist.finish(drained("s", segmenter.StopUser))
	assert.Empty(t, sink.snapshot())

	cfg.Surface.Enabled = true
	settings.Update(cfg)
	typist.deliver(transcript("s2", 1, "kept"))
	assert.Equal(t, []string{"type:kept"}, sink.snapshot())
}

func TestTypistFailedTypeDoesNotJoin(t *testing.T) {
	sink := &recordingSink{fail: true}
	typist := NewTypist(sink, nil, false, logger.NewNop())

	typist.deliver(transcript("s", 1, "lost"))
	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()
	typist.deliver(transcript("s", 2, "next"))

	assert.Equal(t, []string{"type:next"}, sink.snapshot())
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewSink("stdout", &buf)
	require.NoError(t, err)

	typist := NewTypist(sink, nil, true, logger.NewNop())
	typist.deliver(transcript("s", 1, "echo"))
	typist.deliver(transcript("s", 2, "hello"))
	typist.finish(drained("s", segmenter.StopUser))

	assert.Equal(t, "echo hello\n", buf.String())
}

func TestNewSink(t *testing.T) {
	sink, err := NewSink("none", nil)
	assert.NoError(t, err)
	assert.Nil(t, sink)

	sink, err = NewSink("paste", nil)
	assert.NoError(t, err)
	assert.IsType(t, &PasteSink{}, sink)

	_, err = NewSink("telepathy", nil)
	assert.Error(t, err)
}

func TestTypistFollowsPipeline(t *testing.T) {
	p := pipeline.New(pipeline.Config{}, nil, nil, nil, logger.NewNop())
	sink := &recordingSink{}
	typist := NewTypist(sink, nil, true, logger.NewNop())
	runTypist(t, typist)

	off := typist.Subscribe(p)
	// A stop with nothing queued drains immediately; nothing was typed
	p.Stopped(segmenter.Info{SessionID: "s"}, segmenter.StopUser, nil)
	off()

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sink.snapshot())
}

type notifications struct {
	mu   sync.Mutex
	msgs []string
}

func (n *notifications) record(title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, title+": "+message)
	return nil
}

func (n *notifications) snapshot() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

func TestNotifier(t *testing.T) {
	tests := []struct {
		name      string
		indicator bool
		want      []string
	}{
		{"indicator on", true, []string{"handsfree: Listening...", "handsfree: Stopped", "handsfree: Still listening"}},
		{"indicator off", false, []string{"handsfree: Still listening"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &notifications{}
			n := NewNotifier(newSettings(true, tt.indicator), logger.NewNop())
			n.notify = rec.record

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				n.Run(ctx)
				close(done)
			}()

			p := pipeline.New(pipeline.Config{}, nil, nil, nil, logger.NewNop())
			off := n.Subscribe(p)
			p.Started(segmenter.Info{SessionID: "s"})
			p.Stopped(segmenter.Info{SessionID: "s"}, segmenter.StopUser, nil)
			p.Warn(segmenter.Warning{Kind: pipeline.WarningEmptyTranscript, Message: "segment 1: no speech recognized"})
			p.Warn(segmenter.Warning{Kind: segmenter.WarningContinuousRecording, Message: "Still listening"})
			off()

			require.Eventually(t, func() bool { return len(rec.snapshot()) == len(tt.want) }, time.Second, time.Millisecond)
			cancel()
			<-done
			assert.Equal(t, tt.want, rec.snapshot())
		})
	}
}
