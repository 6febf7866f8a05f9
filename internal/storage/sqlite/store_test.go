package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/handsfree/internal/pipeline"
	"github.com/yegors/handsfree/internal/segmenter"
	"github.com/yegors/handsfree/pkg/logger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "data", "journal.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var t0 = time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)

func TestSessionLifecycle(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.CreateSession("a", t0))
	require.NoError(t, store.CreateSession("b", t0.Add(time.Minute)))
	// Duplicate starts are ignored
	require.NoError(t, store.CreateSession("a", t0.Add(time.Hour)))

	require.NoError(t, store.EndSession("a", t0.Add(30*time.Second), "silence_timeout"))
	assert.ErrorIs(t, store.EndSession("missing", t0, "user"), ErrNotFound)

	sessions, err := store.GetSessions(10, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "b", sessions[0].ID)
	assert.Nil(t, sessions[0].EndedAt)
	assert.Equal(t, "a", sessions[1].ID)
	assert.True(t, t0.Equal(sessions[1].StartedAt))
	require.NotNil(t, sessions[1].EndedAt)
	assert.True(t, t0.Add(30*time.Second).Equal(*sessions[1].EndedAt))
	assert.Equal(t, "silence_timeout", sessions[1].StopReason)

	page, err := store.GetSessions(1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)

	_, err = store.GetSession("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTranscriptsAreReturnedInCaptureOrder(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.CreateSession("s", t0))

	for _, seq := range []int{2, 1, 3} {
		_, err := store.StoreTranscript(&TranscriptRecord{
			SessionID:  "s",
			Sequence:   seq,
			Text:       "text",
			CapturedAt: t0.Add(time.Duration(seq) * time.Second),
			CreatedAt:  t0.Add(time.Duration(10+seq) * time.Second),
			DurationMs: 1500,
			LatencyMs:  320,
		})
		require.NoError(t, err)
	}

	records, err := store.GetTranscriptsBySession("s", 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, i+1, r.Sequence)
		assert.Equal(t, int64(1500), r.DurationMs)
		assert.True(t, t0.Add(time.Duration(i+1)*time.Second).Equal(r.CapturedAt))
	}

	recent, err := store.GetRecentTranscripts(1, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 3, recent[0].Sequence)

	session, err := store.GetSession("s")
	require.NoError(t, err)
	assert.Equal(t, 3, session.Transcripts)

	// A sequence is stored once per session
	_, err = store.StoreTranscript(&TranscriptRecord{SessionID: "s", Sequence: 1, Text: "dup", CreatedAt: t0})
	assert.Error(t, err)
}

// runJournal starts j and returns a func that stops it once every queued
// write has been applied
func runJournal(j *Journal) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestJournalRecordsPipelineEvents(t *testing.T) {
	store := openTestStore(t)
	journal := NewJournal(store)
	journal.now = func() time.Time { return t0.Add(5 * time.Second) }
	flush := runJournal(journal)

	p := pipeline.New(pipeline.Config{}, nil, nil, nil, logger.NewNop())
	off := journal.Subscribe(p)

	info := segmenter.Info{SessionID: "sess-1", StartedAt: t0}
	p.Started(info)
	journal.onTranscript(pipeline.TranscriptResult{
		SessionID:  "sess-1",
		Sequence:   1,
		Text:       "open the pod bay doors",
		IsFinal:    true,
		CapturedAt: t0.Add(time.Second),
		Duration:   2 * time.Second,
		Latency:    400 * time.Millisecond,
	})
	p.Stopped(info, segmenter.StopUser, nil)
	off()
	p.Started(segmenter.Info{SessionID: "sess-2", StartedAt: t0})
	flush()

	session, err := store.GetSession("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "user", session.StopReason)
	assert.Equal(t, 1, session.Transcripts)
	assert.NotNil(t, session.EndedAt)

	records, err := store.GetTranscriptsBySession("sess-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "open the pod bay doors", records[0].Text)
	assert.Equal(t, int64(2000), records[0].DurationMs)
	assert.Equal(t, int64(400), records[0].LatencyMs)
	assert.True(t, t0.Add(5*time.Second).Equal(records[0].CreatedAt))

	_, err = store.GetSession("sess-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJournalDoesNotWriteOnPublisher(t *testing.T) {
	store := openTestStore(t)
	journal := NewJournal(store)

	p := pipeline.New(pipeline.Config{}, nil, nil, nil, logger.NewNop())
	defer journal.Subscribe(p)()

	p.Started(segmenter.Info{SessionID: "queued", StartedAt: t0})

	// Nothing is written until the journal runs
	_, err := store.GetSession("queued")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, journal.work.Len())

	runJournal(journal)()
	_, err = store.GetSession("queued")
	assert.NoError(t, err)
}
