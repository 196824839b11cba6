package web

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/mudweb/internal/storage/postgres"
)

var recorderSession = uuid.New()

func recLine(text string) postgres.TranscriptLine {
	return postgres.TranscriptLine{
		SessionID: recorderSession,
		Channel:   "game",
		Raw:       text,
		HTML:      text,
	}
}

func TestRecorderFlushesFullBatches(t *testing.T) {
	store := &stubTranscriptStore{}
	rec := NewRecorder(store, zaptest.NewLogger(t), 16, 4)
	defer rec.Close()

	for i := 1; i <= 4; i++ {
		rec.Record(recLine(fmt.Sprintf("line %d", i)))
	}

	require.Eventually(t, func() bool {
		return store.batchCount() == 1
	}, 2*time.Second, 10*time.Millisecond, "full batch never flushed")
	assert.Len(t, store.allLines(), 4)
}

func TestRecorderFlushesOnInterval(t *testing.T) {
	store := &stubTranscriptStore{}
	rec := NewRecorder(store, zaptest.NewLogger(t), 16, 8)
	defer rec.Close()

	rec.Record(recLine("early one"))
	rec.Record(recLine("early two"))

	require.Eventually(t, func() bool {
		return len(store.allLines()) == 2
	}, 3*time.Second, 25*time.Millisecond, "partial batch never flushed on the timer")
}

func TestRecorderCloseFlushesRemainder(t *testing.T) {
	store := &stubTranscriptStore{}
	rec := NewRecorder(store, zaptest.NewLogger(t), 16, 8)

	rec.Record(recLine("one"))
	rec.Record(recLine("two"))
	rec.Record(recLine("three"))
	rec.Close()

	assert.Len(t, store.allLines(), 3)

	rec.Record(recLine("after close"))
	rec.Close()
	assert.Len(t, store.allLines(), 3, "records after close must be dropped")
}

func TestRecorderOverflowDropsOldest(t *testing.T) {
	gate := make(chan struct{})
	store := &stubTranscriptStore{gate: gate}
	rec := NewRecorder(store, zaptest.NewLogger(t), 2, 2)

	rec.Record(recLine("1"))
	rec.Record(recLine("2"))
	require.Eventually(t, func() bool {
		return store.batchCount() == 1
	}, 2*time.Second, 5*time.Millisecond, "first batch never reached the store")

	// The store is now blocked mid-write, so nothing drains the queue.
	rec.Record(recLine("3"))
	rec.Record(recLine("4"))
	rec.Record(recLine("5"))
	rec.Record(recLine("6"))

	close(gate)
	rec.Close()

	var raws []string
	for _, l := range store.allLines() {
		raws = append(raws, l.Raw)
	}
	assert.Equal(t, []string{"1", "2", "5", "6"}, raws,
		"newest lines must survive the overflow, oldest queued must go")
}
