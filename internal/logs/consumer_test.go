package logs

import (
	"context"
	"testing"
	"time"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/storage/badger"
)

func newTestConsumer(t *testing.T, minLevel string) (*Consumer, interfaces.JobLogStorage) {
	t.Helper()
	logger := common.GetLogger()
	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := badger.NewJobLogStorage(db, logger)
	return NewConsumer(store, logger, minLevel), store
}

func logEvent(jobID string, level log.Level, msg string) arbormodels.LogEvent {
	return arbormodels.LogEvent{
		CorrelationID: jobID,
		Level:         level,
		Timestamp:     time.Now(),
		Message:       msg,
	}
}

func TestConsumerStoresBatchGroupedByJob(t *testing.T) {
	consumer, store := newTestConsumer(t, "debug")
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	jobA := common.NewPublicID(common.PrefixJob)
	jobB := common.NewPublicID(common.PrefixJob)

	consumer.GetChannel() <- []arbormodels.LogEvent{
		logEvent(jobA, log.InfoLevel, "Collection started"),
		logEvent(jobB, log.InfoLevel, "Diff computed"),
		logEvent(jobA, log.WarnLevel, "Provider responded slowly"),
		// No correlation ID means a process-level log, not a job log
		logEvent("", log.InfoLevel, "Scheduler started"),
	}

	ctx := context.Background()
	require.Eventually(t, func() bool {
		a, _ := store.CountEntries(ctx, jobA)
		b, _ := store.CountEntries(ctx, jobB)
		return a == 2 && b == 1
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := store.GetEntries(ctx, jobA, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "INF", entries[0].Level)
	assert.Equal(t, "Collection started", entries[0].Message)
	assert.Equal(t, "WRN", entries[1].Level)
	assert.NotEmpty(t, entries[0].Timestamp)
	assert.NotEmpty(t, entries[0].FullTime)
}

func TestConsumerFiltersBelowThreshold(t *testing.T) {
	consumer, store := newTestConsumer(t, "warn")
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	jobID := common.NewPublicID(common.PrefixJob)
	consumer.GetChannel() <- []arbormodels.LogEvent{
		logEvent(jobID, log.DebugLevel, "Raw payload received"),
		logEvent(jobID, log.InfoLevel, "Collection started"),
		logEvent(jobID, log.WarnLevel, "Retrying provider call"),
		logEvent(jobID, log.ErrorLevel, "Provider call failed"),
	}

	ctx := context.Background()
	require.Eventually(t, func() bool {
		n, _ := store.CountEntries(ctx, jobID)
		return n == 2
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := store.GetEntries(ctx, jobID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "WRN", entries[0].Level)
	assert.Equal(t, "ERR", entries[1].Level)
}

func TestConsumerAppendsAcrossBatches(t *testing.T) {
	consumer, store := newTestConsumer(t, "debug")
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	jobID := common.NewPublicID(common.PrefixJob)
	consumer.GetChannel() <- []arbormodels.LogEvent{
		logEvent(jobID, log.InfoLevel, "First"),
		logEvent(jobID, log.InfoLevel, "Second"),
	}
	consumer.GetChannel() <- []arbormodels.LogEvent{
		logEvent(jobID, log.InfoLevel, "Third"),
	}

	ctx := context.Background()
	require.Eventually(t, func() bool {
		n, _ := store.CountEntries(ctx, jobID)
		return n == 3
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := store.GetEntries(ctx, jobID, 0)
	require.NoError(t, err)
	messages := make([]string, len(entries))
	for i, e := range entries {
		messages[i] = e.Message
	}
	assert.Equal(t, []string{"First", "Second", "Third"}, messages)
}

func TestConsumerStopDropsQueuedBatches(t *testing.T) {
	consumer, store := newTestConsumer(t, "debug")
	require.NoError(t, consumer.Start())
	require.NoError(t, consumer.Stop())

	// Stop is idempotent
	require.NoError(t, consumer.Stop())

	// The channel is buffered, so the send succeeds, but nothing
	// consumes it after Stop
	jobID := common.NewPublicID(common.PrefixJob)
	consumer.GetChannel() <- []arbormodels.LogEvent{
		logEvent(jobID, log.InfoLevel, "Too late"),
	}
	time.Sleep(50 * time.Millisecond)

	n, err := store.CountEntries(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestConsumerDrainsArborContextChannel(t *testing.T) {
	consumer, store := newTestConsumer(t, "debug")
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	rootLogger := arbor.NewLogger()
	rootLogger.SetChannel("context", consumer.GetChannel())

	jobID := common.NewPublicID(common.PrefixJob)
	jobLogger := rootLogger.WithCorrelationId(jobID)
	jobLogger.Info().Msg("Community page fetched")
	jobLogger.Warn().Msg("Price field missing")

	ctx := context.Background()
	require.Eventually(t, func() bool {
		n, _ := store.CountEntries(ctx, jobID)
		return n == 2
	}, 3*time.Second, 25*time.Millisecond)

	entries, err := store.GetEntries(ctx, jobID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Community page fetched", entries[0].Message)
	assert.Equal(t, "INF", entries[0].Level)
	assert.Equal(t, "WRN", entries[1].Level)
}

func TestTransformEventFoldsFieldsIntoMessage(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	entry := transformEvent(arbormodels.LogEvent{
		CorrelationID: "JOB-1700000050-AAAAAA",
		Level:         log.WarnLevel,
		Timestamp:     at,
		Message:       "Collection attempt failed",
		Fields: map[string]interface{}{
			"market":  "austin-tx",
			"attempt": 2,
		},
	})

	assert.Equal(t, "09:26:53", entry.Timestamp)
	assert.Equal(t, at.Format(time.RFC3339), entry.FullTime)
	assert.Equal(t, "WRN", entry.Level)
	// Fields append in key order so the line is stable
	assert.Equal(t, "Collection attempt failed attempt=2 market=austin-tx", entry.Message)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, arbor.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, arbor.InfoLevel, parseLogLevel("info"))
	assert.Equal(t, arbor.WarnLevel, parseLogLevel("warn"))
	assert.Equal(t, arbor.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, arbor.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, arbor.DebugLevel, parseLogLevel("DEBUG"))
	// Unknown strings fall back to info
	assert.Equal(t, arbor.InfoLevel, parseLogLevel(""))
	assert.Equal(t, arbor.InfoLevel, parseLogLevel("verbose"))
}

func TestConvertTo3Letter(t *testing.T) {
	assert.Equal(t, "INF", convertTo3Letter("info"))
	assert.Equal(t, "WRN", convertTo3Letter("warn"))
	assert.Equal(t, "WRN", convertTo3Letter("WARNING"))
	assert.Equal(t, "ERR", convertTo3Letter("error"))
	assert.Equal(t, "DBG", convertTo3Letter("debug"))
	// 3-letter inputs pass through uppercased, others default
	assert.Equal(t, "TRC", convertTo3Letter("trc"))
	assert.Equal(t, "INF", convertTo3Letter("trace"))
}
