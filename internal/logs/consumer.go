package logs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"
	"github.com/ternarybob/arbor"
	arborlevels "github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
)

// Consumer drains log batches from arbor's context channel and persists
// them per job. Workers log through correlation-scoped loggers, so the
// correlation ID on each event is the job ID; events without one are
// process-level logs and are not captured.
type Consumer struct {
	storage  interfaces.JobLogStorage
	logger   arbor.ILogger
	channel  chan []arbormodels.LogEvent
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	minLevel arbor.LogLevel // Entries below this level are not stored
}

// NewConsumer creates a log consumer writing to the given storage.
// minLevel comes from config (logging.min_job_log_level) and gates
// which entries are retained in the per-job log tail.
func NewConsumer(storage interfaces.JobLogStorage, logger arbor.ILogger, minLevel string) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		storage:  storage,
		logger:   logger,
		channel:  make(chan []arbormodels.LogEvent, 10),
		ctx:      ctx,
		cancel:   cancel,
		minLevel: parseLogLevel(minLevel),
	}
}

// parseLogLevel converts a config level string to arbor.LogLevel
func parseLogLevel(levelStr string) arbor.LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return arbor.DebugLevel
	case "info":
		return arbor.InfoLevel
	case "warn", "warning":
		return arbor.WarnLevel
	case "error":
		return arbor.ErrorLevel
	default:
		return arbor.InfoLevel
	}
}

// convertTo3Letter converts full level names to 3-letter display codes
func convertTo3Letter(level string) string {
	switch strings.ToUpper(level) {
	case "INFO":
		return "INF"
	case "WARN", "WARNING":
		return "WRN"
	case "ERROR":
		return "ERR"
	case "DEBUG":
		return "DBG"
	default:
		if len(level) == 3 {
			return strings.ToUpper(level)
		}
		return "INF"
	}
}

// GetChannel returns the channel arbor sends log batches to. Wire it
// with logger.SetChannel("context", consumer.GetChannel()) so every
// correlation-scoped logger feeds the consumer.
func (c *Consumer) GetChannel() chan []arbormodels.LogEvent {
	return c.channel
}

// Start launches the consumer goroutine
func (c *Consumer) Start() error {
	c.wg.Add(1)
	go c.consume()
	return nil
}

// Stop shuts the consumer down and waits for the in-flight batch to
// finish. Batches still queued on the channel at cancellation are
// dropped.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info().Msg("Log consumer stopped")
	return nil
}

func (c *Consumer) consume() {
	defer c.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			// The consumer's own logger is not correlation-scoped, so
			// this line cannot loop back through the channel
			c.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Log consumer panic recovered")
		}
	}()

	for {
		select {
		case batch, ok := <-c.channel:
			if !ok {
				return
			}
			c.storeBatch(batch)
		case <-c.ctx.Done():
			return
		}
	}
}

// storeBatch groups a batch of events by job ID and appends each group
// to storage. Groups for different jobs are written concurrently since
// the pool's workers interleave their logs into a single batch.
func (c *Consumer) storeBatch(batch []arbormodels.LogEvent) {
	entriesByJob := make(map[string][]models.JobLogEntry)

	for _, event := range batch {
		jobID := event.CorrelationID
		if jobID == "" {
			continue
		}
		if !c.shouldStore(event.Level) {
			continue
		}
		entriesByJob[jobID] = append(entriesByJob[jobID], transformEvent(event))
	}

	var wg sync.WaitGroup
	for jobID, entries := range entriesByJob {
		wg.Add(1)
		go func(jid string, logs []models.JobLogEntry) {
			defer wg.Done()
			if err := c.storage.AppendEntries(c.ctx, jid, logs); err != nil {
				c.logger.Warn().
					Err(err).
					Str("job_id", jid).
					Int("log_count", len(logs)).
					Msg("Failed to persist job log batch")
			}
		}(jobID, entries)
	}
	wg.Wait()
}

// shouldStore checks an event's level against the retention threshold
func (c *Consumer) shouldStore(level log.Level) bool {
	return arborlevels.FromLogLevel(level) >= c.minLevel
}

// transformEvent converts an arbor log event into the stored entry
// shape. Structured fields fold into the message as key=value pairs,
// in key order so the rendered line is stable.
func transformEvent(event arbormodels.LogEvent) models.JobLogEntry {
	message := event.Message
	if len(event.Fields) > 0 {
		keys := make([]string, 0, len(event.Fields))
		for key := range event.Fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			message += fmt.Sprintf(" %s=%v", key, event.Fields[key])
		}
	}

	return models.JobLogEntry{
		Timestamp: event.Timestamp.Format("15:04:05"),
		FullTime:  event.Timestamp.Format(time.RFC3339),
		Level:     convertTo3Letter(event.Level.String()),
		Message:   message,
	}
}
