package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tourline/tourline/internal/platform/database"
)

// LoggerConfig configures the async audit logger.
type LoggerConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func (c LoggerConfig) withDefaults() LoggerConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	return c
}

// AsyncLogger buffers events in memory and writes them in batches from a
// single background worker.
type AsyncLogger struct {
	events chan Event
	store  *Store
	db     database.Querier
	cfg    LoggerConfig
	logger *slog.Logger

	wg        sync.WaitGroup
	stop      context.CancelFunc
	closeOnce sync.Once
}

// NewAsyncLogger starts the background writer. Call Close to flush.
func NewAsyncLogger(db database.Querier, store *Store, cfg LoggerConfig, logger *slog.Logger) *AsyncLogger {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	ctx, stop := context.WithCancel(context.Background())
	l := &AsyncLogger{
		events: make(chan Event, cfg.BufferSize),
		store:  store,
		db:     db,
		cfg:    cfg,
		logger: logger,
		stop:   stop,
	}

	l.wg.Add(1)
	go l.run(ctx)
	return l
}

// Log enqueues event without blocking. Events are dropped when the buffer
// is full.
func (l *AsyncLogger) Log(ctx context.Context, event Event) {
	if event.Source == "" {
		event.Source = SourceAPI
	}
	select {
	case l.events <- event:
	default:
		l.logger.WarnContext(ctx, "audit buffer full, dropping event", "action", event.Action)
	}
}

// Close stops the worker and writes whatever is still buffered.
func (l *AsyncLogger) Close() error {
	l.closeOnce.Do(func() {
		l.stop()
		l.wg.Wait()
	})
	return nil
}

func (l *AsyncLogger) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, l.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			l.write(append(batch, l.drain()...))
			return
		case e := <-l.events:
			batch = append(batch, e)
			if len(batch) >= l.cfg.BatchSize {
				l.write(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			l.write(batch)
			batch = batch[:0]
		}
	}
}

func (l *AsyncLogger) write(events []Event) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.store.InsertBatch(ctx, l.db, events); err != nil {
		l.logger.Error("audit flush failed", "error", err, "count", len(events))
	}
}

func (l *AsyncLogger) drain() []Event {
	var events []Event
	for {
		select {
		case e := <-l.events:
			events = append(events, e)
		default:
			return events
		}
	}
}
