package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sendTimeout bounds a single background send.
const sendTimeout = 10 * time.Second

// AsyncDispatcher sends through an inner Dispatcher in a background goroutine so the caller
// is never blocked or failed by delivery. Failures are logged.
type AsyncDispatcher struct {
	inner  Dispatcher
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewAsyncDispatcher wraps inner.
func NewAsyncDispatcher(inner Dispatcher, logger *slog.Logger) *AsyncDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncDispatcher{inner: inner, logger: logger}
}

// Send schedules msg and returns nil immediately. The goroutine uses a fresh context so
// request cancellation does not abort delivery.
func (d *AsyncDispatcher) Send(_ context.Context, msg Message) error {
	if d.inner == nil {
		return nil
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := d.inner.Send(ctx, msg); err != nil {
			d.logger.Warn("notify: async send failed", "subject", msg.Subject, "error", err)
		}
	}()
	return nil
}

// Drain waits for in-flight sends or until ctx is done.
func (d *AsyncDispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
