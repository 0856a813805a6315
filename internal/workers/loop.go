// Package workers provides the generic polling loop driving the outbound
// delivery pass. A WorkerFunc does one bounded batch of work; the loop owns
// pacing, per-run timeouts, and shutdown.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// WorkerFunc performs one batch of work, returning the number of items
// processed and any critical error encountered.
type WorkerFunc func(ctx context.Context, batchSize int) (int, error)

// RunLoop calls workerFunc repeatedly until ctx is cancelled. When a pass
// processes work, the next pass starts immediately; an idle pass waits for
// interval before the next one, so a busy queue drains at full speed while
// an empty one is polled gently.
func RunLoop(ctx context.Context, name string, interval time.Duration, batchSize int, workerFunc WorkerFunc) {
	slog.InfoContext(ctx, "worker starting",
		slog.String("worker", name),
		slog.Duration("interval", interval),
		slog.Int("batch_size", batchSize))

	for {
		processed := runOnce(ctx, name, batchSize, workerFunc)

		if processed > 0 {
			select {
			case <-ctx.Done():
				slog.InfoContext(ctx, "worker stopping", slog.String("worker", name))
				return
			default:
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "worker stopping", slog.String("worker", name))
			return
		case <-time.After(interval):
		}
	}
}

// runOnce executes a single batch with a run-scoped timeout. Errors are
// logged and swallowed; the loop always continues.
func runOnce(ctx context.Context, name string, batchSize int, workerFunc WorkerFunc) int {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	processed, err := workerFunc(runCtx, batchSize)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) && !errors.Is(err, context.Canceled) {
		slog.ErrorContext(ctx, "worker run failed", slog.String("worker", name), slog.Any("error", err))
	}
	return processed
}
