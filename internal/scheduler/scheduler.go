package scheduler

import (
	"context"
	"fmt"
	"time"

	"zefa-sync/pkg/logger"

	"github.com/adhocore/gronx"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context)

// Start runs job on every tick of the cron expression until ctx is done or
// the returned cancel func is called. An empty expression disables the
// schedule and returns a no-op cancel.
func Start(ctx context.Context, cronExpr string, job Job) (context.CancelFunc, error) {
	if cronExpr == "" {
		logger.Info("Reconcile schedule disabled")
		return func() {}, nil
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid cron expression: %s", cronExpr)
	}

	ctx, cancel := context.WithCancel(ctx)
	go run(ctx, cronExpr, job)

	logger.Infof("Reconcile schedule started (%s)", cronExpr)
	return cancel, nil
}

func run(ctx context.Context, cronExpr string, job Job) {
	for {
		next, err := gronx.NextTickAfter(cronExpr, time.Now(), false)
		if err != nil {
			logger.Errorf("Next tick for %q failed: %v", cronExpr, err)
			if !sleep(ctx, 30*time.Second) {
				return
			}
			continue
		}

		if !sleep(ctx, time.Until(next)) {
			return
		}
		// Runs inline so passes never overlap.
		job(ctx)
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		logger.Info("Reconcile schedule stopping")
		return false
	}
}
