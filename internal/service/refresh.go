package service

import (
	"context"
	"time"

	"zefa-sync/pkg/logger"
)

// RefreshOnChange returns a hook for WithTransactionChanged. It marks the
// summary stale at once and reloads the transaction list in the background.
func RefreshOnChange(ctx context.Context, summary *SummaryCache, reconciler *Reconciler, timeout time.Duration) func() {
	return func() {
		summary.Invalidate()
		go func() {
			reloadCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if _, err := reconciler.Load(reloadCtx); err != nil {
				logger.Warnf("Reload after chat change failed: %v", err)
			}
		}()
	}
}
