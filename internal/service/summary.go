package service

import (
	"context"
	"sync"

	"zefa-sync/internal/model"
)

type SummaryService interface {
	DashboardSummary(ctx context.Context) (*model.DashboardSummary, error)
}

// SummaryCache holds the last dashboard summary until Invalidate marks it
// stale; the next Get refetches.
type SummaryCache struct {
	svc SummaryService

	mu      sync.Mutex
	summary *model.DashboardSummary
	stale   bool
	version uint64
}

func NewSummaryCache(svc SummaryService) *SummaryCache {
	return &SummaryCache{svc: svc, stale: true}
}

func (c *SummaryCache) Get(ctx context.Context) (*model.DashboardSummary, error) {
	c.mu.Lock()
	if !c.stale && c.summary != nil {
		s := *c.summary
		c.mu.Unlock()
		return &s, nil
	}
	version := c.version
	c.mu.Unlock()

	fresh, err := c.svc.DashboardSummary(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary = fresh
	// An Invalidate that raced with the fetch keeps the entry stale.
	c.stale = c.version != version
	s := *fresh
	return &s, nil
}

func (c *SummaryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale = true
	c.version++
}
