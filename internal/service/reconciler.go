package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"zefa-sync/internal/client"
	"zefa-sync/internal/metrics"
	"zefa-sync/internal/model"
	"zefa-sync/internal/storage"
	"zefa-sync/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const PendingEditsKey = "zefa.transactions.pending_edits"

// TransactionService is the remote side of transaction edits.
type TransactionService interface {
	UpdateTransaction(ctx context.Context, id string, patch model.TransactionPatch) (*model.Transaction, error)
	ListTransactions(ctx context.Context, limit int) ([]model.Transaction, error)
}

type EditOutcome string

const (
	OutcomeSynced       EditOutcome = "synced"
	OutcomeNotFound     EditOutcome = "not_found"
	OutcomeSavedLocally EditOutcome = "saved_locally"
	OutcomeRejected     EditOutcome = "rejected"
)

type EditResult struct {
	Outcome     EditOutcome
	Notice      string
	Transaction *model.Transaction
}

type ReconcileReport struct {
	Synced  int `json:"synced"`
	Dropped int `json:"dropped"`
	Pending int `json:"pending"`
}

type ReconcilerConfig struct {
	ListLimit   int
	Concurrency int
	// Invalidate is called after any edit the backend confirmed, so dependent
	// aggregates (dashboard totals) can be refreshed.
	Invalidate func()
	IsNotFound func(error) bool
	Now        func() time.Time
}

// Reconciler applies transaction edits optimistically and replays the ones
// the backend has not confirmed. At most one sync per transaction id is in
// flight at any time.
type Reconciler struct {
	store storage.BlobStore
	svc   TransactionService
	cfg   ReconcilerConfig

	mu       sync.Mutex
	idle     *sync.Cond
	items    []model.Transaction
	pending  map[string]model.PendingEdit
	inflight map[string]struct{}
}

func NewReconciler(store storage.BlobStore, svc TransactionService, cfg ReconcilerConfig) *Reconciler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.IsNotFound == nil {
		cfg.IsNotFound = client.IsNotFound
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Invalidate == nil {
		cfg.Invalidate = func() {}
	}
	r := &Reconciler{
		store:    store,
		svc:      svc,
		cfg:      cfg,
		pending:  make(map[string]model.PendingEdit),
		inflight: make(map[string]struct{}),
	}
	r.idle = sync.NewCond(&r.mu)
	return r
}

func LoadPendingEdits(store storage.BlobStore) (map[string]model.PendingEdit, error) {
	raw, found, err := store.Get(PendingEditsKey)
	if err != nil {
		return nil, fmt.Errorf("read pending edits: %w", err)
	}
	edits := make(map[string]model.PendingEdit)
	if !found || raw == "" {
		return edits, nil
	}
	if err := json.Unmarshal([]byte(raw), &edits); err != nil {
		return nil, fmt.Errorf("decode pending edits: %w", err)
	}
	return edits, nil
}

// Hydrate restores pending edits; an unreadable blob is logged and treated
// as empty.
func (r *Reconciler) Hydrate() {
	edits, err := LoadPendingEdits(r.store)
	if err != nil {
		logger.Warnf("Pending edit restore failed, starting empty: %v", err)
		edits = make(map[string]model.PendingEdit)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = edits
	metrics.PendingEdits.Set(float64(len(edits)))
}

// Load fetches the transaction list and runs a reconciliation pass. On a
// fetch error the current list is kept.
func (r *Reconciler) Load(ctx context.Context) (ReconcileReport, error) {
	list, err := r.svc.ListTransactions(ctx, r.cfg.ListLimit)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("list transactions: %w", err)
	}
	return r.SetTransactions(ctx, list), nil
}

// SetTransactions replaces the visible list, overlaying local edits on top
// of the server values, then runs a reconciliation pass. Every load triggers
// a pass, whether or not the list changed.
func (r *Reconciler) SetTransactions(ctx context.Context, list []model.Transaction) ReconcileReport {
	r.mu.Lock()
	items := make([]model.Transaction, 0, len(list))
	for _, tx := range list {
		if pe, ok := r.pending[tx.ID]; ok {
			if pe.SyncStatus == model.SyncFailed {
				continue
			}
			tx = pe.Transaction
		}
		items = append(items, tx)
	}
	r.items = items
	r.mu.Unlock()

	return r.Reconcile(ctx)
}

// ApplyEdit shows edited immediately and syncs the changed fields. If a
// replay of the same id is in flight, it waits for that replay to settle and
// diffs against its outcome.
func (r *Reconciler) ApplyEdit(ctx context.Context, edited model.Transaction) EditResult {
	r.mu.Lock()
	for r.busyLocked(edited.ID) {
		r.idle.Wait()
	}
	idx := r.indexLocked(edited.ID)
	if idx < 0 {
		r.mu.Unlock()
		return EditResult{Outcome: OutcomeRejected, Notice: noticeRejected}
	}
	// The backend would refuse it on every replay.
	if err := edited.Validate(); err != nil {
		r.mu.Unlock()
		logger.Warnf("Transaction %s edit rejected: %v", edited.ID, err)
		return EditResult{Outcome: OutcomeRejected, Notice: noticeInvalid}
	}
	baseline := r.items[idx]
	if pe, ok := r.pending[edited.ID]; ok && pe.SyncStatus == model.SyncPending {
		// The list already shows an unsynced value; diff against what the
		// server last confirmed so no earlier change is lost.
		baseline = pe.Original
	}
	r.items[idx] = edited
	r.inflight[edited.ID] = struct{}{}
	r.mu.Unlock()

	confirmed, err := r.sync(ctx, baseline, edited)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(edited.ID)

	switch {
	case err == nil:
		metrics.EditSyncs.WithLabelValues("edit", string(OutcomeSynced)).Inc()
		r.replaceLocked(*confirmed)
		delete(r.pending, edited.ID)
		r.persistLocked()
		r.cfg.Invalidate()
		return EditResult{Outcome: OutcomeSynced, Notice: noticeSynced, Transaction: confirmed}

	case r.cfg.IsNotFound(err):
		metrics.EditSyncs.WithLabelValues("edit", string(OutcomeNotFound)).Inc()
		logger.Infof("Transaction %s no longer exists upstream, removing locally", edited.ID)
		r.removeLocked(edited.ID)
		r.pending[edited.ID] = model.PendingEdit{
			Transaction: edited,
			Original:    baseline,
			UpdatedAt:   r.cfg.Now(),
			SyncStatus:  model.SyncFailed,
		}
		r.persistLocked()
		return EditResult{Outcome: OutcomeNotFound, Notice: noticeNotFound}

	default:
		metrics.EditSyncs.WithLabelValues("edit", string(OutcomeSavedLocally)).Inc()
		logger.Warnf("Transaction %s edit kept locally: %v", edited.ID, err)
		r.pending[edited.ID] = model.PendingEdit{
			Transaction: edited,
			Original:    baseline,
			UpdatedAt:   r.cfg.Now(),
			SyncStatus:  model.SyncPending,
		}
		r.persistLocked()
		tx := edited
		return EditResult{Outcome: OutcomeSavedLocally, Notice: noticeSavedLocally, Transaction: &tx}
	}
}

type replayResult struct {
	id        string
	updatedAt time.Time
	confirmed *model.Transaction
	err       error
}

// Reconcile replays every pending edit once. Failed entries are dropped
// without a retry. Entries already being synced, by ApplyEdit or an
// overlapping pass, are left to that sync and counted as pending.
func (r *Reconciler) Reconcile(ctx context.Context) ReconcileReport {
	var report ReconcileReport

	r.mu.Lock()
	var todo []model.PendingEdit
	for id, pe := range r.pending {
		if r.busyLocked(id) {
			report.Pending++
			continue
		}
		if pe.SyncStatus == model.SyncFailed {
			delete(r.pending, id)
			r.removeLocked(id)
			report.Dropped++
			continue
		}
		r.inflight[id] = struct{}{}
		todo = append(todo, pe)
	}
	if report.Dropped > 0 {
		r.persistLocked()
	}
	r.mu.Unlock()

	if len(todo) == 0 {
		return report
	}

	results := make([]replayResult, len(todo))
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i, pe := range todo {
		i, pe := i, pe
		g.Go(func() error {
			confirmed, err := r.sync(ctx, pe.Original, pe.Transaction)
			results[i] = replayResult{
				id:        pe.Transaction.ID,
				updatedAt: pe.UpdatedAt,
				confirmed: confirmed,
				err:       err,
			}
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, res := range results {
		r.releaseLocked(res.id)
		current, ok := r.pending[res.id]
		if !ok || !current.UpdatedAt.Equal(res.updatedAt) {
			// Replaced while this replay was in flight.
			continue
		}
		switch {
		case res.err == nil:
			metrics.EditSyncs.WithLabelValues("reconcile", string(OutcomeSynced)).Inc()
			delete(r.pending, res.id)
			r.replaceLocked(*res.confirmed)
			report.Synced++
		case r.cfg.IsNotFound(res.err):
			metrics.EditSyncs.WithLabelValues("reconcile", string(OutcomeNotFound)).Inc()
			delete(r.pending, res.id)
			r.removeLocked(res.id)
			report.Dropped++
		default:
			metrics.EditSyncs.WithLabelValues("reconcile", string(OutcomeSavedLocally)).Inc()
			logger.Debugf("Transaction %s still pending: %v", res.id, res.err)
			report.Pending++
		}
	}
	r.persistLocked()

	if report.Synced > 0 {
		r.cfg.Invalidate()
	}
	logger.WithFields(logger.Fields{
		"synced":  report.Synced,
		"dropped": report.Dropped,
		"pending": report.Pending,
	}).Info("Reconciliation pass finished")
	return report
}

func (r *Reconciler) Transactions() []model.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Transaction, len(r.items))
	copy(out, r.items)
	return out
}

// Transaction returns the visible transaction with id.
func (r *Reconciler) Transaction(id string) (model.Transaction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.indexLocked(id); idx >= 0 {
		return r.items[idx], true
	}
	return model.Transaction{}, false
}

func (r *Reconciler) PendingEdits() map[string]model.PendingEdit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]model.PendingEdit, len(r.pending))
	for id, pe := range r.pending {
		out[id] = pe
	}
	return out
}

// sync sends only the fields that differ from baseline. An empty diff
// succeeds without a round trip.
func (r *Reconciler) sync(ctx context.Context, baseline, edited model.Transaction) (*model.Transaction, error) {
	patch := model.Diff(baseline, edited)
	if patch.IsEmpty() {
		tx := edited
		return &tx, nil
	}
	return r.svc.UpdateTransaction(ctx, edited.ID, patch)
}

func (r *Reconciler) busyLocked(id string) bool {
	_, ok := r.inflight[id]
	return ok
}

func (r *Reconciler) releaseLocked(id string) {
	delete(r.inflight, id)
	r.idle.Broadcast()
}

func (r *Reconciler) indexLocked(id string) int {
	for i := range r.items {
		if r.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) replaceLocked(tx model.Transaction) {
	if idx := r.indexLocked(tx.ID); idx >= 0 {
		r.items[idx] = tx
	}
}

func (r *Reconciler) removeLocked(id string) {
	if idx := r.indexLocked(id); idx >= 0 {
		r.items = append(r.items[:idx], r.items[idx+1:]...)
	}
}

func (r *Reconciler) persistLocked() {
	metrics.PendingEdits.Set(float64(len(r.pending)))

	if len(r.pending) == 0 {
		if err := r.store.Remove(PendingEditsKey); err != nil {
			logger.Errorf("Failed to clear pending edits: %v", err)
		}
		return
	}
	data, err := json.Marshal(r.pending)
	if err != nil {
		logger.Errorf("Failed to encode pending edits: %v", err)
		return
	}
	if err := r.store.Set(PendingEditsKey, string(data)); err != nil {
		logger.Errorf("Failed to persist pending edits: %v", err)
	}
}
