package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"zefa-sync/internal/client"
	"zefa-sync/internal/model"
)

var (
	errNotFound = &client.APIError{StatusCode: 404, Detail: "Transaction not found"}
	errUpstream = &client.APIError{StatusCode: 503}
)

type chatCall struct {
	text           string
	conversationID *string
}

// fakeChat answers with the next queued reply or error. When gate is set,
// each call blocks until a value is received from it.
type fakeChat struct {
	mu      sync.Mutex
	calls   []chatCall
	replies []*model.ChatReply
	errs    []error
	gate    chan struct{}
}

func (f *fakeChat) SendMessage(ctx context.Context, text string, conversationID *string) (*model.ChatReply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, chatCall{text: text, conversationID: copyString(conversationID)})
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var reply *model.ChatReply
	var err error
	if len(f.replies) > 0 {
		reply, f.replies = f.replies[0], f.replies[1:]
	}
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	if err != nil {
		return nil, err
	}
	if reply == nil {
		return nil, fmt.Errorf("no reply queued")
	}
	return reply, nil
}

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type updateCall struct {
	id    string
	patch model.TransactionPatch
}

// fakeTransactions applies patches to its own copy of the list unless an
// error is configured for the id. When gate is set, updates announce their
// id on entered and block until gate is closed.
type fakeTransactions struct {
	mu      sync.Mutex
	server  map[string]model.Transaction
	errs    map[string]error
	calls   []updateCall
	listErr error
	gate    chan struct{}
	entered chan string
}

func newFakeTransactions(txs ...model.Transaction) *fakeTransactions {
	f := &fakeTransactions{
		server: make(map[string]model.Transaction),
		errs:   make(map[string]error),
	}
	for _, tx := range txs {
		f.server[tx.ID] = tx
	}
	return f
}

func (f *fakeTransactions) setErr(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, id)
		return
	}
	f.errs[id] = err
}

func (f *fakeTransactions) UpdateTransaction(ctx context.Context, id string, patch model.TransactionPatch) (*model.Transaction, error) {
	f.mu.Lock()
	f.calls = append(f.calls, updateCall{id: id, patch: patch})
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if gate != nil {
		if entered != nil {
			entered <- id
		}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	tx, ok := f.server[id]
	if !ok {
		return nil, errNotFound
	}
	if patch.Amount != nil {
		tx.Amount = *patch.Amount
	}
	if patch.Type != nil {
		tx.Type = *patch.Type
	}
	if patch.Category != nil {
		tx.Category = *patch.Category
	}
	if patch.Description != nil {
		d := *patch.Description
		tx.Description = &d
	}
	if patch.OccurredAt != nil {
		tx.OccurredAt = *patch.OccurredAt
	}
	f.server[id] = tx
	return &tx, nil
}

func (f *fakeTransactions) ListTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	ids := make([]string, 0, len(f.server))
	for id := range f.server {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]model.Transaction, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.server[id])
	}
	return out, nil
}

// hold makes every later update block until the returned release is called.
func (f *fakeTransactions) hold() (entered <-chan string, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.entered = make(chan string, 8)
	gate := f.gate
	return f.entered, func() { close(gate) }
}

func (f *fakeTransactions) serverValue(id string) model.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.server[id]
}

func (f *fakeTransactions) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// stepClock returns strictly increasing instants.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func seqIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}
