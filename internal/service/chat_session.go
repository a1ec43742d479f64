package service

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"zefa-sync/internal/client"
	"zefa-sync/internal/metrics"
	"zefa-sync/internal/model"
	"zefa-sync/internal/storage"
	"zefa-sync/pkg/logger"

	"github.com/google/uuid"
)

const ChatSessionKey = "zefa.chat.session"

// ChatService is the remote side of a chat exchange.
type ChatService interface {
	SendMessage(ctx context.Context, text string, conversationID *string) (*model.ChatReply, error)
}

type sendState int

const (
	stateIdle sendState = iota
	stateSending
)

type ChatOption func(*ChatSessionManager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ChatOption {
	return func(m *ChatSessionManager) { m.now = now }
}

// WithIDGenerator overrides uuid generation for local message ids.
func WithIDGenerator(newID func() string) ChatOption {
	return func(m *ChatSessionManager) { m.newID = newID }
}

// WithClassifier overrides the error taxonomy mapping.
func WithClassifier(classify func(error) model.ErrorCode) ChatOption {
	return func(m *ChatSessionManager) { m.classify = classify }
}

// WithTransactionChanged registers fn to run after a reply reports that the
// assistant created or deleted a transaction. fn is called without the
// manager's lock held.
func WithTransactionChanged(fn func()) ChatOption {
	return func(m *ChatSessionManager) { m.onTransactionChanged = fn }
}

// ChatSessionManager owns the chat session. All mutation goes through its
// methods; Send blocks on the remote call without holding the lock, so
// Snapshot, Clear and Retry stay responsive while a send is in flight.
type ChatSessionManager struct {
	store    storage.BlobStore
	chat     ChatService
	classify func(error) model.ErrorCode
	now      func() time.Time
	newID    func() string

	onTransactionChanged func()

	mu             sync.Mutex
	conversationID *string
	messages       []model.ChatMessage
	state          sendState
	hydrated       bool
	// generation changes on Clear; replies to sends from an older
	// generation are discarded.
	generation uint64

	subscribers map[int]chan model.SessionResponse
	nextSub     int
}

func NewChatSessionManager(store storage.BlobStore, chat ChatService, opts ...ChatOption) *ChatSessionManager {
	m := &ChatSessionManager{
		store:       store,
		chat:        chat,
		classify:    client.Classify,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
		subscribers: make(map[int]chan model.SessionResponse),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.messages = []model.ChatMessage{m.welcomeMessage()}
	return m
}

func (m *ChatSessionManager) welcomeMessage() model.ChatMessage {
	return model.ChatMessage{
		ID:        model.WelcomeMessageID,
		Role:      model.RoleAssistant,
		Content:   welcomeText,
		Timestamp: m.now(),
	}
}

// LoadSession reads the stored session. A nil session with a nil error means
// nothing was stored.
func LoadSession(store storage.BlobStore) (*model.ChatSession, error) {
	raw, found, err := store.Get(ChatSessionKey)
	if err != nil {
		return nil, fmt.Errorf("read chat session: %w", err)
	}
	if !found || raw == "" {
		return nil, nil
	}

	var session model.ChatSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("decode chat session: %w", err)
	}
	return &session, nil
}

// Hydrate restores the stored session, or keeps the welcome seed when there
// is none or it cannot be read. Until Hydrate has run, mutations are not
// written to the store, so a fresh seed can never overwrite a stored session.
func (m *ChatSessionManager) Hydrate() {
	session, err := LoadSession(m.store)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case err != nil:
		// Fallback: keep the seeded welcome state rather than failing the session.
		logger.Warnf("Chat session restore failed, starting fresh: %v", err)
	case session == nil || len(session.Messages) == 0:
	default:
		m.messages = m.restoreMessages(session.Messages)
		m.conversationID = session.ConversationID
	}

	m.hydrated = true
	m.notifyLocked()
}

// restoreMessages collapses duplicate welcome messages and turns sends that
// were interrupted by a restart into retryable errors.
func (m *ChatSessionManager) restoreMessages(stored []model.ChatMessage) []model.ChatMessage {
	out := make([]model.ChatMessage, 0, len(stored))
	seenWelcome := false
	for _, msg := range stored {
		if msg.ID == model.WelcomeMessageID {
			if seenWelcome {
				continue
			}
			seenWelcome = true
		}
		if msg.Role == model.RoleUser && msg.Status == model.StatusSending {
			msg.Status = model.StatusError
			msg.ErrorCode = model.ErrUnknown
			msg.ErrorMessage = ChatErrorMessage(model.ErrUnknown)
		}
		out = append(out, msg)
	}
	return out
}

// Send appends text as a user message and exchanges it with the backend.
// It returns false, and changes nothing, when text is blank or another send
// is still in flight.
func (m *ChatSessionManager) Send(ctx context.Context, text string) bool {
	m.mu.Lock()
	pending, ok := m.beginSendLocked(text)
	m.mu.Unlock()
	if !ok {
		metrics.ChatSendsDropped.Inc()
		return false
	}

	m.finishSend(m.completeSend(ctx, pending))
	return true
}

// Retry resends a failed user message: the failed message is removed and its
// text goes through a fresh Send.
func (m *ChatSessionManager) Retry(ctx context.Context, messageID string) bool {
	m.mu.Lock()
	idx := m.indexLocked(messageID)
	if idx < 0 || m.state == stateSending {
		m.mu.Unlock()
		return false
	}
	failed := m.messages[idx]
	if failed.Role != model.RoleUser || failed.Status != model.StatusError {
		m.mu.Unlock()
		return false
	}

	m.messages = slices.Delete(m.messages, idx, idx+1)
	pending, ok := m.beginSendLocked(failed.Content)
	if !ok {
		m.commitLocked()
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	m.finishSend(m.completeSend(ctx, pending))
	return true
}

// Clear resets the session to the welcome message and erases the stored
// blob right away.
func (m *ChatSessionManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	m.conversationID = nil
	m.messages = []model.ChatMessage{m.welcomeMessage()}

	if err := m.store.Remove(ChatSessionKey); err != nil {
		logger.Errorf("Failed to erase stored chat session: %v", err)
	}
	m.notifyLocked()
}

func (m *ChatSessionManager) Snapshot() model.SessionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Typing reports whether an assistant reply is being awaited.
func (m *ChatSessionManager) Typing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateSending
}

// Subscribe streams a snapshot after every change. Slow subscribers miss
// intermediate snapshots rather than block the manager.
func (m *ChatSessionManager) Subscribe() (<-chan model.SessionResponse, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan model.SessionResponse, 8)
	m.subscribers[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(sub)
		}
	}
}

type pendingSend struct {
	messageID      string
	text           string
	conversationID *string
	generation     uint64
}

func (m *ChatSessionManager) beginSendLocked(text string) (pendingSend, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || m.state == stateSending {
		return pendingSend{}, false
	}

	m.state = stateSending
	msg := model.ChatMessage{
		ID:        m.newID(),
		Role:      model.RoleUser,
		Content:   trimmed,
		Timestamp: m.now(),
		Status:    model.StatusSending,
	}
	m.messages = append(m.messages, msg)
	m.commitLocked()

	return pendingSend{
		messageID:      msg.ID,
		text:           trimmed,
		conversationID: copyString(m.conversationID),
		generation:     m.generation,
	}, true
}

// finishSend runs the transaction-change hook once the lock is released.
func (m *ChatSessionManager) finishSend(changed bool) {
	if changed && m.onTransactionChanged != nil {
		m.onTransactionChanged()
	}
}

// completeSend settles the exchange and reports whether the reply changed any
// transaction upstream. That holds even for replies dropped by Clear, since
// the backend has already applied them.
func (m *ChatSessionManager) completeSend(ctx context.Context, p pendingSend) bool {
	reply, err := m.chat.SendMessage(ctx, p.text, p.conversationID)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = stateIdle
	changed := err == nil && reply.ChangesTransactions()
	if p.generation != m.generation {
		logger.Debugf("Dropping reply to message %s sent before the conversation was cleared", p.messageID)
		m.notifyLocked()
		return changed
	}

	idx := m.indexLocked(p.messageID)
	if err != nil {
		code := m.classify(err)
		logger.WithFields(logger.Fields{"message_id": p.messageID, "code": code}).Warnf("Chat send failed: %v", err)
		metrics.ChatSends.WithLabelValues(string(code)).Inc()
		if idx >= 0 {
			m.messages[idx].Status = model.StatusError
			m.messages[idx].ErrorCode = code
			m.messages[idx].ErrorMessage = ChatErrorMessage(code)
		}
		m.commitLocked()
		return false
	}

	metrics.ChatSends.WithLabelValues(string(model.StatusSent)).Inc()
	if reply.ConversationID != "" {
		m.conversationID = copyString(&reply.ConversationID)
	}
	if idx >= 0 {
		m.messages[idx].Status = model.StatusSent
		m.messages[idx].ErrorCode = ""
		m.messages[idx].ErrorMessage = ""
	}
	m.appendReplyLocked(reply)
	m.commitLocked()
	return changed
}

// appendReplyLocked appends event cards first and the assistant prose last,
// so cards render above the reply that talks about them.
func (m *ChatSessionManager) appendReplyLocked(reply *model.ChatReply) {
	appended := 0
	for _, ev := range reply.UIEvents {
		if !ev.Renderable() {
			continue
		}
		m.messages = append(m.messages, model.ChatMessage{
			ID:        m.newID(),
			Role:      model.RoleAssistant,
			Timestamp: m.now(),
			Meta:      ev,
		})
		appended++
	}

	if len(reply.UIEvents) == 0 && reply.TransactionCreated && reply.Data != nil {
		m.messages = append(m.messages, model.ChatMessage{
			ID:        m.newID(),
			Role:      model.RoleAssistant,
			Timestamp: m.now(),
			Meta:      model.TransactionConfirmationMeta{Transaction: *reply.Data},
		})
		appended++
	}

	if reply.ResponseText == "" && appended > 0 {
		return
	}
	id := reply.MessageID
	if id == "" || m.indexLocked(id) >= 0 {
		id = m.newID()
	}
	m.messages = append(m.messages, model.ChatMessage{
		ID:        id,
		Role:      model.RoleAssistant,
		Content:   reply.ResponseText,
		Timestamp: m.now(),
	})
}

func (m *ChatSessionManager) indexLocked(id string) int {
	for i := range m.messages {
		if m.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// commitLocked writes the session through to the store once hydrated and
// notifies subscribers.
func (m *ChatSessionManager) commitLocked() {
	if m.hydrated {
		m.persistLocked()
	}
	m.notifyLocked()
}

func (m *ChatSessionManager) persistLocked() {
	data, err := json.Marshal(model.ChatSession{
		ConversationID: m.conversationID,
		Messages:       m.messages,
	})
	if err != nil {
		logger.Errorf("Failed to encode chat session: %v", err)
		return
	}
	if err := m.store.Set(ChatSessionKey, string(data)); err != nil {
		logger.Errorf("Failed to persist chat session: %v", err)
	}
}

func (m *ChatSessionManager) snapshotLocked() model.SessionResponse {
	msgs := make([]model.ChatMessage, len(m.messages))
	copy(msgs, m.messages)
	return model.SessionResponse{
		ConversationID: copyString(m.conversationID),
		Messages:       msgs,
		Typing:         m.state == stateSending,
	}
}

func (m *ChatSessionManager) notifyLocked() {
	if len(m.subscribers) == 0 {
		return
	}
	snap := m.snapshotLocked()
	for _, ch := range m.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
