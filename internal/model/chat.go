package model

import (
	"encoding/json"
	"fmt"
	"time"
)

const WelcomeMessageID = "welcome"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus is only set on user-authored messages.
type MessageStatus string

const (
	StatusSending MessageStatus = "sending"
	StatusSent    MessageStatus = "sent"
	StatusError   MessageStatus = "error"
)

type MessageKind string

const (
	KindText                    MessageKind = "text"
	KindTransactionConfirmation MessageKind = "transaction_confirmation"
	KindUIEvent                 MessageKind = "ui_event"
)

type ErrorCode string

const (
	ErrTimeout      ErrorCode = "TIMEOUT"
	ErrNetwork      ErrorCode = "NETWORK_ERROR"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrServer       ErrorCode = "SERVER_ERROR"
	ErrClient       ErrorCode = "CLIENT_ERROR"
	ErrUnknown      ErrorCode = "UNKNOWN_ERROR"
)

// MessageMeta is the structured payload of a non-text message. The set of
// implementations is closed: TransactionConfirmationMeta and UIEventMeta.
type MessageMeta interface {
	Kind() MessageKind
	sealed()
}

// TransactionConfirmationMeta is the legacy single-transaction card.
type TransactionConfirmationMeta struct {
	Transaction Transaction `json:"transaction"`
}

func (TransactionConfirmationMeta) Kind() MessageKind { return KindTransactionConfirmation }
func (TransactionConfirmationMeta) sealed()           {}

type Deletion struct {
	TransactionID string `json:"deleted_transaction_id"`
	Amount        Amount `json:"amount"`
	Category      string `json:"category"`
}

type UIEventMeta struct {
	Type        string       `json:"type"`
	Title       string       `json:"title,omitempty"`
	Subtitle    string       `json:"subtitle,omitempty"`
	Accent      string       `json:"accent,omitempty"`
	Variant     string       `json:"variant,omitempty"`
	Transaction *Transaction `json:"transaction,omitempty"`
	Deletion    *Deletion    `json:"deletion,omitempty"`
}

func (UIEventMeta) Kind() MessageKind { return KindUIEvent }
func (UIEventMeta) sealed()           {}

// Renderable reports whether the event carries anything a card can show.
func (e UIEventMeta) Renderable() bool {
	return e.Transaction != nil || e.Deletion != nil || e.Title != ""
}

type ChatMessage struct {
	ID           string
	Role         Role
	Content      string
	Timestamp    time.Time
	Status       MessageStatus
	Meta         MessageMeta
	ErrorCode    ErrorCode
	ErrorMessage string
}

func (m ChatMessage) Kind() MessageKind {
	if m.Meta == nil {
		return KindText
	}
	return m.Meta.Kind()
}

type chatMessageJSON struct {
	ID           string          `json:"id"`
	Role         Role            `json:"role"`
	Content      string          `json:"content"`
	Timestamp    time.Time       `json:"timestamp"`
	Status       MessageStatus   `json:"status,omitempty"`
	Kind         MessageKind     `json:"kind"`
	Meta         json.RawMessage `json:"meta,omitempty"`
	ErrorCode    ErrorCode       `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func (m ChatMessage) MarshalJSON() ([]byte, error) {
	out := chatMessageJSON{
		ID:           m.ID,
		Role:         m.Role,
		Content:      m.Content,
		Timestamp:    m.Timestamp,
		Status:       m.Status,
		Kind:         m.Kind(),
		ErrorCode:    m.ErrorCode,
		ErrorMessage: m.ErrorMessage,
	}
	if m.Meta != nil {
		raw, err := json.Marshal(m.Meta)
		if err != nil {
			return nil, err
		}
		out.Meta = raw
	}
	return json.Marshal(out)
}

func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var in chatMessageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*m = ChatMessage{
		ID:           in.ID,
		Role:         in.Role,
		Content:      in.Content,
		Timestamp:    in.Timestamp,
		Status:       in.Status,
		ErrorCode:    in.ErrorCode,
		ErrorMessage: in.ErrorMessage,
	}

	switch in.Kind {
	case KindText, "":
	case KindTransactionConfirmation:
		var meta TransactionConfirmationMeta
		if err := json.Unmarshal(in.Meta, &meta); err != nil {
			return fmt.Errorf("decode %s meta: %w", in.Kind, err)
		}
		m.Meta = meta
	case KindUIEvent:
		var meta UIEventMeta
		if err := json.Unmarshal(in.Meta, &meta); err != nil {
			return fmt.Errorf("decode %s meta: %w", in.Kind, err)
		}
		m.Meta = meta
	default:
		return fmt.Errorf("unknown message kind %q", in.Kind)
	}
	return nil
}

// ChatSession is the persisted form of a conversation.
type ChatSession struct {
	ConversationID *string       `json:"conversation_id"`
	Messages       []ChatMessage `json:"messages"`
}

// ChatReply is the normalized result of one remote chat exchange.
type ChatReply struct {
	MessageID          string
	ResponseText       string
	ConversationID     string
	TransactionCreated bool
	Data               *Transaction
	UIEvents           []UIEventMeta
	CreatedAt          time.Time
}

// ChangesTransactions reports whether the assistant created or deleted a
// transaction while producing this reply.
func (r *ChatReply) ChangesTransactions() bool {
	if r == nil {
		return false
	}
	if r.TransactionCreated {
		return true
	}
	for _, ev := range r.UIEvents {
		if ev.Transaction != nil || ev.Deletion != nil {
			return true
		}
	}
	return false
}
