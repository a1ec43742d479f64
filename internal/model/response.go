package model

import "encoding/json"

// SessionResponse is what the local facade returns for chat state.
type SessionResponse struct {
	ConversationID *string       `json:"conversation_id"`
	Messages       []ChatMessage `json:"messages"`
	Typing         bool          `json:"typing"`
	Accepted       *bool         `json:"accepted,omitempty"`
}

type EditResponse struct {
	Outcome string        `json:"outcome"`
	Notice  string        `json:"notice"`
	Items   []Transaction `json:"transactions"`
}

// RemoteChatMessage mirrors the backend's ChatMessage schema.
type RemoteChatMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	ContentType    string `json:"content_type"`
	CreatedAt      string `json:"created_at"`
}

type RemoteUIEvent struct {
	Type     string          `json:"type"`
	Variant  string          `json:"variant"`
	Accent   string          `json:"accent"`
	Title    string          `json:"title"`
	Subtitle *string         `json:"subtitle"`
	Data     json.RawMessage `json:"data"`
}

type RemoteAssistantMeta struct {
	UIEvents             []RemoteUIEvent `json:"ui_events"`
	DidCreateTransaction bool            `json:"did_create_transaction"`
	CreatedTransactionID *string         `json:"created_transaction_id"`
	InsightTags          []string        `json:"insight_tags"`
}

// RemoteChatResponse accepts both the envelope shape ({message, meta}) and
// the older flat shape ({response, transaction_created, data, conversation_id}).
type RemoteChatResponse struct {
	Message *RemoteChatMessage   `json:"message"`
	Meta    *RemoteAssistantMeta `json:"meta"`

	Response           string          `json:"response"`
	TransactionCreated bool            `json:"transaction_created"`
	Data               *Transaction    `json:"data"`
	ConversationID     string          `json:"conversation_id"`
	UIEvents           []RemoteUIEvent `json:"ui_events"`
}

// RemoteErrorBody is the FastAPI error envelope.
type RemoteErrorBody struct {
	Detail json.RawMessage `json:"detail"`
}
