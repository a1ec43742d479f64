package model

// SendMessageRequest is the body accepted by the local facade.
type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// RemoteChatRequest is the body of POST /chat/messages on the backend.
type RemoteChatRequest struct {
	ConversationID *string `json:"conversation_id,omitempty"`
	Text           string  `json:"text"`
	ContentType    string  `json:"content_type"`
}
