package client

import (
	"context"
	"encoding/json"
	"net/http"

	"zefa-sync/internal/model"
	"zefa-sync/pkg/logger"
)

// SendMessage posts one user turn and normalizes either response shape the
// backend has used into a ChatReply.
func (c *Client) SendMessage(ctx context.Context, text string, conversationID *string) (*model.ChatReply, error) {
	req := model.RemoteChatRequest{
		ConversationID: conversationID,
		Text:           text,
		ContentType:    "text",
	}

	var resp model.RemoteChatResponse
	if err := c.do(ctx, http.MethodPost, "/chat/messages", req, &resp); err != nil {
		return nil, err
	}
	return normalizeReply(&resp), nil
}

func normalizeReply(resp *model.RemoteChatResponse) *model.ChatReply {
	reply := &model.ChatReply{
		ResponseText:       resp.Response,
		ConversationID:     resp.ConversationID,
		TransactionCreated: resp.TransactionCreated,
		Data:               resp.Data,
	}

	events := resp.UIEvents
	if resp.Message != nil {
		reply.MessageID = resp.Message.ID
		reply.ResponseText = resp.Message.Content
		if resp.Message.ConversationID != "" {
			reply.ConversationID = resp.Message.ConversationID
		}
		if resp.Message.CreatedAt != "" {
			if ts, err := model.ParseTime(resp.Message.CreatedAt); err == nil {
				reply.CreatedAt = ts
			}
		}
	}
	if resp.Meta != nil {
		events = append(events, resp.Meta.UIEvents...)
		reply.TransactionCreated = reply.TransactionCreated || resp.Meta.DidCreateTransaction
	}

	for _, ev := range events {
		reply.UIEvents = append(reply.UIEvents, convertUIEvent(ev))
	}
	return reply
}

type uiEventData struct {
	Transaction          *model.Transaction `json:"transaction"`
	DeletedTransactionID *string            `json:"deleted_transaction_id"`
	Amount               model.Amount       `json:"amount"`
	Category             string             `json:"category"`
}

func convertUIEvent(ev model.RemoteUIEvent) model.UIEventMeta {
	meta := model.UIEventMeta{
		Type:    ev.Type,
		Title:   ev.Title,
		Accent:  ev.Accent,
		Variant: ev.Variant,
	}
	if ev.Subtitle != nil {
		meta.Subtitle = *ev.Subtitle
	}

	if len(ev.Data) == 0 || string(ev.Data) == "null" {
		return meta
	}
	var data uiEventData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		logger.Warnf("Ignoring undecodable %s payload: %v", ev.Type, err)
		return meta
	}
	meta.Transaction = data.Transaction
	if data.DeletedTransactionID != nil {
		meta.Deletion = &model.Deletion{
			TransactionID: *data.DeletedTransactionID,
			Amount:        data.Amount,
			Category:      data.Category,
		}
	}
	return meta
}
