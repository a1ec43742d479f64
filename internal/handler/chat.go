package handler

import (
	"context"
	"net/http"
	"time"

	"zefa-sync/internal/model"
	"zefa-sync/internal/service"
	"zefa-sync/internal/utils"
	"zefa-sync/pkg/logger"

	"github.com/gin-gonic/gin"
)

const heartbeatInterval = 30 * time.Second

type ChatHandler struct {
	sessions *service.ChatSessionManager
}

func NewChatHandler(sessions *service.ChatSessionManager) *ChatHandler {
	return &ChatHandler{
		sessions: sessions,
	}
}

func (h *ChatHandler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessions.Snapshot())
}

// SendMessage blocks until the exchange settles. The send is detached from
// the request context so a disconnecting client does not turn a reply into
// an error.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req model.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	accepted := h.sessions.Send(context.WithoutCancel(c.Request.Context()), req.Text)
	h.respond(c, accepted)
}

func (h *ChatHandler) RetryMessage(c *gin.Context) {
	messageID := c.Param("message_id")
	accepted := h.sessions.Retry(context.WithoutCancel(c.Request.Context()), messageID)
	h.respond(c, accepted)
}

func (h *ChatHandler) ClearSession(c *gin.Context) {
	h.sessions.Clear()
	c.JSON(http.StatusOK, h.sessions.Snapshot())
}

// StreamEvents pushes a session snapshot on connect and after every change.
func (h *ChatHandler) StreamEvents(c *gin.Context) {
	updates, cancel := h.sessions.Subscribe()
	defer cancel()

	sseWriter := utils.NewSSEWriter(c.Writer)
	if err := sseWriter.WriteJSON("session", h.sessions.Snapshot()); err != nil {
		logger.Warnf("Failed to write initial session event: %v", err)
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := sseWriter.WriteJSON("session", snap); err != nil {
				logger.Debugf("Session stream closed: %v", err)
				return
			}
		case <-heartbeat.C:
			if err := sseWriter.Ping(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *ChatHandler) respond(c *gin.Context, accepted bool) {
	snap := h.sessions.Snapshot()
	snap.Accepted = &accepted
	status := http.StatusOK
	if !accepted {
		status = http.StatusConflict
	}
	c.JSON(status, snap)
}
