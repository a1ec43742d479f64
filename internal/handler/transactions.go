package handler

import (
	"net/http"

	"zefa-sync/internal/model"
	"zefa-sync/internal/service"
	"zefa-sync/pkg/logger"

	"github.com/gin-gonic/gin"
)

type TransactionHandler struct {
	reconciler *service.Reconciler
	summary    *service.SummaryCache
}

func NewTransactionHandler(reconciler *service.Reconciler, summary *service.SummaryCache) *TransactionHandler {
	return &TransactionHandler{
		reconciler: reconciler,
		summary:    summary,
	}
}

func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"transactions": h.reconciler.Transactions(),
	})
}

// Reload refetches the list from the backend; every reload also runs a
// reconciliation pass.
func (h *TransactionHandler) Reload(c *gin.Context) {
	report, err := h.reconciler.Load(c.Request.Context())
	if err != nil {
		logger.Warnf("Transaction reload failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":        err.Error(),
			"transactions": h.reconciler.Transactions(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"report":       report,
		"transactions": h.reconciler.Transactions(),
	})
}

// UpdateTransaction merges the body over the listed record, so a partial
// body only changes the fields it names.
func (h *TransactionHandler) UpdateTransaction(c *gin.Context) {
	id := c.Param("id")
	current, ok := h.reconciler.Transaction(id)
	if !ok {
		result := h.reconciler.ApplyEdit(c.Request.Context(), model.Transaction{ID: id})
		c.JSON(http.StatusNotFound, model.EditResponse{
			Outcome: string(result.Outcome),
			Notice:  result.Notice,
			Items:   h.reconciler.Transactions(),
		})
		return
	}

	tx := current
	if current.Description != nil {
		d := *current.Description
		tx.Description = &d
	}
	if err := c.ShouldBindJSON(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tx.ID = id
	if err := tx.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := h.reconciler.ApplyEdit(c.Request.Context(), tx)

	status := http.StatusOK
	switch result.Outcome {
	case service.OutcomeSavedLocally:
		status = http.StatusAccepted
	case service.OutcomeNotFound, service.OutcomeRejected:
		status = http.StatusNotFound
	}
	c.JSON(status, model.EditResponse{
		Outcome: string(result.Outcome),
		Notice:  result.Notice,
		Items:   h.reconciler.Transactions(),
	})
}

func (h *TransactionHandler) PendingEdits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pending_edits": h.reconciler.PendingEdits(),
	})
}

func (h *TransactionHandler) Reconcile(c *gin.Context) {
	report := h.reconciler.Reconcile(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"report":       report,
		"transactions": h.reconciler.Transactions(),
	})
}

func (h *TransactionHandler) DashboardSummary(c *gin.Context) {
	summary, err := h.summary.Get(c.Request.Context())
	if err != nil {
		logger.Warnf("Dashboard summary fetch failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}
