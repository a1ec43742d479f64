package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"zefa-sync/internal/model"
)

// UpdateTransaction sends a partial update. A 404 comes back as an *APIError
// for which IsNotFound is true.
func (c *Client) UpdateTransaction(ctx context.Context, id string, patch model.TransactionPatch) (*model.Transaction, error) {
	var tx model.Transaction
	path := "/transactions/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPatch, path, patch, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (c *Client) ListTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	path := "/transactions"
	if limit > 0 {
		path = fmt.Sprintf("/transactions?limit=%d", limit)
	}

	var txs []model.Transaction
	if err := c.do(ctx, http.MethodGet, path, nil, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func (c *Client) DashboardSummary(ctx context.Context) (*model.DashboardSummary, error) {
	var summary model.DashboardSummary
	if err := c.do(ctx, http.MethodGet, "/dashboard/summary", nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
