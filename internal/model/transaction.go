package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type TransactionType string

const (
	TransactionIncome  TransactionType = "INCOME"
	TransactionExpense TransactionType = "EXPENSE"
)

// Amount decodes from a JSON number or a decimal string; the backend
// serializes Decimal columns as strings.
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*a = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %s: %w", data, err)
	}
	*a = Amount(f)
	return nil
}

type Transaction struct {
	ID          string          `json:"id"`
	Amount      Amount          `json:"amount"`
	Type        TransactionType `json:"type"`
	Category    string          `json:"category"`
	Description *string         `json:"description,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTime accepts RFC 3339 and the naive ISO-8601 forms the backend emits
// for columns without a zone. Naive values are read as UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (t *Transaction) UnmarshalJSON(data []byte) error {
	type alias Transaction
	aux := struct {
		*alias
		OccurredAt *string `json:"occurred_at"`
		CreatedAt  *string `json:"created_at"`
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.OccurredAt != nil && *aux.OccurredAt != "" {
		ts, err := ParseTime(*aux.OccurredAt)
		if err != nil {
			return err
		}
		t.OccurredAt = ts
	}
	if aux.CreatedAt != nil && *aux.CreatedAt != "" {
		ts, err := ParseTime(*aux.CreatedAt)
		if err != nil {
			return err
		}
		t.CreatedAt = ts
	}
	return nil
}

const maxTextLen = 255

// Validate applies the backend's constraints on a stored transaction.
func (t Transaction) Validate() error {
	if t.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if t.Type != TransactionIncome && t.Type != TransactionExpense {
		return fmt.Errorf("type must be INCOME or EXPENSE, got %q", t.Type)
	}
	if strings.TrimSpace(t.Category) == "" {
		return fmt.Errorf("category is required")
	}
	if len(t.Category) > maxTextLen {
		return fmt.Errorf("category exceeds %d characters", maxTextLen)
	}
	if t.Description != nil && len(*t.Description) > maxTextLen {
		return fmt.Errorf("description exceeds %d characters", maxTextLen)
	}
	if t.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}

// TransactionPatch is a partial update; nil fields are left unchanged.
type TransactionPatch struct {
	Amount      *Amount          `json:"amount,omitempty"`
	Type        *TransactionType `json:"type,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Description *string          `json:"description,omitempty"`
	OccurredAt  *time.Time       `json:"occurred_at,omitempty"`
}

func (p TransactionPatch) IsEmpty() bool {
	return p.Amount == nil && p.Type == nil && p.Category == nil &&
		p.Description == nil && p.OccurredAt == nil
}

// Diff returns the fields of edited whose value differs from baseline.
func Diff(baseline, edited Transaction) TransactionPatch {
	var p TransactionPatch
	if edited.Amount != baseline.Amount {
		v := edited.Amount
		p.Amount = &v
	}
	if edited.Type != baseline.Type {
		v := edited.Type
		p.Type = &v
	}
	if edited.Category != baseline.Category {
		v := edited.Category
		p.Category = &v
	}
	if derefString(edited.Description) != derefString(baseline.Description) {
		v := derefString(edited.Description)
		p.Description = &v
	}
	if !edited.OccurredAt.Equal(baseline.OccurredAt) {
		v := edited.OccurredAt
		p.OccurredAt = &v
	}
	return p
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncFailed  SyncStatus = "failed"
)

// PendingEdit is a local edit the backend has not confirmed yet.
type PendingEdit struct {
	Transaction Transaction `json:"transaction"`
	Original    Transaction `json:"original"`
	UpdatedAt   time.Time   `json:"updated_at"`
	SyncStatus  SyncStatus  `json:"sync_status"`
}

type CategoryMetric struct {
	Name  string `json:"name"`
	Value Amount `json:"value"`
}

type DashboardSummary struct {
	TotalBalance Amount           `json:"total_balance"`
	TotalIncome  Amount           `json:"total_income"`
	TotalExpense Amount           `json:"total_expense"`
	ByCategory   []CategoryMetric `json:"by_category"`
}
