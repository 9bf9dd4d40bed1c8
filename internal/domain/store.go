package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// DealStore persists deal execution results.
type DealStore interface {
	Create(ctx context.Context, res DealResult) error
	GetByID(ctx context.Context, id string) (DealResult, error)
	List(ctx context.Context, opts ListOpts) ([]DealResult, error)
	ListBefore(ctx context.Context, before time.Time) ([]DealResult, error)
	SumProfit(ctx context.Context, since time.Time) (float64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
