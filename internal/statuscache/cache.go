// Package statuscache keeps short-lived SLO status snapshots per service.
package statuscache

import (
	"context"
	"time"

	"github.com/AwesomeGRV/ErrorBudget/internal/status"
)

// Entry is the cached status snapshot of one service
type Entry struct {
	ServiceID int64              `json:"service_id"`
	Statuses  []status.SLOStatus `json:"statuses"`
	UpdatedAt time.Time          `json:"updated_at"`
	TTL       time.Duration      `json:"ttl"`
}

// IsStale returns true if the entry is older than its TTL
func (e *Entry) IsStale(now time.Time) bool {
	return now.Sub(e.UpdatedAt) > e.TTL
}

// Cache stores status snapshots. Misses are never errors: a failing
// backend degrades to recomputation.
type Cache interface {
	Get(ctx context.Context, serviceID int64) (*Entry, bool)
	Set(ctx context.Context, e *Entry)
	Invalidate(ctx context.Context, serviceID int64)
}
