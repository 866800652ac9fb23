// Package storage defines the registry of services and SLOs.
package storage

import (
	"context"
	"errors"

	"github.com/AwesomeGRV/ErrorBudget/internal/slo"
)

var (
	// ErrNotFound is returned when a service or SLO does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique name is already taken
	ErrConflict = errors.New("already exists")
)

// ServiceRepository persists services
type ServiceRepository interface {
	// CreateService inserts svc and sets its ID and timestamps
	CreateService(ctx context.Context, svc *slo.Service) error
	GetService(ctx context.Context, id int64) (*slo.Service, error)
	// FindService looks a service up by name and environment
	FindService(ctx context.Context, name string, env slo.Environment) (*slo.Service, error)
	ListServices(ctx context.Context, includeDisabled bool) ([]slo.Service, error)
	// UpdateService overwrites the mutable fields of svc
	UpdateService(ctx context.Context, svc *slo.Service) error
	// SetServiceDisabled soft-deletes or restores a service
	SetServiceDisabled(ctx context.Context, id int64, disabled bool) error
}

// SLORepository persists SLOs
type SLORepository interface {
	// CreateSLO inserts s and sets its ID and timestamps
	CreateSLO(ctx context.Context, s *slo.SLO) error
	GetSLO(ctx context.Context, id int64) (*slo.SLO, error)
	// FindSLO looks an SLO up by owning service and name
	FindSLO(ctx context.Context, serviceID int64, name string) (*slo.SLO, error)
	ListSLOs(ctx context.Context, serviceID int64, includeDisabled bool) ([]slo.SLO, error)
	ListAllSLOs(ctx context.Context, includeDisabled bool) ([]slo.SLO, error)
	UpdateSLO(ctx context.Context, s *slo.SLO) error
	SetSLODisabled(ctx context.Context, id int64, disabled bool) error
}

// Registry is the full service and SLO store
type Registry interface {
	ServiceRepository
	SLORepository

	// Ping checks the backing database is reachable
	Ping(ctx context.Context) error
	// Close closes the storage connection
	Close() error
}
