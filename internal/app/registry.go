package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AwesomeGRV/ErrorBudget/internal/metricstore"
	"github.com/AwesomeGRV/ErrorBudget/internal/slo"
	"github.com/AwesomeGRV/ErrorBudget/internal/storage"
)

// ListServices returns the registered services, disabled ones only when asked.
func (a *App) ListServices(ctx context.Context, includeDisabled bool) ([]slo.Service, error) {
	return a.registry.ListServices(ctx, includeDisabled)
}

// GetService returns a service by id.
func (a *App) GetService(ctx context.Context, id int64) (*slo.Service, error) {
	return a.registry.GetService(ctx, id)
}

// CreateService validates and registers a new service.
func (a *App) CreateService(ctx context.Context, svc *slo.Service) error {
	if err := svc.Validate(); err != nil {
		return err
	}
	if err := a.registry.CreateService(ctx, svc); err != nil {
		return fmt.Errorf("could not create service %q: %w", svc.Name, err)
	}
	a.logger.Info("service created", zap.Int64("service_id", svc.ID), zap.String("service", svc.Name))
	return nil
}

// UpdateService overwrites the metadata of an existing service.
func (a *App) UpdateService(ctx context.Context, svc *slo.Service) error {
	if err := svc.Validate(); err != nil {
		return err
	}
	cur, err := a.registry.GetService(ctx, svc.ID)
	if err != nil {
		return err
	}
	svc.Disabled = cur.Disabled
	svc.CreatedAt = cur.CreatedAt

	if err := a.registry.UpdateService(ctx, svc); err != nil {
		return fmt.Errorf("could not update service %d: %w", svc.ID, err)
	}
	a.cache.Invalidate(ctx, svc.ID)
	return nil
}

// DisableService soft-deletes a service. Its SLOs stop gating deploys but
// their samples are kept.
func (a *App) DisableService(ctx context.Context, id int64) error {
	if err := a.registry.SetServiceDisabled(ctx, id, true); err != nil {
		return fmt.Errorf("could not disable service %d: %w", id, err)
	}
	a.cache.Invalidate(ctx, id)
	a.logger.Info("service disabled", zap.Int64("service_id", id))
	return nil
}

// ListSLOs returns the SLOs of a service.
func (a *App) ListSLOs(ctx context.Context, serviceID int64, includeDisabled bool) ([]slo.SLO, error) {
	if _, err := a.registry.GetService(ctx, serviceID); err != nil {
		return nil, err
	}
	return a.registry.ListSLOs(ctx, serviceID, includeDisabled)
}

// GetSLO returns an SLO by id.
func (a *App) GetSLO(ctx context.Context, id int64) (*slo.SLO, error) {
	return a.registry.GetSLO(ctx, id)
}

// CreateSLO validates and registers a new SLO on an existing service.
func (a *App) CreateSLO(ctx context.Context, s *slo.SLO) error {
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return err
	}
	if _, err := a.registry.GetService(ctx, s.ServiceID); err != nil {
		return fmt.Errorf("service %d: %w", s.ServiceID, err)
	}
	if err := a.registry.CreateSLO(ctx, s); err != nil {
		return fmt.Errorf("could not create slo %q: %w", s.Name, err)
	}

	a.store.SetRetention(s.ID, retentionFor(*s))
	a.cache.Invalidate(ctx, s.ServiceID)
	a.logger.Info("slo created", zap.Int64("slo_id", s.ID), zap.String("slo", s.Name), zap.Int64("service_id", s.ServiceID))
	return nil
}

// UpdateSLO overwrites an existing SLO. The owning service cannot change.
func (a *App) UpdateSLO(ctx context.Context, s *slo.SLO) error {
	cur, err := a.registry.GetSLO(ctx, s.ID)
	if err != nil {
		return err
	}
	s.ServiceID = cur.ServiceID
	s.Disabled = cur.Disabled
	s.CreatedAt = cur.CreatedAt

	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return err
	}
	if err := a.registry.UpdateSLO(ctx, s); err != nil {
		return fmt.Errorf("could not update slo %d: %w", s.ID, err)
	}

	a.store.SetRetention(s.ID, retentionFor(*s))
	a.cache.Invalidate(ctx, s.ServiceID)
	return nil
}

// DisableSLO soft-deletes an SLO.
func (a *App) DisableSLO(ctx context.Context, id int64) error {
	cur, err := a.registry.GetSLO(ctx, id)
	if err != nil {
		return err
	}
	if err := a.registry.SetSLODisabled(ctx, id, true); err != nil {
		return fmt.Errorf("could not disable slo %d: %w", id, err)
	}
	a.cache.Invalidate(ctx, cur.ServiceID)
	return nil
}

// RestoreRetention applies the retention of every registered SLO to the
// metric store. It runs once on startup.
func (a *App) RestoreRetention(ctx context.Context) error {
	slos, err := a.registry.ListAllSLOs(ctx, true)
	if err != nil {
		return fmt.Errorf("could not list slos: %w", err)
	}
	for _, s := range slos {
		a.store.SetRetention(s.ID, retentionFor(s))
	}
	return nil
}

// retentionFor keeps the compliance window plus the partial hour bucket at its start.
func retentionFor(s slo.SLO) time.Duration {
	return s.Window() + metricstore.CoarseResolution
}

// SyncResult reports what a catalog sync changed.
type SyncResult struct {
	ServicesCreated int
	ServicesUpdated int
	SLOsCreated     int
	SLOsUpdated     int
}

// SyncCatalog upserts validated catalog files into the registry. Services
// are matched by name and environment, SLOs by service and name.
func (a *App) SyncCatalog(ctx context.Context, files []slo.CatalogFile) (SyncResult, error) {
	var res SyncResult

	for _, f := range files {
		svc := f.Catalog.ToService()

		existing, err := a.registry.FindService(ctx, svc.Name, svc.Environment)
		switch {
		case err == nil:
			svc.ID = existing.ID
			if err := a.UpdateService(ctx, &svc); err != nil {
				return res, fmt.Errorf("%s: %w", f.File, err)
			}
			if existing.Disabled {
				if err := a.registry.SetServiceDisabled(ctx, svc.ID, false); err != nil {
					return res, fmt.Errorf("%s: %w", f.File, err)
				}
			}
			res.ServicesUpdated++
		case errors.Is(err, storage.ErrNotFound):
			if err := a.CreateService(ctx, &svc); err != nil {
				return res, fmt.Errorf("%s: %w", f.File, err)
			}
			res.ServicesCreated++
		default:
			return res, fmt.Errorf("%s: %w", f.File, err)
		}

		for _, cs := range f.Catalog.SLOs {
			s, err := cs.ToSLO(svc.ID)
			if err != nil {
				return res, fmt.Errorf("%s: slo %q: %w", f.File, cs.Name, err)
			}

			cur, err := a.registry.FindSLO(ctx, svc.ID, s.Name)
			switch {
			case err == nil:
				s.ID = cur.ID
				if err := a.UpdateSLO(ctx, &s); err != nil {
					return res, fmt.Errorf("%s: slo %q: %w", f.File, s.Name, err)
				}
				if cur.Disabled {
					if err := a.registry.SetSLODisabled(ctx, s.ID, false); err != nil {
						return res, fmt.Errorf("%s: slo %q: %w", f.File, s.Name, err)
					}
				}
				res.SLOsUpdated++
			case errors.Is(err, storage.ErrNotFound):
				if err := a.CreateSLO(ctx, &s); err != nil {
					return res, fmt.Errorf("%s: slo %q: %w", f.File, s.Name, err)
				}
				res.SLOsCreated++
			default:
				return res, fmt.Errorf("%s: slo %q: %w", f.File, s.Name, err)
			}
		}
	}

	a.logger.Info("catalog synced",
		zap.Int("services_created", res.ServicesCreated), zap.Int("services_updated", res.ServicesUpdated),
		zap.Int("slos_created", res.SLOsCreated), zap.Int("slos_updated", res.SLOsUpdated))
	return res, nil
}
