package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AwesomeGRV/ErrorBudget/internal/policy"
	"github.com/AwesomeGRV/ErrorBudget/internal/slo"
	"github.com/AwesomeGRV/ErrorBudget/internal/status"
	"github.com/AwesomeGRV/ErrorBudget/internal/statuscache"
)

// evaluate computes and classifies the budgets of slos at asOf, in parallel.
// Results keep the order of slos. Any failure fails the whole evaluation.
func (a *App) evaluate(ctx context.Context, slos []slo.SLO, asOf time.Time) ([]policy.SLOEvaluation, error) {
	out := make([]policy.SLOEvaluation, len(slos))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.evalConcurrency)
	for i := range slos {
		g.Go(func() error {
			b, err := a.engine.Compute(ctx, slos[i], asOf)
			if err != nil {
				return err
			}
			out[i] = policy.SLOEvaluation{
				SLO:    slos[i],
				Budget: b,
				Result: status.Classify(b, slos[i]),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// enabledSLOs returns the enabled SLOs of svc.
func (a *App) enabledSLOs(ctx context.Context, svc *slo.Service) ([]slo.SLO, error) {
	slos, err := a.registry.ListSLOs(ctx, svc.ID, false)
	if err != nil {
		return nil, fmt.Errorf("could not list slos of service %d: %w", svc.ID, err)
	}
	return slos, nil
}

// SLOStatuses returns the status snapshot of every enabled SLO of a service.
// Snapshots are served from the cache while fresh.
func (a *App) SLOStatuses(ctx context.Context, serviceID int64) ([]status.SLOStatus, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	svc, err := a.registry.GetService(ctx, serviceID)
	if err != nil {
		return nil, timeoutErr(err)
	}

	if e, ok := a.cache.Get(ctx, serviceID); ok {
		a.metrics.IncStatusCache(ctx, true)
		return e.Statuses, nil
	}
	a.metrics.IncStatusCache(ctx, false)

	slos, err := a.enabledSLOs(ctx, svc)
	if err != nil {
		return nil, timeoutErr(err)
	}

	asOf := a.now()
	evals, err := a.evaluate(ctx, slos, asOf)
	if err != nil {
		return nil, timeoutErr(err)
	}

	statuses := make([]status.SLOStatus, 0, len(evals))
	for _, e := range evals {
		statuses = append(statuses, status.NewSLOStatus(*svc, e.SLO, e.Budget, e.Result))
	}

	a.cache.Set(ctx, &statuscache.Entry{
		ServiceID: serviceID,
		Statuses:  statuses,
		UpdatedAt: asOf,
		TTL:       a.cacheTTL,
	})
	return statuses, nil
}

// ErrorBudgets returns the budget of every enabled SLO of a service.
func (a *App) ErrorBudgets(ctx context.Context, serviceID int64) ([]policy.SLOEvaluation, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	svc, err := a.registry.GetService(ctx, serviceID)
	if err != nil {
		return nil, timeoutErr(err)
	}
	slos, err := a.enabledSLOs(ctx, svc)
	if err != nil {
		return nil, timeoutErr(err)
	}

	evals, err := a.evaluate(ctx, slos, a.now())
	if err != nil {
		return nil, timeoutErr(err)
	}
	return evals, nil
}

// DeployCheck decides whether deploying a service to an environment is safe.
// It always evaluates fresh budgets. Disabled services are not found.
func (a *App) DeployCheck(ctx context.Context, serviceName string, env slo.Environment) (*policy.DeployCheck, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	svc, err := a.registry.FindService(ctx, serviceName, env)
	if err != nil {
		return nil, timeoutErr(fmt.Errorf("service %q in %s: %w", serviceName, env, err))
	}
	if svc.Disabled {
		return nil, fmt.Errorf("service %q in %s is disabled: %w", serviceName, env, errNotFound)
	}

	slos, err := a.enabledSLOs(ctx, svc)
	if err != nil {
		return nil, timeoutErr(err)
	}

	asOf := a.now()
	evals, err := a.evaluate(ctx, slos, asOf)
	if err != nil {
		return nil, timeoutErr(err)
	}

	lastBreach, err := a.incidents.LastBreach(ctx, slos, asOf)
	if err != nil {
		return nil, timeoutErr(err)
	}

	check := a.gate.Evaluate(policy.Input{
		Service:         *svc,
		Evaluations:     evals,
		RecentIncidents: lastBreach != nil,
		LastBreach:      lastBreach,
		AsOf:            asOf,
	})

	a.metrics.IncDeployCheck(ctx, string(check.Decision))
	a.logger.Info("deploy check",
		zap.String("service", svc.Name),
		zap.String("environment", string(svc.Environment)),
		zap.String("decision", string(check.Decision)),
		zap.String("reason", check.Reason))

	return &check, nil
}
