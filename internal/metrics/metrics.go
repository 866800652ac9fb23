package metrics

import (
	"context"
	"time"
)

// Recorder records operational metrics of the service.
type Recorder interface {
	MeasureStoreOperation(ctx context.Context, op string, t time.Duration, err error)
	MeasureBudgetComputation(ctx context.Context, t time.Duration, err error)
	MeasurePrometheusPull(ctx context.Context, t time.Duration, err error)
	MeasureHTTPRequest(ctx context.Context, route, method string, code int, t time.Duration)
	IncIngestedSamples(ctx context.Context, accepted bool)
	IncDeployCheck(ctx context.Context, decision string)
	IncStatusCache(ctx context.Context, hit bool)
}

type noopRecorder bool

// NoopRecorder discards everything.
var NoopRecorder Recorder = noopRecorder(false)

func (noopRecorder) MeasureStoreOperation(context.Context, string, time.Duration, error) {}
func (noopRecorder) MeasureBudgetComputation(context.Context, time.Duration, error)      {}
func (noopRecorder) MeasurePrometheusPull(context.Context, time.Duration, error)         {}
func (noopRecorder) MeasureHTTPRequest(context.Context, string, string, int, time.Duration) {
}
func (noopRecorder) IncIngestedSamples(context.Context, bool) {}
func (noopRecorder) IncDeployCheck(context.Context, string)   {}
func (noopRecorder) IncStatusCache(context.Context, bool)     {}
