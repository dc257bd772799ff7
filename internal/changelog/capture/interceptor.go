package capture

import (
	"context"
	"log/slog"

	"retrace/internal/changelog/policy"
	"retrace/internal/platform/metrics"
)

// Interceptor is the pre-commit entry point. The host persistence adapter
// calls OnPreCommit with the transaction's scheduled mutations and holds the
// returned Recorder until the transaction concludes:
//
//	rec := interceptor.OnPreCommit(ctx, flush)
//	// ... business transaction commits ...
//	err := writer.OnPostCommit(ctx, rec)
//
// On rollback the adapter calls rec.Discard() instead. No entries are ever
// produced for aborted operations.
type Interceptor struct {
	pol     *policy.Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewInterceptor(pol *policy.Policy, logger *slog.Logger, m *metrics.Metrics) *Interceptor {
	return &Interceptor{pol: pol, logger: logger, metrics: m}
}

// OnPreCommit captures the flush into a fresh Recorder scoped to this
// transaction.
func (i *Interceptor) OnPreCommit(ctx context.Context, flush Flush) *Recorder {
	rec := NewRecorder(ctx, i.pol, i.logger, i.metrics)
	rec.Capture(flush)
	return rec
}
