package purge

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/cyp0633/caldora-purge/recurrence"
)

// Options controls one purge run.
type Options struct {
	// Completely removes the home itself. Otherwise the home is disabled.
	Completely bool
	// Proxies also strips delegate assignments in both directions.
	Proxies bool
	// Verbose logs every object decision at info level.
	Verbose bool
	// Concurrency is the number of principals purged in parallel. Values
	// below 2 purge sequentially.
	Concurrency int
	// Cutoff separates past from future instances. Zero means the time the
	// run starts.
	Cutoff time.Time
}

// Ignored names a principal whose purge did not commit.
type Ignored struct {
	UID    string
	Reason string
}

// Result summarizes a purge run.
type Result struct {
	// Count is the number of calendar objects deleted or modified.
	Count   int
	Ignored []Ignored
	// NotAttempted lists principals never started because the run was
	// cancelled or timed out.
	NotAttempted []string
}

// IgnoredUIDs lists the UIDs in r.Ignored.
func (r *Result) IgnoredUIDs() []string {
	uids := make([]string, 0, len(r.Ignored))
	for _, ig := range r.Ignored {
		uids = append(uids, ig.UID)
	}
	return uids
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithEngine replaces the default recurrence engine.
func WithEngine(engine *recurrence.Engine) Option {
	return func(s *Service) {
		s.engine = engine
	}
}

// WithNotifier sets where cancellation notices go.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithJournal records every principal outcome in j.
func WithJournal(j Journal) Option {
	return func(s *Service) {
		s.journal = j
	}
}

// WithClock overrides the time source for the default cutoff and journal
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithTracer sets the tracer used for per-principal spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}
