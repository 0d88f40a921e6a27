package cli

import (
	"context"
	"time"

	pcontext "github.com/effigy/effigy/pkg/context"
)

// withRequestContext tags ctx with a request ID and a start time the first
// time it's called along a call chain (a later call updates only the
// operation name, leaving the original ID and timer in place), so any
// logger wrapped with logger.WithContext further down — a task run, its
// scheduler, a deferred command — reports a consistent
// request_id/duration_ms alongside whichever operation is current.
func withRequestContext(ctx context.Context, operation string) context.Context {
	if pcontext.GetRequestID(ctx) == "unknown-request" {
		ctx = pcontext.WithRequestID(ctx, "")
		ctx = pcontext.WithStartTime(ctx, time.Now())
	}
	return pcontext.WithOperation(ctx, operation)
}
