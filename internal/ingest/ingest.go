// Package ingest feeds recordings from long-running sources into the evaluator.
package ingest

import (
	"context"
	"time"

	"flightcheck/internal/model"
	"flightcheck/internal/recording"
)

// Evaluator is implemented by service.Service.
type Evaluator interface {
	Evaluate(ctx context.Context, src recording.Source) (*model.Report, error)
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
