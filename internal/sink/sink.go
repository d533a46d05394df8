// Package sink publishes finished reports to message brokers.
package sink

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"flightcheck/internal/model"
)

type Publisher interface {
	Name() string
	Publish(ctx context.Context, rep *model.Report) error
	Close() error
}

const (
	headerRunID = "flightcheck-run-id"
	headerWorst = "flightcheck-worst"
)

// Dispatcher fans a report out to every publisher. Reports below minSeverity are
// dropped, and an unchanged verdict for the same recording is not republished
// within the cooldown.
type Dispatcher struct {
	publishers  []Publisher
	minSeverity model.Severity
	cooldown    time.Duration
	gate        *Cooldown
	logger      *slog.Logger
}

func NewDispatcher(logger *slog.Logger, minSeverity model.Severity, cooldown time.Duration, publishers ...Publisher) *Dispatcher {
	return &Dispatcher{
		publishers:  publishers,
		minSeverity: minSeverity,
		cooldown:    cooldown,
		gate:        NewCooldown(),
		logger:      logger,
	}
}

func (d *Dispatcher) Len() int { return len(d.publishers) }

// Publish returns the joined errors of all failing publishers.
func (d *Dispatcher) Publish(ctx context.Context, rep *model.Report) error {
	if rep == nil || len(d.publishers) == 0 {
		return nil
	}
	worst := rep.Worst()
	if d.minSeverity != "" && !worst.AtLeast(d.minSeverity) {
		return nil
	}
	key := rep.Recording().Name + "|" + string(worst)
	if !d.gate.AllowKey(key, d.cooldown) {
		if d.logger != nil {
			d.logger.Debug("report publish suppressed", "run_id", rep.RunID(), "recording", rep.Recording().Name)
		}
		return nil
	}
	var errs []error
	for _, p := range d.publishers {
		if err := p.Publish(ctx, rep); err != nil {
			if d.logger != nil {
				d.logger.Error("report publish failed", "sink", p.Name(), "run_id", rep.RunID(), "error", err)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) Close() error {
	var errs []error
	for _, p := range d.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
