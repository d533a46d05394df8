package ingest

import (
	"context"
	"log/slog"
	"time"

	"flightcheck/internal/config"
	"flightcheck/internal/recording"
)

// StartKafka turns each idle-terminated batch of topic events into a recording and
// evaluates it, until ctx is done.
func StartKafka(ctx context.Context, cfg *config.Manager, eval Evaluator, logger *slog.Logger) {
	current := cfg.Get()
	k := current.Source.Kafka
	if !k.Enabled {
		if logger != nil {
			logger.Info("kafka recording source disabled")
		}
		return
	}
	opts := recording.KafkaOptions{
		Brokers:      k.Brokers,
		Topic:        k.Topic,
		GroupID:      k.GroupID,
		MaxEvents:    k.MaxEvents,
		IdleTimeout:  k.IdleTimeout,
		DedupeWindow: k.DedupeWindow,
		Location:     current.Location(),
	}
	go consumeKafka(ctx, opts, eval, logger)
}

func consumeKafka(ctx context.Context, opts recording.KafkaOptions, eval Evaluator, logger *slog.Logger) {
	backoff := time.Second
	for ctx.Err() == nil {
		rec, err := recording.LoadKafka(ctx, opts, logger)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if logger != nil {
				logger.Warn("kafka read error", "err", err, "retry_in", backoff)
			}
			if !BackoffSleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, time.Minute)
			continue
		}
		backoff = time.Second
		if !rec.HasItems() {
			continue
		}
		evaluate(ctx, eval, rec, logger)
	}
}

func evaluate(ctx context.Context, eval Evaluator, rec *recording.Recording, logger *slog.Logger) {
	if _, err := eval.Evaluate(ctx, rec); err != nil && ctx.Err() == nil && logger != nil {
		logger.Warn("recording evaluation incomplete", "recording", rec.Name(), "err", err)
	}
}
