package recording

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaOptions struct {
	Brokers      []string
	Topic        string
	GroupID      string
	Name         string
	MaxEvents    int
	IdleTimeout  time.Duration
	DedupeWindow time.Duration
	Location     *time.Location
}

// MessageReader is the subset of *kafka.Reader the loader needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// LoadKafka consumes JSON events from a topic until MaxEvents are read or the topic
// stays idle for IdleTimeout, and freezes them into a recording.
func LoadKafka(ctx context.Context, opts KafkaOptions, logger *slog.Logger) (*Recording, error) {
	if len(opts.Brokers) == 0 || opts.Topic == "" {
		return nil, errors.New("kafka brokers and topic required")
	}
	if logger != nil {
		logger.Info("kafka recording source", "brokers", opts.Brokers, "topic", opts.Topic, "group_id", opts.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  opts.Brokers,
		Topic:    opts.Topic,
		GroupID:  opts.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()
	return ReadMessages(ctx, reader, opts, logger)
}

func ReadMessages(ctx context.Context, reader MessageReader, opts KafkaOptions, logger *slog.Logger) (*Recording, error) {
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = 5 * time.Second
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	name := opts.Name
	if name == "" {
		name = "kafka:" + opts.Topic
	}
	dedupe := NewDedupeCache()
	events := make([]Event, 0, 1024)
	skipped := 0

	for opts.MaxEvents <= 0 || len(events) < opts.MaxEvents {
		readCtx, cancel := context.WithTimeout(ctx, idle)
		m, err := reader.ReadMessage(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, fmt.Errorf("kafka read: %w", err)
		}
		var raw map[string]any
		if err := json.Unmarshal(m.Value, &raw); err != nil {
			skipped++
			if logger != nil {
				logger.Warn("kafka event decode error", "offset", m.Offset, "err", err)
			}
			continue
		}
		ev, err := DecodeEvent(raw, loc)
		if err != nil {
			skipped++
			if logger != nil {
				logger.Warn("kafka event rejected", "offset", m.Offset, "err", err)
			}
			continue
		}
		if opts.DedupeWindow > 0 && dedupe.Seen(messageKey(m.Value), ev.Start, opts.DedupeWindow) {
			continue
		}
		events = append(events, ev)
	}
	if logger != nil {
		logger.Info("kafka recording loaded", "events", len(events), "skipped", skipped)
	}
	return New(name, nil, events), nil
}

func messageKey(value []byte) string {
	sum := sha256.Sum256(value)
	return hex.EncodeToString(sum[:])
}
