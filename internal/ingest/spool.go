package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"flightcheck/internal/config"
	"flightcheck/internal/recording"
)

// StartSpool polls the spool directory and evaluates every recording file that has
// not been modified for the settle period.
func StartSpool(ctx context.Context, cfg *config.Manager, eval Evaluator, logger *slog.Logger) {
	current := cfg.Get()
	sp := current.Source.Spool
	if !sp.Enabled {
		if logger != nil {
			logger.Info("spool recording source disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("spool recording source enabled", "dir", sp.Dir, "interval", sp.Interval)
	}
	s := newSpool(sp, recording.DecodeOptions{Location: current.Location()}, eval, logger)
	go s.run(ctx)
}

type spool struct {
	cfg    config.SpoolConfig
	decode recording.DecodeOptions
	eval   Evaluator
	logger *slog.Logger
	now    func() time.Time
}

func newSpool(cfg config.SpoolConfig, decode recording.DecodeOptions, eval Evaluator, logger *slog.Logger) *spool {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Done == "" {
		cfg.Done = filepath.Join(cfg.Dir, "done")
	}
	if cfg.Failed == "" {
		cfg.Failed = filepath.Join(cfg.Dir, "failed")
	}
	return &spool{cfg: cfg, decode: decode, eval: eval, logger: logger, now: time.Now}
}

func (s *spool) run(ctx context.Context) {
	for {
		s.scan(ctx)
		if !BackoffSleep(ctx, s.cfg.Interval) {
			return
		}
	}
}

// scan processes the ready files in name order and returns how many it handled.
func (s *spool) scan(ctx context.Context) int {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("spool read failed", "dir", s.cfg.Dir, "err", err)
		}
		return 0
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	handled := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return handled
		}
		if entry.IsDir() || !isRecordingFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || s.now().Sub(info.ModTime()) < s.cfg.Settle {
			continue
		}
		s.process(ctx, filepath.Join(s.cfg.Dir, entry.Name()))
		handled++
	}
	return handled
}

func (s *spool) process(ctx context.Context, path string) {
	rec, err := recording.LoadFile(path, s.decode)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("spool recording rejected", "path", path, "err", err)
		}
		s.move(path, s.cfg.Failed)
		return
	}
	evaluate(ctx, s.eval, rec, s.logger)
	if ctx.Err() != nil {
		return
	}
	s.move(path, s.cfg.Done)
}

func (s *spool) move(path, dir string) {
	if err := os.MkdirAll(dir, 0o755); err == nil {
		if err = os.Rename(path, filepath.Join(dir, filepath.Base(path))); err == nil {
			return
		}
	}
	// A file that cannot be moved would be evaluated again on every scan.
	if err := os.Remove(path); err != nil && s.logger != nil {
		s.logger.Error("spool cleanup failed", "path", path, "err", err)
	}
}

func isRecordingFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".jsonl", ".ndjson", ".yaml", ".yml":
		return true
	}
	return false
}
