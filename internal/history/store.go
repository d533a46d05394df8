// Package history keeps the most recent evaluation reports in memory.
package history

import (
	"sync"
	"time"

	"flightcheck/internal/model"
)

type Store struct {
	mu    sync.RWMutex
	buf   []*model.Report
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 100
	}
	return &Store{limit: limit}
}

func (s *Store) Add(rep *model.Report) {
	if rep == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, rep)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = rep
}

// List returns up to limit of the newest reports, oldest first.
func (s *Store) List(limit int) []*model.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]*model.Report, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Get(runID string) (*model.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.buf) - 1; i >= 0; i-- {
		if s.buf[i].RunID() == runID {
			return s.buf[i], true
		}
	}
	return nil, false
}

func (s *Store) Since(ts time.Time) []*model.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Report, 0)
	for _, rep := range s.buf {
		if !rep.GeneratedAt().Before(ts) {
			out = append(out, rep)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
