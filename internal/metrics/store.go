package metrics

import (
	"sort"
	"sync"
	"time"

	"flightcheck/internal/model"
)

// RuleOutcome is the latest verdict of one rule for one recording.
type RuleOutcome struct {
	RuleID   string         `json:"rule_id"`
	Severity model.Severity `json:"severity"`
	Score    float64        `json:"score"`
}

// Store keeps the latest rule outcomes per recording name, evicting the least
// recently updated recording beyond limit.
type Store struct {
	mu          sync.RWMutex
	byRecording map[string]map[string]RuleOutcome
	updatedAt   map[string]time.Time
	limit       int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{
		byRecording: make(map[string]map[string]RuleOutcome),
		updatedAt:   make(map[string]time.Time),
		limit:       limit,
	}
}

func (s *Store) Record(rep *model.Report) {
	if rep == nil {
		return
	}
	name := rep.Recording().Name
	if name == "" {
		name = rep.RunID()
	}
	outcomes := make(map[string]RuleOutcome, rep.Len())
	for _, res := range rep.Results() {
		outcomes[res.RuleID()] = RuleOutcome{RuleID: res.RuleID(), Severity: res.Severity(), Score: res.Score()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRecording[name] = outcomes
	s.updatedAt[name] = rep.GeneratedAt()
	if len(s.byRecording) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(name string) ([]RuleOutcome, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byRecording[name]
	if !ok {
		return nil, time.Time{}, false
	}
	return sortedOutcomes(m), s.updatedAt[name], true
}

func (s *Store) GetAll() map[string][]RuleOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]RuleOutcome, len(s.byRecording))
	for name, m := range s.byRecording {
		out[name] = sortedOutcomes(m)
	}
	return out
}

func sortedOutcomes(m map[string]RuleOutcome) []RuleOutcome {
	list := make([]RuleOutcome, 0, len(m))
	for _, o := range m {
		list = append(list, o)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].RuleID < list[j].RuleID })
	return list
}

func (s *Store) evictOldest() {
	var oldestName string
	var oldest time.Time
	for name, ts := range s.updatedAt {
		if oldestName == "" || ts.Before(oldest) {
			oldestName = name
			oldest = ts
		}
	}
	if oldestName != "" {
		delete(s.byRecording, oldestName)
		delete(s.updatedAt, oldestName)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRecording = make(map[string]map[string]RuleOutcome)
	s.updatedAt = make(map[string]time.Time)
}
