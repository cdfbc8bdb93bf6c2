package server

import (
	"sort"
	"sync"
	"time"

	"narci/internal/core"
)

// runRecord is what GET /runs reports for a run.
type runRecord struct {
	ID       string          `json:"id"`
	Workflow string          `json:"workflow"`
	Event    core.Event      `json:"event"`
	Status   core.Status     `json:"status"`
	Queued   time.Time       `json:"queued"`
	Error    string          `json:"error,omitempty"`
	Result   *core.RunResult `json:"result,omitempty"`
}

// runStore keeps the most recent runs in memory.
type runStore struct {
	mu    sync.RWMutex
	runs  map[string]*runRecord
	limit int
}

func newRunStore(limit int) *runStore {
	return &runStore{runs: make(map[string]*runRecord), limit: limit}
}

func (s *runStore) add(rec runRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[rec.ID] = &rec
	s.evictLocked()
}

func (s *runStore) update(id string, fn func(*runRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.runs[id]; ok {
		fn(rec)
	}
}

func (s *runStore) get(id string) (runRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[id]
	if !ok {
		return runRecord{}, false
	}
	return *rec, true
}

// list returns runs newest first without their job details.
func (s *runStore) list() []runRecord {
	s.mu.RLock()
	out := make([]runRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		r := *rec
		r.Result = nil
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Queued.After(out[j].Queued) })
	return out
}

// evictLocked drops the oldest finished runs beyond limit.
func (s *runStore) evictLocked() {
	if s.limit <= 0 || len(s.runs) <= s.limit {
		return
	}
	var finished []*runRecord
	for _, rec := range s.runs {
		if rec.Status != core.StatusPending && rec.Status != core.StatusRunning {
			finished = append(finished, rec)
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].Queued.Before(finished[j].Queued) })
	for _, rec := range finished {
		if len(s.runs) <= s.limit {
			return
		}
		delete(s.runs, rec.ID)
	}
}
