package api

import (
	"sort"
	"sync"
)

// RunStore keeps the most recent launch records in memory.
type RunStore struct {
	mu    sync.Mutex
	limit int
	runs  map[string]RunResponse
	order []string
}

// NewRunStore keeps at most limit runs. A limit of zero keeps everything.
func NewRunStore(limit int) *RunStore {
	return &RunStore{
		limit: limit,
		runs:  make(map[string]RunResponse),
	}
}

// Put records run, evicting the oldest record when the store is full.
func (s *RunStore) Put(run RunResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		s.order = append(s.order, run.ID)
	}
	s.runs[run.ID] = run
	for s.limit > 0 && len(s.order) > s.limit {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *RunStore) Get(id string) (RunResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	return run, ok
}

// List returns runs newest first, without their outputs.
func (s *RunStore) List() []RunResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunResponse, 0, len(s.runs))
	for _, id := range s.order {
		run := s.runs[id]
		run.Output = nil
		out = append(out, run)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

func (s *RunStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return false
	}
	delete(s.runs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}
