package state

import (
	"sort"
	"sync"
	"time"

	"github.com/agent-racer/runwatch/internal/run"
)

type Store struct {
	mu         sync.RWMutex
	runs       map[string]*RunState
	summary    run.Summary
	hasSummary bool
}

func NewStore() *Store {
	return &Store{
		runs: make(map[string]*RunState),
	}
}

func (s *Store) Get(id string) (*RunState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

// GetAll returns copies of all runs sorted by ID.
func (s *Store) GetAll() []*RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*RunState, 0, len(s.runs))
	for _, st := range s.runs {
		result = append(result, st.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// Sync makes the store hold exactly the given runs: new runs are added in
// the Unknown state and runs that disappeared from the scan are dropped.
// It returns the IDs that were dropped.
func (s *Store) Sync(runs []run.Run) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	present := make(map[string]bool, len(runs))
	for _, r := range runs {
		present[r.ID] = true
		if _, ok := s.runs[r.ID]; !ok {
			s.runs[r.ID] = &RunState{ID: r.ID, Dir: r.Dir}
		}
	}

	var removed []string
	for id := range s.runs {
		if !present[id] {
			removed = append(removed, id)
			delete(s.runs, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// SetDetail records the classification of a run.
func (s *Store) SetDetail(id string, d run.Detail, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreateLocked(id)
	st.State = d.State
	st.PID = d.PID
	st.PIDAlive = d.PIDAlive
	st.ExitCode = d.ExitCode
	st.ClassifiedAt = at
}

// RecordRead records tailing progress for one stream of a run. lines is
// the number of lines emitted by this read.
func (s *Store) RecordRead(id, stream string, offset int64, lines int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreateLocked(id)
	if st.Streams == nil {
		st.Streams = make(map[string]StreamState, len(run.Streams))
	}
	ss := st.Streams[stream]
	ss.Offset = offset
	ss.Lines += lines
	st.Streams[stream] = ss
	if lines > 0 {
		t := at
		st.LastLineAt = &t
	}
}

// RecordHealth stores the consecutive read failure count of a run and the
// last error seen. A zero count clears the error.
func (s *Store) RecordHealth(id string, failures int, lastErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreateLocked(id)
	st.ReadFailures = failures
	if failures == 0 {
		st.LastError = ""
	} else {
		st.LastError = lastErr
	}
}

func (s *Store) SetSummary(sum run.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = sum
	s.hasSummary = true
}

// Summary returns the latest summary, if one has been emitted.
func (s *Store) Summary() (run.Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary, s.hasSummary
}

// getOrCreateLocked returns the run entry for id. Caller must hold s.mu.
func (s *Store) getOrCreateLocked(id string) *RunState {
	st, ok := s.runs[id]
	if !ok {
		st = &RunState{ID: id}
		s.runs[id] = st
	}
	return st
}
