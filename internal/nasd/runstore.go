package nasd

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nasopt/dynas/internal/metrics"
	"github.com/nasopt/dynas/internal/nas"
	"github.com/nasopt/dynas/internal/search"
	"github.com/nasopt/dynas/pkg/utils"
)

// Status is the lifecycle state of a submitted search
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ParseStatus maps a status name to a Status. Unknown names return false.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return Status(s), true
	}
	return "", false
}

// SearchInput is what a client submits
type SearchInput struct {
	ConfigYAML     string `json:"config_yaml"`
	CallbackURL    string `json:"callback_url,omitempty"`
	CallbackSecret string `json:"-"`
}

// SearchRecord is the daemon's view of one search. Records handed out by the
// store are copies.
type SearchRecord struct {
	ID        string
	Status    Status
	Input     SearchInput
	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time
	Error     string
	Progress  []search.GenerationStep
	Outcome   *nas.Outcome

	collector *metrics.Collector
}

// Collector returns the telemetry collector of the search
func (r *SearchRecord) Collector() *metrics.Collector { return r.collector }

func (r *SearchRecord) clone() *SearchRecord {
	out := *r
	out.Progress = append([]search.GenerationStep(nil), r.Progress...)
	return &out
}

// SearchStore keeps every search submitted to the daemon in memory
type SearchStore struct {
	mu       sync.RWMutex
	searches map[string]*SearchRecord
	// watchers are signalled on every change of a search
	watchers map[string][]chan struct{}
}

func NewSearchStore() *SearchStore {
	return &SearchStore{
		searches: make(map[string]*SearchRecord),
		watchers: make(map[string][]chan struct{}),
	}
}

// Create registers a pending search. An empty id is replaced by a generated one.
func (s *SearchStore) Create(id string, input SearchInput) (*SearchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = utils.GenerateSearchID()
	}
	if _, exists := s.searches[id]; exists {
		return nil, fmt.Errorf("search already exists: %s", id)
	}

	rec := &SearchRecord{
		ID:        id,
		Status:    StatusPending,
		Input:     input,
		CreatedAt: time.Now().UTC(),
		collector: metrics.NewCollector(),
	}
	s.searches[id] = rec
	return rec.clone(), nil
}

func (s *SearchStore) Get(id string) (*SearchRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.searches[id]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// List returns up to limit searches, newest first, optionally filtered by status
func (s *SearchStore) List(limit int, status Status) []*SearchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	all := make([]*SearchRecord, 0, len(s.searches))
	for _, rec := range s.searches {
		if status != "" && rec.Status != status {
			continue
		}
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]*SearchRecord, len(all))
	for i, rec := range all {
		out[i] = rec.clone()
	}
	return out
}

// SetStatus moves a search to status. Terminal searches keep their status.
func (s *SearchStore) SetStatus(id string, status Status, errMsg string) (*SearchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.searches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSearchNotFound, id)
	}
	if rec.Status.Terminal() {
		return rec.clone(), nil
	}

	rec.Status = status
	if errMsg != "" {
		rec.Error = errMsg
	}
	switch status {
	case StatusRunning:
		if rec.StartedAt.IsZero() {
			rec.StartedAt = time.Now().UTC()
		}
	case StatusCompleted, StatusFailed, StatusCancelled:
		rec.EndedAt = time.Now().UTC()
	}
	s.notifyLocked(id)
	return rec.clone(), nil
}

// TryStart moves a pending search to running. started is false when the
// search was already running; a terminal search is an error.
func (s *SearchStore) TryStart(id string) (rec *SearchRecord, started bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.searches[id]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrSearchNotFound, id)
	}
	switch {
	case r.Status == StatusRunning:
		return r.clone(), false, nil
	case r.Status.Terminal():
		return nil, false, fmt.Errorf("%w: %s", ErrSearchTerminal, id)
	}

	r.Status = StatusRunning
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	s.notifyLocked(id)
	return r.clone(), true, nil
}

// AppendProgress records a finished generation of a running search
func (s *SearchStore) AppendProgress(id string, step search.GenerationStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.searches[id]; ok {
		rec.Progress = append(rec.Progress, step)
		s.notifyLocked(id)
	}
}

func (s *SearchStore) SetOutcome(id string, out *nas.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.searches[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSearchNotFound, id)
	}
	rec.Outcome = out
	s.notifyLocked(id)
	return nil
}

// Watch returns a channel signalled after every change of search id. The
// channel holds at most one pending signal. Call the returned func to stop.
func (s *SearchStore) Watch(id string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.watchers[id] = append(s.watchers[id], ch)
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.watchers[id]
		for i, c := range list {
			if c == ch {
				s.watchers[id] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(s.watchers[id]) == 0 {
			delete(s.watchers, id)
		}
	}
}

func (s *SearchStore) notifyLocked(id string) {
	for _, ch := range s.watchers[id] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
