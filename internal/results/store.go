// Package results keeps the append-only log of evaluated architectures and
// persists it through a pluggable backend.
package results

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nasopt/dynas/internal/supernet"
)

// EvaluatedArchitecture is one recorded evaluation. Records are never
// modified after Append.
type EvaluatedArchitecture struct {
	Arch      supernet.ArchConfig `json:"arch"`
	Vector    supernet.Vector     `json:"vector,omitempty"`
	Metrics   map[string]float64  `json:"metrics"`
	Timestamp time.Time           `json:"timestamp"`
}

// Clone returns a deep copy of e
func (e EvaluatedArchitecture) Clone() EvaluatedArchitecture {
	out := EvaluatedArchitecture{
		Arch:      make(supernet.ArchConfig, len(e.Arch)),
		Vector:    e.Vector.Clone(),
		Metrics:   make(map[string]float64, len(e.Metrics)),
		Timestamp: e.Timestamp,
	}
	for k, v := range e.Arch {
		out.Arch[k] = append([]float64(nil), v...)
	}
	for k, v := range e.Metrics {
		out.Metrics[k] = v
	}
	return out
}

// Backend persists records outside the process
type Backend interface {
	Append(ctx context.Context, rec EvaluatedArchitecture) error
	Load(ctx context.Context) ([]EvaluatedArchitecture, error)
	Clear(ctx context.Context) error
	Close() error
}

// Store is the in-memory log. Appends are serialized so parallel evaluators
// never interleave partial records.
type Store struct {
	mu      sync.RWMutex
	records []EvaluatedArchitecture
	backend Backend
}

// NewStore creates a store; backend may be nil for memory only
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Append records rec in memory and in the backend. A zero timestamp is set
// to the current time. Nothing is kept in memory if the backend write fails.
func (s *Store) Append(ctx context.Context, rec EvaluatedArchitecture) error {
	rec = rec.Clone()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend != nil {
		if err := s.backend.Append(ctx, rec); err != nil {
			return fmt.Errorf("persist result: %w", err)
		}
	}
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of every record in append order
func (s *Store) Records() []EvaluatedArchitecture {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EvaluatedArchitecture, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

// Len returns the number of records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// WarmStart loads the backend's records into memory, ahead of any records
// appended since. It returns the number loaded.
func (s *Store) WarmStart(ctx context.Context) (int, error) {
	if s.backend == nil {
		return 0, nil
	}
	loaded, err := s.backend.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("warm start: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(loaded, s.records...)
	return len(loaded), nil
}

// Clear drops every record, in memory and in the backend
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend != nil {
		if err := s.backend.Clear(ctx); err != nil {
			return fmt.Errorf("clear results: %w", err)
		}
	}
	s.records = nil
	return nil
}

// Close releases the backend
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
