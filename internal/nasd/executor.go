package nasd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nasopt/dynas/internal/nas"
	"github.com/nasopt/dynas/internal/search"
	"github.com/nasopt/dynas/pkg/config"
	"github.com/nasopt/dynas/pkg/logger"
)

var (
	ErrSearchNotFound  = errors.New("search not found")
	ErrSearchTerminal  = errors.New("search is terminal")
	ErrSearchIDMissing = errors.New("search_id is required")
)

// InvalidInputError reports a submission whose configuration does not parse or validate
type InvalidInputError struct {
	Err error
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid search configuration: %v", e.Err)
}

func (e *InvalidInputError) Unwrap() error { return e.Err }

// ExecutorOptions configures an Executor
type ExecutorOptions struct {
	// Searcher defaults to AgentSearcher with the reference collaborators
	Searcher Searcher
	// Notifier defaults to NewNotifier()
	Notifier *Notifier
	Logger   *slog.Logger
}

// Executor runs searches asynchronously with per-search cancellation
type Executor struct {
	store    *SearchStore
	searcher Searcher
	notifier *Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewExecutor(store *SearchStore, opts ExecutorOptions) *Executor {
	if opts.Searcher == nil {
		opts.Searcher = AgentSearcher{}
	}
	if opts.Notifier == nil {
		opts.Notifier = NewNotifier()
	}
	if opts.Logger == nil {
		opts.Logger = logger.For("nasd")
	}
	return &Executor{
		store:    store,
		searcher: opts.Searcher,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Store returns the search store the executor updates
func (e *Executor) Store() *SearchStore { return e.store }

// ValidateInput parses and validates the configuration of a submission
func ValidateInput(input SearchInput) (*config.Config, error) {
	if input.ConfigYAML == "" {
		return nil, &InvalidInputError{Err: errors.New("config_yaml is empty")}
	}
	cfg, err := config.ParseConfigYAMLString(input.ConfigYAML)
	if err != nil {
		return nil, &InvalidInputError{Err: err}
	}
	for _, u := range []string{input.CallbackURL, cfg.NAS.Notify.CallbackURL} {
		if u == "" {
			continue
		}
		if err := ValidateCallbackURL(u); err != nil {
			return nil, &InvalidInputError{Err: err}
		}
	}
	return cfg, nil
}

// Create validates input and registers a pending search
func (e *Executor) Create(id string, input SearchInput) (*SearchRecord, error) {
	if _, err := ValidateInput(input); err != nil {
		return nil, err
	}
	return e.store.Create(id, input)
}

// Submit creates a search and starts it immediately
func (e *Executor) Submit(id string, input SearchInput) (*SearchRecord, error) {
	rec, err := e.Create(id, input)
	if err != nil {
		return nil, err
	}
	return e.Start(rec.ID)
}

// Start begins executing a pending search asynchronously.
// Starting a running search is a no-op.
func (e *Executor) Start(id string) (*SearchRecord, error) {
	if id == "" {
		return nil, ErrSearchIDMissing
	}

	// cancel is registered under e.mu so a concurrent Stop always finds it
	e.mu.Lock()
	rec, started, err := e.store.TryStart(id)
	if err != nil || !started {
		e.mu.Unlock()
		return rec, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancels[id] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.runSearch(ctx, id)
	return rec, nil
}

// Stop cancels a search and marks it cancelled. Stopping a terminal search
// returns it unchanged.
func (e *Executor) Stop(id string) (*SearchRecord, error) {
	if id == "" {
		return nil, ErrSearchIDMissing
	}

	e.mu.Lock()
	cancel, ok := e.cancels[id]
	e.mu.Unlock()
	if ok {
		cancel()
	}

	return e.store.SetStatus(id, StatusCancelled, "")
}

// Shutdown cancels every running search and waits for them to finish or ctx to end
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, cancel := range e.cancels {
		cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) cleanup(id string) {
	e.mu.Lock()
	if cancel, ok := e.cancels[id]; ok {
		cancel()
		delete(e.cancels, id)
	}
	e.mu.Unlock()
}

func (e *Executor) runSearch(ctx context.Context, id string) {
	defer e.wg.Done()
	defer e.cleanup(id)
	log := e.logger.With("search_id", id)

	rec, ok := e.store.Get(id)
	if !ok {
		log.Error("search not found")
		return
	}

	cfg, err := ValidateInput(rec.Input)
	if err != nil {
		e.finish(id, nil, StatusFailed, err.Error())
		e.notify(nil, id)
		return
	}

	log.Info("starting search", "approach", cfg.NAS.Approach, "algorithm", cfg.NAS.Search.SearchAlgorithm)
	out, err := e.searcher.Search(ctx, cfg, nas.Options{
		ID:        id,
		Collector: rec.Collector(),
		OnGeneration: func(step search.GenerationStep) {
			e.store.AppendProgress(id, step)
		},
	})

	switch {
	case ctx.Err() != nil:
		log.Info("search cancelled")
		e.finish(id, out, StatusCancelled, "")
	case err != nil:
		log.Error("search failed", "error", err)
		e.finish(id, out, StatusFailed, err.Error())
	case out == nil:
		e.finish(id, nil, StatusFailed, "search produced no outcome")
	default:
		log.Info("search completed", "summary", nas.Describe(out))
		e.finish(id, out, StatusCompleted, "")
	}
	e.notify(cfg, id)
}

func (e *Executor) finish(id string, out *nas.Outcome, status Status, errMsg string) {
	if out != nil {
		if err := e.store.SetOutcome(id, out); err != nil {
			e.logger.Error("failed to store outcome", "search_id", id, "error", err)
		}
	}
	if _, err := e.store.SetStatus(id, status, errMsg); err != nil {
		e.logger.Error("failed to set status", "search_id", id, "status", status, "error", err)
	}
}

// notify posts the final record to the submission's callback, or the
// configuration's when the submission names none
func (e *Executor) notify(cfg *config.Config, id string) {
	rec, ok := e.store.Get(id)
	if !ok {
		return
	}
	url, attempts := rec.Input.CallbackURL, 0
	if cfg != nil {
		if url == "" {
			url = cfg.NAS.Notify.CallbackURL
		}
		attempts = cfg.NAS.Notify.MaxAttempts
	}
	e.notifier.Notify(url, rec.Input.CallbackSecret, rec, attempts)
}
