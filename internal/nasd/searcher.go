package nasd

import (
	"context"

	"github.com/nasopt/dynas/internal/nas"
	"github.com/nasopt/dynas/pkg/config"
)

// Searcher runs one configured search to completion.
// The daemon uses AgentSearcher; tests inject their own.
type Searcher interface {
	Search(ctx context.Context, cfg *config.Config, opts nas.Options) (*nas.Outcome, error)
}

// AgentSearcher runs searches with a fresh nas.Agent each time
type AgentSearcher struct {
	Collaborators nas.Collaborators
}

func (s AgentSearcher) Search(ctx context.Context, cfg *config.Config, opts nas.Options) (*nas.Outcome, error) {
	c := opts.Collaborators
	if c.Builder == nil && c.Train == nil && c.Eval == nil {
		opts.Collaborators = s.Collaborators
	}
	agent, err := nas.New(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	defer agent.Close()
	return agent.Search(ctx)
}

// SearcherFunc adapts a function to Searcher
type SearcherFunc func(ctx context.Context, cfg *config.Config, opts nas.Options) (*nas.Outcome, error)

func (f SearcherFunc) Search(ctx context.Context, cfg *config.Config, opts nas.Options) (*nas.Outcome, error) {
	return f(ctx, cfg, opts)
}
