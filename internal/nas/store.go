package nas

import (
	"context"
	"fmt"

	"github.com/nasopt/dynas/internal/results"
	"github.com/nasopt/dynas/internal/supernet"
	"github.com/nasopt/dynas/pkg/config"
)

// Results backends
const (
	BackendMemory   = "memory"
	BackendCSV      = "csv"
	BackendPostgres = "postgres"
)

// openStore builds the configured store and loads any persisted records
func openStore(ctx context.Context, cfg *config.Config, pm *supernet.ParameterManager, session string) (*results.Store, error) {
	var backend results.Backend
	switch cfg.NAS.Results.Backend {
	case BackendMemory, "":
	case BackendCSV:
		backend = results.NewCSVBackend(cfg.NAS.Dynas.ResultsCSVPath, pm)
	case BackendPostgres:
		pg, err := results.NewPostgresBackend(ctx, cfg.NAS.Results.PostgresDSN, session, pm.Space().Name, results.PostgresOptions{})
		if err != nil {
			return nil, err
		}
		backend = pg
	default:
		return nil, fmt.Errorf("unknown results backend %q", cfg.NAS.Results.Backend)
	}

	store := results.NewStore(backend)
	if _, err := store.WarmStart(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
