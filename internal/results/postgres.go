package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/nasopt/dynas/internal/supernet"
	"github.com/nasopt/dynas/pkg/logger"
	"github.com/nasopt/dynas/pkg/utils"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS nas_results (
	id          BIGSERIAL PRIMARY KEY,
	session_id  TEXT        NOT NULL,
	supernet    TEXT        NOT NULL,
	arch        JSONB       NOT NULL,
	vector      JSONB,
	metrics     JSONB       NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS nas_results_session_idx ON nas_results (session_id, id);`

// PostgresBackend stores records in the nas_results table, scoped to a
// session so several searches can share one database.
type PostgresBackend struct {
	pool     *pgxpool.Pool
	session  string
	supernet string
	logger   *slog.Logger
}

// PostgresOptions configures the connection retry
type PostgresOptions struct {
	ConnectAttempts int
	Backoff         utils.Policy
}

// NewPostgresBackend connects to dsn, retrying with exponential backoff, and
// creates the results table if it does not exist.
func NewPostgresBackend(ctx context.Context, dsn, session, supernetName string, opts PostgresOptions) (*PostgresBackend, error) {
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = 5
	}
	if opts.Backoff == nil {
		opts.Backoff = utils.ExponentialPolicy(200*time.Millisecond, 5*time.Second, true)
	}
	log := logger.For("results")

	var pool *pgxpool.Pool
	err := utils.Retry(ctx, opts.ConnectAttempts, opts.Backoff, func(attempt int) error {
		p, err := pgxpool.Connect(ctx, dsn)
		if err != nil {
			log.Warn("postgres connect failed", "attempt", attempt+1, "error", err)
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			log.Warn("postgres ping failed", "attempt", attempt+1, "error", err)
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create nas_results table: %w", err)
	}

	return &PostgresBackend{pool: pool, session: session, supernet: supernetName, logger: log}, nil
}

// Session returns the session the backend reads and writes
func (b *PostgresBackend) Session() string {
	return b.session
}

// Append inserts rec
func (b *PostgresBackend) Append(ctx context.Context, rec EvaluatedArchitecture) error {
	arch, err := json.Marshal(rec.Arch)
	if err != nil {
		return fmt.Errorf("encode architecture: %w", err)
	}
	metrics, err := json.Marshal(rec.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	vector := pgtype.JSONB{Status: pgtype.Null}
	if rec.Vector != nil {
		if err := vector.Set(rec.Vector); err != nil {
			return fmt.Errorf("encode vector: %w", err)
		}
	}

	_, err = b.pool.Exec(ctx,
		`INSERT INTO nas_results (session_id, supernet, arch, vector, metrics, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.session, b.supernet, arch, vector, metrics, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// Load returns the session's records in insertion order. A missing table
// reads as empty.
func (b *PostgresBackend) Load(ctx context.Context) ([]EvaluatedArchitecture, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT arch, vector, metrics, recorded_at FROM nas_results
		 WHERE session_id = $1 ORDER BY id`,
		b.session,
	)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []EvaluatedArchitecture
	for rows.Next() {
		var (
			archRaw, metricsRaw []byte
			vector              pgtype.JSONB
			rec                 EvaluatedArchitecture
		)
		if err := rows.Scan(&archRaw, &vector, &metricsRaw, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal(archRaw, &rec.Arch); err != nil {
			return nil, fmt.Errorf("decode architecture: %w", err)
		}
		if err := json.Unmarshal(metricsRaw, &rec.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics: %w", err)
		}
		if vector.Status == pgtype.Present {
			var v supernet.Vector
			if err := vector.AssignTo(&v); err != nil {
				return nil, fmt.Errorf("decode vector: %w", err)
			}
			rec.Vector = v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

// Clear deletes the session's records
func (b *PostgresBackend) Clear(ctx context.Context) error {
	tag, err := b.pool.Exec(ctx, `DELETE FROM nas_results WHERE session_id = $1`, b.session)
	if err != nil {
		if isUndefinedTable(err) {
			return nil
		}
		return fmt.Errorf("delete results: %w", err)
	}
	b.logger.Info("cleared results", "session_id", b.session, "rows", tag.RowsAffected())
	return nil
}

// Close releases the pool
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable
}
