// Package postgres persists graph program sources in Postgres. Programs are
// still validated and served by an in-memory store; the database only keeps
// the sources so they survive restarts.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	_ "github.com/lib/pq"

	"github.com/danshapiro/agentgraph/internal/ctxlog"
	"github.com/danshapiro/agentgraph/internal/graphprog/store"
)

// Store is a store.Memory whose write path also upserts into the
// graph_programs table.
type Store struct {
	*store.Memory
	db *sql.DB
}

// Open connects to dsn and ensures the schema exists. Stored programs are
// not loaded until Restore is called.
func Open(ctx context.Context, dsn string, mem *store.Memory) (*Store, error) {
	if mem == nil {
		mem = store.NewMemory()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	s := &Store{Memory: mem, db: db}
	if err := s.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create graph_programs table: %w", err)
	}
	return s, nil
}

func (s *Store) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS graph_programs (
			name        TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			source      TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

type storedProgram struct {
	name   string
	source []byte
}

// Restore loads every stored program that is not already in memory as one
// trusted batch. Call it after the configured program files are loaded so
// stored programs may reference them and the files take precedence.
// Programs that no longer validate are logged and skipped.
func (s *Store) Restore(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, source FROM graph_programs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query graph_programs: %w", err)
	}
	defer rows.Close()

	var stored []storedProgram
	for rows.Next() {
		var p storedProgram
		var src string
		if err := rows.Scan(&p.name, &src); err != nil {
			return nil, err
		}
		p.source = []byte(src)
		stored = append(stored, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return restoreInto(ctx, s.Memory, stored), nil
}

func restoreInto(ctx context.Context, mem *store.Memory, stored []storedProgram) []string {
	var sources [][]byte
	for _, p := range stored {
		if mem.Exists(p.name) {
			continue
		}
		sources = append(sources, p.source)
	}
	if len(sources) == 0 {
		return nil
	}
	names, err := mem.LoadBatch(ctx, sources, store.LoadOptions{Trusted: true})
	logger := ctxlog.FromContext(ctx)
	if err != nil {
		logger.Warn("some stored programs failed to restore", "err", err)
	}
	logger.Info("programs restored", "count", len(names))
	return names
}

func (s *Store) Load(ctx context.Context, source []byte, opts store.LoadOptions) (string, error) {
	name, err := s.Memory.Load(ctx, source, opts)
	if err != nil {
		return "", err
	}
	return name, s.persist(ctx, []string{name})
}

// LoadBatch persists the programs that loaded successfully even when others
// in the batch were rejected.
func (s *Store) LoadBatch(ctx context.Context, sources [][]byte, opts store.LoadOptions) ([]string, error) {
	names, loadErr := s.Memory.LoadBatch(ctx, sources, opts)
	if err := s.persist(ctx, names); err != nil {
		return names, errors.Join(loadErr, err)
	}
	return names, loadErr
}

func (s *Store) LoadDir(ctx context.Context, fsys fs.FS, patterns ...string) ([]string, error) {
	names, loadErr := s.Memory.LoadDir(ctx, fsys, patterns...)
	if err := s.persist(ctx, names); err != nil {
		return names, errors.Join(loadErr, err)
	}
	return names, loadErr
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.Memory.Delete(name); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM graph_programs WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete program %q: %w", name, err)
	}
	return nil
}

func (s *Store) persist(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO graph_programs (name, description, source, fingerprint, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (name) DO UPDATE
		SET description = EXCLUDED.description,
		    source      = EXCLUDED.source,
		    fingerprint = EXCLUDED.fingerprint,
		    updated_at  = now()
		WHERE graph_programs.fingerprint <> EXCLUDED.fingerprint
	`
	for _, name := range names {
		src, err := s.Memory.Source(name)
		if err != nil {
			return err
		}
		g, err := s.Memory.Graph(name)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, name, g.Description, string(src), store.Fingerprint(src)); err != nil {
			return fmt.Errorf("upsert program %q: %w", name, err)
		}
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Loader = (*Store)(nil)
)
