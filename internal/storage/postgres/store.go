// Package postgres implements the module registry and dependency index on
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // postgres driver

	"github.com/StreamWeave/module_registry/internal/module"
)

// Store persists definitions in the stream_modules table and dependency
// edges in stream_module_dependencies. The UNIQUE (name, type) constraint
// plus INSERT ... ON CONFLICT DO NOTHING gives RegisterNew its atomic
// register-if-absent semantics.
type Store struct {
	db *sql.DB
}

var (
	_ module.Registry        = (*Store)(nil)
	_ module.DependencyIndex = (*Store)(nil)
)

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to the database at url, verifies the connection and ensures
// the schema exists.
func Open(url string) (*Store, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := NewStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the registry tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS stream_modules (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload BYTEA,
			dsl TEXT NOT NULL DEFAULT '',
			steps JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (name, type)
		)`,
		`CREATE TABLE IF NOT EXISTS stream_module_dependencies (
			dependent_name TEXT NOT NULL,
			dependent_type TEXT NOT NULL,
			dependency_name TEXT NOT NULL,
			dependency_type TEXT NOT NULL,
			PRIMARY KEY (dependent_name, dependent_type, dependency_name, dependency_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_module_deps_dependency
			ON stream_module_dependencies (dependency_name, dependency_type)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// stepRef is the persisted shape of one composed pipeline step.
type stepRef struct {
	Name string                `json:"name"`
	Type module.ModuleType     `json:"type"`
	Kind module.DefinitionKind `json:"kind"`
}

const definitionColumns = `id, name, type, kind, payload, dsl, steps, created_at`

// FindDefinition retrieves the definition under (name, typ), or nil.
func (s *Store) FindDefinition(ctx context.Context, name string, typ module.ModuleType) (*module.Definition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+definitionColumns+`
		FROM stream_modules
		WHERE name = $1 AND type = $2
	`, name, typ)

	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// FindDefinitionsByName lists all definitions sharing name, across types.
func (s *Store) FindDefinitionsByName(ctx context.Context, name string) ([]module.Definition, error) {
	return s.query(ctx, `
		SELECT `+definitionColumns+`
		FROM stream_modules
		WHERE name = $1
		ORDER BY name, type
	`, name)
}

// FindDefinitionsByType lists all definitions of the given type.
func (s *Store) FindDefinitionsByType(ctx context.Context, typ module.ModuleType) ([]module.Definition, error) {
	return s.query(ctx, `
		SELECT `+definitionColumns+`
		FROM stream_modules
		WHERE type = $1
		ORDER BY name, type
	`, typ)
}

// FindDefinitions lists every registered definition.
func (s *Store) FindDefinitions(ctx context.Context) ([]module.Definition, error) {
	return s.query(ctx, `
		SELECT `+definitionColumns+`
		FROM stream_modules
		ORDER BY name, type
	`)
}

// RegisterNew inserts def if its key is free, recording dependency edges for
// composed definitions in the same transaction.
func (s *Store) RegisterNew(ctx context.Context, def module.Definition) (bool, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}

	var stepsJSON []byte
	if def.Kind == module.KindComposed {
		refs := make([]stepRef, 0, len(def.Steps))
		for _, step := range def.Steps {
			refs = append(refs, stepRef{Name: step.Name, Type: step.Type, Kind: step.Kind})
		}
		var err error
		stepsJSON, err = json.Marshal(refs)
		if err != nil {
			return false, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO stream_modules (id, name, type, kind, payload, dsl, steps, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name, type) DO NOTHING
	`, def.ID, def.Name, def.Type, def.Kind, def.Bytes, def.DSL, stepsJSON, def.CreatedAt)
	if err != nil {
		return false, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return false, nil
	}

	for _, step := range def.Steps {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stream_module_dependencies
				(dependent_name, dependent_type, dependency_name, dependency_type)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING
		`, def.Name, def.Type, step.Name, step.Type); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes def and the dependency edges it owns.
func (s *Store) Delete(ctx context.Context, def module.Definition) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM stream_modules WHERE name = $1 AND type = $2
	`, def.Name, def.Type)
	if err != nil {
		return false, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM stream_module_dependencies
		WHERE dependent_name = $1 AND dependent_type = $2
	`, def.Name, def.Type); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// DependentsOf lists the definitions currently referencing (name, typ).
func (s *Store) DependentsOf(ctx context.Context, name string, typ module.ModuleType) ([]module.ModuleKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dependent_name, dependent_type
		FROM stream_module_dependencies
		WHERE dependency_name = $1 AND dependency_type = $2
		ORDER BY dependent_type, dependent_name
	`, name, typ)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []module.ModuleKey
	for rows.Next() {
		var key module.ModuleKey
		if err := rows.Scan(&key.Name, &key.Type); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]module.Definition, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []module.Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, def)
	}
	return result, rows.Err()
}

// rowScanner abstracts sql.Row and sql.Rows for scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(scanner rowScanner) (module.Definition, error) {
	var (
		def       module.Definition
		payload   []byte
		stepsJSON []byte
		createdAt time.Time
	)
	if err := scanner.Scan(&def.ID, &def.Name, &def.Type, &def.Kind, &payload, &def.DSL, &stepsJSON, &createdAt); err != nil {
		return module.Definition{}, err
	}
	def.Bytes = payload
	def.CreatedAt = createdAt.UTC()

	if len(stepsJSON) > 0 {
		var refs []stepRef
		if err := json.Unmarshal(stepsJSON, &refs); err != nil {
			return module.Definition{}, fmt.Errorf("decode steps for %s:%s: %w", def.Type, def.Name, err)
		}
		for _, ref := range refs {
			def.Steps = append(def.Steps, module.Definition{Name: ref.Name, Type: ref.Type, Kind: ref.Kind})
		}
	}
	return def, nil
}
