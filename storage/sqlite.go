package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/songzhibin97/workflow-fsm/types"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStorage is a SQLite-backed implementation of the Storage interface.
// Records are stored as JSON bodies; the instance version lives in its own
// column so updates can be conditioned on it.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path and applies the schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// single writer avoids SQLITE_BUSY under concurrent updates
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// SaveDefinition upserts a workflow definition.
func (s *SQLiteStorage) SaveDefinition(ctx context.Context, def types.WorkflowDefinition) error {
	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal definition %s: %w", def.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_definitions (id, body, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, def.ID, string(body), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save definition %s: %w", def.ID, err)
	}
	return nil
}

// GetDefinition retrieves a workflow definition.
func (s *SQLiteStorage) GetDefinition(ctx context.Context, id string) (types.WorkflowDefinition, error) {
	var def types.WorkflowDefinition
	err := s.queryBody(ctx, `SELECT body FROM workflow_definitions WHERE id = ?`, id, ErrDefinitionNotFound, &def)
	return def, err
}

// ListDefinitions returns all definitions ordered by id.
func (s *SQLiteStorage) ListDefinitions(ctx context.Context) ([]types.WorkflowDefinition, error) {
	return queryAll[types.WorkflowDefinition](ctx, s.db, `SELECT body FROM workflow_definitions ORDER BY id`)
}

// SaveInstance upserts a workflow instance.
func (s *SQLiteStorage) SaveInstance(ctx context.Context, inst types.WorkflowInstance) error {
	body, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to marshal instance %s: %w", inst.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_instances (id, definition_id, version, body, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			definition_id = excluded.definition_id,
			version = excluded.version,
			body = excluded.body,
			updated_at = excluded.updated_at
	`, inst.ID, inst.WorkflowDefinitionID, inst.Version, string(body), inst.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save instance %s: %w", inst.ID, err)
	}
	return nil
}

// UpdateInstance replaces the instance row only when the stored version matches.
func (s *SQLiteStorage) UpdateInstance(ctx context.Context, inst types.WorkflowInstance, expectedVersion uint64) error {
	body, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to marshal instance %s: %w", inst.ID, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_instances
		SET version = ?, body = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`, inst.Version, string(body), inst.UpdatedAt, inst.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update instance %s: %w", inst.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update instance %s: %w", inst.ID, err)
	}
	if n == 1 {
		return nil
	}

	var stored uint64
	err = s.db.QueryRowContext(ctx, `SELECT version FROM workflow_instances WHERE id = ?`, inst.ID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: id=%s", ErrInstanceNotFound, inst.ID)
	} else if err != nil {
		return fmt.Errorf("update instance %s: %w", inst.ID, err)
	}
	return fmt.Errorf("%w: id=%s stored=%d expected=%d", ErrVersionConflict, inst.ID, stored, expectedVersion)
}

// GetInstance retrieves a workflow instance.
func (s *SQLiteStorage) GetInstance(ctx context.Context, id string) (types.WorkflowInstance, error) {
	var inst types.WorkflowInstance
	err := s.queryBody(ctx, `SELECT body FROM workflow_instances WHERE id = ?`, id, ErrInstanceNotFound, &inst)
	return inst, err
}

// ListInstances returns all instances ordered by id.
func (s *SQLiteStorage) ListInstances(ctx context.Context) ([]types.WorkflowInstance, error) {
	return queryAll[types.WorkflowInstance](ctx, s.db, `SELECT body FROM workflow_instances ORDER BY id`)
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStorage) queryBody(ctx context.Context, query, id string, errNotFound error, dst interface{}) error {
	var body string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: id=%s", errNotFound, id)
	} else if err != nil {
		return fmt.Errorf("query %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(body), dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}
	return nil
}

func queryAll[T any](ctx context.Context, db *sql.DB, query string) ([]T, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		var item T
		if err := json.Unmarshal([]byte(body), &item); err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return out, nil
}
