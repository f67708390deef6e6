package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/memohai/wadesk/internal/store"
)

const agentColumns = "seq, id::text, username, display_name, password_hash, active, created_at"

func scanAgent(row rowScanner) (*store.Agent, error) {
	var a store.Agent
	if err := row.Scan(&a.Seq, &a.ID, &a.Username, &a.DisplayName, &a.PasswordHash, &a.Active, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func (d *DB) CreateAgent(ctx context.Context, create *store.Agent) (*store.Agent, error) {
	id, err := parseUUID(create.ID)
	if err != nil {
		return nil, err
	}
	createdAt := create.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	a, err := scanAgent(d.pool.QueryRow(ctx, `
INSERT INTO agents (id, username, display_name, password_hash, active, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+agentColumns,
		id, create.Username, create.DisplayName, create.PasswordHash, create.Active, createdAt,
	))
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return a, nil
}

func (d *DB) GetAgent(ctx context.Context, find *store.FindAgent) (*store.Agent, error) {
	list, err := d.ListAgents(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, store.ErrNotFound
	}
	return list[0], nil
}

func (d *DB) ListAgents(ctx context.Context, find *store.FindAgent) ([]*store.Agent, error) {
	var a args
	where := []string{"TRUE"}
	if find.ID != "" {
		id, err := parseUUID(find.ID)
		if err != nil {
			return nil, store.ErrNotFound
		}
		where = append(where, "id = "+a.add(id))
	}
	if find.Username != "" {
		where = append(where, "username = "+a.add(find.Username))
	}
	if find.ActiveOnly {
		where = append(where, "active = TRUE")
	}
	rows, err := d.pool.Query(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE "+strings.Join(where, " AND ")+" ORDER BY seq ASC",
		a...,
	)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	list := []*store.Agent{}
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		list = append(list, agent)
	}
	return list, rows.Err()
}

func (d *DB) DeleteAgent(ctx context.Context, id string) error {
	pgID, err := parseUUID(id)
	if err != nil {
		return store.ErrNotFound
	}
	tag, err := d.pool.Exec(ctx, "DELETE FROM agents WHERE id = $1", pgID)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) AdvanceCursor(ctx context.Context, key string, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("advance cursor %q: modulo must be positive", key)
	}
	var index int32
	err := d.pool.QueryRow(ctx, `
INSERT INTO assignment_cursors (name, last_index, updated_at)
VALUES ($1, 0, now())
ON CONFLICT (name) DO UPDATE SET
  last_index = (assignment_cursors.last_index + 1) % $2,
  updated_at = now()
RETURNING last_index`,
		key, int32(n),
	).Scan(&index)
	if err != nil {
		return 0, fmt.Errorf("advance cursor %q: %w", key, err)
	}
	return int(index), nil
}

func (d *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := d.pool.QueryRow(ctx, "SELECT value FROM settings WHERE name = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

func (d *DB) UpsertSetting(ctx context.Context, key, value string) error {
	_, err := d.pool.Exec(ctx, `
INSERT INTO settings (name, value, updated_at) VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("upsert setting %q: %w", key, err)
	}
	return nil
}
