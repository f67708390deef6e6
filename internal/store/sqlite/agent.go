package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/memohai/wadesk/internal/store"
)

const agentColumns = "seq, id, username, display_name, password_hash, active, created_at"

func scanAgent(row rowScanner) (*store.Agent, error) {
	var (
		a         store.Agent
		active    int
		createdAt int64
	)
	if err := row.Scan(&a.Seq, &a.ID, &a.Username, &a.DisplayName, &a.PasswordHash, &active, &createdAt); err != nil {
		return nil, err
	}
	a.Active = active != 0
	a.CreatedAt = fromMillis(createdAt)
	return &a, nil
}

func (d *DB) CreateAgent(ctx context.Context, create *store.Agent) (*store.Agent, error) {
	createdAt := create.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	a, err := scanAgent(d.db.QueryRowContext(ctx, `
INSERT INTO agents (id, username, display_name, password_hash, active, created_at)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING `+agentColumns,
		create.ID, create.Username, create.DisplayName, create.PasswordHash, boolInt(create.Active), toMillis(createdAt),
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
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != "" {
		where, args = append(where, "id = ?"), append(args, find.ID)
	}
	if find.Username != "" {
		where, args = append(where, "username = ?"), append(args, find.Username)
	}
	if find.ActiveOnly {
		where = append(where, "active = 1")
	}
	rows, err := d.db.QueryContext(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE "+strings.Join(where, " AND ")+" ORDER BY seq ASC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	list := []*store.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (d *DB) DeleteAgent(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, "DELETE FROM agents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) AdvanceCursor(ctx context.Context, key string, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("advance cursor %q: modulo must be positive", key)
	}
	var index int
	err := d.db.QueryRowContext(ctx, `
INSERT INTO assignment_cursors (name, last_index, updated_at)
VALUES (?, 0, ?)
ON CONFLICT (name) DO UPDATE SET
  last_index = (assignment_cursors.last_index + 1) % ?,
  updated_at = excluded.updated_at
RETURNING last_index`,
		key, toMillis(time.Now()), n,
	).Scan(&index)
	if err != nil {
		return 0, fmt.Errorf("advance cursor %q: %w", key, err)
	}
	return index, nil
}

func (d *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE name = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

func (d *DB) UpsertSetting(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx, `
INSERT INTO settings (name, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert setting %q: %w", key, err)
	}
	return nil
}
