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

const messageColumns = "seq, conversation_id, provider_message_id, direction, content_type, content, quoted, reactions, sender_display_name, occurred_at, delivery_status, stub, created_at, updated_at"

func scanMessage(row rowScanner) (*store.Message, error) {
	var (
		m         store.Message
		stub      int
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(
		&m.Seq,
		&m.ConversationID,
		&m.ProviderMessageID,
		&m.Direction,
		&m.ContentType,
		&m.Content,
		&m.Quoted,
		&m.Reactions,
		&m.SenderDisplayName,
		&m.OccurredAt,
		&m.DeliveryStatus,
		&stub,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	m.Stub = stub != 0
	m.CreatedAt = fromMillis(createdAt)
	m.UpdatedAt = fromMillis(updatedAt)
	return &m, nil
}

func (d *DB) MutateMessage(ctx context.Context, key store.MessageKey, fn store.MutateFunc) (*store.MessageMutation, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanMessage(tx.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? AND provider_message_id = ?",
		key.ConversationID, key.ProviderMessageID,
	))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("select message: %w", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		current = nil
	}

	next, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return &store.MessageMutation{Message: current, Previous: current}, nil
	}

	now := toMillis(time.Now())
	var stored *store.Message
	if current == nil {
		stored, err = scanMessage(tx.QueryRowContext(ctx, `
INSERT INTO messages (conversation_id, provider_message_id, direction, content_type, content, quoted, reactions, sender_display_name, occurred_at, delivery_status, stub, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING `+messageColumns,
			key.ConversationID, key.ProviderMessageID, next.Direction, next.ContentType,
			next.Content, next.Quoted, next.Reactions, next.SenderDisplayName,
			next.OccurredAt, next.DeliveryStatus, boolInt(next.Stub), now, now,
		))
		if err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}
	} else {
		stored, err = scanMessage(tx.QueryRowContext(ctx, `
UPDATE messages SET
  direction = ?, content_type = ?, content = ?, quoted = ?, reactions = ?,
  sender_display_name = ?, occurred_at = ?, delivery_status = ?, stub = ?, updated_at = ?
WHERE seq = ?
RETURNING `+messageColumns,
			next.Direction, next.ContentType, next.Content, next.Quoted, next.Reactions,
			next.SenderDisplayName, next.OccurredAt, next.DeliveryStatus, boolInt(next.Stub), now,
			current.Seq,
		))
		if err != nil {
			return nil, fmt.Errorf("update message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &store.MessageMutation{
		Message:  stored,
		Previous: current,
		Inserted: current == nil,
		Changed:  true,
	}, nil
}

func (d *DB) GetMessage(ctx context.Context, key store.MessageKey) (*store.Message, error) {
	m, err := scanMessage(d.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? AND provider_message_id = ?",
		key.ConversationID, key.ProviderMessageID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"conversation_id = ?"}, []any{find.ConversationID}
	if !find.IncludeStub {
		where = append(where, "stub = 0")
	}
	if find.Before != nil {
		where = append(where, "(occurred_at < ? OR (occurred_at = ? AND seq < ?))")
		args = append(args, find.Before.OccurredAt, find.Before.OccurredAt, find.Before.Seq)
	}
	limit := find.Limit
	if limit <= 0 {
		limit = 30
	}
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE "+strings.Join(where, " AND ")+
			" ORDER BY occurred_at DESC, seq DESC LIMIT ?",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	list := []*store.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
