package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/memohai/wadesk/internal/store"
)

const messageColumns = "seq, conversation_id, provider_message_id, direction, content_type, content, quoted, reactions, sender_display_name, occurred_at, delivery_status, stub, created_at, updated_at"

const maxMutateAttempts = 3

var errInsertRace = errors.New("concurrent insert")

func scanMessage(row rowScanner) (*store.Message, error) {
	var m store.Message
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
		&m.Stub,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

// MutateMessage locks the row with SELECT ... FOR UPDATE. When the row does not
// exist yet two writers can race on the insert; the loser retries and then sees
// the winner's row.
func (d *DB) MutateMessage(ctx context.Context, key store.MessageKey, fn store.MutateFunc) (*store.MessageMutation, error) {
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		res, err := d.mutateMessage(ctx, key, fn)
		if errors.Is(err, errInsertRace) {
			continue
		}
		return res, err
	}
	return nil, fmt.Errorf("mutate message %s/%s: %w", key.ConversationID, key.ProviderMessageID, errInsertRace)
}

func (d *DB) mutateMessage(ctx context.Context, key store.MessageKey, fn store.MutateFunc) (*store.MessageMutation, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanMessage(tx.QueryRow(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = $1 AND provider_message_id = $2 FOR UPDATE",
		key.ConversationID, key.ProviderMessageID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		current = nil
	} else if err != nil {
		return nil, fmt.Errorf("select message: %w", err)
	}

	next, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return &store.MessageMutation{Message: current, Previous: current}, nil
	}

	var stored *store.Message
	if current == nil {
		stored, err = scanMessage(tx.QueryRow(ctx, `
INSERT INTO messages (conversation_id, provider_message_id, direction, content_type, content, quoted, reactions, sender_display_name, occurred_at, delivery_status, stub)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT ON CONSTRAINT messages_conversation_provider_unique DO NOTHING
RETURNING `+messageColumns,
			key.ConversationID, key.ProviderMessageID, next.Direction, next.ContentType,
			next.Content, next.Quoted, next.Reactions, next.SenderDisplayName,
			next.OccurredAt, next.DeliveryStatus, next.Stub,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errInsertRace
		}
		if err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}
	} else {
		stored, err = scanMessage(tx.QueryRow(ctx, `
UPDATE messages SET
  direction = $1, content_type = $2, content = $3, quoted = $4, reactions = $5,
  sender_display_name = $6, occurred_at = $7, delivery_status = $8, stub = $9, updated_at = now()
WHERE seq = $10
RETURNING `+messageColumns,
			next.Direction, next.ContentType, next.Content, next.Quoted, next.Reactions,
			next.SenderDisplayName, next.OccurredAt, next.DeliveryStatus, next.Stub,
			current.Seq,
		))
		if err != nil {
			return nil, fmt.Errorf("update message: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
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
	m, err := scanMessage(d.pool.QueryRow(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = $1 AND provider_message_id = $2",
		key.ConversationID, key.ProviderMessageID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	var a args
	where := []string{"conversation_id = " + a.add(find.ConversationID)}
	if !find.IncludeStub {
		where = append(where, "stub = FALSE")
	}
	if find.Before != nil {
		where = append(where, "(occurred_at, seq) < ("+a.add(find.Before.OccurredAt)+", "+a.add(find.Before.Seq)+")")
	}
	limit := find.Limit
	if limit <= 0 {
		limit = 30
	}
	query := "SELECT " + messageColumns + " FROM messages WHERE " + strings.Join(where, " AND ") +
		" ORDER BY occurred_at DESC, seq DESC LIMIT " + a.add(limit)

	rows, err := d.pool.Query(ctx, query, a...)
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
