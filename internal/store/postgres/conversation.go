package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/memohai/wadesk/internal/store"
)

const conversationColumns = "id, display_name, unread_count, assigned_agent_id::text, assigned_at, last_message_at, visible, archived_at, created_at, updated_at"

func scanConversation(row rowScanner) (*store.Conversation, error) {
	var (
		c             store.Conversation
		assignedAgent pgtype.Text
		assignedAt    pgtype.Timestamptz
		lastMessageAt pgtype.Timestamptz
		archivedAt    pgtype.Timestamptz
	)
	if err := row.Scan(
		&c.ID,
		&c.DisplayName,
		&c.UnreadCount,
		&assignedAgent,
		&assignedAt,
		&lastMessageAt,
		&c.Visible,
		&archivedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.AssignedAgentID = assignedAgent.String
	c.AssignedAt = timePtr(assignedAt)
	c.LastMessageAt = timePtr(lastMessageAt)
	c.ArchivedAt = timePtr(archivedAt)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func (d *DB) TouchConversation(ctx context.Context, touch *store.TouchConversation) (*store.Conversation, error) {
	unread := 0
	if touch.Inbound {
		unread = 1
	}
	c, err := scanConversation(d.pool.QueryRow(ctx, `
INSERT INTO conversations (id, display_name, unread_count, last_message_at, visible)
VALUES ($1, $2, $3, $4, TRUE)
ON CONFLICT (id) DO UPDATE SET
  display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE conversations.display_name END,
  unread_count = conversations.unread_count + EXCLUDED.unread_count,
  last_message_at = GREATEST(conversations.last_message_at, EXCLUDED.last_message_at),
  visible = conversations.visible OR $5,
  updated_at = now()
RETURNING `+conversationColumns,
		touch.ID, touch.DisplayName, unread, touch.LastMessageAt, touch.Inbound,
	))
	if err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	return c, nil
}

func (d *DB) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	c, err := scanConversation(d.pool.QueryRow(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (d *DB) ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
	var a args
	where := []string{"TRUE"}
	if !find.IncludeHidden {
		where = append(where, "visible = TRUE")
	}
	if !find.IncludeArchived {
		where = append(where, "archived_at IS NULL")
	}
	if find.AssignedAgentID != nil {
		agentID, err := parseUUID(*find.AssignedAgentID)
		if err != nil {
			return nil, err
		}
		where = append(where, "assigned_agent_id = "+a.add(agentID))
	}
	if find.Unassigned {
		where = append(where, "assigned_agent_id IS NULL")
	}
	query := "SELECT " + conversationColumns + " FROM conversations WHERE " + strings.Join(where, " AND ") +
		" ORDER BY last_message_at DESC NULLS LAST, id ASC"
	if find.Limit > 0 {
		query += " LIMIT " + a.add(find.Limit)
	}

	rows, err := d.pool.Query(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	list := []*store.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (d *DB) UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error) {
	updatedAt := update.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	var a args
	set := []string{"updated_at = " + a.add(updatedAt)}
	if update.ResetUnread {
		set = append(set, "unread_count = 0")
	}
	if update.Visible != nil {
		set = append(set, "visible = "+a.add(*update.Visible))
	}
	if update.Archived != nil {
		if *update.Archived {
			set = append(set, "archived_at = "+a.add(updatedAt))
		} else {
			set = append(set, "archived_at = NULL")
		}
	}
	query := "UPDATE conversations SET " + strings.Join(set, ", ") +
		" WHERE id = " + a.add(update.ID) + " RETURNING " + conversationColumns

	c, err := scanConversation(d.pool.QueryRow(ctx, query, a...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	return c, nil
}

func (d *DB) AssignConversation(ctx context.Context, assign *store.AssignConversation) (bool, error) {
	agentID, err := parseUUID(assign.AgentID)
	if err != nil {
		return false, err
	}
	assignedAt := pgtype.Timestamptz{}
	if agentID.Valid {
		assignedAt = pgtype.Timestamptz{Time: assign.AssignedAt, Valid: true}
	}
	query := "UPDATE conversations SET assigned_agent_id = $1, assigned_at = $2, updated_at = now() WHERE id = $3"
	if assign.OnlyIfUnassigned {
		query += " AND assigned_agent_id IS NULL"
	}
	tag, err := d.pool.Exec(ctx, query, agentID, assignedAt, assign.ID)
	if err != nil {
		return false, fmt.Errorf("assign conversation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (d *DB) DeleteConversation(ctx context.Context, id string) error {
	tag, err := d.pool.Exec(ctx, "DELETE FROM conversations WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
