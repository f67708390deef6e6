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

const conversationColumns = "id, display_name, unread_count, assigned_agent_id, assigned_at, last_message_at, visible, archived_at, created_at, updated_at"

func scanConversation(row rowScanner) (*store.Conversation, error) {
	var (
		c             store.Conversation
		assignedAgent sql.NullString
		assignedAt    sql.NullInt64
		lastMessageAt sql.NullInt64
		visible       int
		archivedAt    sql.NullInt64
		createdAt     int64
		updatedAt     int64
	)
	if err := row.Scan(
		&c.ID,
		&c.DisplayName,
		&c.UnreadCount,
		&assignedAgent,
		&assignedAt,
		&lastMessageAt,
		&visible,
		&archivedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	c.AssignedAgentID = assignedAgent.String
	c.AssignedAt = nullMillis(assignedAt)
	c.LastMessageAt = nullMillis(lastMessageAt)
	c.Visible = visible != 0
	c.ArchivedAt = nullMillis(archivedAt)
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}

func (d *DB) TouchConversation(ctx context.Context, touch *store.TouchConversation) (*store.Conversation, error) {
	now := toMillis(time.Now())
	unread := 0
	if touch.Inbound {
		unread = 1
	}
	c, err := scanConversation(d.db.QueryRowContext(ctx, `
INSERT INTO conversations (id, display_name, unread_count, last_message_at, visible, created_at, updated_at)
VALUES (?, ?, ?, ?, 1, ?, ?)
ON CONFLICT (id) DO UPDATE SET
  display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE conversations.display_name END,
  unread_count = conversations.unread_count + excluded.unread_count,
  last_message_at = MAX(COALESCE(conversations.last_message_at, 0), excluded.last_message_at),
  visible = CASE WHEN ? = 1 THEN 1 ELSE conversations.visible END,
  updated_at = excluded.updated_at
RETURNING `+conversationColumns,
		touch.ID, touch.DisplayName, unread, toMillis(touch.LastMessageAt), now, now, boolInt(touch.Inbound),
	))
	if err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	return c, nil
}

func (d *DB) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	c, err := scanConversation(d.db.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (d *DB) ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
	where, args := []string{"1 = 1"}, []any{}
	if !find.IncludeHidden {
		where = append(where, "visible = 1")
	}
	if !find.IncludeArchived {
		where = append(where, "archived_at IS NULL")
	}
	if find.AssignedAgentID != nil {
		where = append(where, "assigned_agent_id = ?")
		args = append(args, *find.AssignedAgentID)
	}
	if find.Unassigned {
		where = append(where, "assigned_agent_id IS NULL")
	}
	query := "SELECT " + conversationColumns + " FROM conversations WHERE " + strings.Join(where, " AND ") +
		" ORDER BY last_message_at DESC, id ASC"
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
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
	set, args := []string{"updated_at = ?"}, []any{toMillis(updatedAt)}
	if update.ResetUnread {
		set = append(set, "unread_count = 0")
	}
	if update.Visible != nil {
		set = append(set, "visible = ?")
		args = append(args, boolInt(*update.Visible))
	}
	if update.Archived != nil {
		if *update.Archived {
			set = append(set, "archived_at = ?")
			args = append(args, toMillis(updatedAt))
		} else {
			set = append(set, "archived_at = NULL")
		}
	}
	args = append(args, update.ID)

	c, err := scanConversation(d.db.QueryRowContext(ctx,
		"UPDATE conversations SET "+strings.Join(set, ", ")+" WHERE id = ? RETURNING "+conversationColumns,
		args...,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	return c, nil
}

func (d *DB) AssignConversation(ctx context.Context, assign *store.AssignConversation) (bool, error) {
	var (
		agentID    any
		assignedAt any
	)
	if assign.AgentID != "" {
		agentID = assign.AgentID
		assignedAt = toMillis(assign.AssignedAt)
	}
	query := "UPDATE conversations SET assigned_agent_id = ?, assigned_at = ?, updated_at = ? WHERE id = ?"
	if assign.OnlyIfUnassigned {
		query += " AND assigned_agent_id IS NULL"
	}
	res, err := d.db.ExecContext(ctx, query, agentID, assignedAt, toMillis(time.Now()), assign.ID)
	if err != nil {
		return false, fmt.Errorf("assign conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *DB) DeleteConversation(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
