package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/parley/store"
)

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	fields := []string{"uid", "session_id", "creator_id", "role", "content", "status", "attachments", "function_calls", "tokens_used", "parent_uid", "thread_uid", "feedback", "metadata", "created_ts", "updated_ts"}
	args := []any{
		create.UID,
		create.SessionID,
		create.CreatorID,
		create.Role.String(),
		create.Content,
		create.Status.String(),
		marshalJSON(create.Attachments, "[]"),
		marshalJSON(create.FunctionCalls, "[]"),
		create.TokensUsed,
		create.ParentUID,
		create.ThreadUID,
		create.Feedback,
		create.Metadata,
		create.CreatedTs,
		create.UpdatedTs,
	}
	if create.Metadata == "" {
		args[12] = "{}"
	}

	stmt := `INSERT INTO message (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}

	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.SessionID != nil {
		where, args = append(where, "session_id = "+placeholder(len(args)+1)), append(args, *find.SessionID)
	}
	if find.CreatorID != nil {
		where, args = append(where, "creator_id = "+placeholder(len(args)+1)), append(args, *find.CreatorID)
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, find.Status.String())
	}

	// Creation order must be stable for context assembly and the
	// regeneration cutoff scan; id breaks same-timestamp ties.
	query := `SELECT id, uid, session_id, creator_id, role, content, status, attachments, function_calls, tokens_used, parent_uid, thread_uid, feedback, metadata, created_ts, updated_ts, completed_ts, regenerated_ts
		FROM message
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts ASC, id ASC`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
		if find.Offset != nil {
			query += " OFFSET " + placeholder(len(args)+1)
			args = append(args, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate messages")
	}

	return list, nil
}

func (d *DB) UpdateMessage(ctx context.Context, update *store.UpdateMessage) (*store.Message, error) {
	set, args := []string{}, []any{}

	if update.Content != nil {
		set, args = append(set, "content = "+placeholder(len(args)+1)), append(args, *update.Content)
	}
	if update.Status != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, update.Status.String())
	}
	if update.FunctionCalls != nil {
		set, args = append(set, "function_calls = "+placeholder(len(args)+1)), append(args, marshalJSON(*update.FunctionCalls, "[]"))
	}
	if update.TokensUsed != nil {
		set, args = append(set, "tokens_used = "+placeholder(len(args)+1)), append(args, *update.TokensUsed)
	}
	if update.Feedback != nil {
		set, args = append(set, "feedback = "+placeholder(len(args)+1)), append(args, *update.Feedback)
	}
	if update.Metadata != nil {
		set, args = append(set, "metadata = "+placeholder(len(args)+1)), append(args, *update.Metadata)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}
	if update.CompletedTs != nil {
		set, args = append(set, "completed_ts = "+placeholder(len(args)+1)), append(args, *update.CompletedTs)
	} else if update.ClearCompletedTs {
		set = append(set, "completed_ts = NULL")
	}
	if update.RegeneratedTs != nil {
		set, args = append(set, "regenerated_ts = "+placeholder(len(args)+1)), append(args, *update.RegeneratedTs)
	}

	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID, update.CreatorID)
	stmt := `UPDATE message SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)-1) + ` AND creator_id = ` + placeholder(len(args)) + `
		RETURNING id, uid, session_id, creator_id, role, content, status, attachments, function_calls, tokens_used, parent_uid, thread_uid, feedback, metadata, created_ts, updated_ts, completed_ts, regenerated_ts`
	m, err := scanMessage(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		return nil, errors.Wrap(err, "failed to update message")
	}

	return m, nil
}

func (d *DB) DeleteMessage(ctx context.Context, delete *store.DeleteMessage) error {
	where, args := []string{"1 = 1"}, []any{}
	if delete.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *delete.ID)
	}
	if delete.SessionID != nil {
		where, args = append(where, "session_id = "+placeholder(len(args)+1)), append(args, *delete.SessionID)
	}
	stmt := `DELETE FROM message WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to delete message")
	}
	return nil
}

func scanMessage(row rowScanner) (*store.Message, error) {
	m := &store.Message{}
	var role, status, attachments, functionCalls string
	var completedTs, regeneratedTs sql.NullInt64
	if err := row.Scan(
		&m.ID, &m.UID, &m.SessionID, &m.CreatorID, &role, &m.Content, &status,
		&attachments, &functionCalls, &m.TokensUsed, &m.ParentUID, &m.ThreadUID,
		&m.Feedback, &m.Metadata, &m.CreatedTs, &m.UpdatedTs, &completedTs, &regeneratedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan message")
	}
	m.Role = store.MessageRole(role)
	m.Status = store.MessageStatus(status)
	unmarshalJSON(attachments, &m.Attachments)
	unmarshalJSON(functionCalls, &m.FunctionCalls)
	if completedTs.Valid {
		m.CompletedTs = &completedTs.Int64
	}
	if regeneratedTs.Valid {
		m.RegeneratedTs = &regeneratedTs.Int64
	}
	return m, nil
}
