package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/parley/store"
)

func (d *DB) CreateSession(ctx context.Context, create *store.Session) (*store.Session, error) {
	fields := []string{"uid", "creator_id", "title", "status", "config", "message_count", "pinned", "tags", "created_ts", "updated_ts", "last_activity_ts"}
	args := []any{
		create.UID,
		create.CreatorID,
		create.Title,
		create.Status.String(),
		marshalJSON(create.Config, "{}"),
		create.MessageCount,
		create.Pinned,
		marshalJSON(create.Tags, "[]"),
		create.CreatedTs,
		create.UpdatedTs,
		create.LastActivityTs,
	}

	stmt := `INSERT INTO session (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create session")
	}

	return create, nil
}

func (d *DB) ListSessions(ctx context.Context, find *store.FindSession) ([]*store.Session, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.CreatorID != nil {
		where, args = append(where, "creator_id = "+placeholder(len(args)+1)), append(args, *find.CreatorID)
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, find.Status.String())
	}
	if find.Pinned != nil {
		where, args = append(where, "pinned = "+placeholder(len(args)+1)), append(args, *find.Pinned)
	}
	if find.ExcludeDeleted {
		where, args = append(where, "status != "+placeholder(len(args)+1)), append(args, store.SessionDeleted.String())
	}

	query := `SELECT id, uid, creator_id, title, status, config, message_count, pinned, tags, created_ts, updated_ts, last_activity_ts
		FROM session
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY pinned DESC, updated_ts DESC`
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
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	list := make([]*store.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate sessions")
	}

	return list, nil
}

func (d *DB) UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.Status != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, update.Status.String())
	}
	if update.Config != nil {
		set, args = append(set, "config = "+placeholder(len(args)+1)), append(args, marshalJSON(*update.Config, "{}"))
	}
	if update.MessageCount != nil {
		set, args = append(set, "message_count = "+placeholder(len(args)+1)), append(args, *update.MessageCount)
	}
	if update.Pinned != nil {
		set, args = append(set, "pinned = "+placeholder(len(args)+1)), append(args, *update.Pinned)
	}
	if update.Tags != nil {
		set, args = append(set, "tags = "+placeholder(len(args)+1)), append(args, marshalJSON(*update.Tags, "[]"))
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}
	if update.LastActivityTs != nil {
		set, args = append(set, "last_activity_ts = "+placeholder(len(args)+1)), append(args, *update.LastActivityTs)
	}

	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID, update.CreatorID)
	stmt := `UPDATE session SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)-1) + ` AND creator_id = ` + placeholder(len(args)) + `
		RETURNING id, uid, creator_id, title, status, config, message_count, pinned, tags, created_ts, updated_ts, last_activity_ts`
	s, err := scanSession(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		return nil, errors.Wrap(err, "failed to update session")
	}

	return s, nil
}

func (d *DB) DeleteSession(ctx context.Context, delete *store.DeleteSession) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM message WHERE session_id = $1`, delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete session messages")
	}
	result, err := d.db.ExecContext(ctx, `DELETE FROM session WHERE id = $1 AND creator_id = $2`, delete.ID, delete.CreatorID)
	if err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.New("session not found")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*store.Session, error) {
	s := &store.Session{}
	var status, config, tags string
	if err := row.Scan(
		&s.ID, &s.UID, &s.CreatorID, &s.Title, &status, &config,
		&s.MessageCount, &s.Pinned, &tags, &s.CreatedTs, &s.UpdatedTs, &s.LastActivityTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan session")
	}
	s.Status = store.SessionStatus(status)
	unmarshalJSON(config, &s.Config)
	unmarshalJSON(tags, &s.Tags)
	return s, nil
}
