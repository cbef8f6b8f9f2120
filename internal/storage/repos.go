package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/Avicted/roomchat/internal/message"
	"github.com/Avicted/roomchat/internal/user"
)

type userRepo struct {
	db      *sql.DB
	dialect dialect
}

func (r *userRepo) Create(ctx context.Context, u user.User) error {
	if u.ID == "" || u.Email == "" || u.PasswordHash == "" || u.CreatedAt.IsZero() {
		return fmt.Errorf("user id, email, password hash, and created_at are required")
	}

	_, err := r.db.ExecContext(ctx, r.dialect.rebind(`INSERT INTO users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`), u.ID, u.Email, u.PasswordHash, r.dialect.bindTime(u.CreatedAt))
	if err != nil {
		if r.dialect.isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id user.ID) (user.User, error) {
	row := r.db.QueryRowContext(ctx, r.dialect.rebind(`SELECT id, email, password_hash, created_at
		FROM users WHERE id = $1`), id)
	u, err := scanUser(row)
	if err != nil {
		return user.User{}, wrapNotFound(err, "select user by id")
	}
	return u, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	row := r.db.QueryRowContext(ctx, r.dialect.rebind(`SELECT id, email, password_hash, created_at
		FROM users WHERE email = $1`), email)
	u, err := scanUser(row)
	if err != nil {
		return user.User{}, wrapNotFound(err, "select user by email")
	}
	return u, nil
}

func scanUser(row *sql.Row) (user.User, error) {
	var u user.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, timeValue{&u.CreatedAt}); err != nil {
		return user.User{}, err
	}
	return u, nil
}

func wrapNotFound(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

type messageRepo struct {
	db      *sql.DB
	dialect dialect
}

func (r *messageRepo) Insert(ctx context.Context, msg message.Message) (message.Message, error) {
	if msg.ID == "" || msg.AuthorID == "" || msg.Body == "" || msg.CreatedAt.IsZero() {
		return message.Message{}, fmt.Errorf("message id, author, body, and created_at are required")
	}
	msg.CreatedAt = msg.CreatedAt.UTC()

	_, err := r.db.ExecContext(ctx, r.dialect.rebind(`INSERT INTO chat_messages (id, user_id, username, message, created_at)
		VALUES ($1, $2, $3, $4, $5)`),
		msg.ID, msg.AuthorID, msg.AuthorLabel, msg.Body, r.dialect.bindTime(msg.CreatedAt))
	if err != nil {
		if r.dialect.isUniqueViolation(err) {
			return message.Message{}, ErrConflict
		}
		return message.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// ListRecent returns the newest limit rows, oldest first.
func (r *messageRepo) ListRecent(ctx context.Context, limit int) ([]message.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(`SELECT id, user_id, username, message, created_at
		FROM chat_messages ORDER BY created_at DESC, id DESC LIMIT $1`), limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []message.Message
	for rows.Next() {
		var msg message.Message
		if err := rows.Scan(&msg.ID, &msg.AuthorID, &msg.AuthorLabel, &msg.Body, timeValue{&msg.CreatedAt}); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}
