package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// CreateUser stores a new account with a bcrypt hash of password.
func (q *Queries) CreateUser(ctx context.Context, name, phone, password string, now int64) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), q.passwordCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO users (display_name, phone, password_hash, created_at)
		VALUES (?, ?, ?, ?)`,
		name, phone, string(hash), now)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &User{ID: id, DisplayName: name, Phone: phone, PasswordHash: string(hash), CreatedAt: now}, nil
}

const userColumns = `id, display_name, phone, password_hash, profile_image, created_at, last_seen_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u    User
		img  sql.NullString
		seen sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.DisplayName, &u.Phone, &u.PasswordHash, &img, &u.CreatedAt, &seen); err != nil {
		return nil, err
	}
	u.ProfileImage = strPtr(img)
	u.LastSeenAt = intPtr(seen)
	return &u, nil
}

// GetUser returns a user by id, or nil if not found.
func (q *Queries) GetUser(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(q.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// GetUserByPhone returns a user by phone, or nil if not found.
func (q *Queries) GetUserByPhone(ctx context.Context, phone string) (*User, error) {
	u, err := scanUser(q.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone = ?`, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// UsersByPhones maps each known phone to its user id.
func (q *Queries) UsersByPhones(ctx context.Context, phones []string) (map[string]int64, error) {
	out := make(map[string]int64, len(phones))
	if len(phones) == 0 {
		return out, nil
	}
	args := make([]any, len(phones))
	for i, p := range phones {
		args[i] = p
	}
	rows, err := q.q.QueryContext(ctx, `SELECT id, phone FROM users WHERE phone IN (`+placeholders(len(phones))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			id    int64
			phone string
		)
		if err := rows.Scan(&id, &phone); err != nil {
			return nil, err
		}
		out[phone] = id
	}
	return out, rows.Err()
}

// ListUsers returns every user except exclude, ordered by name.
func (q *Queries) ListUsers(ctx context.Context, exclude int64) ([]User, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE id != ? ORDER BY display_name COLLATE NOCASE, id`, exclude)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// CheckPassword verifies password against the stored hash of phone.
// It returns nil, nil when the phone is unknown or the password is wrong.
func (q *Queries) CheckPassword(ctx context.Context, phone, password string) (*User, error) {
	u, err := q.GetUserByPhone(ctx, phone)
	if err != nil || u == nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, nil
	}
	return u, nil
}

// TouchLastSeen records user activity.
func (q *Queries) TouchLastSeen(ctx context.Context, id, at int64) error {
	_, err := q.q.ExecContext(ctx, `UPDATE users SET last_seen_at = ? WHERE id = ?`, at, id)
	return err
}

// SetProfileImage stores an opaque media reference for the user's avatar.
func (q *Queries) SetProfileImage(ctx context.Context, id int64, ref string) error {
	_, err := q.q.ExecContext(ctx, `UPDATE users SET profile_image = ? WHERE id = ?`, ref, id)
	return err
}
