package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"qerplunk/ride-share/auth"
	"strings"

	"github.com/mattn/go-sqlite3"
)

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// CreateUser stores a new user with a bcrypt hashed password.
// Emails are stored lower case and must be unique.
func (d *Database) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	hash, err := auth.HashPassword(nu.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	result, err := d.db.ExecContext(ctx,
		`INSERT INTO users (first_name, last_name, email, mobile, address, password_hash)
		VALUES (?, ?, ?, ?, ?, ?)`,
		strings.TrimSpace(nu.FirstName),
		strings.TrimSpace(nu.LastName),
		NormalizeEmail(nu.Email),
		nu.Mobile,
		nu.Address,
		hash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return d.GetUserByID(ctx, id)
}

// AuthenticateUser returns the user when email and password match, ErrNotFound otherwise.
func (d *Database) AuthenticateUser(ctx context.Context, email, password string) (*User, error) {
	user, err := d.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if !auth.PasswordMatches(user.PasswordHash, password) {
		return nil, ErrNotFound
	}
	return user, nil
}

func (d *Database) GetUserByID(ctx context.Context, userID int64) (*User, error) {
	return d.getUser(ctx, "id = ?", userID)
}

func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return d.getUser(ctx, "email = ?", NormalizeEmail(email))
}

func (d *Database) getUser(ctx context.Context, where string, arg interface{}) (*User, error) {
	user := &User{}
	err := d.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, email, mobile, address, password_hash, created_at
		FROM users WHERE `+where,
		arg,
	).Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.Mobile, &user.Address, &user.PasswordHash, &user.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
