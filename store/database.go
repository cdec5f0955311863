package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("user already exists with this email")
	ErrAlreadyJoined  = errors.New("already joined this ride")
	ErrNoSeats        = errors.New("no seats available")
	ErrNotHost        = errors.New("not the host of this ride")
	ErrRideInactive   = errors.New("ride is no longer active")
)

// Database stores users and rides in sqlite.
type Database struct {
	db *sql.DB
}

// Opens the sqlite database at dbPath, ":memory:" gives a private in-memory database.
func NewDatabase(ctx context.Context, dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// sqlite allows a single writer, and an in-memory database lives in one connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Database{db: db}, nil
}

func (d *Database) CreateTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		first_name VARCHAR(100) NOT NULL,
		last_name VARCHAR(100) NOT NULL,
		email VARCHAR(255) UNIQUE NOT NULL,
		mobile VARCHAR(10) NOT NULL,
		address TEXT NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rides (
		id VARCHAR(36) PRIMARY KEY,
		host_id INTEGER NOT NULL,
		pickup TEXT NOT NULL,
		drop_location TEXT NOT NULL,
		fare REAL NOT NULL,
		seats INTEGER NOT NULL,
		secret_code VARCHAR(100) NOT NULL DEFAULT '',
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (host_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS ride_passengers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ride_id VARCHAR(36) NOT NULL,
		user_id INTEGER NOT NULL,
		joined_at DATETIME NOT NULL,
		FOREIGN KEY (ride_id) REFERENCES rides(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		UNIQUE(ride_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_rides_status_created ON rides(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_rides_host ON rides(host_id);
	CREATE INDEX IF NOT EXISTS idx_ride_passengers_user ON ride_passengers(user_id);
	`

	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}
