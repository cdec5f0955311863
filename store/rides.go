package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const rideColumns = `
	SELECT r.id, r.pickup, r.drop_location, r.fare, r.seats, r.secret_code, r.status,
		r.created_at, r.updated_at, u.id, u.first_name, u.last_name
	FROM rides r
	JOIN users u ON r.host_id = u.id`

// CreateRide stores a new active ride hosted by hostID.
// The ride id is a uuid and doubles as the presence room id.
func (d *Database) CreateRide(ctx context.Context, hostID int64, details RideDetails) (*Ride, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO rides (id, host_id, pickup, drop_location, fare, seats, secret_code, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, hostID, details.Pickup, details.Drop, details.Fare, details.Seats, details.SecretCode, RideActive, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert ride: %w", err)
	}

	return d.GetRide(ctx, id)
}

// GetRide returns the ride with its passengers, ErrNotFound when it does not exist.
func (d *Database) GetRide(ctx context.Context, rideID string) (*Ride, error) {
	rides, err := d.queryRides(ctx, rideColumns+` WHERE r.id = ?`, rideID)
	if err != nil {
		return nil, err
	}
	if len(rides) == 0 {
		return nil, ErrNotFound
	}
	return &rides[0], nil
}

// ActiveRides lists active rides, newest first.
func (d *Database) ActiveRides(ctx context.Context) ([]Ride, error) {
	return d.queryRides(ctx, rideColumns+` WHERE r.status = ? ORDER BY r.created_at DESC, r.rowid DESC`, RideActive)
}

// SearchRides lists active rides whose pickup or drop contains the given text, ignoring case.
// An empty term matches nothing on its side.
func (d *Database) SearchRides(ctx context.Context, pickup, drop string) ([]Ride, error) {
	pickup, drop = strings.TrimSpace(pickup), strings.TrimSpace(drop)
	if pickup == "" && drop == "" {
		return []Ride{}, nil
	}

	return d.queryRides(ctx, rideColumns+`
		WHERE r.status = ?
		AND ((? != '' AND r.pickup LIKE ? ESCAPE '\') OR (? != '' AND r.drop_location LIKE ? ESCAPE '\'))
		ORDER BY r.created_at DESC, r.rowid DESC`,
		RideActive,
		pickup, likePattern(pickup),
		drop, likePattern(drop),
	)
}

// JoinRide adds userID as a passenger.
func (d *Database) JoinRide(ctx context.Context, rideID string, userID int64) (*Ride, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var seats, taken int
	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT r.seats, r.status, (SELECT COUNT(*) FROM ride_passengers p WHERE p.ride_id = r.id)
		FROM rides r WHERE r.id = ?`,
		rideID,
	).Scan(&seats, &status, &taken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query seats: %w", err)
	}

	if status != RideActive {
		return nil, ErrRideInactive
	}

	var joined int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ride_passengers WHERE ride_id = ? AND user_id = ?",
		rideID, userID,
	).Scan(&joined); err != nil {
		return nil, fmt.Errorf("query passenger: %w", err)
	}
	if joined > 0 {
		return nil, ErrAlreadyJoined
	}

	if taken >= seats {
		return nil, ErrNoSeats
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO ride_passengers (ride_id, user_id, joined_at) VALUES (?, ?, ?)",
		rideID, userID, time.Now().UTC(),
	); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyJoined
		}
		return nil, fmt.Errorf("insert passenger: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d.GetRide(ctx, rideID)
}

// UpdateRide replaces the ride details. Only the host may update.
func (d *Database) UpdateRide(ctx context.Context, rideID string, userID int64, details RideDetails) (*Ride, error) {
	if err := d.checkHost(ctx, rideID, userID); err != nil {
		return nil, err
	}

	_, err := d.db.ExecContext(ctx,
		`UPDATE rides SET pickup = ?, drop_location = ?, seats = ?, fare = ?, updated_at = ?
		WHERE id = ?`,
		details.Pickup, details.Drop, details.Seats, details.Fare, time.Now().UTC(), rideID,
	)
	if err != nil {
		return nil, fmt.Errorf("update ride: %w", err)
	}

	return d.GetRide(ctx, rideID)
}

// CompleteRide marks the ride completed, taking it out of listings and closing it to new passengers.
// Only the host may complete.
func (d *Database) CompleteRide(ctx context.Context, rideID string, userID int64) (*Ride, error) {
	if err := d.checkHost(ctx, rideID, userID); err != nil {
		return nil, err
	}

	_, err := d.db.ExecContext(ctx,
		"UPDATE rides SET status = ?, updated_at = ? WHERE id = ?",
		RideCompleted, time.Now().UTC(), rideID,
	)
	if err != nil {
		return nil, fmt.Errorf("complete ride: %w", err)
	}

	return d.GetRide(ctx, rideID)
}

// DeleteRide removes the ride and its passenger list. Only the host may delete.
func (d *Database) DeleteRide(ctx context.Context, rideID string, userID int64) error {
	if err := d.checkHost(ctx, rideID, userID); err != nil {
		return err
	}

	if _, err := d.db.ExecContext(ctx, "DELETE FROM rides WHERE id = ?", rideID); err != nil {
		return fmt.Errorf("delete ride: %w", err)
	}
	return nil
}

// HostedRides lists the rides hosted by userID, newest first.
func (d *Database) HostedRides(ctx context.Context, userID int64) ([]Ride, error) {
	return d.queryRides(ctx, rideColumns+` WHERE r.host_id = ? ORDER BY r.created_at DESC, r.rowid DESC`, userID)
}

// JoinedRides lists the rides userID joined as a passenger, newest first.
func (d *Database) JoinedRides(ctx context.Context, userID int64) ([]Ride, error) {
	return d.queryRides(ctx, rideColumns+`
		JOIN ride_passengers p ON p.ride_id = r.id
		WHERE p.user_id = ?
		ORDER BY r.created_at DESC, r.rowid DESC`, userID)
}

func (d *Database) checkHost(ctx context.Context, rideID string, userID int64) error {
	var hostID int64
	err := d.db.QueryRowContext(ctx, "SELECT host_id FROM rides WHERE id = ?", rideID).Scan(&hostID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query ride host: %w", err)
	}
	if hostID != userID {
		return ErrNotHost
	}
	return nil
}

func (d *Database) queryRides(ctx context.Context, query string, args ...interface{}) ([]Ride, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rides: %w", err)
	}
	defer rows.Close()

	rides := make([]Ride, 0) // Initialize as empty slice, not nil
	for rows.Next() {
		var ride Ride
		err := rows.Scan(&ride.ID, &ride.Pickup, &ride.Drop, &ride.Fare, &ride.Seats, &ride.SecretCode, &ride.Status,
			&ride.CreatedAt, &ride.UpdatedAt, &ride.Host.ID, &ride.Host.FirstName, &ride.Host.LastName)
		if err != nil {
			return nil, fmt.Errorf("scan ride: %w", err)
		}
		rides = append(rides, ride)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range rides {
		passengers, err := d.passengers(ctx, rides[i].ID)
		if err != nil {
			return nil, err
		}
		rides[i].Passengers = passengers
	}
	return rides, nil
}

func (d *Database) passengers(ctx context.Context, rideID string) ([]Passenger, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT u.id, u.first_name, u.last_name, p.joined_at
		FROM ride_passengers p
		JOIN users u ON p.user_id = u.id
		WHERE p.ride_id = ?
		ORDER BY p.joined_at ASC, p.id ASC`,
		rideID,
	)
	if err != nil {
		return nil, fmt.Errorf("query passengers: %w", err)
	}
	defer rows.Close()

	passengers := make([]Passenger, 0)
	for rows.Next() {
		var p Passenger
		if err := rows.Scan(&p.ID, &p.FirstName, &p.LastName, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan passenger: %w", err)
		}
		passengers = append(passengers, p)
	}
	return passengers, rows.Err()
}

// Escapes LIKE wildcards so the term is matched literally
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}
