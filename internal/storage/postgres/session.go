package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRecord represents one browser session's row in the database.
// EndedAt is nil while the session is still connected.
type SessionRecord struct {
	ID         uuid.UUID
	RemoteAddr string
	Character  string
	StartedAt  time.Time
	EndedAt    *time.Time
}

// ErrSessionNotFound is returned when a session lookup yields no results.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned when attempting to create a duplicate session ID.
var ErrSessionExists = errors.New("session already exists")

// SessionRepository provides session persistence operations.
type SessionRepository struct {
	db *pgxpool.Pool
}

// NewSessionRepository creates a SessionRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session row.
//
// Precondition: remoteAddr must be non-empty.
// Postcondition: Returns the created SessionRecord with StartedAt set,
// or ErrSessionExists if the ID is already present.
func (r *SessionRepository) Create(ctx context.Context, id uuid.UUID, remoteAddr string) (SessionRecord, error) {
	var rec SessionRecord
	err := r.db.QueryRow(ctx,
		`INSERT INTO sessions (id, remote_addr)
		 VALUES ($1, $2)
		 RETURNING id, remote_addr, character_name, started_at, ended_at`,
		id, remoteAddr,
	).Scan(&rec.ID, &rec.RemoteAddr, &rec.Character, &rec.StartedAt, &rec.EndedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return SessionRecord{}, ErrSessionExists
		}
		return SessionRecord{}, fmt.Errorf("inserting session: %w", err)
	}
	return rec, nil
}

// SetCharacter records which character the player identified as. The
// name is parsed from the game stream, so later sightings overwrite
// earlier ones.
//
// Precondition: name must be non-empty.
// Postcondition: The session's character name is updated, or
// ErrSessionNotFound is returned.
func (r *SessionRepository) SetCharacter(ctx context.Context, id uuid.UUID, name string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE sessions SET character_name = $2 WHERE id = $1`,
		id, name,
	)
	if err != nil {
		return fmt.Errorf("updating session character: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// End marks the session as finished. Ending an already-ended session
// refreshes its end time.
//
// Postcondition: The session's EndedAt is set, or ErrSessionNotFound
// is returned.
func (r *SessionRepository) End(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE sessions SET ended_at = NOW() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Get retrieves a session by ID.
//
// Postcondition: Returns the SessionRecord or ErrSessionNotFound.
func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (SessionRecord, error) {
	var rec SessionRecord
	err := r.db.QueryRow(ctx,
		`SELECT id, remote_addr, character_name, started_at, ended_at
		 FROM sessions WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.RemoteAddr, &rec.Character, &rec.StartedAt, &rec.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SessionRecord{}, ErrSessionNotFound
		}
		return SessionRecord{}, fmt.Errorf("querying session: %w", err)
	}
	return rec, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	// pgx wraps PostgreSQL errors; check for SQLSTATE 23505 (unique_violation)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
