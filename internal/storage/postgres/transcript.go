package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TranscriptLine is one rendered line of game output tied to a session.
// Raw keeps the original text with escapes intact; HTML is the rendered
// form served back on replay. Gagged lines are stored but were never
// shown to the player.
type TranscriptLine struct {
	ID        int64
	SessionID uuid.UUID
	Channel   string
	Raw       string
	HTML      string
	Gagged    bool
	CreatedAt time.Time
}

// TranscriptRepository provides transcript persistence operations.
type TranscriptRepository struct {
	db *pgxpool.Pool
}

// NewTranscriptRepository creates a TranscriptRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewTranscriptRepository(db *pgxpool.Pool) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// Append inserts a single transcript line.
//
// Precondition: line.SessionID must reference an existing session.
// Postcondition: The line is stored with ID and CreatedAt assigned by
// the database.
func (r *TranscriptRepository) Append(ctx context.Context, line TranscriptLine) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO transcript_lines (session_id, channel, raw, html, gagged)
		 VALUES ($1, $2, $3, $4, $5)`,
		line.SessionID, line.Channel, line.Raw, line.HTML, line.Gagged,
	)
	if err != nil {
		return fmt.Errorf("inserting transcript line: %w", err)
	}
	return nil
}

// AppendBatch bulk-inserts transcript lines using the PostgreSQL COPY
// protocol. The recorder flushes its queue through here.
//
// Precondition: Every line's SessionID must reference an existing session.
// Postcondition: All lines are stored, or none on error.
func (r *TranscriptRepository) AppendBatch(ctx context.Context, lines []TranscriptLine) error {
	if len(lines) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, []any{line.SessionID, line.Channel, line.Raw, line.HTML, line.Gagged})
	}

	_, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"transcript_lines"},
		[]string{"session_id", "channel", "raw", "html", "gagged"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copying transcript batch: %w", err)
	}
	return nil
}

// Recent returns the newest transcript lines for a session in
// chronological order, capped at limit.
//
// Precondition: limit must be > 0.
// Postcondition: Returns a slice (may be empty) ordered oldest-first,
// or a non-nil error.
func (r *TranscriptRepository) Recent(ctx context.Context, sessionID uuid.UUID, limit int) ([]TranscriptLine, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, session_id, channel, raw, html, gagged, created_at
		FROM (
			SELECT id, session_id, channel, raw, html, gagged, created_at
			FROM transcript_lines
			WHERE session_id = $1
			ORDER BY id DESC
			LIMIT $2
		) newest
		ORDER BY id ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying transcript: %w", err)
	}
	defer rows.Close()

	lines := make([]TranscriptLine, 0)
	for rows.Next() {
		var line TranscriptLine
		if err := rows.Scan(
			&line.ID, &line.SessionID, &line.Channel,
			&line.Raw, &line.HTML, &line.Gagged, &line.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning transcript row: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
