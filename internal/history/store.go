package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lowaak/smart-trainer/trainer-controller/internal/telemetry"
	"github.com/lowaak/smart-trainer/trainer-controller/internal/workout"
)

const (
	insertSession = `INSERT INTO sessions (id, program, mode, started_at, duration_ms, segments, distance_km, energy_kj, average, maximum, saved) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectRecent  = `SELECT id, program, mode, started_at, duration_ms, segments, distance_km, energy_kj, average, maximum, saved FROM sessions ORDER BY started_at DESC LIMIT ?`
)

// Store persists workout sessions.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

var _ workout.SessionRecorder = (*Store)(nil)

func NewStore(db *sql.DB, logger *log.Logger) *Store {
	if db == nil {
		panic("Store: db cannot be nil")
	}
	if logger == nil {
		panic("Store: logger cannot be nil")
	}
	return &Store{db: db, logger: logger}
}

// Record inserts s. An empty ID is replaced with a new UUID.
func (s *Store) Record(ctx context.Context, sess workout.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	avg, err := json.Marshal(sess.Average)
	if err != nil {
		return fmt.Errorf("encode averages: %w", err)
	}
	maxima, err := json.Marshal(sess.Max)
	if err != nil {
		return fmt.Errorf("encode maxima: %w", err)
	}

	_, err = s.db.ExecContext(ctx, insertSession,
		sess.ID,
		sess.Program,
		sess.Mode.String(),
		sess.StartedAt.UTC().Format(time.RFC3339Nano),
		sess.Duration.Milliseconds(),
		sess.SegmentsCompleted,
		sess.Distance,
		sess.Energy,
		string(avg),
		string(maxima),
		sess.Saved,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	s.logger.Printf("History: Recorded session %s (%s, %v)", sess.ID, sess.Program, sess.Duration)
	return nil
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]workout.Session, error) {
	rows, err := s.db.QueryContext(ctx, selectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []workout.Session
	for rows.Next() {
		var (
			sess             workout.Session
			mode, startedAt  string
			durationMs       int64
			avgJSON, maxJSON string
		)
		if err := rows.Scan(&sess.ID, &sess.Program, &mode, &startedAt, &durationMs,
			&sess.SegmentsCompleted, &sess.Distance, &sess.Energy, &avgJSON, &maxJSON, &sess.Saved); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if mode == workout.ModeFreeride.String() {
			sess.Mode = workout.ModeFreeride
		}
		if sess.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("session %s started_at: %w", sess.ID, err)
		}
		sess.Duration = time.Duration(durationMs) * time.Millisecond
		sess.Average = decodeDataset(avgJSON)
		sess.Max = decodeDataset(maxJSON)
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	return out, nil
}

// decodeDataset returns the zero dataset for malformed column values.
func decodeDataset(raw string) telemetry.Dataset {
	var d telemetry.Dataset
	_ = json.Unmarshal([]byte(raw), &d)
	return d
}

func (s *Store) Close() error {
	return s.db.Close()
}
