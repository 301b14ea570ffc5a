package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"vibechat/internal/app/chat"
)

const (
	insertSessionSQL = `
INSERT INTO session_log (id, participant_a, participant_b, started_at)
VALUES ($1, $2, $3, $4)`

	endSessionSQL = `
INSERT INTO session_log (id, participant_a, participant_b, started_at, ended_at, end_reason, message_count)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE
SET ended_at = EXCLUDED.ended_at,
    end_reason = EXCLUDED.end_reason,
    message_count = EXCLUDED.message_count`
)

// SessionLog records session lifecycle events in Postgres. It implements chat.SessionRecorder.
type SessionLog struct {
	pool *pgxpool.Pool
}

var _ chat.SessionRecorder = (*SessionLog)(nil)

// NewSessionLog returns a SessionLog backed by pool.
func NewSessionLog(pool *pgxpool.Pool) *SessionLog {
	return &SessionLog{pool: pool}
}

// SessionStarted inserts the session row. A duplicate insert is ignored.
func (l *SessionLog) SessionStarted(ctx context.Context, sess chat.Session) error {
	_, err := l.pool.Exec(ctx, insertSessionSQL,
		sess.ID, sess.ParticipantA, sess.ParticipantB, sess.StartedAt)

	if err != nil && !IsUniqueViolation(err) {
		return fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	return nil
}

// SessionEnded stores the end of a session, creating the row if its start was never recorded.
func (l *SessionLog) SessionEnded(ctx context.Context, sess chat.Session) error {
	_, err := l.pool.Exec(ctx, endSessionSQL,
		sess.ID, sess.ParticipantA, sess.ParticipantB, sess.StartedAt,
		sess.EndedAt, string(sess.EndReason), sess.MessageCount)

	if err != nil {
		return fmt.Errorf("end session %s: %w", sess.ID, err)
	}
	return nil
}
