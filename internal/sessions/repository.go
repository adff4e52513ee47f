package sessions

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoplive/backend/internal/models"
)

// Repository handles session persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sessionColumns = `id, host_id, title, category, state, allow_chat, allow_products, recording_enabled,
	max_viewers, tags, scheduled_start, actual_start, actual_end, cancel_reason, created_at, updated_at`

// Upsert writes a session row, replacing the previous state of the row.
func (r *Repository) Upsert(ctx context.Context, s models.BroadcastSession) error {
	const q = `INSERT INTO sessions (id, host_id, title, category, state, allow_chat, allow_products, recording_enabled,
			max_viewers, tags, scheduled_start, actual_start, actual_end, cancel_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			category = EXCLUDED.category,
			state = EXCLUDED.state,
			allow_chat = EXCLUDED.allow_chat,
			allow_products = EXCLUDED.allow_products,
			recording_enabled = EXCLUDED.recording_enabled,
			max_viewers = EXCLUDED.max_viewers,
			tags = EXCLUDED.tags,
			scheduled_start = EXCLUDED.scheduled_start,
			actual_start = EXCLUDED.actual_start,
			actual_end = EXCLUDED.actual_end,
			cancel_reason = EXCLUDED.cancel_reason,
			updated_at = EXCLUDED.updated_at`
	tags := s.Config.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := r.pool.Exec(ctx, q,
		s.ID, s.HostID, s.Title, s.Category, s.State,
		s.Config.AllowChat, s.Config.AllowProducts, s.Config.RecordingEnabled, s.Config.MaxViewers, tags,
		s.ScheduledStart, s.ActualStart, s.ActualEnd, s.CancelReason, s.CreatedAt, s.UpdatedAt)
	return err
}

// GetByID returns a session row.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.BroadcastSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	row := r.pool.QueryRow(ctx, q, id)
	s, err := scanSession(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// List returns sessions, optionally filtered by host.
func (r *Repository) List(ctx context.Context, hostID *uuid.UUID) ([]models.BroadcastSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []interface{}
	if hostID != nil {
		q += ` WHERE host_id = $1`
		args = append(args, *hostID)
	}
	q += ` ORDER BY scheduled_start DESC`
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.BroadcastSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// ListActive returns non-terminal sessions, used to rebuild in-memory
// state on process start.
func (r *Repository) ListActive(ctx context.Context) ([]models.BroadcastSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions
		WHERE state IN ('scheduled', 'live') ORDER BY scheduled_start`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.BroadcastSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// InsertMetricsSample records one metrics snapshot for reporting.
func (r *Repository) InsertMetricsSample(ctx context.Context, m models.SessionMetricsSnapshot) error {
	const q = `INSERT INTO metrics_samples (session_id, sampled_at, viewer_count, peak_viewer_count,
			chat_message_count, purchase_count, revenue_total_cents, engagement_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, q,
		m.SessionID, m.Timestamp, m.ViewerCount, m.PeakViewerCount,
		m.ChatMessageCount, m.PurchaseCount, m.RevenueTotalCents, m.EngagementScore)
	return err
}

// LatestMetricsSample returns the most recent stored snapshot for a session.
func (r *Repository) LatestMetricsSample(ctx context.Context, sessionID uuid.UUID) (*models.SessionMetricsSnapshot, error) {
	const q = `SELECT session_id, sampled_at, viewer_count, peak_viewer_count,
			chat_message_count, purchase_count, revenue_total_cents, engagement_score
		FROM metrics_samples WHERE session_id = $1 ORDER BY sampled_at DESC LIMIT 1`
	var m models.SessionMetricsSnapshot
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(
		&m.SessionID, &m.Timestamp, &m.ViewerCount, &m.PeakViewerCount,
		&m.ChatMessageCount, &m.PurchaseCount, &m.RevenueTotalCents, &m.EngagementScore)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.BroadcastSession, error) {
	var s models.BroadcastSession
	err := row.Scan(
		&s.ID, &s.HostID, &s.Title, &s.Category, &s.State,
		&s.Config.AllowChat, &s.Config.AllowProducts, &s.Config.RecordingEnabled, &s.Config.MaxViewers, &s.Config.Tags,
		&s.ScheduledStart, &s.ActualStart, &s.ActualEnd, &s.CancelReason, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
