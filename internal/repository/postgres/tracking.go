// Package postgres implements the tracking repository against PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/mailtrace/internal/domain"
	"github.com/ignite/mailtrace/internal/service/tracking"
)

// TrackingRepo implements tracking.Repository against PostgreSQL. Opens are
// serialized per (campaign, sender, recipient) key inside the database, not
// by an engine-wide lock: the pixel handler and the dispatch engine write
// from independent connection pools.
type TrackingRepo struct{ db *sql.DB }

// NewTrackingRepo creates a Postgres-backed tracking repository.
func NewTrackingRepo(db *sql.DB) *TrackingRepo { return &TrackingRepo{db: db} }

func (r *TrackingRepo) Insert(ctx context.Context, rec *domain.TrackingRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pixel_tracks
			(id, campaign_id, sender_email, recipient, is_sent, sent_timestamp,
			 is_opened, opened_timestamp, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.CampaignID, rec.SenderEmail, rec.Recipient, rec.IsSent, rec.SentTimestamp,
		rec.IsOpened, rec.OpenedTimestamp, rec.UserAgent, rec.IPAddress)
	if err != nil {
		return fmt.Errorf("insert tracking record: %w", err)
	}
	return nil
}

// ApplyOpen runs the transition-or-insert in one transaction serialized per
// key by an advisory lock. Row locking alone cannot order a transition
// against a concurrent first-open insert (there is no row to lock yet), so
// without the advisory lock two racing opens with no prior row would each
// pass the existence check and each insert.
func (r *TrackingRepo) ApplyOpen(ctx context.Context, candidate *domain.TrackingRecord) (tracking.OpenOutcome, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin open transaction: %w", err)
	}
	defer tx.Rollback()

	lockKey := candidate.CampaignID + "\x00" + candidate.SenderEmail + "\x00" + candidate.Recipient
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return 0, fmt.Errorf("acquire open lock: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE pixel_tracks
		SET is_opened = TRUE, opened_timestamp = $4, user_agent = $5, ip_address = $6
		WHERE id = (
			SELECT id FROM pixel_tracks
			WHERE campaign_id = $1 AND sender_email = $2 AND recipient = $3
			  AND is_opened = FALSE
			ORDER BY sent_timestamp DESC NULLS LAST, id DESC
			LIMIT 1
			FOR UPDATE
		)
	`, candidate.CampaignID, candidate.SenderEmail, candidate.Recipient,
		candidate.OpenedTimestamp, candidate.UserAgent, candidate.IPAddress)
	if err != nil {
		return 0, fmt.Errorf("open transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("open transition rows: %w", err)
	}
	if n > 0 {
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("commit open transition: %w", err)
		}
		return tracking.OpenTransitioned, nil
	}

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pixel_tracks
			WHERE campaign_id = $1 AND sender_email = $2 AND recipient = $3
		)
	`, candidate.CampaignID, candidate.SenderEmail, candidate.Recipient).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("open existence check: %w", err)
	}
	if exists {
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("commit open no-op: %w", err)
		}
		return tracking.OpenAlreadyApplied, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pixel_tracks
			(id, campaign_id, sender_email, recipient, is_sent, sent_timestamp,
			 is_opened, opened_timestamp, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, candidate.ID, candidate.CampaignID, candidate.SenderEmail, candidate.Recipient,
		candidate.IsSent, candidate.SentTimestamp, candidate.IsOpened,
		candidate.OpenedTimestamp, candidate.UserAgent, candidate.IPAddress); err != nil {
		return 0, fmt.Errorf("insert open-only record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit open insert: %w", err)
	}
	return tracking.OpenInsertedNew, nil
}

func (r *TrackingRepo) Stats(ctx context.Context) ([]domain.CampaignStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT campaign_id, sender_email,
		       COUNT(*) FILTER (WHERE is_sent)   AS total_sent,
		       COUNT(*) FILTER (WHERE is_opened) AS total_opened,
		       MIN(opened_timestamp), MAX(opened_timestamp)
		FROM pixel_tracks
		GROUP BY campaign_id, sender_email
		ORDER BY campaign_id, sender_email
	`)
	if err != nil {
		return nil, fmt.Errorf("campaign stats: %w", err)
	}
	defer rows.Close()

	var out []domain.CampaignStats
	for rows.Next() {
		var st domain.CampaignStats
		if err := rows.Scan(&st.CampaignID, &st.SenderEmail, &st.TotalSent, &st.TotalOpened,
			&st.FirstOpenAt, &st.LastOpenAt); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (r *TrackingRepo) CampaignRecipients(ctx context.Context, campaignID string) ([]domain.TrackingRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, sender_email, recipient, is_sent, sent_timestamp,
		       is_opened, opened_timestamp, user_agent, ip_address
		FROM pixel_tracks
		WHERE campaign_id = $1
		ORDER BY sent_timestamp DESC NULLS LAST, id DESC
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.TrackingRecord
	for rows.Next() {
		var rec domain.TrackingRecord
		if err := rows.Scan(&rec.ID, &rec.CampaignID, &rec.SenderEmail, &rec.Recipient,
			&rec.IsSent, &rec.SentTimestamp, &rec.IsOpened, &rec.OpenedTimestamp,
			&rec.UserAgent, &rec.IPAddress); err != nil {
			return nil, fmt.Errorf("scan tracking record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
