package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/NIC619/tem-operator-bot/internal/domain"
	"github.com/NIC619/tem-operator-bot/internal/infra/metrics"
)

func insertFollowup(ctx context.Context, tx pgx.Tx, submissionID int64, at time.Time) error {
	start := time.Now()
	_, err := tx.Exec(ctx, `INSERT INTO followups (submission_id, scheduled_at) VALUES ($1, $2)`, submissionID, at)
	metrics.ObserveNetworkRequest("postgres", "followups_insert", "followups", start, err)
	return err
}

// DueFollowups реализует domain.FollowupRepo.
func (p *Postgres) DueFollowups(ctx context.Context, now time.Time) ([]domain.Followup, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT f.id, f.submission_id, f.scheduled_at
FROM followups f JOIN submissions s ON s.id = f.submission_id
WHERE f.sent_at IS NULL AND f.scheduled_at <= $1 AND s.status = $2
ORDER BY f.scheduled_at, f.id
`, now, string(domain.SubmissionUnderReview))
	metrics.ObserveNetworkRequest("postgres", "followups_due", "followups", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Followup
	for rows.Next() {
		var f domain.Followup
		if err := rows.Scan(&f.ID, &f.SubmissionID, &f.ScheduledAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RollFollowup реализует domain.FollowupRepo.
func (p *Postgres) RollFollowup(ctx context.Context, followupID int64, next time.Time) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var submissionID int64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT submission_id FROM followups WHERE id=$1`, followupID).Scan(&submissionID)
	metrics.ObserveNetworkRequest("postgres", "followups_get", "followups", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, domain.ErrNotFound
	}
	if err != nil {
		return false, err
	}

	rolled := false
	err = p.inSubmissionTx(ctx, submissionID, func(ctx context.Context, tx pgx.Tx, sub domain.Submission) error {
		var sent sql.NullTime
		start := time.Now()
		err := tx.QueryRow(ctx, `SELECT sent_at FROM followups WHERE id=$1 FOR UPDATE`, followupID).Scan(&sent)
		metrics.ObserveNetworkRequest("postgres", "followups_get_for_update", "followups", start, err)
		if err != nil {
			return err
		}
		if sent.Valid {
			return nil
		}
		start = time.Now()
		_, err = tx.Exec(ctx, `UPDATE followups SET sent_at=now() WHERE id=$1`, followupID)
		metrics.ObserveNetworkRequest("postgres", "followups_mark_sent", "followups", start, err)
		if err != nil {
			return err
		}
		if sub.Status == domain.SubmissionUnderReview {
			if err := insertFollowup(ctx, tx, submissionID, next); err != nil {
				return err
			}
		}
		rolled = true
		return nil
	})
	return rolled, err
}
