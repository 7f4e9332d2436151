package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/NIC619/tem-operator-bot/internal/domain"
	"github.com/NIC619/tem-operator-bot/internal/infra/metrics"
)

const rejectionColumns = `r.id, r.submission_id, r.proposed_by, r.reason, r.seconders, r.chat_message_id, r.proposed_at`

func scanRejection(row pgx.Row) (domain.RejectionProposal, error) {
	var p domain.RejectionProposal
	err := row.Scan(&p.ID, &p.SubmissionID, &p.ProposedBy, &p.Reason, &p.Seconders, &p.ChatMessageID, &p.ProposedAt)
	return p, err
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func activeRejection(ctx context.Context, q rowQuerier, submissionID int64, lock bool) (domain.RejectionProposal, error) {
	query := `SELECT ` + rejectionColumns + `
FROM rejections r JOIN submissions s ON s.active_rejection_id = r.id
WHERE s.id=$1`
	if lock {
		query += ` FOR UPDATE OF r`
	}
	start := time.Now()
	p, err := scanRejection(q.QueryRow(ctx, query, submissionID))
	metrics.ObserveNetworkRequest("postgres", "rejections_get_active", "rejections", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RejectionProposal{}, domain.ErrNoActiveProposal
	}
	return p, err
}

// CreateRejection реализует domain.RejectionRepo. Новое предложение вытесняет прежнее.
func (p *Postgres) CreateRejection(ctx context.Context, submissionID int64, proposer, reason string) (domain.RejectionProposal, error) {
	var created domain.RejectionProposal
	err := p.inSubmissionTx(ctx, submissionID, func(ctx context.Context, tx pgx.Tx, sub domain.Submission) error {
		if sub.Status.Terminal() {
			return domain.ErrTerminal
		}
		start := time.Now()
		var err error
		created, err = scanRejection(tx.QueryRow(ctx, `
INSERT INTO rejections AS r (submission_id, proposed_by, reason) VALUES ($1, $2, $3)
RETURNING `+rejectionColumns, submissionID, domain.NormalizeIdentity(proposer), reason))
		metrics.ObserveNetworkRequest("postgres", "rejections_insert", "rejections", start, err)
		if err != nil {
			return err
		}
		start = time.Now()
		_, err = tx.Exec(ctx, `UPDATE submissions SET active_rejection_id=$2 WHERE id=$1`, submissionID, created.ID)
		metrics.ObserveNetworkRequest("postgres", "submissions_set_active_rejection", "submissions", start, err)
		return err
	})
	return created, err
}

// SetRejectionMessage реализует domain.RejectionRepo.
func (p *Postgres) SetRejectionMessage(ctx context.Context, proposalID int64, messageID int) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE rejections SET chat_message_id=$2 WHERE id=$1`, proposalID, messageID)
	metrics.ObserveNetworkRequest("postgres", "rejections_set_message", "rejections", start, err)
	return err
}

// ActiveRejection реализует domain.RejectionRepo.
func (p *Postgres) ActiveRejection(ctx context.Context, submissionID int64) (domain.RejectionProposal, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	return activeRejection(ctx, p.pool, submissionID, false)
}

// AddSeconder реализует domain.RejectionRepo.
func (p *Postgres) AddSeconder(ctx context.Context, submissionID int64, seconder string) (domain.RejectionProposal, bool, error) {
	seconder = domain.NormalizeIdentity(seconder)
	var (
		proposal domain.RejectionProposal
		added    bool
	)
	err := p.inSubmissionTx(ctx, submissionID, func(ctx context.Context, tx pgx.Tx, _ domain.Submission) error {
		var err error
		proposal, err = activeRejection(ctx, tx, submissionID, true)
		if err != nil {
			return err
		}
		if domain.SameIdentity(proposal.ProposedBy, seconder) {
			return domain.ErrSelfSecond
		}
		if proposal.HasSeconder(seconder) {
			return nil
		}
		start := time.Now()
		proposal, err = scanRejection(tx.QueryRow(ctx, `
UPDATE rejections AS r SET seconders = array_append(r.seconders, $2) WHERE r.id=$1
RETURNING `+rejectionColumns, proposal.ID, seconder))
		metrics.ObserveNetworkRequest("postgres", "rejections_add_seconder", "rejections", start, err)
		if err != nil {
			return err
		}
		added = true
		return nil
	})
	return proposal, added, err
}
