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

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const assignmentColumns = `id, submission_id, reviewer, reviewer_chat_id, status, assigned_at, responded_at, done_at`

func scanAssignment(row pgx.Row) (domain.Assignment, error) {
	var a domain.Assignment
	var status string
	var responded, done sql.NullTime
	if err := row.Scan(&a.ID, &a.SubmissionID, &a.Reviewer, &a.ReviewerChatID, &status, &a.AssignedAt, &responded, &done); err != nil {
		return domain.Assignment{}, err
	}
	a.Status = domain.AssignmentStatus(status)
	a.RespondedAt = nullTime(responded)
	a.DoneAt = nullTime(done)
	return a, nil
}

func loadRoster(ctx context.Context, q querier, submissionID int64) (domain.Roster, error) {
	start := time.Now()
	rows, err := q.Query(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE submission_id=$1 ORDER BY id`, submissionID)
	metrics.ObserveNetworkRequest("postgres", "assignments_list", "assignments", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out domain.Roster
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// insertAssignments создаёт ожидающие строки и пишет их в журнал назначений.
func insertAssignments(ctx context.Context, tx pgx.Tx, submissionID int64, reviewers []string) ([]domain.Assignment, error) {
	out := make([]domain.Assignment, 0, len(reviewers))
	for _, reviewer := range domain.NormalizeRoster(reviewers) {
		start := time.Now()
		a, err := scanAssignment(tx.QueryRow(ctx, `
INSERT INTO assignments (submission_id, reviewer, status) VALUES ($1, $2, $3)
RETURNING `+assignmentColumns, submissionID, reviewer, string(domain.AssignmentPending)))
		metrics.ObserveNetworkRequest("postgres", "assignments_insert", "assignments", start, err)
		if err != nil {
			return nil, err
		}
		start = time.Now()
		_, err = tx.Exec(ctx, `INSERT INTO assignment_history (submission_id, reviewer, assigned_at) VALUES ($1, $2, $3)`,
			submissionID, reviewer, a.AssignedAt)
		metrics.ObserveNetworkRequest("postgres", "assignment_history_insert", "assignment_history", start, err)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// StartAssignment реализует domain.AssignmentRepo.
func (p *Postgres) StartAssignment(ctx context.Context, submissionID int64, reviewers []string) (domain.Roster, error) {
	var roster domain.Roster
	err := p.inSubmissionTx(ctx, submissionID, func(ctx context.Context, tx pgx.Tx, sub domain.Submission) error {
		if sub.Status.Terminal() {
			return domain.ErrTerminal
		}
		if _, err := insertAssignments(ctx, tx, submissionID, reviewers); err != nil {
			return err
		}
		if err := setStatus(ctx, tx, submissionID, domain.SubmissionAssigning, ""); err != nil {
			return err
		}
		var err error
		roster, err = loadRoster(ctx, tx, submissionID)
		return err
	})
	return roster, err
}

// ReplaceAssignments реализует domain.AssignmentRepo. Подтвердившие и закончившие строки остаются.
func (p *Postgres) ReplaceAssignments(ctx context.Context, submissionID int64, reviewers []string) (domain.Roster, error) {
	var roster domain.Roster
	err := p.inSubmissionTx(ctx, submissionID, func(ctx context.Context, tx pgx.Tx, sub domain.Submission) error {
		if sub.Status.Terminal() {
			return domain.ErrTerminal
		}
		start := time.Now()
		_, err := tx.Exec(ctx, `DELETE FROM assignments WHERE submission_id=$1 AND status IN ($2, $3)`,
			submissionID, string(domain.AssignmentPending), string(domain.AssignmentDeclined))
		metrics.ObserveNetworkRequest("postgres", "assignments_clear_open", "assignments", start, err)
		if err != nil {
			return err
		}
		if _, err := insertAssignments(ctx, tx, submissionID, reviewers); err != nil {
			return err
		}
		if err := setStatus(ctx, tx, submissionID, domain.SubmissionAssigning, ""); err != nil {
			return err
		}
		roster, err = loadRoster(ctx, tx, submissionID)
		return err
	})
	return roster, err
}

// AddAssignment реализует domain.AssignmentRepo.
func (p *Postgres) AddAssignment(ctx context.Context, submissionID int64, reviewer string) (domain.Assignment, error) {
	var added domain.Assignment
	err := p.inSubmissionTx(ctx, submissionID, func(ctx context.Context, tx pgx.Tx, sub domain.Submission) error {
		if sub.Status.Terminal() {
			return domain.ErrTerminal
		}
		rows, err := insertAssignments(ctx, tx, submissionID, []string{reviewer})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return domain.ErrEmptyRoster
		}
		added = rows[0]
		return nil
	})
	return added, err
}

// latestAssignment блокирует актуальную строку рецензента.
func latestAssignment(ctx context.Context, tx pgx.Tx, submissionID int64, reviewer string) (domain.Assignment, error) {
	start := time.Now()
	a, err := scanAssignment(tx.QueryRow(ctx, `
SELECT `+assignmentColumns+` FROM assignments
WHERE submission_id=$1 AND lower(reviewer)=lower($2)
ORDER BY id DESC LIMIT 1 FOR UPDATE`, submissionID, domain.NormalizeIdentity(reviewer)))
	metrics.ObserveNetworkRequest("postgres", "assignments_get_latest", "assignments", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Assignment{}, domain.ErrNotFound
	}
	return a, err
}

// RespondAssignment реализует domain.AssignmentRepo.
func (p *Postgres) RespondAssignment(ctx context.Context, submissionID int64, reviewer string, chatID int64, to domain.AssignmentStatus) (domain.Roster, error) {
	var roster domain.Roster
	err := p.inSubmissionTx(ctx, submissionID, func(ctx context.Context, tx pgx.Tx, sub domain.Submission) error {
		if sub.Status.Terminal() {
			return domain.ErrTerminal
		}
		a, err := latestAssignment(ctx, tx, submissionID, reviewer)
		if err != nil {
			return err
		}
		if a.Status != domain.AssignmentPending {
			return domain.ErrAlreadyRecorded
		}
		start := time.Now()
		_, err = tx.Exec(ctx, `UPDATE assignments SET status=$2, reviewer_chat_id=$3, responded_at=now() WHERE id=$1`,
			a.ID, string(to), chatID)
		metrics.ObserveNetworkRequest("postgres", "assignments_respond", "assignments", start, err)
		if err != nil {
			return err
		}
		roster, err = loadRoster(ctx, tx, submissionID)
		return err
	})
	return roster, err
}

// CompleteAssignment реализует domain.AssignmentRepo.
func (p *Postgres) CompleteAssignment(ctx context.Context, submissionID int64, reviewer string, chatID int64) (domain.Roster, error) {
	var roster domain.Roster
	err := p.inSubmissionTx(ctx, submissionID, func(ctx context.Context, tx pgx.Tx, sub domain.Submission) error {
		if sub.Status != domain.SubmissionUnderReview && sub.Status != domain.SubmissionAssigning {
			return domain.ErrNotUnderReview
		}
		a, err := latestAssignment(ctx, tx, submissionID, reviewer)
		if err != nil {
			return err
		}
		switch a.Status {
		case domain.AssignmentDeclined:
			return domain.ErrNotFound
		case domain.AssignmentDone:
			return domain.ErrAlreadyRecorded
		}
		start := time.Now()
		_, err = tx.Exec(ctx, `
UPDATE assignments SET status=$2, reviewer_chat_id=CASE WHEN $3::bigint <> 0 THEN $3::bigint ELSE reviewer_chat_id END, done_at=now()
WHERE id=$1`, a.ID, string(domain.AssignmentDone), chatID)
		metrics.ObserveNetworkRequest("postgres", "assignments_complete", "assignments", start, err)
		if err != nil {
			return err
		}
		roster, err = loadRoster(ctx, tx, submissionID)
		return err
	})
	return roster, err
}

// ListAssignments реализует domain.AssignmentRepo.
func (p *Postgres) ListAssignments(ctx context.Context, submissionID int64) (domain.Roster, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	return loadRoster(ctx, p.pool, submissionID)
}

// RecentHistory реализует domain.AssignmentRepo. Записи идут от новых к старым.
func (p *Postgres) RecentHistory(ctx context.Context, since time.Time) ([]domain.HistoryEntry, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT h.submission_id, s.title, h.reviewer, h.assigned_at
FROM assignment_history h JOIN submissions s ON s.id = h.submission_id
WHERE h.assigned_at >= $1
ORDER BY h.assigned_at DESC, h.id DESC
`, since)
	metrics.ObserveNetworkRequest("postgres", "assignment_history_recent", "assignment_history", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.SubmissionID, &e.Title, &e.Reviewer, &e.AssignedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
