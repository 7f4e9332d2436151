package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NIC619/tem-operator-bot/internal/domain"
	"github.com/NIC619/tem-operator-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ReviewRepo = (*Postgres)(nil)
	_ domain.StateRepo  = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const submissionColumns = `id, external_id, thread_id, message_id_header, title, author_name, author_email, article_url,
subject, body, status, status_message_id, COALESCE(active_rejection_id, 0), created_at, accepted_at, rejected_at, publish_at`

func scanSubmission(row pgx.Row) (domain.Submission, error) {
	var s domain.Submission
	var status string
	var accepted, rejected, publishAt sql.NullTime
	err := row.Scan(&s.ID, &s.ExternalID, &s.ThreadID, &s.MessageIDHeader, &s.Title, &s.AuthorName, &s.AuthorEmail, &s.ArticleURL,
		&s.Subject, &s.Body, &status, &s.StatusMessageID, &s.ActiveRejectionID, &s.CreatedAt, &accepted, &rejected, &publishAt)
	if err != nil {
		return domain.Submission{}, err
	}
	s.Status = domain.SubmissionStatus(status)
	s.AcceptedAt = nullTime(accepted)
	s.RejectedAt = nullTime(rejected)
	s.PublishAt = nullTime(publishAt)
	return s, nil
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

// inSubmissionTx выполняет fn в транзакции, удерживая блокировку строки статьи.
func (p *Postgres) inSubmissionTx(ctx context.Context, id int64, fn func(ctx context.Context, tx pgx.Tx, sub domain.Submission) error) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "submissions", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	sub, err := scanSubmission(tx.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=$1 FOR UPDATE`, id))
	metrics.ObserveNetworkRequest("postgres", "submissions_get_for_update", "submissions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := fn(ctx, tx, sub); err != nil {
		return err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "submissions", start, err)
	return err
}

// GetState реализует domain.StateRepo.
func (p *Postgres) GetState(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var value string
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT value FROM bot_state WHERE key=$1`, key).Scan(&value)
	metrics.ObserveNetworkRequest("postgres", "bot_state_get", "bot_state", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetState реализует domain.StateRepo.
func (p *Postgres) SetState(ctx context.Context, key, value string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO bot_state (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
`, key, value)
	metrics.ObserveNetworkRequest("postgres", "bot_state_set", "bot_state", start, err)
	return err
}

// CreateSubmission реализует domain.SubmissionRepo.
func (p *Postgres) CreateSubmission(ctx context.Context, in domain.InboundSubmission) (domain.Submission, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	createdAt := in.ReceivedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	start := time.Now()
	sub, err := scanSubmission(p.pool.QueryRow(ctx, `
INSERT INTO submissions (external_id, thread_id, message_id_header, title, author_name, author_email, article_url, subject, body, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (external_id) DO NOTHING
RETURNING `+submissionColumns,
		in.ExternalID, in.ThreadID, in.MessageIDHeader, in.Title, in.AuthorName, in.AuthorEmail, in.ArticleURL, in.Subject, in.Body, createdAt))
	metrics.ObserveNetworkRequest("postgres", "submissions_insert", "submissions", start, err)
	if err == nil {
		return sub, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Submission{}, false, err
	}

	start = time.Now()
	sub, err = scanSubmission(p.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE external_id=$1`, in.ExternalID))
	metrics.ObserveNetworkRequest("postgres", "submissions_get_by_external", "submissions", start, err)
	if err != nil {
		return domain.Submission{}, false, err
	}
	return sub, false, nil
}

// GetSubmission реализует domain.SubmissionRepo.
func (p *Postgres) GetSubmission(ctx context.Context, id int64) (domain.Submission, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	sub, err := scanSubmission(p.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "submissions_get", "submissions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Submission{}, domain.ErrNotFound
	}
	return sub, err
}

// SearchOpenByTitle реализует domain.SubmissionRepo.
func (p *Postgres) SearchOpenByTitle(ctx context.Context, keyword string) ([]domain.Submission, error) {
	return p.listSubmissions(ctx, "submissions_search", `
SELECT `+submissionColumns+` FROM submissions
WHERE status NOT IN ('accepted', 'rejected') AND position(lower($1) IN lower(title)) > 0
ORDER BY id`, strings.TrimSpace(keyword))
}

// ListOpen реализует domain.SubmissionRepo.
func (p *Postgres) ListOpen(ctx context.Context) ([]domain.Submission, error) {
	return p.listSubmissions(ctx, "submissions_list_open", `
SELECT `+submissionColumns+` FROM submissions
WHERE status NOT IN ('accepted', 'rejected')
ORDER BY id`)
}

func (p *Postgres) listSubmissions(ctx context.Context, op, query string, args ...any) ([]domain.Submission, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", op, "submissions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// SetStatusMessage реализует domain.SubmissionRepo.
func (p *Postgres) SetStatusMessage(ctx context.Context, id int64, messageID int) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE submissions SET status_message_id=$2 WHERE id=$1`, id, messageID)
	metrics.ObserveNetworkRequest("postgres", "submissions_set_status_message", "submissions", start, err)
	return err
}

// MarkUnderReview реализует domain.SubmissionRepo. Вместе с переходом заменяет
// неотправленные напоминания одним новым.
func (p *Postgres) MarkUnderReview(ctx context.Context, id int64, firstFollowup time.Time) (bool, error) {
	moved := false
	err := p.inSubmissionTx(ctx, id, func(ctx context.Context, tx pgx.Tx, sub domain.Submission) error {
		if sub.Status != domain.SubmissionAssigning {
			return nil
		}
		if err := setStatus(ctx, tx, id, domain.SubmissionUnderReview, ""); err != nil {
			return err
		}
		start := time.Now()
		_, err := tx.Exec(ctx, `DELETE FROM followups WHERE submission_id=$1 AND sent_at IS NULL`, id)
		metrics.ObserveNetworkRequest("postgres", "followups_clear", "followups", start, err)
		if err != nil {
			return err
		}
		if err := insertFollowup(ctx, tx, id, firstFollowup); err != nil {
			return err
		}
		moved = true
		return nil
	})
	return moved, err
}

// MarkAccepted реализует domain.SubmissionRepo.
func (p *Postgres) MarkAccepted(ctx context.Context, id int64, publishAt time.Time) (bool, error) {
	moved := false
	err := p.inSubmissionTx(ctx, id, func(ctx context.Context, tx pgx.Tx, sub domain.Submission) error {
		if sub.Status != domain.SubmissionUnderReview && sub.Status != domain.SubmissionAssigning {
			return nil
		}
		start := time.Now()
		_, err := tx.Exec(ctx, `UPDATE submissions SET status=$2, accepted_at=now(), publish_at=$3 WHERE id=$1`,
			id, string(domain.SubmissionAccepted), publishAt)
		metrics.ObserveNetworkRequest("postgres", "submissions_mark_accepted", "submissions", start, err)
		moved = err == nil
		return err
	})
	return moved, err
}

// MarkRejected реализует domain.SubmissionRepo.
func (p *Postgres) MarkRejected(ctx context.Context, id int64) (bool, error) {
	moved := false
	err := p.inSubmissionTx(ctx, id, func(ctx context.Context, tx pgx.Tx, sub domain.Submission) error {
		if sub.Status.Terminal() {
			return nil
		}
		if err := setStatus(ctx, tx, id, domain.SubmissionRejected, "rejected_at"); err != nil {
			return err
		}
		moved = true
		return nil
	})
	return moved, err
}

func setStatus(ctx context.Context, tx pgx.Tx, id int64, status domain.SubmissionStatus, stampColumn string) error {
	query := `UPDATE submissions SET status=$2 WHERE id=$1`
	if stampColumn != "" {
		query = fmt.Sprintf(`UPDATE submissions SET status=$2, %s=now() WHERE id=$1`, stampColumn)
	}
	start := time.Now()
	_, err := tx.Exec(ctx, query, id, string(status))
	metrics.ObserveNetworkRequest("postgres", "submissions_set_status", "submissions", start, err)
	return err
}
