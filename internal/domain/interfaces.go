package domain

import (
	"context"
	"time"
)

// SubmissionRepo хранит статьи.
type SubmissionRepo interface {
	// CreateSubmission создаёт статью; при повторном внешнем id возвращает существующую и false.
	CreateSubmission(ctx context.Context, in InboundSubmission) (Submission, bool, error)
	GetSubmission(ctx context.Context, id int64) (Submission, error)
	// SearchOpenByTitle ищет нефинальные статьи по подстроке заголовка без учёта регистра.
	SearchOpenByTitle(ctx context.Context, keyword string) ([]Submission, error)
	ListOpen(ctx context.Context) ([]Submission, error)
	SetStatusMessage(ctx context.Context, id int64, messageID int) error
	// MarkUnderReview переводит assigning -> under_review и планирует первое напоминание.
	// false означает, что переход уже выполнен другим событием.
	MarkUnderReview(ctx context.Context, id int64, firstFollowup time.Time) (bool, error)
	MarkAccepted(ctx context.Context, id int64, publishAt time.Time) (bool, error)
	MarkRejected(ctx context.Context, id int64) (bool, error)
}

// AssignmentRepo хранит назначения рецензентов. Проверка и изменение статуса строки
// выполняются в одной транзакции с блокировкой статьи.
type AssignmentRepo interface {
	// StartAssignment создаёт ожидающие назначения, пишет историю и ставит статус assigning.
	StartAssignment(ctx context.Context, submissionID int64, reviewers []string) (Roster, error)
	// ReplaceAssignments удаляет pending/declined строки и создаёт новые ожидающие назначения.
	ReplaceAssignments(ctx context.Context, submissionID int64, reviewers []string) (Roster, error)
	// AddAssignment добавляет замену, пока статья в статусе assigning.
	AddAssignment(ctx context.Context, submissionID int64, reviewer string) (Assignment, error)
	// RespondAssignment переводит pending строку рецензента в confirmed или declined.
	RespondAssignment(ctx context.Context, submissionID int64, reviewer string, chatID int64, to AssignmentStatus) (Roster, error)
	// CompleteAssignment отмечает рецензию выполненной.
	CompleteAssignment(ctx context.Context, submissionID int64, reviewer string, chatID int64) (Roster, error)
	ListAssignments(ctx context.Context, submissionID int64) (Roster, error)
	RecentHistory(ctx context.Context, since time.Time) ([]HistoryEntry, error)
}

// RejectionRepo хранит предложения об отказе.
type RejectionRepo interface {
	// CreateRejection создаёт предложение и делает его активным для статьи.
	CreateRejection(ctx context.Context, submissionID int64, proposer, reason string) (RejectionProposal, error)
	SetRejectionMessage(ctx context.Context, proposalID int64, messageID int) error
	ActiveRejection(ctx context.Context, submissionID int64) (RejectionProposal, error)
	// AddSeconder добавляет поддержавшего к активному предложению; false при повторе.
	AddSeconder(ctx context.Context, submissionID int64, seconder string) (RejectionProposal, bool, error)
}

// FollowupRepo хранит напоминания.
type FollowupRepo interface {
	DueFollowups(ctx context.Context, now time.Time) ([]Followup, error)
	// RollFollowup помечает напоминание отправленным и планирует следующее,
	// если статья всё ещё на рецензии.
	RollFollowup(ctx context.Context, followupID int64, next time.Time) (bool, error)
}

// StateRepo хранит курсоры процесса.
type StateRepo interface {
	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error
}

// ReviewRepo полный набор хранилищ для сервиса рецензирования.
type ReviewRepo interface {
	SubmissionRepo
	AssignmentRepo
	RejectionRepo
	FollowupRepo
}

// OracleRequest вход оракула выбора рецензентов.
type OracleRequest struct {
	SubmissionID int64
	Subject      string
	AuthorName   string
	AuthorEmail  string
	Body         string
	Excluded     []string
	Declined     string
	HistoryDays  int
	HistoryText  string
	WorkloadText string
}

// OraclePick ответ оракула.
type OraclePick struct {
	Reviewer1 string
	Reviewer2 string
	Category  string
	Rationale string
}

// Reviewers возвращает непустых рецензентов без повторов.
func (p OraclePick) Reviewers() []string {
	return NormalizeRoster([]string{p.Reviewer1, p.Reviewer2})
}

// ReviewerOracle подбирает рецензентов с помощью языковой модели.
type ReviewerOracle interface {
	PickReviewers(ctx context.Context, req OracleRequest) (OraclePick, error)
}

// ReplyKind шаблон письма автору.
type ReplyKind string

const (
	ReplyUnderReview ReplyKind = "under_review"
	ReplyAccepted    ReplyKind = "accepted"
	ReplyRejected    ReplyKind = "rejected"
)

// ReplyArgs дополнительные поля шаблона.
type ReplyArgs struct {
	PublishAt time.Time
	Reason    string
}

// MailboxFilter фильтр опроса ящика.
type MailboxFilter struct {
	SubjectPrefix string
	Label         string
}

// MailboxPoller читает новые письма со статьями.
type MailboxPoller interface {
	PollSince(ctx context.Context, since time.Time, filter MailboxFilter) ([]InboundSubmission, error)
}

// ReplySender отвечает автору в исходной ветке письма.
type ReplySender interface {
	SendReply(ctx context.Context, sub Submission, kind ReplyKind, args ReplyArgs) error
}

// ChatNotifier публикует сообщения в группе редакции.
type ChatNotifier interface {
	Post(ctx context.Context, msg ChatMessage) (int, error)
	Edit(ctx context.Context, messageID int, msg ChatMessage) error
	NotifyOperator(ctx context.Context, text string) error
}

// Cache хранит ключи идемпотентности.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
