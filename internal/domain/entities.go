package domain

import (
	"sort"
	"strings"
	"time"
)

// SubmissionStatus описывает этап жизненного цикла статьи.
type SubmissionStatus string

const (
	// SubmissionPendingAssignment статья создана, рецензенты ещё не назначены.
	SubmissionPendingAssignment SubmissionStatus = "pending_assignment"
	// SubmissionAssigning рецензенты назначены и должны подтвердить участие.
	SubmissionAssigning SubmissionStatus = "assigning"
	// SubmissionUnderReview все активные рецензенты подтвердили участие.
	SubmissionUnderReview SubmissionStatus = "under_review"
	// SubmissionAccepted статья принята к публикации.
	SubmissionAccepted SubmissionStatus = "accepted"
	// SubmissionRejected статья отклонена.
	SubmissionRejected SubmissionStatus = "rejected"
)

// Terminal сообщает, что статус финальный.
func (s SubmissionStatus) Terminal() bool {
	return s == SubmissionAccepted || s == SubmissionRejected
}

// Submission одна входящая статья.
type Submission struct {
	ID                int64
	ExternalID        string
	ThreadID          string
	MessageIDHeader   string
	Title             string
	AuthorName        string
	AuthorEmail       string
	ArticleURL        string
	Subject           string
	Body              string
	Status            SubmissionStatus
	CreatedAt         time.Time
	AcceptedAt        *time.Time
	RejectedAt        *time.Time
	PublishAt         *time.Time
	StatusMessageID   int
	ActiveRejectionID int64
}

// Keyword возвращает короткое слово для команд /done и /second.
func (s Submission) Keyword() string {
	fields := strings.Fields(s.Title)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// InboundSubmission письмо, распознанное почтовым шлюзом.
type InboundSubmission struct {
	ExternalID      string
	ThreadID        string
	MessageIDHeader string
	Title           string
	AuthorName      string
	AuthorEmail     string
	ArticleURL      string
	Subject         string
	Body            string
	ReceivedAt      time.Time
}

// AssignmentStatus статус строки назначения.
type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentConfirmed AssignmentStatus = "confirmed"
	AssignmentDeclined  AssignmentStatus = "declined"
	AssignmentDone      AssignmentStatus = "done"
)

// Assignment одна попытка назначить рецензента на статью.
type Assignment struct {
	ID             int64
	SubmissionID   int64
	Reviewer       string
	ReviewerChatID int64
	Status         AssignmentStatus
	AssignedAt     time.Time
	RespondedAt    *time.Time
	DoneAt         *time.Time
}

// Roster набор строк назначений одной статьи.
type Roster []Assignment

// Latest оставляет по одной, самой свежей строке на рецензента.
// Порядок результата совпадает с порядком первого появления рецензента.
func (r Roster) Latest() Roster {
	latest := make(map[string]Assignment, len(r))
	order := make([]string, 0, len(r))
	for _, a := range r {
		key := IdentityKey(a.Reviewer)
		prev, ok := latest[key]
		if !ok {
			order = append(order, key)
		}
		if !ok || a.ID > prev.ID {
			latest[key] = a
		}
	}
	out := make(Roster, 0, len(order))
	for _, key := range order {
		out = append(out, latest[key])
	}
	return out
}

// Find возвращает актуальную строку рецензента.
func (r Roster) Find(reviewer string) (Assignment, bool) {
	for _, a := range r.Latest() {
		if SameIdentity(a.Reviewer, reviewer) {
			return a, true
		}
	}
	return Assignment{}, false
}

// WithStatus фильтрует актуальные строки по статусам.
func (r Roster) WithStatus(statuses ...AssignmentStatus) Roster {
	out := make(Roster, 0, len(r))
	for _, a := range r.Latest() {
		for _, st := range statuses {
			if a.Status == st {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// Reviewers возвращает имена рецензентов в порядке строк.
func (r Roster) Reviewers() []string {
	out := make([]string, 0, len(r))
	for _, a := range r {
		out = append(out, a.Reviewer)
	}
	return out
}

// AllIdentities возвращает всех когда-либо назначенных рецензентов без повторов.
func (r Roster) AllIdentities() []string {
	return r.Latest().Reviewers()
}

// AllConfirmed сообщает, что все неотказавшиеся рецензенты подтвердили участие.
// Один активный рецензент тоже считается полным составом.
func (r Roster) AllConfirmed() bool {
	active := r.WithStatus(AssignmentPending, AssignmentConfirmed, AssignmentDone)
	if len(active) == 0 {
		return false
	}
	for _, a := range active {
		if a.Status == AssignmentPending {
			return false
		}
	}
	return true
}

// AllDone сообщает, что все подтвердившие рецензенты закончили рецензию.
func (r Roster) AllDone() bool {
	active := r.WithStatus(AssignmentConfirmed, AssignmentDone)
	if len(active) == 0 {
		return false
	}
	for _, a := range active {
		if a.Status != AssignmentDone {
			return false
		}
	}
	return true
}

// ConsensusThreshold число различных поддержавших, после которого отказ можно подтвердить.
const ConsensusThreshold = 2

// RejectionProposal предложение отклонить статью.
type RejectionProposal struct {
	ID            int64
	SubmissionID  int64
	ProposedBy    string
	Reason        string
	Seconders     []string
	ChatMessageID int
	ProposedAt    time.Time
}

// Ready сообщает, что набран порог поддержки.
func (p RejectionProposal) Ready() bool {
	return len(p.Seconders) >= ConsensusThreshold
}

// HasSeconder проверяет, поддержал ли рецензент предложение.
func (p RejectionProposal) HasSeconder(identity string) bool {
	for _, s := range p.Seconders {
		if SameIdentity(s, identity) {
			return true
		}
	}
	return false
}

// Followup запланированное напоминание рецензентам.
type Followup struct {
	ID           int64
	SubmissionID int64
	ScheduledAt  time.Time
	SentAt       *time.Time
}

// HistoryEntry запись журнала назначений.
type HistoryEntry struct {
	SubmissionID int64
	Title        string
	Reviewer     string
	AssignedAt   time.Time
}

// Workload считает назначения по рецензентам без учёта регистра и "@", самые загруженные первыми.
// Имя берётся из первой встреченной записи.
func Workload(entries []HistoryEntry) []ReviewerLoad {
	counts := make(map[string]int)
	names := make(map[string]string)
	for _, e := range entries {
		key := IdentityKey(e.Reviewer)
		if key == "" {
			continue
		}
		if _, ok := names[key]; !ok {
			names[key] = NormalizeIdentity(e.Reviewer)
		}
		counts[key]++
	}
	out := make([]ReviewerLoad, 0, len(counts))
	for key, n := range counts {
		out = append(out, ReviewerLoad{Reviewer: names[key], Assignments: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Assignments != out[j].Assignments {
			return out[i].Assignments > out[j].Assignments
		}
		return out[i].Reviewer < out[j].Reviewer
	})
	return out
}

// ReviewerLoad количество назначений рецензента за окно истории.
type ReviewerLoad struct {
	Reviewer    string
	Assignments int
}

// SubmissionOverview статья и её актуальный состав рецензентов для /status.
type SubmissionOverview struct {
	Submission Submission
	Roster     Roster
	Proposal   *RejectionProposal
}
