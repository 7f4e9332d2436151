package review

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/NIC619/tem-operator-bot/internal/domain"
)

// memStore повторяет семантику Postgres-репозитория в памяти.
type memStore struct {
	mu          sync.Mutex
	nextID      int64
	subs        map[int64]*domain.Submission
	byExternal  map[string]int64
	assignments []domain.Assignment
	history     []domain.HistoryEntry
	rejections  []domain.RejectionProposal
	followups   []domain.Followup
	now         func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{subs: make(map[int64]*domain.Submission), byExternal: make(map[string]int64), now: now}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) CreateSubmission(_ context.Context, in domain.InboundSubmission) (domain.Submission, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byExternal[in.ExternalID]; ok {
		return *m.subs[id], false, nil
	}
	sub := &domain.Submission{
		ID: m.id(), ExternalID: in.ExternalID, ThreadID: in.ThreadID, MessageIDHeader: in.MessageIDHeader,
		Title: in.Title, AuthorName: in.AuthorName, AuthorEmail: in.AuthorEmail, ArticleURL: in.ArticleURL,
		Subject: in.Subject, Body: in.Body, Status: domain.SubmissionPendingAssignment, CreatedAt: m.now(),
	}
	m.subs[sub.ID] = sub
	m.byExternal[in.ExternalID] = sub.ID
	return *sub, true, nil
}

func (m *memStore) GetSubmission(_ context.Context, id int64) (domain.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return domain.Submission{}, domain.ErrNotFound
	}
	return *sub, nil
}

func (m *memStore) SearchOpenByTitle(_ context.Context, keyword string) ([]domain.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Submission
	for _, sub := range m.sortedSubs() {
		if !sub.Status.Terminal() && strings.Contains(strings.ToLower(sub.Title), strings.ToLower(keyword)) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (m *memStore) ListOpen(context.Context) ([]domain.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Submission
	for _, sub := range m.sortedSubs() {
		if !sub.Status.Terminal() {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (m *memStore) sortedSubs() []domain.Submission {
	out := make([]domain.Submission, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) SetStatusMessage(_ context.Context, id int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[id]; ok {
		sub.StatusMessageID = messageID
	}
	return nil
}

func (m *memStore) MarkUnderReview(_ context.Context, id int64, first time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if sub.Status != domain.SubmissionAssigning {
		return false, nil
	}
	sub.Status = domain.SubmissionUnderReview
	kept := m.followups[:0]
	for _, f := range m.followups {
		if f.SubmissionID == id && f.SentAt == nil {
			continue
		}
		kept = append(kept, f)
	}
	m.followups = append(kept, domain.Followup{ID: m.id(), SubmissionID: id, ScheduledAt: first})
	return true, nil
}

func (m *memStore) MarkAccepted(_ context.Context, id int64, publishAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if sub.Status != domain.SubmissionUnderReview && sub.Status != domain.SubmissionAssigning {
		return false, nil
	}
	now := m.now()
	sub.Status = domain.SubmissionAccepted
	sub.AcceptedAt = &now
	sub.PublishAt = &publishAt
	return true, nil
}

func (m *memStore) MarkRejected(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if sub.Status.Terminal() {
		return false, nil
	}
	now := m.now()
	sub.Status = domain.SubmissionRejected
	sub.RejectedAt = &now
	return true, nil
}

func (m *memStore) insertAssignment(subID int64, reviewer string) domain.Assignment {
	a := domain.Assignment{ID: m.id(), SubmissionID: subID, Reviewer: reviewer, Status: domain.AssignmentPending, AssignedAt: m.now()}
	m.assignments = append(m.assignments, a)
	m.history = append(m.history, domain.HistoryEntry{SubmissionID: subID, Title: m.subs[subID].Title, Reviewer: reviewer, AssignedAt: a.AssignedAt})
	return a
}

func (m *memStore) rosterLocked(subID int64) domain.Roster {
	var out domain.Roster
	for _, a := range m.assignments {
		if a.SubmissionID == subID {
			out = append(out, a)
		}
	}
	return out
}

func (m *memStore) StartAssignment(_ context.Context, subID int64, reviewers []string) (domain.Roster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[subID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	for _, r := range reviewers {
		m.insertAssignment(subID, r)
	}
	sub.Status = domain.SubmissionAssigning
	return m.rosterLocked(subID), nil
}

func (m *memStore) ReplaceAssignments(_ context.Context, subID int64, reviewers []string) (domain.Roster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[subID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	kept := m.assignments[:0]
	for _, a := range m.assignments {
		if a.SubmissionID == subID && (a.Status == domain.AssignmentPending || a.Status == domain.AssignmentDeclined) {
			continue
		}
		kept = append(kept, a)
	}
	m.assignments = kept
	for _, r := range reviewers {
		m.insertAssignment(subID, r)
	}
	sub.Status = domain.SubmissionAssigning
	return m.rosterLocked(subID), nil
}

func (m *memStore) AddAssignment(_ context.Context, subID int64, reviewer string) (domain.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[subID]
	if !ok {
		return domain.Assignment{}, domain.ErrNotFound
	}
	if sub.Status.Terminal() {
		return domain.Assignment{}, domain.ErrTerminal
	}
	return m.insertAssignment(subID, reviewer), nil
}

func (m *memStore) latestIndex(subID int64, reviewer string) int {
	idx := -1
	for i, a := range m.assignments {
		if a.SubmissionID == subID && domain.SameIdentity(a.Reviewer, reviewer) {
			if idx == -1 || a.ID > m.assignments[idx].ID {
				idx = i
			}
		}
	}
	return idx
}

func (m *memStore) RespondAssignment(_ context.Context, subID int64, reviewer string, chatID int64, to domain.AssignmentStatus) (domain.Roster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[subID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if sub.Status.Terminal() {
		return nil, domain.ErrTerminal
	}
	idx := m.latestIndex(subID, reviewer)
	if idx == -1 {
		return nil, domain.ErrNotFound
	}
	if m.assignments[idx].Status != domain.AssignmentPending {
		return nil, domain.ErrAlreadyRecorded
	}
	now := m.now()
	m.assignments[idx].Status = to
	m.assignments[idx].ReviewerChatID = chatID
	m.assignments[idx].RespondedAt = &now
	return m.rosterLocked(subID), nil
}

func (m *memStore) CompleteAssignment(_ context.Context, subID int64, reviewer string, chatID int64) (domain.Roster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[subID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if sub.Status != domain.SubmissionUnderReview && sub.Status != domain.SubmissionAssigning {
		return nil, domain.ErrNotUnderReview
	}
	idx := m.latestIndex(subID, reviewer)
	if idx == -1 || m.assignments[idx].Status == domain.AssignmentDeclined {
		return nil, domain.ErrNotFound
	}
	if m.assignments[idx].Status == domain.AssignmentDone {
		return nil, domain.ErrAlreadyRecorded
	}
	now := m.now()
	m.assignments[idx].Status = domain.AssignmentDone
	m.assignments[idx].ReviewerChatID = chatID
	m.assignments[idx].DoneAt = &now
	return m.rosterLocked(subID), nil
}

func (m *memStore) ListAssignments(_ context.Context, subID int64) (domain.Roster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rosterLocked(subID), nil
}

func (m *memStore) RecentHistory(_ context.Context, since time.Time) ([]domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.HistoryEntry
	for i := len(m.history) - 1; i >= 0; i-- {
		if !m.history[i].AssignedAt.Before(since) {
			out = append(out, m.history[i])
		}
	}
	return out, nil
}

func (m *memStore) CreateRejection(_ context.Context, subID int64, proposer, reason string) (domain.RejectionProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[subID]
	if !ok {
		return domain.RejectionProposal{}, domain.ErrNotFound
	}
	p := domain.RejectionProposal{ID: m.id(), SubmissionID: subID, ProposedBy: proposer, Reason: reason, ProposedAt: m.now()}
	m.rejections = append(m.rejections, p)
	sub.ActiveRejectionID = p.ID
	return p, nil
}

func (m *memStore) proposalIndex(id int64) int {
	for i, p := range m.rejections {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (m *memStore) SetRejectionMessage(_ context.Context, proposalID int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.proposalIndex(proposalID); i >= 0 {
		m.rejections[i].ChatMessageID = messageID
	}
	return nil
}

func (m *memStore) ActiveRejection(_ context.Context, subID int64) (domain.RejectionProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[subID]
	if !ok || sub.ActiveRejectionID == 0 {
		return domain.RejectionProposal{}, domain.ErrNoActiveProposal
	}
	p := m.rejections[m.proposalIndex(sub.ActiveRejectionID)]
	p.Seconders = append([]string(nil), p.Seconders...)
	return p, nil
}

func (m *memStore) AddSeconder(_ context.Context, subID int64, seconder string) (domain.RejectionProposal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[subID]
	if !ok || sub.ActiveRejectionID == 0 {
		return domain.RejectionProposal{}, false, domain.ErrNoActiveProposal
	}
	i := m.proposalIndex(sub.ActiveRejectionID)
	p := m.rejections[i]
	if domain.SameIdentity(p.ProposedBy, seconder) {
		return p, false, domain.ErrSelfSecond
	}
	if p.HasSeconder(seconder) {
		return p, false, nil
	}
	m.rejections[i].Seconders = append(m.rejections[i].Seconders, seconder)
	out := m.rejections[i]
	out.Seconders = append([]string(nil), out.Seconders...)
	return out, true, nil
}

func (m *memStore) DueFollowups(_ context.Context, now time.Time) ([]domain.Followup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Followup
	for _, f := range m.followups {
		if f.SentAt == nil && !f.ScheduledAt.After(now) && m.subs[f.SubmissionID].Status == domain.SubmissionUnderReview {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memStore) RollFollowup(_ context.Context, followupID int64, next time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range m.followups {
		if f.ID != followupID {
			continue
		}
		if f.SentAt != nil {
			return false, nil
		}
		now := m.now()
		m.followups[i].SentAt = &now
		if m.subs[f.SubmissionID].Status == domain.SubmissionUnderReview {
			m.followups = append(m.followups, domain.Followup{ID: m.id(), SubmissionID: f.SubmissionID, ScheduledAt: next})
		}
		return true, nil
	}
	return false, domain.ErrNotFound
}

func (m *memStore) unsentFollowups(subID int64) []domain.Followup {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Followup
	for _, f := range m.followups {
		if f.SubmissionID == subID && f.SentAt == nil {
			out = append(out, f)
		}
	}
	return out
}

func (m *memStore) rowsFor(subID int64, reviewer string) []domain.Assignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Assignment
	for _, a := range m.assignments {
		if a.SubmissionID == subID && domain.SameIdentity(a.Reviewer, reviewer) {
			out = append(out, a)
		}
	}
	return out
}

type stubOracle struct {
	pick     domain.OraclePick
	err      error
	requests []domain.OracleRequest
}

func (o *stubOracle) PickReviewers(_ context.Context, req domain.OracleRequest) (domain.OraclePick, error) {
	o.requests = append(o.requests, req)
	return o.pick, o.err
}

type sentReply struct {
	submissionID int64
	kind         domain.ReplyKind
	args         domain.ReplyArgs
}

type stubMail struct {
	replies []sentReply
	err     error
}

func (m *stubMail) SendReply(_ context.Context, sub domain.Submission, kind domain.ReplyKind, args domain.ReplyArgs) error {
	if m.err != nil {
		return m.err
	}
	m.replies = append(m.replies, sentReply{submissionID: sub.ID, kind: kind, args: args})
	return nil
}

func (m *stubMail) count(kind domain.ReplyKind) int {
	n := 0
	for _, r := range m.replies {
		if r.kind == kind {
			n++
		}
	}
	return n
}

type editedMessage struct {
	id  int
	msg domain.ChatMessage
}

type stubChat struct {
	nextID   int
	posts    []domain.ChatMessage
	edits    []editedMessage
	operator []string
	postErr  error
}

func (c *stubChat) Post(_ context.Context, msg domain.ChatMessage) (int, error) {
	if c.postErr != nil {
		return 0, c.postErr
	}
	c.nextID++
	c.posts = append(c.posts, msg)
	return c.nextID, nil
}

func (c *stubChat) Edit(_ context.Context, id int, msg domain.ChatMessage) error {
	c.edits = append(c.edits, editedMessage{id: id, msg: msg})
	return nil
}

func (c *stubChat) NotifyOperator(_ context.Context, text string) error {
	c.operator = append(c.operator, text)
	return nil
}

func (c *stubChat) lastPost() domain.ChatMessage {
	if len(c.posts) == 0 {
		return domain.ChatMessage{}
	}
	return c.posts[len(c.posts)-1]
}

// syncTasks выполняет фоновые задачи сразу и запоминает ошибки.
type syncTasks struct {
	errs []error
}

func (t *syncTasks) Go(_ string, fn func(ctx context.Context) error) {
	if err := fn(context.Background()); err != nil {
		t.errs = append(t.errs, err)
	}
}

type recordedEvents struct {
	events []domain.ReviewEvent
}

func (r *recordedEvents) Publish(_ context.Context, e domain.ReviewEvent) error {
	r.events = append(r.events, e)
	return nil
}

var taipei = time.FixedZone("CST", 8*60*60)

type fixture struct {
	svc    *Service
	store  *memStore
	oracle *stubOracle
	mail   *stubMail
	chat   *stubChat
	tasks  *syncTasks
	events *recordedEvents
	now    time.Time
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		oracle: &stubOracle{},
		mail:   &stubMail{},
		chat:   &stubChat{},
		tasks:  &syncTasks{},
		events: &recordedEvents{},
		now:    time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.store = newMemStore(clock)
	if cfg.FollowupInterval == 0 {
		cfg.FollowupInterval = 3 * 24 * time.Hour
	}
	if cfg.Publish.Location == nil {
		cfg.Publish = domain.PublishSchedule{Location: taipei, Hour: 9, Minute: 30}
	}
	f.svc = NewService(Deps{
		Repo:   f.store,
		Oracle: f.oracle,
		Mail:   f.mail,
		Chat:   f.chat,
		Tasks:  f.tasks,
		Events: f.events,
	}, cfg, zerolog.Nop())
	f.svc.now = clock
	return f
}

// admitWith создаёт статью с рецензентами, которых вернёт оракул.
func (f *fixture) admitWith(externalID, title string, reviewers ...string) domain.Submission {
	pick := domain.OraclePick{Category: "Research", Rationale: "профиль совпадает"}
	if len(reviewers) > 0 {
		pick.Reviewer1 = reviewers[0]
	}
	if len(reviewers) > 1 {
		pick.Reviewer2 = reviewers[1]
	}
	f.oracle.pick = pick
	f.oracle.err = nil
	sub, _, err := f.svc.Admit(context.Background(), domain.InboundSubmission{
		ExternalID:  externalID,
		Title:       title,
		AuthorName:  "Author",
		AuthorEmail: "author@example.com",
		Subject:     title,
		Body:        "text",
	})
	if err != nil {
		panic(err)
	}
	return sub
}
