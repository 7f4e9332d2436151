package review

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/NIC619/tem-operator-bot/internal/domain"
)

func TestAdmitIsIdempotent(t *testing.T) {
	f := newFixture(Config{})
	first := f.admitWith("msg-1", "Rollup economics", "alice", "bob")
	second, created, err := f.svc.Admit(context.Background(), domain.InboundSubmission{ExternalID: "msg-1", Title: "Rollup economics"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if created {
		t.Fatal("повторное письмо не должно создавать статью")
	}
	if second.ID != first.ID {
		t.Fatalf("ожидали ту же статью %d, получили %d", first.ID, second.ID)
	}
	if len(f.oracle.requests) != 1 {
		t.Fatalf("оракул должен вызываться один раз, вызовов: %d", len(f.oracle.requests))
	}
	roster, _ := f.store.ListAssignments(context.Background(), first.ID)
	if len(roster) != 2 {
		t.Fatalf("ожидали 2 назначения, получили %d", len(roster))
	}
}

func TestAdmitPostsPromptWithButtons(t *testing.T) {
	f := newFixture(Config{})
	sub := f.admitWith("msg-1", "Rollup economics", "alice", "@Bob")

	got, _ := f.store.GetSubmission(context.Background(), sub.ID)
	if got.Status != domain.SubmissionAssigning {
		t.Fatalf("ожидали assigning, получили %s", got.Status)
	}
	prompt := f.chat.lastPost()
	if len(prompt.Buttons) != 2 {
		t.Fatalf("ожидали по строке кнопок на рецензента, получили %d", len(prompt.Buttons))
	}
	if cb := prompt.Buttons[1][0].Callback; cb.Action != domain.CallbackAccept || cb.Reviewer != "Bob" {
		t.Fatalf("неожиданная кнопка: %+v", cb)
	}
	if got.StatusMessageID != f.chat.nextID {
		t.Fatalf("id статусного сообщения не сохранён: %d", got.StatusMessageID)
	}
}

func TestAdmitOracleFailureLeavesPendingAssignment(t *testing.T) {
	f := newFixture(Config{})
	f.oracle.err = errors.New("timeout")
	sub, created, err := f.svc.Admit(context.Background(), domain.InboundSubmission{ExternalID: "msg-1", Title: "Rollup economics"})
	if err != nil || !created {
		t.Fatalf("не ожидали ошибку: %v %v", created, err)
	}
	got, _ := f.store.GetSubmission(context.Background(), sub.ID)
	if got.Status != domain.SubmissionPendingAssignment {
		t.Fatalf("статья должна ждать назначения, статус %s", got.Status)
	}
	if roster, _ := f.store.ListAssignments(context.Background(), sub.ID); len(roster) != 0 {
		t.Fatalf("не ожидали назначений: %+v", roster)
	}
	if !strings.Contains(f.chat.lastPost().Text, "/override 1 @user1 @user2") {
		t.Fatalf("ожидали подсказку /override, получили %q", f.chat.lastPost().Text)
	}
	if len(f.tasks.errs) != 0 {
		t.Fatalf("ошибка оракула не должна проваливать задачу: %v", f.tasks.errs)
	}
}

func TestSingleReviewerLifecycle(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	sub := f.admitWith("msg-1", "Rollup economics", "alice")

	if err := f.svc.Accept(ctx, sub.ID, "alice", 100); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got, _ := f.store.GetSubmission(ctx, sub.ID)
	if got.Status != domain.SubmissionUnderReview {
		t.Fatalf("ожидали under_review, получили %s", got.Status)
	}
	if f.mail.count(domain.ReplyUnderReview) != 1 {
		t.Fatalf("ожидали одно письмо о рецензии, получили %+v", f.mail.replies)
	}

	if err := f.svc.MarkDone(ctx, sub.ID, "ALICE", 100); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got, _ = f.store.GetSubmission(ctx, sub.ID)
	if got.Status != domain.SubmissionAccepted {
		t.Fatalf("ожидали accepted, получили %s", got.Status)
	}
	want := time.Date(2024, time.March, 18, 9, 30, 0, 0, taipei)
	if got.PublishAt == nil || !got.PublishAt.Equal(want) {
		t.Fatalf("дата публикации %v, want %v", got.PublishAt, want)
	}
	if f.mail.count(domain.ReplyAccepted) != 1 {
		t.Fatalf("ожидали одно письмо о принятии, получили %+v", f.mail.replies)
	}
	if err := f.svc.MarkDone(ctx, sub.ID, "alice", 100); !errors.Is(err, domain.ErrNotUnderReview) {
		t.Fatalf("ожидали ErrNotUnderReview, получили %v", err)
	}
}

func TestFollowupScheduledWhenBothConfirm(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	sub := f.admitWith("msg-1", "Rollup economics", "alice", "bob")

	if err := f.svc.Accept(ctx, sub.ID, "alice", 1); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got, _ := f.store.GetSubmission(ctx, sub.ID); got.Status != domain.SubmissionAssigning {
		t.Fatalf("один из двух не должен переводить на рецензию, статус %s", got.Status)
	}
	if n := len(f.store.unsentFollowups(sub.ID)); n != 0 {
		t.Fatalf("напоминаний быть не должно, получили %d", n)
	}
	if err := f.svc.Accept(ctx, sub.ID, "bob", 2); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	pending := f.store.unsentFollowups(sub.ID)
	if len(pending) != 1 {
		t.Fatalf("ожидали одно напоминание, получили %d", len(pending))
	}
	if want := f.now.Add(3 * 24 * time.Hour); !pending[0].ScheduledAt.Equal(want) {
		t.Fatalf("напоминание на %s, want %s", pending[0].ScheduledAt, want)
	}
	if err := f.svc.Accept(ctx, sub.ID, "bob", 2); !errors.Is(err, domain.ErrAlreadyRecorded) {
		t.Fatalf("повторное нажатие: ожидали ErrAlreadyRecorded, получили %v", err)
	}
	if f.mail.count(domain.ReplyUnderReview) != 1 {
		t.Fatalf("письмо о рецензии должно уйти один раз: %+v", f.mail.replies)
	}
}

func TestApplyOverride(t *testing.T) {
	f := newFixture(Config{Operator: domain.Operator{ChatID: 42}})
	ctx := context.Background()
	sub := f.admitWith("msg-1", "Rollup economics", "alice", "bob")
	if err := f.svc.Accept(ctx, sub.ID, "alice", 1); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	if _, err := f.svc.ApplyOverride(ctx, sub.ID, 7, []string{"carol"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("ожидали ErrForbidden, получили %v", err)
	}
	if _, err := f.svc.ApplyOverride(ctx, sub.ID, 42, []string{" @ "}); !errors.Is(err, domain.ErrEmptyRoster) {
		t.Fatalf("ожидали ErrEmptyRoster, получили %v", err)
	}

	roster, err := f.svc.ApplyOverride(ctx, sub.ID, 42, []string{"@carol", "carol"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	latest := roster.Latest()
	if len(latest) != 2 {
		t.Fatalf("ожидали alice и carol, получили %+v", latest)
	}
	if a, _ := latest.Find("alice"); a.Status != domain.AssignmentConfirmed {
		t.Fatalf("подтвердившая alice должна сохраниться: %+v", a)
	}
	if a, ok := latest.Find("bob"); ok {
		t.Fatalf("bob должен быть снят: %+v", a)
	}
	if err := f.svc.Accept(ctx, sub.ID, "carol", 3); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got, _ := f.store.GetSubmission(ctx, sub.ID); got.Status != domain.SubmissionUnderReview {
		t.Fatalf("ожидали under_review, получили %s", got.Status)
	}
}

func TestApplyOverrideRecoversPendingAssignment(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	f.oracle.err = errors.New("boom")
	sub, _, _ := f.svc.Admit(ctx, domain.InboundSubmission{ExternalID: "msg-1", Title: "Rollup economics"})

	if _, err := f.svc.ApplyOverride(ctx, sub.ID, 0, []string{"alice"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got, _ := f.store.GetSubmission(ctx, sub.ID); got.Status != domain.SubmissionAssigning {
		t.Fatalf("ожидали assigning, получили %s", got.Status)
	}
	if len(f.chat.lastPost().Buttons) != 1 {
		t.Fatalf("ожидали кнопки для alice: %+v", f.chat.lastPost())
	}
}

func TestApplyOverrideOnClosedSubmission(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	sub := f.admitWith("msg-1", "Rollup economics", "alice")
	_ = f.svc.Accept(ctx, sub.ID, "alice", 1)
	_ = f.svc.MarkDone(ctx, sub.ID, "alice", 1)

	if _, err := f.svc.ApplyOverride(ctx, sub.ID, 0, []string{"bob"}); !errors.Is(err, domain.ErrTerminal) {
		t.Fatalf("ожидали ErrTerminal, получили %v", err)
	}
}
