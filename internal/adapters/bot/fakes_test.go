package bot

import (
	"context"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/NIC619/tem-operator-bot/internal/domain"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErrs []error
	reqErrs  []error
	nextID   int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	if len(f.reqErrs) > 0 {
		err := f.reqErrs[0]
		f.reqErrs = f.reqErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) texts() []string {
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeSender) lastText() string {
	texts := f.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func (f *fakeSender) lastAnswer() (tgbotapi.CallbackConfig, bool) {
	for i := len(f.requests) - 1; i >= 0; i-- {
		if cb, ok := f.requests[i].(tgbotapi.CallbackConfig); ok {
			return cb, true
		}
	}
	return tgbotapi.CallbackConfig{}, false
}

type call struct {
	op       string
	id       int64
	reviewer string
	chatID   int64
	extra    []string
}

type fakeReviews struct {
	calls    []call
	err      error
	match    domain.Submission
	matchErr error
	overview []domain.SubmissionOverview
	proposal domain.RejectionProposal
	roster   domain.Roster
	onCall   func(call)
}

func (f *fakeReviews) record(c call) error {
	f.calls = append(f.calls, c)
	if f.onCall != nil {
		f.onCall(c)
	}
	return f.err
}

func (f *fakeReviews) Accept(_ context.Context, id int64, reviewer string, chatID int64) error {
	return f.record(call{op: "accept", id: id, reviewer: reviewer, chatID: chatID})
}

func (f *fakeReviews) Decline(_ context.Context, id int64, reviewer string, chatID int64) error {
	return f.record(call{op: "decline", id: id, reviewer: reviewer, chatID: chatID})
}

func (f *fakeReviews) MarkDone(_ context.Context, id int64, reviewer string, chatID int64) error {
	return f.record(call{op: "done", id: id, reviewer: reviewer, chatID: chatID})
}

func (f *fakeReviews) Propose(_ context.Context, id int64, proposer, reason string) (domain.RejectionProposal, error) {
	return f.proposal, f.record(call{op: "propose", id: id, reviewer: proposer, extra: []string{reason}})
}

func (f *fakeReviews) Second(_ context.Context, id int64, seconder string) (domain.RejectionProposal, error) {
	return f.proposal, f.record(call{op: "second", id: id, reviewer: seconder})
}

func (f *fakeReviews) Confirm(_ context.Context, id, chatID int64) error {
	return f.record(call{op: "confirm", id: id, chatID: chatID})
}

func (f *fakeReviews) ApplyOverride(_ context.Context, id, chatID int64, reviewers []string) (domain.Roster, error) {
	return f.roster, f.record(call{op: "override", id: id, chatID: chatID, extra: reviewers})
}

func (f *fakeReviews) ResolveKeyword(_ context.Context, keyword string) (domain.Submission, error) {
	f.calls = append(f.calls, call{op: "resolve", extra: []string{keyword}})
	return f.match, f.matchErr
}

func (f *fakeReviews) Overview(context.Context) ([]domain.SubmissionOverview, error) {
	return f.overview, f.err
}

func (f *fakeReviews) last(op string) (call, bool) {
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].op == op {
			return f.calls[i], true
		}
	}
	return call{}, false
}
