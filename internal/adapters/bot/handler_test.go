package bot

import (
	"context"
	"fmt"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/NIC619/tem-operator-bot/internal/domain"
)

func command(text, username string, userID int64) tgbotapi.Update {
	name := strings.Fields(text)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 7,
		Text:      text,
		Chat:      &tgbotapi.Chat{ID: -100},
		From:      &tgbotapi.User{ID: userID, UserName: username},
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func press(data, username string, userID int64) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "q1",
		Data: data,
		From: &tgbotapi.User{ID: userID, UserName: username},
	}}
}

func newTestHandler() (*Handler, *fakeSender, *fakeReviews) {
	api := &fakeSender{}
	reviews := &fakeReviews{match: domain.Submission{ID: 3, Title: "Rollup economics"}}
	return NewHandler(api, zerolog.Nop(), reviews), api, reviews
}

func TestParseOverrideArgs(t *testing.T) {
	id, reviewers, err := ParseOverrideArgs("12 @alice, @Bob,carol @alice")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if id != 12 || strings.Join(reviewers, " ") != "alice Bob carol" {
		t.Fatalf("неожиданный разбор: %d %v", id, reviewers)
	}
	for _, args := range []string{"", "12", "abc @alice", "0 @alice", "12 @ ,"} {
		if _, _, err := ParseOverrideArgs(args); err == nil {
			t.Fatalf("ожидали ошибку для %q", args)
		}
	}
}

func TestParseRejectArgs(t *testing.T) {
	kw, reason, err := ParseRejectArgs(` "rollup"  off-topic for  the column `)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if kw != "rollup" || reason != "off-topic for  the column" {
		t.Fatalf("неожиданный разбор: %q %q", kw, reason)
	}
	if _, _, err := ParseRejectArgs("rollup"); err == nil {
		t.Fatal("ожидали ошибку без причины")
	}
}

func TestParseKeywordStripsQuotes(t *testing.T) {
	if got := ParseKeyword(` "MEV auctions" `); got != "MEV auctions" {
		t.Fatalf("получили %q", got)
	}
}

func TestDoneCommandResolvesKeyword(t *testing.T) {
	h, api, reviews := newTestHandler()
	h.HandleUpdate(context.Background(), command(`/done "rollup econ"`, "Alice", 11))

	resolve, _ := reviews.last("resolve")
	if resolve.extra[0] != "rollup econ" {
		t.Fatalf("ключ передан неверно: %v", resolve.extra)
	}
	done, ok := reviews.last("done")
	if !ok || done.id != 3 || done.reviewer != "Alice" || done.chatID != 11 {
		t.Fatalf("неожиданный вызов: %+v", done)
	}
	if !strings.Contains(api.lastText(), "Rollup economics") {
		t.Fatalf("неожиданный ответ: %q", api.lastText())
	}
}

func TestCommandsRequireUsername(t *testing.T) {
	h, api, reviews := newTestHandler()
	h.HandleUpdate(context.Background(), command("/second rollup", "", 11))
	if len(reviews.calls) != 0 {
		t.Fatalf("без username вызовов быть не должно: %+v", reviews.calls)
	}
	if !strings.Contains(api.lastText(), "username") {
		t.Fatalf("неожиданный ответ: %q", api.lastText())
	}
}

func TestAmbiguousKeywordListsMatches(t *testing.T) {
	h, api, reviews := newTestHandler()
	reviews.matchErr = &domain.AmbiguousMatchError{Keyword: "rollup", Matches: []domain.Submission{
		{ID: 1, Title: "Rollup economics"}, {ID: 2, Title: "Rollup security"},
	}}
	h.HandleUpdate(context.Background(), command("/reject rollup off-topic", "alice", 11))
	if _, ok := reviews.last("propose"); ok {
		t.Fatal("при неоднозначном ключе предложение не создаётся")
	}
	text := api.lastText()
	if !strings.Contains(text, "#1 «Rollup economics»") || !strings.Contains(text, "#2 «Rollup security»") {
		t.Fatalf("неожиданный ответ: %q", text)
	}
}

func TestOverrideCommandPassesCaller(t *testing.T) {
	h, api, reviews := newTestHandler()
	reviews.err = domain.ErrForbidden
	h.HandleUpdate(context.Background(), command("/override 5 @alice @bob", "mallory", 99))

	got, ok := reviews.last("override")
	if !ok || got.id != 5 || got.chatID != 99 || strings.Join(got.extra, ",") != "alice,bob" {
		t.Fatalf("неожиданный вызов: %+v", got)
	}
	if api.lastText() != describeError(domain.ErrForbidden) {
		t.Fatalf("неожиданный ответ: %q", api.lastText())
	}
}

func TestStatusFormatsOverview(t *testing.T) {
	h, api, reviews := newTestHandler()
	reviews.overview = []domain.SubmissionOverview{{
		Submission: domain.Submission{ID: 3, Title: "Rollup economics", Status: domain.SubmissionUnderReview},
		Roster: domain.Roster{
			{Reviewer: "alice", Status: domain.AssignmentDone},
			{Reviewer: "bob", Status: domain.AssignmentConfirmed},
		},
		Proposal: &domain.RejectionProposal{ProposedBy: "carol", Seconders: []string{"dave"}},
	}}
	h.HandleUpdate(context.Background(), command("/status", "alice", 11))

	text := api.lastText()
	for _, want := range []string{"#3 «Rollup economics»", "@alice (done)", "@bob (confirmed)", "@carol", "1/2"} {
		if !strings.Contains(text, want) {
			t.Fatalf("в ответе нет %q: %q", want, text)
		}
	}
}

func TestCallbackRoutesToUsecase(t *testing.T) {
	cases := []struct {
		data string
		op   string
	}{
		{"a|4|alice", "accept"},
		{"d|4|alice", "decline"},
		{"f|4|alice", "done"},
	}
	for _, tc := range cases {
		h, api, reviews := newTestHandler()
		h.HandleUpdate(context.Background(), press(tc.data, "ALICE", 11))
		got, ok := reviews.last(tc.op)
		if !ok || got.id != 4 || got.reviewer != "alice" || got.chatID != 11 {
			t.Fatalf("%s: неожиданный вызов %+v", tc.data, got)
		}
		answer, ok := api.lastAnswer()
		if !ok || answer.ShowAlert {
			t.Fatalf("%s: ожидали обычный ответ, получили %+v", tc.data, answer)
		}
	}
}

func TestCallbackRejectsOtherReviewer(t *testing.T) {
	h, api, reviews := newTestHandler()
	h.HandleUpdate(context.Background(), press("a|4|alice", "bob", 12))
	if len(reviews.calls) != 0 {
		t.Fatalf("чужая кнопка не должна вызывать сценарий: %+v", reviews.calls)
	}
	answer, _ := api.lastAnswer()
	if !answer.ShowAlert || !strings.Contains(answer.Text, "@alice") {
		t.Fatalf("неожиданный ответ: %+v", answer)
	}
}

func TestConfirmCallbackUsesUserID(t *testing.T) {
	h, api, reviews := newTestHandler()
	reviews.err = fmt.Errorf("подтверждение: %w", domain.ErrConsensusNotReached)
	h.HandleUpdate(context.Background(), press("r|4", "", 42))

	got, ok := reviews.last("confirm")
	if !ok || got.id != 4 || got.chatID != 42 {
		t.Fatalf("неожиданный вызов: %+v", got)
	}
	if answer, _ := api.lastAnswer(); answer.ShowAlert {
		t.Fatalf("неожиданный ответ: %+v", answer)
	}
	if api.lastText() != describeError(domain.ErrConsensusNotReached) {
		t.Fatalf("ошибка должна прийти сообщением: %q", api.lastText())
	}
	if sent := api.sent[len(api.sent)-1].(tgbotapi.MessageConfig); sent.ChatID != 42 {
		t.Fatalf("без исходного сообщения ответ уходит пользователю, получили %d", sent.ChatID)
	}
}

func TestCallbackAnsweredBeforeWork(t *testing.T) {
	h, api, reviews := newTestHandler()
	answered := false
	reviews.onCall = func(call) {
		_, answered = api.lastAnswer()
	}
	h.HandleUpdate(context.Background(), press("a|4|alice", "alice", 11))
	if !answered {
		t.Fatal("на нажатие нужно ответить до обработки")
	}
	if len(api.texts()) != 0 {
		t.Fatalf("при успехе лишних сообщений быть не должно: %v", api.texts())
	}
}

func TestCallbackErrorRepliesInChat(t *testing.T) {
	h, api, reviews := newTestHandler()
	reviews.err = domain.ErrNotUnderReview
	upd := press("f|4|alice", "alice", 11)
	upd.CallbackQuery.Message = &tgbotapi.Message{MessageID: 70, Chat: &tgbotapi.Chat{ID: -100}}
	h.HandleUpdate(context.Background(), upd)

	sent := api.sent[len(api.sent)-1].(tgbotapi.MessageConfig)
	if sent.ChatID != -100 || sent.ReplyToMessageID != 70 {
		t.Fatalf("ответ должен уйти в чат кнопки: %+v", sent)
	}
	if sent.Text != "@alice, "+describeError(domain.ErrNotUnderReview) {
		t.Fatalf("неожиданный текст: %q", sent.Text)
	}
}

func TestRepeatedPressIsQuiet(t *testing.T) {
	h, api, reviews := newTestHandler()
	reviews.err = domain.ErrAlreadyRecorded
	h.HandleUpdate(context.Background(), press("a|4|alice", "alice", 11))
	if len(api.texts()) != 0 {
		t.Fatalf("повторное нажатие не должно порождать сообщений: %v", api.texts())
	}
	if _, ok := api.lastAnswer(); !ok {
		t.Fatal("на нажатие нужно ответить")
	}
}

func TestMalformedCallbackAnswered(t *testing.T) {
	h, api, reviews := newTestHandler()
	h.HandleUpdate(context.Background(), press("x|4|alice", "alice", 11))
	if len(reviews.calls) != 0 {
		t.Fatal("некорректная кнопка не должна вызывать сценарий")
	}
	if _, ok := api.lastAnswer(); !ok {
		t.Fatal("на нажатие нужно ответить")
	}
}
