package telegram

import (
	"strings"
	"testing"

	"github.com/NIC619/tem-operator-bot/internal/domain"
)

func TestSplitMessageRespectsLimit(t *testing.T) {
	var builder strings.Builder
	builder.WriteString(strings.Repeat("а", 3000))
	builder.WriteString("\n\n")
	builder.WriteString(strings.Repeat("b", 2000))
	builder.WriteString("\n")
	builder.WriteString(strings.Repeat("c", 500))

	parts := SplitMessage(builder.String())
	if len(parts) != 2 {
		t.Fatalf("ожидали 2 части, получили %d", len(parts))
	}
	for i, part := range parts {
		if length := len([]rune(part)); length > MessageLimit {
			t.Fatalf("часть %d длиннее предела: %d", i, length)
		}
	}
	if parts[0] != strings.Repeat("а", 3000) {
		t.Fatal("неожиданное содержимое первой части")
	}
	if !strings.HasPrefix(parts[1], "b") || !strings.HasSuffix(parts[1], strings.Repeat("c", 500)) {
		t.Fatal("вторая часть должна содержать блоки b и c")
	}
}

func TestSplitMessageWithoutNewlines(t *testing.T) {
	parts := splitText(strings.Repeat("x", 25), 10)
	if len(parts) != 3 || parts[2] != "xxxxx" {
		t.Fatalf("неожиданное разбиение: %q", parts)
	}
	if SplitMessage("   \n  ") != nil {
		t.Fatal("пустой текст не должен давать частей")
	}
}

func TestCallbackRoundTrip(t *testing.T) {
	cases := []domain.Callback{
		{Action: domain.CallbackAccept, SubmissionID: 7, Reviewer: "alice"},
		{Action: domain.CallbackDecline, SubmissionID: 7, Reviewer: "Bob_99"},
		{Action: domain.CallbackDone, SubmissionID: 9223372036854775807, Reviewer: strings.Repeat("u", 32)},
		{Action: domain.CallbackConfirmReject, SubmissionID: 12},
	}
	for _, cb := range cases {
		data, err := EncodeCallback(cb)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", cb, err)
		}
		if len(data) > CallbackDataLimit {
			t.Fatalf("callback_data длиннее предела: %q", data)
		}
		got, err := DecodeCallback(data)
		if err != nil || got != cb {
			t.Fatalf("Decode(%q) = %+v, %v; want %+v", data, got, err, cb)
		}
	}
}

func TestEncodeCallbackNormalizesMention(t *testing.T) {
	data, err := EncodeCallback(domain.Callback{Action: domain.CallbackAccept, SubmissionID: 3, Reviewer: "@alice"})
	if err != nil || data != "a|3|alice" {
		t.Fatalf("получили %q, %v", data, err)
	}
}

func TestDecodeCallbackRejectsMalformed(t *testing.T) {
	for _, data := range []string{
		"",
		"x|1|alice",
		"a|1",
		"a|1|alice|extra",
		"r|1|alice",
		"a|abc|alice",
		"a|0|alice",
		"a|1|@alice",
		"f|1| ",
		strings.Repeat("a", 65),
	} {
		if _, err := DecodeCallback(data); err == nil {
			t.Fatalf("ожидали ошибку для %q", data)
		}
	}
}

func TestKeyboard(t *testing.T) {
	markup, err := Keyboard(domain.AcceptDeclineButtons(5, []string{"alice", "bob"}))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(markup.InlineKeyboard) != 2 || len(markup.InlineKeyboard[0]) != 2 {
		t.Fatalf("неожиданная клавиатура: %+v", markup.InlineKeyboard)
	}
	if data := markup.InlineKeyboard[1][1].CallbackData; data == nil || *data != "d|5|bob" {
		t.Fatalf("неожиданные данные кнопки: %v", data)
	}
	if empty, err := Keyboard(nil); err != nil || empty != nil {
		t.Fatal("без кнопок клавиатура не нужна")
	}
}
