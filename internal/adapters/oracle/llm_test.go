package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/NIC619/tem-operator-bot/internal/domain"
	openai "github.com/NIC619/tem-operator-bot/internal/infra/openai"
)

type stubCompletion struct {
	content string
	err     error
	last    openai.ChatCompletionRequest
}

func (s *stubCompletion) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.last = req
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Content: s.content}}}}, nil
}

func newTestOracle(content string) (*LLMOracle, *stubCompletion) {
	client := &stubCompletion{content: content}
	o := NewLLM(client, "gpt-4o", 0, "reviewers.md", zerolog.Nop())
	o.readRoster = func(string) ([]byte, error) { return []byte(sampleRoster), nil }
	return o, client
}

func TestPickReviewersParsesFencedJSON(t *testing.T) {
	o, client := newTestOracle("```json\n{\"reviewer1\": \"@alice\", \"reviewer2\": \"bob\", \"category\": \"Research\", \"reason\": \"профиль\"}\n```")
	pick, err := o.PickReviewers(context.Background(), domain.OracleRequest{Subject: "Rollups"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if pick.Reviewer1 != "alice" || pick.Reviewer2 != "bob" || pick.Category != "Research" {
		t.Fatalf("неожиданный выбор: %+v", pick)
	}
	if !strings.Contains(client.last.Messages[0].Content, "Reviewers: @alice, @Bob") {
		t.Fatal("список рецензентов должен попасть в системный промпт")
	}
}

func TestPickReviewersSecondParseAttempt(t *testing.T) {
	o, _ := newTestOracle("Вот ответ: {\"reviewer1\": \"carol\", \"reviewer2\": \"carol\"} надеюсь, подойдёт")
	pick, err := o.PickReviewers(context.Background(), domain.OracleRequest{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if pick.Reviewer1 != "carol" || pick.Reviewer2 != "" {
		t.Fatalf("повтор рецензента должен отбрасываться: %+v", pick)
	}
}

func TestPickReviewersRejectsInvalidAnswers(t *testing.T) {
	cases := map[string]string{
		"не json":       "sorry, cannot help",
		"без reviewer1": `{"reviewer1": "", "reviewer2": "bob"}`,
		"не из списка":  `{"reviewer1": "mallory"}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			o, _ := newTestOracle(content)
			if _, err := o.PickReviewers(context.Background(), domain.OracleRequest{}); !errors.Is(err, domain.ErrInvalidOracleResponse) {
				t.Fatalf("ожидали ErrInvalidOracleResponse, получили %v", err)
			}
		})
	}
}

func TestPickReplacementAsksForOneReviewer(t *testing.T) {
	o, client := newTestOracle(`{"reviewer1": "carol", "reviewer2": "bob"}`)
	pick, err := o.PickReviewers(context.Background(), domain.OracleRequest{Declined: "bob", Excluded: []string{"alice", "bob"}})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if pick.Reviewer2 != "" {
		t.Fatalf("для замены нужен один рецензент: %+v", pick)
	}
	prompt := client.last.Messages[1].Content
	if !strings.Contains(prompt, "@bob отказался") || !strings.Contains(prompt, "@alice, @bob") {
		t.Fatalf("ограничения не попали в промпт: %q", prompt)
	}
}

func TestPromptUsesHistoryWindow(t *testing.T) {
	o, client := newTestOracle(`{"reviewer1": "alice"}`)
	if _, err := o.PickReviewers(context.Background(), domain.OracleRequest{HistoryDays: 30}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if prompt := client.last.Messages[1].Content; !strings.Contains(prompt, "последние 30 дней") {
		t.Fatalf("окно истории не попало в промпт: %q", prompt)
	}
	if _, err := o.PickReviewers(context.Background(), domain.OracleRequest{}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if prompt := client.last.Messages[1].Content; !strings.Contains(prompt, "последние 90 дней") {
		t.Fatalf("без окна ожидали 90 дней: %q", prompt)
	}
}

func TestPickReviewersWithoutRosterFile(t *testing.T) {
	o, _ := newTestOracle(`{"reviewer1": "anyone"}`)
	o.readRoster = func(string) ([]byte, error) { return nil, errors.New("no such file") }
	if _, err := o.PickReviewers(context.Background(), domain.OracleRequest{}); err != nil {
		t.Fatalf("без файла проверка по списку пропускается: %v", err)
	}
}

func TestStripFences(t *testing.T) {
	if got := stripFences("```\n{\"a\":1}\n```"); got != `{"a":1}` {
		t.Fatalf("неожиданный результат: %q", got)
	}
	if got := stripFences(`  {"a":1} `); got != `{"a":1}` {
		t.Fatalf("неожиданный результат: %q", got)
	}
}
