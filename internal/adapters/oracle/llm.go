package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/NIC619/tem-operator-bot/internal/domain"
	openai "github.com/NIC619/tem-operator-bot/internal/infra/openai"
)

type chatCompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMOracle подбирает рецензентов через OpenAI Chat Completions.
type LLMOracle struct {
	client      chatCompletionClient
	model       string
	timeout     time.Duration
	rosterPath  string
	readRoster  func(path string) ([]byte, error)
	temperature float64
	log         zerolog.Logger
}

// NewLLM создаёт оракула. Файл рецензентов перечитывается при каждом вызове.
func NewLLM(client chatCompletionClient, model string, timeout time.Duration, rosterPath string, logger zerolog.Logger) *LLMOracle {
	if model == "" {
		model = "gpt-4o"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMOracle{
		client:      client,
		model:       model,
		timeout:     timeout,
		rosterPath:  rosterPath,
		readRoster:  os.ReadFile,
		temperature: 0.3,
		log:         logger,
	}
}

type pickResponse struct {
	Reviewer1 string `json:"reviewer1"`
	Reviewer2 string `json:"reviewer2"`
	Category  string `json:"category"`
	Reason    string `json:"reason"`
}

const systemPrompt = `Ты помощник редакции колонки Ethereum Meetup Taipei (TEM) на Medium и распределяешь статьи по рецензентам.

Задача:
1. Определи тему присланной статьи.
2. Выбери из списка рецензентов 1-2 самых подходящих.
3. Учитывай недавние назначения и не назначай одного и того же человека подряд.
4. Если подходящих несколько, выбирай тех, у кого меньше назначений за последнее время.
5. Если в категории только один подходящий рецензент, выбери одного, а reviewer2 оставь пустой строкой.
6. Коротко объясни выбор.

## Рецензенты
%s

## Формат ответа
Ответ верни строго в формате JSON без markdown и пояснений:
{"reviewer1": "tg_username", "reviewer2": "tg_username_или_пусто", "category": "основная категория", "reason": "2-3 предложения о выборе с учётом загрузки"}`

const defaultHistoryDays = 90

const userPrompt = `Тема письма: %s

Автор: %s (%s)

Текст письма: %s

## Назначения за последние %d дней
%s

## Загрузка рецензентов
%s

Выбери двух самых подходящих рецензентов с наименьшей недавней загрузкой.`

// PickReviewers реализует domain.ReviewerOracle. При непустом Excluded просит одного кандидата на замену.
func (o *LLMOracle) PickReviewers(ctx context.Context, req domain.OracleRequest) (domain.OraclePick, error) {
	rosterText, roster := o.loadRoster()

	days := req.HistoryDays
	if days <= 0 {
		days = defaultHistoryDays
	}
	prompt := fmt.Sprintf(userPrompt, req.Subject, req.AuthorName, req.AuthorEmail, req.Body, days, req.HistoryText, req.WorkloadText)
	replacement := req.Declined != "" || len(req.Excluded) > 0
	if replacement {
		prompt += replacementConstraint(req.Declined, req.Excluded)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: o.temperature,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: fmt.Sprintf(systemPrompt, rosterText)},
			{Role: openai.RoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	})
	if err != nil {
		return domain.OraclePick{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.OraclePick{}, fmt.Errorf("%w: пустой ответ модели", domain.ErrInvalidOracleResponse)
	}
	if resp.Usage != nil {
		o.log.Debug().Str("usage", resp.Usage.String()).Int64("submission", req.SubmissionID).Msg("ответ оракула")
	}

	parsed, err := parsePick(resp.Choices[0].Message.Content)
	if err != nil {
		return domain.OraclePick{}, err
	}
	pick, err := validatePick(parsed, roster, replacement)
	if err != nil {
		return domain.OraclePick{}, err
	}
	o.log.Info().Int64("submission", req.SubmissionID).Strs("reviewers", pick.Reviewers()).Str("category", pick.Category).Msg("оракул выбрал рецензентов")
	return pick, nil
}

func (o *LLMOracle) loadRoster() (string, []string) {
	if o.rosterPath == "" {
		return "(список рецензентов не задан)", nil
	}
	data, err := o.readRoster(o.rosterPath)
	if err != nil {
		o.log.Warn().Err(err).Str("path", o.rosterPath).Msg("файл рецензентов недоступен")
		return "(список рецензентов не найден)", nil
	}
	text := string(data)
	return text, AllReviewers(ParseRoster(text))
}

func replacementConstraint(declined string, excluded []string) string {
	list := "нет"
	if len(excluded) > 0 {
		mentions := make([]string, 0, len(excluded))
		for _, e := range excluded {
			mentions = append(mentions, domain.Mention(e))
		}
		list = strings.Join(mentions, ", ")
	}
	var b strings.Builder
	b.WriteString("\n\n## Ограничения\n")
	if declined != "" {
		fmt.Fprintf(&b, "Рецензент %s отказался, не выбирай его снова.\n", domain.Mention(declined))
	}
	fmt.Fprintf(&b, "Не выбирай никого из уже назначенных: %s.\n", list)
	b.WriteString("Нужен ровно один рецензент в поле reviewer1, reviewer2 оставь пустой строкой.")
	return b.String()
}

// parsePick разбирает ответ модели: сначала как есть без markdown-ограждения,
// затем по первой и последней фигурной скобке.
func parsePick(raw string) (pickResponse, error) {
	content := stripFences(raw)
	var parsed pickResponse
	err := json.Unmarshal([]byte(content), &parsed)
	if err == nil {
		return parsed, nil
	}
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		if retryErr := json.Unmarshal([]byte(content[start:end+1]), &parsed); retryErr == nil {
			return parsed, nil
		}
	}
	return pickResponse{}, fmt.Errorf("%w: %v", domain.ErrInvalidOracleResponse, err)
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func validatePick(parsed pickResponse, roster []string, single bool) (domain.OraclePick, error) {
	pick := domain.OraclePick{
		Reviewer1: domain.NormalizeIdentity(parsed.Reviewer1),
		Reviewer2: domain.NormalizeIdentity(parsed.Reviewer2),
		Category:  strings.TrimSpace(parsed.Category),
		Rationale: strings.TrimSpace(parsed.Reason),
	}
	if pick.Reviewer1 == "" {
		return domain.OraclePick{}, fmt.Errorf("%w: не указан reviewer1", domain.ErrInvalidOracleResponse)
	}
	if single || domain.SameIdentity(pick.Reviewer1, pick.Reviewer2) {
		pick.Reviewer2 = ""
	}
	if len(roster) > 0 {
		var unknown []string
		for _, r := range pick.Reviewers() {
			if !domain.ContainsIdentity(roster, r) {
				unknown = append(unknown, r)
			}
		}
		if len(unknown) > 0 {
			return domain.OraclePick{}, fmt.Errorf("%w: нет в списке рецензентов: %s", domain.ErrInvalidOracleResponse, strings.Join(unknown, ", "))
		}
	}
	return pick, nil
}

var _ domain.ReviewerOracle = (*LLMOracle)(nil)

