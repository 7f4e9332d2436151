package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/NIC619/tem-operator-bot/internal/adapters/telegram"
	"github.com/NIC619/tem-operator-bot/internal/domain"
	"github.com/NIC619/tem-operator-bot/internal/infra/metrics"
)

// Reviews операции рецензирования, доступные из чата.
type Reviews interface {
	Accept(ctx context.Context, submissionID int64, reviewer string, chatID int64) error
	Decline(ctx context.Context, submissionID int64, reviewer string, chatID int64) error
	MarkDone(ctx context.Context, submissionID int64, reviewer string, chatID int64) error
	Propose(ctx context.Context, submissionID int64, proposer, reason string) (domain.RejectionProposal, error)
	Second(ctx context.Context, submissionID int64, seconder string) (domain.RejectionProposal, error)
	Confirm(ctx context.Context, submissionID, callerChatID int64) error
	ApplyOverride(ctx context.Context, submissionID, callerChatID int64, reviewers []string) (domain.Roster, error)
	ResolveKeyword(ctx context.Context, keyword string) (domain.Submission, error)
	Overview(ctx context.Context) ([]domain.SubmissionOverview, error)
}

// Handler обрабатывает команды и нажатия кнопок.
type Handler struct {
	api     sender
	log     zerolog.Logger
	reviews Reviews
}

// NewHandler создаёт обработчик.
func NewHandler(api sender, log zerolog.Logger, reviews Reviews) *Handler {
	return &Handler{api: api, log: log, reviews: reviews}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil && upd.Message.IsCommand() {
		h.handleCommand(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	args := msg.CommandArguments()
	switch msg.Command() {
	case "start", "help":
		h.reply(msg, helpText)
	case "getid":
		h.handleGetID(msg)
	case "status":
		h.handleStatus(ctx, msg)
	case "done":
		h.handleDone(ctx, msg, args)
	case "reject":
		h.handleReject(ctx, msg, args)
	case "second":
		h.handleSecond(ctx, msg, args)
	case "override":
		h.handleOverride(ctx, msg, args)
	default:
		h.reply(msg, "Неизвестная команда. Используйте /help")
	}
}

const helpText = `Бот редакции TEM.

/status список статей в работе
/done <ключ> отметить свою рецензию выполненной
/reject <ключ> <причина> предложить отказ
/second <ключ> поддержать предложение об отказе
/override <id> @user1 @user2 переназначить рецензентов (оператор)
/getid показать id чата и пользователя

<ключ> любая часть заголовка статьи.`

func (h *Handler) handleGetID(msg *tgbotapi.Message) {
	userID, name := int64(0), "N/A"
	if msg.From != nil {
		userID = msg.From.ID
		name = strconv.FormatInt(userID, 10)
		if msg.From.UserName != "" {
			name = domain.Mention(msg.From.UserName)
		}
	}
	h.reply(msg, fmt.Sprintf("Chat ID: %d\nВаш user ID: %d (%s)", msg.Chat.ID, userID, name))
}

func (h *Handler) handleStatus(ctx context.Context, msg *tgbotapi.Message) {
	items, err := h.reviews.Overview(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось собрать статус")
		h.reply(msg, describeError(err))
		return
	}
	h.reply(msg, FormatOverview(items))
}

// FormatOverview текст ответа на /status.
func FormatOverview(items []domain.SubmissionOverview) string {
	if len(items) == 0 {
		return "Сейчас нет статей в работе."
	}
	var b strings.Builder
	b.WriteString("Статьи в работе:\n")
	for _, item := range items {
		sub := item.Submission
		fmt.Fprintf(&b, "\n#%d «%s»\nСтатус: %s\n", sub.ID, sub.Title, sub.Status)
		reviewers := make([]string, 0, len(item.Roster))
		for _, a := range item.Roster {
			reviewers = append(reviewers, fmt.Sprintf("%s (%s)", domain.Mention(a.Reviewer), a.Status))
		}
		if len(reviewers) == 0 {
			b.WriteString("Рецензенты: нет\n")
		} else {
			fmt.Fprintf(&b, "Рецензенты: %s\n", strings.Join(reviewers, ", "))
		}
		if p := item.Proposal; p != nil {
			fmt.Fprintf(&b, "Отказ предложил %s, поддержали %d/%d\n", domain.Mention(p.ProposedBy), len(p.Seconders), domain.ConsensusThreshold)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (h *Handler) handleDone(ctx context.Context, msg *tgbotapi.Message, args string) {
	username, ok := h.requireUsername(msg)
	if !ok {
		return
	}
	keyword := ParseKeyword(args)
	if keyword == "" {
		h.reply(msg, "Использование: /done <ключ>")
		return
	}
	sub, ok := h.resolve(ctx, msg, keyword)
	if !ok {
		return
	}
	if err := h.reviews.MarkDone(ctx, sub.ID, username, msg.From.ID); err != nil {
		h.replyError(msg, err, "done")
		return
	}
	h.reply(msg, fmt.Sprintf("✅ Рецензия статьи «%s» отмечена. Спасибо!", sub.Title))
}

func (h *Handler) handleReject(ctx context.Context, msg *tgbotapi.Message, args string) {
	username, ok := h.requireUsername(msg)
	if !ok {
		return
	}
	keyword, reason, err := ParseRejectArgs(args)
	if err != nil {
		h.reply(msg, "Использование: /reject <ключ> <причина>")
		return
	}
	sub, ok := h.resolve(ctx, msg, keyword)
	if !ok {
		return
	}
	if _, err := h.reviews.Propose(ctx, sub.ID, username, reason); err != nil {
		h.replyError(msg, err, "reject")
	}
}

func (h *Handler) handleSecond(ctx context.Context, msg *tgbotapi.Message, args string) {
	username, ok := h.requireUsername(msg)
	if !ok {
		return
	}
	keyword := ParseKeyword(args)
	if keyword == "" {
		h.reply(msg, "Использование: /second <ключ>")
		return
	}
	sub, ok := h.resolve(ctx, msg, keyword)
	if !ok {
		return
	}
	p, err := h.reviews.Second(ctx, sub.ID, username)
	if err != nil {
		h.replyError(msg, err, "second")
		return
	}
	h.reply(msg, fmt.Sprintf("🗳 Поддержка учтена (%d/%d).", len(p.Seconders), domain.ConsensusThreshold))
}

func (h *Handler) handleOverride(ctx context.Context, msg *tgbotapi.Message, args string) {
	if msg.From == nil {
		return
	}
	id, reviewers, err := ParseOverrideArgs(args)
	if err != nil {
		h.reply(msg, "Использование: /override <id> @user1 @user2")
		return
	}
	roster, err := h.reviews.ApplyOverride(ctx, id, msg.From.ID, reviewers)
	if err != nil {
		h.replyError(msg, err, "override")
		return
	}
	h.reply(msg, fmt.Sprintf("🔁 Статья #%d переназначена, в составе %d рецензент(ов).", id, len(roster.Latest().WithStatus(domain.AssignmentPending, domain.AssignmentConfirmed, domain.AssignmentDone))))
}

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	cb, err := telegram.DecodeCallback(q.Data)
	if err != nil {
		h.log.Warn().Err(err).Str("data", q.Data).Msg("некорректная кнопка")
		h.answer(q, "Кнопка устарела", false)
		return
	}
	if q.From == nil {
		h.answer(q, "Не удалось определить пользователя", true)
		return
	}
	if cb.Action != domain.CallbackConfirmReject && !domain.SameIdentity(q.From.UserName, cb.Reviewer) {
		h.answer(q, fmt.Sprintf("Эта кнопка для %s", domain.Mention(cb.Reviewer)), true)
		return
	}

	// Нажатие подтверждаем сразу, результат приходит отдельным сообщением в чат.
	h.answer(q, "⏳ Обрабатываю…", false)

	switch cb.Action {
	case domain.CallbackAccept:
		err = h.reviews.Accept(ctx, cb.SubmissionID, cb.Reviewer, q.From.ID)
	case domain.CallbackDecline:
		err = h.reviews.Decline(ctx, cb.SubmissionID, cb.Reviewer, q.From.ID)
	case domain.CallbackDone:
		err = h.reviews.MarkDone(ctx, cb.SubmissionID, cb.Reviewer, q.From.ID)
	case domain.CallbackConfirmReject:
		err = h.reviews.Confirm(ctx, cb.SubmissionID, q.From.ID)
	}
	if err == nil {
		return
	}
	log := h.log.With().Str("action", string(cb.Action)).Int64("submission", cb.SubmissionID).Logger()
	if errors.Is(err, domain.ErrAlreadyRecorded) {
		log.Debug().Msg("повторное нажатие")
		return
	}
	if !isExpected(err) {
		log.Error().Err(err).Msg("не удалось обработать кнопку")
	}
	h.notice(q, describeError(err))
}

// notice отвечает на нажатие сообщением в том же чате.
func (h *Handler) notice(q *tgbotapi.CallbackQuery, text string) {
	if q.From.UserName != "" {
		text = domain.Mention(q.From.UserName) + ", " + text
	}
	msg := &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: q.From.ID}}
	if q.Message != nil && q.Message.Chat != nil {
		msg = &tgbotapi.Message{MessageID: q.Message.MessageID, Chat: q.Message.Chat}
	}
	h.reply(msg, text)
}

func (h *Handler) requireUsername(msg *tgbotapi.Message) (string, bool) {
	if msg.From == nil || msg.From.UserName == "" {
		h.reply(msg, "Для этой команды нужен username в Telegram.")
		return "", false
	}
	return msg.From.UserName, true
}

func (h *Handler) resolve(ctx context.Context, msg *tgbotapi.Message, keyword string) (domain.Submission, bool) {
	sub, err := h.reviews.ResolveKeyword(ctx, keyword)
	if err != nil {
		h.replyError(msg, err, "resolve")
		return domain.Submission{}, false
	}
	return sub, true
}

func (h *Handler) replyError(msg *tgbotapi.Message, err error, op string) {
	if !isExpected(err) {
		h.log.Error().Err(err).Str("command", op).Msg("ошибка команды")
	}
	h.reply(msg, describeError(err))
}

func isExpected(err error) bool {
	var amb *domain.AmbiguousMatchError
	if errors.As(err, &amb) {
		return true
	}
	for _, target := range []error{
		domain.ErrNotFound, domain.ErrAlreadyRecorded, domain.ErrForbidden, domain.ErrNoActiveProposal,
		domain.ErrSelfSecond, domain.ErrConsensusNotReached, domain.ErrNotUnderReview, domain.ErrTerminal,
		domain.ErrEmptyRoster, domain.ErrEmptyReason,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// describeError переводит ошибку сценария в ответ пользователю.
func describeError(err error) string {
	var amb *domain.AmbiguousMatchError
	if errors.As(err, &amb) {
		lines := make([]string, 0, len(amb.Matches))
		for _, s := range amb.Matches {
			lines = append(lines, fmt.Sprintf("#%d «%s»", s.ID, s.Title))
		}
		return fmt.Sprintf("По ключу «%s» найдено несколько статей:\n%s\nУточните ключ.", amb.Keyword, strings.Join(lines, "\n"))
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "Не найдено: нет такой статьи или назначения на вас."
	case errors.Is(err, domain.ErrAlreadyRecorded):
		return "Уже учтено."
	case errors.Is(err, domain.ErrForbidden):
		return "Это может сделать только оператор."
	case errors.Is(err, domain.ErrNoActiveProposal):
		return "Нет активного предложения об отказе."
	case errors.Is(err, domain.ErrSelfSecond):
		return "Нельзя поддержать собственное предложение."
	case errors.Is(err, domain.ErrConsensusNotReached):
		return fmt.Sprintf("Нужно %d поддержки, прежде чем подтверждать отказ.", domain.ConsensusThreshold)
	case errors.Is(err, domain.ErrNotUnderReview):
		return "Статья сейчас не на рецензии."
	case errors.Is(err, domain.ErrTerminal):
		return "Статья уже закрыта."
	case errors.Is(err, domain.ErrEmptyRoster):
		return "Укажите хотя бы одного рецензента."
	case errors.Is(err, domain.ErrEmptyReason):
		return "Укажите причину отказа."
	default:
		return "Что-то пошло не так, попробуйте позже."
	}
}

// ParseKeyword очищает ключ поиска от пробелов и кавычек.
func ParseKeyword(args string) string {
	return strings.Trim(strings.TrimSpace(args), `"'«»`)
}

// ParseRejectArgs делит аргументы /reject на ключ (первое слово) и причину.
func ParseRejectArgs(args string) (string, string, error) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return "", "", errors.New("нужны ключ и причина")
	}
	keyword := ParseKeyword(fields[0])
	reason := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(args), fields[0]))
	if keyword == "" || reason == "" {
		return "", "", errors.New("нужны ключ и причина")
	}
	return keyword, reason, nil
}

// ParseOverrideArgs разбирает "/override <id> @user1 @user2".
func ParseOverrideArgs(args string) (int64, []string, error) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return 0, nil, errors.New("нужны id и хотя бы один рецензент")
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(fields[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, nil, fmt.Errorf("некорректный id %q", fields[0])
	}
	var reviewers []string
	for _, f := range fields[1:] {
		reviewers = append(reviewers, strings.Split(f, ",")...)
	}
	reviewers = domain.NormalizeRoster(reviewers)
	if len(reviewers) == 0 {
		return 0, nil, errors.New("нужен хотя бы один рецензент")
	}
	return id, reviewers, nil
}

func (h *Handler) reply(msg *tgbotapi.Message, text string) {
	for i, part := range telegram.SplitMessage(text) {
		out := tgbotapi.NewMessage(msg.Chat.ID, part)
		if i == 0 {
			out.ReplyToMessageID = msg.MessageID
		}
		start := time.Now()
		_, err := h.api.Send(out)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(msg.Chat.ID, 10), start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			h.log.Error().Err(err).Msg("не удалось отправить сообщение")
			return
		}
	}
}

func (h *Handler) answer(q *tgbotapi.CallbackQuery, text string, alert bool) {
	cfg := tgbotapi.NewCallback(q.ID, text)
	if alert {
		cfg = tgbotapi.NewCallbackWithAlert(q.ID, text)
	}
	start := time.Now()
	_, err := h.api.Request(cfg)
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", "callback", start, err)
	if err != nil {
		h.log.Warn().Err(err).Msg("не удалось ответить на нажатие")
	}
}
