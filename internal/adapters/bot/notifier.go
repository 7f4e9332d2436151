package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/NIC619/tem-operator-bot/internal/adapters/telegram"
	"github.com/NIC619/tem-operator-bot/internal/domain"
	"github.com/NIC619/tem-operator-bot/internal/infra/metrics"
)

const (
	sendRetries   = 3
	maxRetryAfter = 30 * time.Second
)

// sender часть tgbotapi.BotAPI, которой пользуется бот.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Notifier публикует сообщения процесса рецензирования в группе редакции.
type Notifier struct {
	api        sender
	groupID    int64
	operatorID int64
	log        zerolog.Logger
	policy     func() backoff.BackOff
}

// NewNotifier создаёт notifier. operatorID может быть нулевым, тогда уведомления оператору идут в группу.
func NewNotifier(api sender, groupID, operatorID int64, log zerolog.Logger) *Notifier {
	return &Notifier{
		api:        api,
		groupID:    groupID,
		operatorID: operatorID,
		log:        log,
		policy: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), sendRetries)
		},
	}
}

var _ domain.ChatNotifier = (*Notifier)(nil)

// Post отправляет сообщение в группу. Длинный текст режется на части, кнопки
// прикрепляются к последней; возвращается id последней части.
func (n *Notifier) Post(ctx context.Context, msg domain.ChatMessage) (int, error) {
	markup, err := telegram.Keyboard(msg.Buttons)
	if err != nil {
		return 0, fmt.Errorf("клавиатура: %w", err)
	}
	parts := telegram.SplitMessage(msg.Text)
	if len(parts) == 0 {
		return 0, errors.New("пустое сообщение")
	}
	var lastID int
	for i, part := range parts {
		out := tgbotapi.NewMessage(n.groupID, part)
		out.DisableWebPagePreview = true
		if i == len(parts)-1 && markup != nil {
			out.ReplyMarkup = markup
		}
		var sent tgbotapi.Message
		err := n.retry(ctx, "send_message", n.groupID, func() error {
			var sendErr error
			sent, sendErr = n.api.Send(out)
			return sendErr
		})
		if err != nil {
			metrics.BotSendErrors.Inc()
			return 0, err
		}
		lastID = sent.MessageID
	}
	return lastID, nil
}

// Edit заменяет текст и кнопки сообщения. Сообщение без кнопок теряет клавиатуру.
func (n *Notifier) Edit(ctx context.Context, messageID int, msg domain.ChatMessage) error {
	markup, err := telegram.Keyboard(msg.Buttons)
	if err != nil {
		return fmt.Errorf("клавиатура: %w", err)
	}
	text := msg.Text
	if parts := telegram.SplitMessage(text); len(parts) > 0 {
		text = parts[0]
	}
	var edit tgbotapi.EditMessageTextConfig
	if markup != nil {
		edit = tgbotapi.NewEditMessageTextAndMarkup(n.groupID, messageID, text, *markup)
	} else {
		edit = tgbotapi.NewEditMessageText(n.groupID, messageID, text)
	}
	edit.DisableWebPagePreview = true
	err = n.retry(ctx, "edit_message", n.groupID, func() error {
		_, reqErr := n.api.Request(edit)
		if reqErr != nil && strings.Contains(reqErr.Error(), "message is not modified") {
			return nil
		}
		return reqErr
	})
	if err != nil {
		metrics.BotSendErrors.Inc()
	}
	return err
}

// NotifyOperator пишет оператору лично или в группу, если оператор не настроен.
func (n *Notifier) NotifyOperator(ctx context.Context, text string) error {
	chatID := n.operatorID
	if chatID == 0 {
		chatID = n.groupID
	}
	for _, part := range telegram.SplitMessage(text) {
		out := tgbotapi.NewMessage(chatID, part)
		if err := n.retry(ctx, "notify_operator", chatID, func() error {
			_, err := n.api.Send(out)
			return err
		}); err != nil {
			metrics.BotSendErrors.Inc()
			return err
		}
	}
	return nil
}

// retry повторяет сетевые сбои и 429. Прочие ошибки API не повторяются.
func (n *Notifier) retry(ctx context.Context, op string, chatID int64, fn func() error) error {
	target := strconv.FormatInt(chatID, 10)
	return backoff.Retry(func() error {
		start := time.Now()
		err := fn()
		metrics.ObserveNetworkRequest("telegram_bot", op, target, start, err)
		if err == nil {
			return nil
		}
		var apiErr *tgbotapi.Error
		if !errors.As(err, &apiErr) {
			n.log.Warn().Err(err).Str("op", op).Msg("сбой запроса к Telegram, повторяем")
			return err
		}
		if apiErr.RetryAfter <= 0 {
			return backoff.Permanent(err)
		}
		wait := time.Duration(apiErr.RetryAfter) * time.Second
		if wait > maxRetryAfter {
			return backoff.Permanent(err)
		}
		n.log.Warn().Dur("retry_after", wait).Str("op", op).Msg("Telegram просит подождать")
		select {
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		case <-time.After(wait):
		}
		return err
	}, backoff.WithContext(n.policy(), ctx))
}
