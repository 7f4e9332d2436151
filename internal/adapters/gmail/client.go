package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/NIC619/tem-operator-bot/internal/domain"
	"github.com/NIC619/tem-operator-bot/internal/infra/metrics"
)

const (
	me            = "me"
	maxListResult = 50
)

// api подмножество Gmail REST API, которым пользуется шлюз.
type api interface {
	ListMessageIDs(ctx context.Context, query string, limit int64) ([]string, error)
	GetRaw(ctx context.Context, id string) (*gmailv1.Message, error)
	ThreadSize(ctx context.Context, threadID string) (int, error)
	Send(ctx context.Context, msg *gmailv1.Message) error
}

// Client почтовый шлюз: читает новые статьи и отвечает авторам в их ветке.
type Client struct {
	api      api
	from     string
	fromName string
	log      zerolog.Logger
}

// New создаёт клиента поверх Gmail API.
func New(ctx context.Context, ts oauth2.TokenSource, from, fromName string, logger zerolog.Logger) (*Client, error) {
	svc, err := gmailv1.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("gmail: %w", err)
	}
	return newClient(&serviceAPI{svc: svc}, from, fromName, logger), nil
}

func newClient(a api, from, fromName string, logger zerolog.Logger) *Client {
	return &Client{api: a, from: from, fromName: fromName, log: logger}
}

var (
	_ domain.MailboxPoller = (*Client)(nil)
	_ domain.ReplySender   = (*Client)(nil)
)

// BuildQuery строит поисковый запрос Gmail. Вложенные метки передаются без кавычек.
func BuildQuery(since time.Time, filter domain.MailboxFilter) string {
	parts := []string{fmt.Sprintf("after:%d", since.Unix())}
	if label := strings.TrimSpace(filter.Label); label != "" {
		parts = append(parts, "label:"+label)
	} else {
		parts = append(parts, "in:inbox")
	}
	if prefix := strings.TrimSpace(filter.SubjectPrefix); prefix != "" {
		parts = append(parts, fmt.Sprintf("subject:%q", prefix))
	}
	return strings.Join(parts, " ")
}

// PollSince возвращает новые статьи. Ответы и ветки из нескольких писем пропускаются,
// ошибка отдельного письма только логируется.
func (c *Client) PollSince(ctx context.Context, since time.Time, filter domain.MailboxFilter) ([]domain.InboundSubmission, error) {
	query := BuildQuery(since, filter)
	ids, err := c.api.ListMessageIDs(ctx, query, maxListResult)
	if err != nil {
		return nil, fmt.Errorf("список писем: %w", err)
	}
	c.log.Info().Str("query", query).Int("messages", len(ids)).Msg("опрос почты")

	out := make([]domain.InboundSubmission, 0, len(ids))
	for _, id := range ids {
		log := c.log.With().Str("message", id).Logger()
		msg, err := c.api.GetRaw(ctx, id)
		if err != nil {
			log.Error().Err(err).Msg("не удалось получить письмо")
			continue
		}
		in, err := parseMessage(msg)
		if errors.Is(err, errReplyInMail) {
			log.Debug().Msg("пропущено: ответ в ветке")
			continue
		}
		if err != nil {
			log.Error().Err(err).Msg("не удалось разобрать письмо")
			continue
		}
		size, err := c.api.ThreadSize(ctx, in.ThreadID)
		if err != nil {
			log.Error().Err(err).Msg("не удалось получить ветку")
			continue
		}
		if size > 1 {
			log.Debug().Int("thread_size", size).Msg("пропущено: в ветке уже есть ответы")
			continue
		}
		out = append(out, in)
	}
	return out, nil
}

// SendReply отправляет письмо по шаблону в ветку исходного письма.
func (c *Client) SendReply(ctx context.Context, sub domain.Submission, kind domain.ReplyKind, args domain.ReplyArgs) error {
	if sub.AuthorEmail == "" {
		return fmt.Errorf("%w: у статьи #%d нет адреса автора", domain.ErrDeliveryFailure, sub.ID)
	}
	body, err := RenderReply(kind, sub, args, c.fromName)
	if err != nil {
		return err
	}
	raw, err := c.compose(sub, body)
	if err != nil {
		return fmt.Errorf("%w: сборка письма: %w", domain.ErrDeliveryFailure, err)
	}
	msg := &gmailv1.Message{Raw: base64.URLEncoding.EncodeToString(raw), ThreadId: sub.ThreadID}
	if err := c.api.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailure, err)
	}
	c.log.Info().Int64("submission", sub.ID).Str("kind", string(kind)).Msg("письмо автору отправлено")
	return nil
}

func (c *Client) compose(sub domain.Submission, body string) ([]byte, error) {
	subject := sub.Subject
	if subject == "" {
		subject = sub.Title
	}
	b := enmime.Builder().
		From(c.fromName, c.from).
		To(sub.AuthorName, sub.AuthorEmail).
		Subject("Re: " + CleanSubject(subject)).
		Text([]byte(body))
	if sub.MessageIDHeader != "" {
		b = b.Header("In-Reply-To", sub.MessageIDHeader).Header("References", sub.MessageIDHeader)
	}
	part, err := b.Build()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type serviceAPI struct {
	svc *gmailv1.Service
}

func (s *serviceAPI) ListMessageIDs(ctx context.Context, query string, limit int64) (ids []string, err error) {
	start := time.Now()
	defer func() { metrics.ObserveNetworkRequest("gmail", "list_messages", me, start, err) }()
	resp, err := s.svc.Users.Messages.List(me).Q(query).MaxResults(limit).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

func (s *serviceAPI) GetRaw(ctx context.Context, id string) (msg *gmailv1.Message, err error) {
	start := time.Now()
	defer func() { metrics.ObserveNetworkRequest("gmail", "get_message", me, start, err) }()
	return s.svc.Users.Messages.Get(me, id).Format("raw").Context(ctx).Do()
}

func (s *serviceAPI) ThreadSize(ctx context.Context, threadID string) (n int, err error) {
	start := time.Now()
	defer func() { metrics.ObserveNetworkRequest("gmail", "get_thread", me, start, err) }()
	th, err := s.svc.Users.Threads.Get(me, threadID).Format("minimal").Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	return len(th.Messages), nil
}

func (s *serviceAPI) Send(ctx context.Context, msg *gmailv1.Message) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveNetworkRequest("gmail", "send_message", me, start, err) }()
	_, err = s.svc.Users.Messages.Send(me, msg).Context(ctx).Do()
	return err
}
