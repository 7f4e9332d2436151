package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/NIC619/tem-operator-bot/internal/domain"
)

// CursorKey ключ курсора опроса ящика в bot_state.
const CursorKey = "mailbox_last_poll_ts"

const defaultLookback = 24 * time.Hour

// Admitter регистрирует входящую статью.
type Admitter interface {
	Admit(ctx context.Context, in domain.InboundSubmission) (domain.Submission, bool, error)
}

// Result итог одного опроса.
type Result struct {
	Fetched  int
	Admitted int
	Failed   int
}

// Service опрашивает ящик с момента последнего успешного опроса.
type Service struct {
	mailbox  domain.MailboxPoller
	state    domain.StateRepo
	admitter Admitter
	chat     domain.ChatNotifier
	filter   domain.MailboxFilter
	lookback time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewService создаёт сервис. lookback задаёт глубину первого опроса без курсора.
func NewService(mailbox domain.MailboxPoller, state domain.StateRepo, admitter Admitter, chat domain.ChatNotifier,
	filter domain.MailboxFilter, lookback time.Duration, logger zerolog.Logger) *Service {
	if lookback <= 0 {
		lookback = defaultLookback
	}
	return &Service{
		mailbox:  mailbox,
		state:    state,
		admitter: admitter,
		chat:     chat,
		filter:   filter,
		lookback: lookback,
		log:      logger,
		now:      time.Now,
	}
}

// Poll забирает новые письма и регистрирует статьи. Курсор сдвигается на момент начала
// опроса только после успешного чтения ящика; повторная выдача писем гасится идемпотентным Admit.
func (s *Service) Poll(ctx context.Context) (Result, error) {
	started := s.now().UTC()
	since, err := s.cursor(ctx, started)
	if err != nil {
		return Result{}, err
	}

	items, err := s.mailbox.PollSince(ctx, since, s.filter)
	if err != nil {
		s.log.Error().Err(err).Time("since", since).Msg("опрос ящика не удался")
		if s.chat != nil {
			if nerr := s.chat.NotifyOperator(ctx, fmt.Sprintf("⚠️ Не удалось прочитать почту: %v", err)); nerr != nil {
				s.log.Warn().Err(nerr).Msg("не удалось уведомить оператора")
			}
		}
		return Result{}, fmt.Errorf("опрос ящика: %w", err)
	}
	if err := s.state.SetState(ctx, CursorKey, started.Format(time.RFC3339)); err != nil {
		return Result{}, fmt.Errorf("сохранение курсора: %w", err)
	}

	res := Result{Fetched: len(items)}
	for _, in := range items {
		_, created, err := s.admitter.Admit(ctx, in)
		if err != nil {
			res.Failed++
			s.log.Error().Err(err).Str("external_id", in.ExternalID).Msg("не удалось зарегистрировать статью")
			continue
		}
		if created {
			res.Admitted++
		}
	}
	s.log.Info().Time("since", since).Int("fetched", res.Fetched).Int("admitted", res.Admitted).Msg("ящик опрошен")
	return res, nil
}

func (s *Service) cursor(ctx context.Context, now time.Time) (time.Time, error) {
	raw, ok, err := s.state.GetState(ctx, CursorKey)
	if err != nil {
		return time.Time{}, fmt.Errorf("чтение курсора: %w", err)
	}
	if !ok {
		return now.Add(-s.lookback), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		s.log.Warn().Str("value", raw).Msg("некорректный курсор ящика, берём окно по умолчанию")
		return now.Add(-s.lookback), nil
	}
	return ts, nil
}
