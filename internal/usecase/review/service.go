package review

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/NIC619/tem-operator-bot/internal/domain"
	"github.com/NIC619/tem-operator-bot/internal/infra/metrics"
)

const (
	defaultBodyLimit  = 3000
	replyIdempotency  = 30 * 24 * time.Hour
	defaultFollowup   = 3 * 24 * time.Hour
	defaultHistoryWin = 90 * 24 * time.Hour
)

// Config неизменяемые параметры процесса рецензирования.
type Config struct {
	FollowupInterval time.Duration
	HistoryWindow    time.Duration
	Publish          domain.PublishSchedule
	Operator         domain.Operator
	BodyLimit        int
}

// Deps внешние зависимости сервиса.
type Deps struct {
	Repo   domain.ReviewRepo
	Oracle domain.ReviewerOracle
	Mail   domain.ReplySender
	Chat   domain.ChatNotifier
	Tasks  domain.TaskRunner
	Events domain.EventPublisher
	// Cache защищает от повторной отправки одного и того же письма автору. Может быть nil.
	Cache domain.Cache
}

// Service реализует жизненный цикл статьи, назначение рецензентов и консенсус по отказу.
type Service struct {
	repo   domain.ReviewRepo
	oracle domain.ReviewerOracle
	mail   domain.ReplySender
	chat   domain.ChatNotifier
	tasks  domain.TaskRunner
	events domain.EventPublisher
	cache  domain.Cache
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time
}

// NewService создаёт сервис.
func NewService(deps Deps, cfg Config, logger zerolog.Logger) *Service {
	if cfg.FollowupInterval <= 0 {
		cfg.FollowupInterval = defaultFollowup
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWin
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = defaultBodyLimit
	}
	return &Service{
		repo:   deps.Repo,
		oracle: deps.Oracle,
		mail:   deps.Mail,
		chat:   deps.Chat,
		tasks:  deps.Tasks,
		events: deps.Events,
		cache:  deps.Cache,
		cfg:    cfg,
		log:    logger,
		now:    time.Now,
	}
}

// Operator возвращает настроенного оператора.
func (s *Service) Operator() domain.Operator {
	return s.cfg.Operator
}

func (s *Service) subLog(id int64) zerolog.Logger {
	return s.log.With().Int64("submission", id).Logger()
}

// post отправляет сообщение в группу; ошибка доставки только логируется.
func (s *Service) post(ctx context.Context, log zerolog.Logger, msg domain.ChatMessage) int {
	id, err := s.chat.Post(ctx, msg)
	if err != nil {
		metrics.IncDeliveryFailure("chat")
		log.Error().Err(err).Msg("не удалось отправить сообщение в чат")
		return 0
	}
	return id
}

func (s *Service) rememberStatusMessage(ctx context.Context, log zerolog.Logger, subID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if err := s.repo.SetStatusMessage(ctx, subID, messageID); err != nil {
		log.Warn().Err(err).Int("message_id", messageID).Msg("не удалось сохранить id статусного сообщения")
	}
}

// sendReply отправляет письмо автору в фоновом пуле. Переход статуса уже зафиксирован
// и не откатывается при ошибке доставки.
func (s *Service) sendReply(sub domain.Submission, kind domain.ReplyKind, args domain.ReplyArgs) {
	if s.mail == nil {
		return
	}
	s.tasks.Go("reply_"+string(kind), func(ctx context.Context) error {
		send := func() error { return s.mail.SendReply(ctx, sub, kind, args) }
		var err error
		if s.cache != nil {
			err = s.cache.Once(fmt.Sprintf("reply:%d:%s", sub.ID, kind), replyIdempotency, send)
		} else {
			err = send()
		}
		if err != nil {
			metrics.IncDeliveryFailure("email")
			return fmt.Errorf("%w: письмо %s для статьи #%d: %v", domain.ErrDeliveryFailure, kind, sub.ID, err)
		}
		log := s.subLog(sub.ID)
		log.Info().Str("kind", string(kind)).Str("to", sub.AuthorEmail).Msg("письмо автору отправлено")
		return nil
	})
}

func (s *Service) emit(ctx context.Context, event domain.ReviewEvent) {
	if s.events == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("event", string(event.Type)).Msg("не удалось опубликовать событие")
	}
}
