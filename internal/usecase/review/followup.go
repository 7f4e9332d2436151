package review

import (
	"context"
	"fmt"

	"github.com/NIC619/tem-operator-bot/internal/domain"
	"github.com/NIC619/tem-operator-bot/internal/infra/metrics"
)

// RunDueFollowups рассылает наступившие напоминания и планирует следующие.
// Возвращает число отправленных напоминаний.
func (s *Service) RunDueFollowups(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.repo.DueFollowups(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("выборка напоминаний: %w", err)
	}
	sent := 0
	for _, f := range due {
		if err := s.sendFollowup(ctx, f); err != nil {
			log := s.subLog(f.SubmissionID)
			log.Error().Err(err).Int64("followup", f.ID).Msg("напоминание не отправлено")
			continue
		}
		sent++
	}
	return sent, nil
}

// sendFollowup напоминает рецензентам, которые ещё не закончили. При ошибке отправки
// напоминание остаётся неотправленным и будет взято следующей проверкой.
func (s *Service) sendFollowup(ctx context.Context, f domain.Followup) error {
	sub, err := s.repo.GetSubmission(ctx, f.SubmissionID)
	if err != nil {
		return err
	}
	if sub.Status != domain.SubmissionUnderReview {
		return nil
	}
	roster, err := s.repo.ListAssignments(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("назначения статьи #%d: %w", sub.ID, err)
	}
	open := roster.WithStatus(domain.AssignmentConfirmed).Reviewers()
	if len(open) > 0 {
		if _, err := s.chat.Post(ctx, followupMessage(sub, open)); err != nil {
			metrics.IncDeliveryFailure("chat")
			return fmt.Errorf("%w: %v", domain.ErrDeliveryFailure, err)
		}
	}
	next := s.now().Add(s.cfg.FollowupInterval)
	rolled, err := s.repo.RollFollowup(ctx, f.ID, next)
	if err != nil {
		return fmt.Errorf("перепланирование напоминания: %w", err)
	}
	if !rolled {
		return nil
	}
	metrics.FollowupsSent.Inc()
	log := s.subLog(sub.ID)
	log.Info().Strs("reviewers", open).Time("next", next).Msg("напоминание отправлено")
	s.emit(ctx, domain.ReviewEvent{Type: domain.EventFollowupSent, SubmissionID: sub.ID, Status: sub.Status})
	return nil
}
