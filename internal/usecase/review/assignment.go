package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/NIC619/tem-operator-bot/internal/domain"
	"github.com/NIC619/tem-operator-bot/internal/infra/metrics"
)

// Accept фиксирует согласие рецензента. Повторное нажатие возвращает domain.ErrAlreadyRecorded.
func (s *Service) Accept(ctx context.Context, submissionID int64, reviewer string, chatID int64) error {
	roster, err := s.repo.RespondAssignment(ctx, submissionID, reviewer, chatID, domain.AssignmentConfirmed)
	if err != nil {
		return err
	}
	log := s.subLog(submissionID)
	log.Info().Str("reviewer", reviewer).Msg("рецензент подтвердил участие")
	s.emit(ctx, domain.ReviewEvent{Type: domain.EventAssignmentConfirmed, SubmissionID: submissionID, Reviewer: reviewer})
	return s.advanceOnAllConfirmed(ctx, submissionID, roster)
}

// Decline фиксирует отказ рецензента и запускает поиск замены в фоне.
func (s *Service) Decline(ctx context.Context, submissionID int64, reviewer string, chatID int64) error {
	roster, err := s.repo.RespondAssignment(ctx, submissionID, reviewer, chatID, domain.AssignmentDeclined)
	if err != nil {
		return err
	}
	log := s.subLog(submissionID)
	log.Info().Str("reviewer", reviewer).Msg("рецензент отказался")
	s.emit(ctx, domain.ReviewEvent{Type: domain.EventAssignmentDeclined, SubmissionID: submissionID, Reviewer: reviewer})

	s.tasks.Go("replace_reviewer", func(ctx context.Context) error {
		return s.findReplacement(ctx, submissionID, reviewer, roster)
	})
	return nil
}

// findReplacement просит оракула о замене, исключая весь текущий состав. Кандидат из списка
// исключений считается ошибкой оракула, и оператор получает готовую команду /override.
func (s *Service) findReplacement(ctx context.Context, submissionID int64, declined string, roster domain.Roster) error {
	log := s.subLog(submissionID).With().Str("declined", declined).Logger()
	sub, err := s.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("статья #%d для замены: %w", submissionID, err)
	}
	excluded := roster.AllIdentities()
	pick, err := s.oracle.PickReviewers(ctx, s.oracleRequest(ctx, sub, excluded, declined))

	candidate := ""
	if err == nil {
		candidate = domain.NormalizeIdentity(pick.Reviewer1)
		switch {
		case candidate == "":
			err = fmt.Errorf("%w: пустой кандидат", domain.ErrInvalidOracleResponse)
		case domain.ContainsIdentity(excluded, candidate):
			err = fmt.Errorf("%w: %s уже в составе", domain.ErrInvalidOracleResponse, domain.Mention(candidate))
		}
	}
	if err != nil {
		metrics.IncOracleFailure("replacement")
		log.Error().Err(err).Msg("замену подобрать не удалось")
		confirmed := roster.WithStatus(domain.AssignmentConfirmed).Reviewers()
		s.post(ctx, log, domain.ChatMessage{Text: replacementFailedText(sub, declined, confirmed, err.Error())})
		s.emit(ctx, domain.ReviewEvent{Type: domain.EventOracleFailed, SubmissionID: sub.ID, Reviewer: declined, Attributes: map[string]string{"stage": "replacement"}})
		return nil
	}

	if _, err := s.repo.AddAssignment(ctx, sub.ID, candidate); err != nil {
		if errors.Is(err, domain.ErrTerminal) {
			log.Info().Str("candidate", candidate).Msg("статья уже закрыта, замена не нужна")
			return nil
		}
		return fmt.Errorf("добавление замены %s: %w", candidate, err)
	}
	log.Info().Str("candidate", candidate).Msg("назначена замена")
	s.post(ctx, log, domain.ChatMessage{
		Text:    replacementText(sub, declined, candidate),
		Buttons: domain.AcceptDeclineButtons(sub.ID, []string{candidate}),
	})
	s.emit(ctx, domain.ReviewEvent{Type: domain.EventAssignmentReplaced, SubmissionID: sub.ID, Reviewer: candidate, Attributes: map[string]string{"declined": declined}})
	return nil
}

// MarkDone отмечает рецензию выполненной и при необходимости принимает статью.
func (s *Service) MarkDone(ctx context.Context, submissionID int64, reviewer string, chatID int64) error {
	roster, err := s.repo.CompleteAssignment(ctx, submissionID, reviewer, chatID)
	if err != nil {
		return err
	}
	log := s.subLog(submissionID)
	log.Info().Str("reviewer", reviewer).Msg("рецензия выполнена")
	s.emit(ctx, domain.ReviewEvent{Type: domain.EventAssignmentDone, SubmissionID: submissionID, Reviewer: reviewer})
	return s.advanceOnAllDone(ctx, submissionID, reviewer, roster)
}
