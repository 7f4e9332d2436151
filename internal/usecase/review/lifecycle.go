package review

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/NIC619/tem-operator-bot/internal/domain"
	"github.com/NIC619/tem-operator-bot/internal/infra/metrics"
)

// Admit регистрирует входящую статью. Повторный внешний id ничего не меняет.
// Подбор рецензентов выполняется в фоновом пуле.
func (s *Service) Admit(ctx context.Context, in domain.InboundSubmission) (domain.Submission, bool, error) {
	if strings.TrimSpace(in.ExternalID) == "" {
		return domain.Submission{}, false, errors.New("admit: пустой внешний id письма")
	}
	sub, created, err := s.repo.CreateSubmission(ctx, in)
	if err != nil {
		return domain.Submission{}, false, fmt.Errorf("создание статьи: %w", err)
	}
	log := s.subLog(sub.ID).With().Str("external_id", in.ExternalID).Logger()
	if !created {
		log.Info().Msg("письмо уже обработано, пропускаем")
		return sub, false, nil
	}
	metrics.SubmissionsAdmitted.Inc()
	log.Info().Str("title", sub.Title).Msg("новая статья")
	s.emit(ctx, domain.ReviewEvent{Type: domain.EventSubmissionAdmitted, SubmissionID: sub.ID, Status: sub.Status})

	s.tasks.Go("assign_reviewers", func(ctx context.Context) error {
		return s.assignInitial(ctx, sub)
	})
	return sub, true, nil
}

// assignInitial спрашивает оракула и создаёт первые назначения. При ошибке оракула статья
// остаётся в pending_assignment до ручного /override.
func (s *Service) assignInitial(ctx context.Context, sub domain.Submission) error {
	log := s.subLog(sub.ID)
	req := s.oracleRequest(ctx, sub, nil, "")
	pick, err := s.oracle.PickReviewers(ctx, req)
	var reviewers []string
	if err == nil {
		reviewers = pick.Reviewers()
		if len(reviewers) == 0 {
			err = fmt.Errorf("%w: пустой список", domain.ErrInvalidOracleResponse)
		}
	}
	if err != nil {
		metrics.IncOracleFailure("admit")
		log.Error().Err(err).Msg("оракул не подобрал рецензентов")
		s.post(ctx, log, domain.ChatMessage{Text: announcementText(sub, domain.OraclePick{}) + "\n\n" + oracleFailedText(sub, err)})
		s.emit(ctx, domain.ReviewEvent{Type: domain.EventOracleFailed, SubmissionID: sub.ID, Attributes: map[string]string{"stage": "admit"}})
		return nil
	}

	if _, err := s.repo.StartAssignment(ctx, sub.ID, reviewers); err != nil {
		return fmt.Errorf("назначение рецензентов статьи #%d: %w", sub.ID, err)
	}
	metrics.IncTransition(string(domain.SubmissionAssigning))
	log.Info().Strs("reviewers", reviewers).Str("category", pick.Category).Msg("рецензенты назначены")

	s.post(ctx, log, domain.ChatMessage{Text: announcementText(sub, pick)})
	msgID := s.post(ctx, log, domain.ChatMessage{
		Text:    assignPromptText(sub, reviewers),
		Buttons: domain.AcceptDeclineButtons(sub.ID, reviewers),
	})
	s.rememberStatusMessage(ctx, log, sub.ID, msgID)
	s.emit(ctx, domain.ReviewEvent{
		Type:         domain.EventSubmissionAssigning,
		SubmissionID: sub.ID,
		Status:       domain.SubmissionAssigning,
		Attributes:   map[string]string{"reviewers": strings.Join(reviewers, ","), "category": pick.Category},
	})
	return nil
}

// ApplyOverride заменяет нерешённые назначения списком оператора и снова просит подтверждения.
// Подтвердившие и закончившие рецензенты сохраняются. Повторный вызов безопасен.
func (s *Service) ApplyOverride(ctx context.Context, submissionID, callerChatID int64, reviewers []string) (domain.Roster, error) {
	if !s.cfg.Operator.Allows(callerChatID) {
		return nil, domain.ErrForbidden
	}
	list := domain.NormalizeRoster(reviewers)
	if len(list) == 0 {
		return nil, domain.ErrEmptyRoster
	}
	sub, err := s.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status.Terminal() {
		return nil, domain.ErrTerminal
	}
	roster, err := s.repo.ReplaceAssignments(ctx, submissionID, list)
	if err != nil {
		return nil, fmt.Errorf("переназначение статьи #%d: %w", submissionID, err)
	}
	log := s.subLog(submissionID)
	metrics.IncTransition(string(domain.SubmissionAssigning))
	log.Info().Strs("reviewers", list).Msg("оператор переназначил рецензентов")

	msgID := s.post(ctx, log, domain.ChatMessage{
		Text:    overridePromptText(sub, list),
		Buttons: domain.AcceptDeclineButtons(sub.ID, list),
	})
	s.rememberStatusMessage(ctx, log, sub.ID, msgID)
	s.emit(ctx, domain.ReviewEvent{
		Type:         domain.EventAssignmentOverridden,
		SubmissionID: sub.ID,
		Status:       domain.SubmissionAssigning,
		Attributes:   map[string]string{"reviewers": strings.Join(list, ",")},
	})
	return roster, nil
}

// advanceOnAllConfirmed переводит статью на рецензию, когда среди неотказавшихся не осталось ожидающих.
func (s *Service) advanceOnAllConfirmed(ctx context.Context, submissionID int64, roster domain.Roster) error {
	if !roster.AllConfirmed() {
		return nil
	}
	moved, err := s.repo.MarkUnderReview(ctx, submissionID, s.now().Add(s.cfg.FollowupInterval))
	if err != nil {
		return fmt.Errorf("перевод статьи #%d на рецензию: %w", submissionID, err)
	}
	if !moved {
		return nil
	}
	log := s.subLog(submissionID)
	metrics.IncTransition(string(domain.SubmissionUnderReview))
	sub, err := s.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("статья #%d после перехода: %w", submissionID, err)
	}
	confirmed := roster.WithStatus(domain.AssignmentConfirmed).Reviewers()
	log.Info().Strs("reviewers", confirmed).Msg("статья на рецензии")

	s.sendReply(sub, domain.ReplyUnderReview, domain.ReplyArgs{})
	msgID := s.post(ctx, log, domain.ChatMessage{
		Text:    underReviewText(sub, confirmed, s.cfg.FollowupInterval),
		Buttons: domain.DoneButtons(sub.ID, confirmed),
	})
	s.rememberStatusMessage(ctx, log, sub.ID, msgID)
	s.emit(ctx, domain.ReviewEvent{Type: domain.EventSubmissionUnderReview, SubmissionID: sub.ID, Status: domain.SubmissionUnderReview})
	return nil
}

// advanceOnAllDone принимает статью, когда все подтвердившие закончили, иначе сообщает, кого ждём.
func (s *Service) advanceOnAllDone(ctx context.Context, submissionID int64, finished string, roster domain.Roster) error {
	log := s.subLog(submissionID)
	if roster.AllDone() {
		publishAt := s.cfg.Publish.Next(s.now())
		moved, err := s.repo.MarkAccepted(ctx, submissionID, publishAt)
		if err != nil {
			return fmt.Errorf("принятие статьи #%d: %w", submissionID, err)
		}
		if !moved {
			return nil
		}
		metrics.IncTransition(string(domain.SubmissionAccepted))
		sub, err := s.repo.GetSubmission(ctx, submissionID)
		if err != nil {
			return fmt.Errorf("статья #%d после принятия: %w", submissionID, err)
		}
		log.Info().Time("publish_at", publishAt).Msg("статья принята")
		s.post(ctx, log, domain.ChatMessage{Text: acceptedText(sub, publishAt)})
		s.sendReply(sub, domain.ReplyAccepted, domain.ReplyArgs{PublishAt: publishAt})
		s.emit(ctx, domain.ReviewEvent{
			Type:         domain.EventSubmissionAccepted,
			SubmissionID: sub.ID,
			Status:       domain.SubmissionAccepted,
			Attributes:   map[string]string{"publish_at": publishAt.Format("2006-01-02T15:04:05Z07:00")},
		})
		return nil
	}

	var waiting []string
	for _, a := range roster.WithStatus(domain.AssignmentConfirmed) {
		if !domain.SameIdentity(a.Reviewer, finished) {
			waiting = append(waiting, a.Reviewer)
		}
	}
	if len(waiting) == 0 {
		return nil
	}
	sub, err := s.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("статья #%d: %w", submissionID, err)
	}
	s.post(ctx, log, domain.ChatMessage{Text: waitingText(sub, finished, waiting)})
	return nil
}

// Reject отклоняет статью и отправляет автору причину из активного предложения.
func (s *Service) Reject(ctx context.Context, submissionID int64) error {
	moved, err := s.repo.MarkRejected(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("отклонение статьи #%d: %w", submissionID, err)
	}
	if !moved {
		return domain.ErrAlreadyRecorded
	}
	log := s.subLog(submissionID)
	metrics.IncTransition(string(domain.SubmissionRejected))
	sub, err := s.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("статья #%d после отказа: %w", submissionID, err)
	}
	reason := ""
	if p, err := s.repo.ActiveRejection(ctx, submissionID); err == nil {
		reason = p.Reason
	} else {
		log.Warn().Err(err).Msg("нет активного предложения, письмо без причины")
	}
	log.Info().Msg("статья отклонена")
	s.post(ctx, log, domain.ChatMessage{Text: rejectedText(sub, reason)})
	s.sendReply(sub, domain.ReplyRejected, domain.ReplyArgs{Reason: reason})
	s.emit(ctx, domain.ReviewEvent{Type: domain.EventSubmissionRejected, SubmissionID: sub.ID, Status: domain.SubmissionRejected})
	return nil
}
