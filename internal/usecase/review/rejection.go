package review

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/NIC619/tem-operator-bot/internal/domain"
)

// Propose создаёт новое предложение отказа; оно вытесняет предыдущее.
func (s *Service) Propose(ctx context.Context, submissionID int64, proposer, reason string) (domain.RejectionProposal, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.RejectionProposal{}, domain.ErrEmptyReason
	}
	proposer = domain.NormalizeIdentity(proposer)
	sub, err := s.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return domain.RejectionProposal{}, err
	}
	if sub.Status.Terminal() {
		return domain.RejectionProposal{}, domain.ErrTerminal
	}
	p, err := s.repo.CreateRejection(ctx, submissionID, proposer, reason)
	if err != nil {
		return domain.RejectionProposal{}, fmt.Errorf("создание предложения об отказе: %w", err)
	}
	log := s.subLog(submissionID).With().Int64("proposal", p.ID).Logger()
	log.Info().Str("proposer", proposer).Msg("предложен отказ")

	if msgID := s.post(ctx, log, proposalMessage(sub, p)); msgID != 0 {
		if err := s.repo.SetRejectionMessage(ctx, p.ID, msgID); err != nil {
			log.Warn().Err(err).Msg("не удалось сохранить id сообщения предложения")
		} else {
			p.ChatMessageID = msgID
		}
	}
	s.emit(ctx, domain.ReviewEvent{Type: domain.EventRejectionProposed, SubmissionID: submissionID, Reviewer: proposer})
	return p, nil
}

// Second добавляет поддержку активного предложения и обновляет сообщение в чате.
func (s *Service) Second(ctx context.Context, submissionID int64, seconder string) (domain.RejectionProposal, error) {
	seconder = domain.NormalizeIdentity(seconder)
	sub, err := s.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return domain.RejectionProposal{}, err
	}
	if sub.Status.Terminal() {
		return domain.RejectionProposal{}, domain.ErrTerminal
	}
	p, added, err := s.repo.AddSeconder(ctx, submissionID, seconder)
	if err != nil {
		return p, err
	}
	if !added {
		return p, domain.ErrAlreadyRecorded
	}
	log := s.subLog(submissionID).With().Int64("proposal", p.ID).Logger()
	log.Info().Str("seconder", seconder).Int("seconders", len(p.Seconders)).Msg("отказ поддержан")

	msg := proposalMessage(sub, p)
	edited := false
	if p.ChatMessageID != 0 {
		if err := s.chat.Edit(ctx, p.ChatMessageID, msg); err != nil {
			log.Warn().Err(err).Msg("не удалось обновить сообщение предложения, отправляем новое")
		} else {
			edited = true
		}
	}
	if !edited {
		if msgID := s.post(ctx, log, msg); msgID != 0 {
			if err := s.repo.SetRejectionMessage(ctx, p.ID, msgID); err == nil {
				p.ChatMessageID = msgID
			}
		}
	}
	s.emit(ctx, domain.ReviewEvent{
		Type:         domain.EventRejectionSeconded,
		SubmissionID: submissionID,
		Reviewer:     seconder,
		Attributes:   map[string]string{"seconders": strconv.Itoa(len(p.Seconders))},
	})
	return p, nil
}

// Confirm подтверждает отказ. Доступно только оператору и только после набора порога.
func (s *Service) Confirm(ctx context.Context, submissionID, callerChatID int64) error {
	if !s.cfg.Operator.Allows(callerChatID) {
		return domain.ErrForbidden
	}
	p, err := s.repo.ActiveRejection(ctx, submissionID)
	if err != nil {
		return err
	}
	if !p.Ready() {
		return domain.ErrConsensusNotReached
	}
	return s.Reject(ctx, submissionID)
}
