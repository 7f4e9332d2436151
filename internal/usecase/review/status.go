package review

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/NIC619/tem-operator-bot/internal/domain"
)

// ResolveKeyword находит единственную нефинальную статью по подстроке заголовка.
func (s *Service) ResolveKeyword(ctx context.Context, keyword string) (domain.Submission, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return domain.Submission{}, fmt.Errorf("%w: пустой ключ", domain.ErrNotFound)
	}
	matches, err := s.repo.SearchOpenByTitle(ctx, keyword)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("поиск по ключу %q: %w", keyword, err)
	}
	switch len(matches) {
	case 0:
		return domain.Submission{}, fmt.Errorf("%w: нет статьи по ключу %q", domain.ErrNotFound, keyword)
	case 1:
		return matches[0], nil
	default:
		return domain.Submission{}, &domain.AmbiguousMatchError{Keyword: keyword, Matches: matches}
	}
}

// Overview возвращает незакрытые статьи с актуальным составом рецензентов.
func (s *Service) Overview(ctx context.Context) ([]domain.SubmissionOverview, error) {
	subs, err := s.repo.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("список статей: %w", err)
	}
	out := make([]domain.SubmissionOverview, 0, len(subs))
	for _, sub := range subs {
		roster, err := s.repo.ListAssignments(ctx, sub.ID)
		if err != nil {
			return nil, fmt.Errorf("назначения статьи #%d: %w", sub.ID, err)
		}
		item := domain.SubmissionOverview{Submission: sub, Roster: roster.Latest()}
		p, err := s.repo.ActiveRejection(ctx, sub.ID)
		switch {
		case err == nil:
			item.Proposal = &p
		case !errors.Is(err, domain.ErrNoActiveProposal):
			return nil, fmt.Errorf("предложение по статье #%d: %w", sub.ID, err)
		}
		out = append(out, item)
	}
	return out, nil
}
