package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NIC619/tem-operator-bot/internal/domain"
)

const historyLines = 10

// oracleRequest собирает запрос оракулу: статья, исключения, история и загрузка рецензентов.
func (s *Service) oracleRequest(ctx context.Context, sub domain.Submission, excluded []string, declined string) domain.OracleRequest {
	entries, err := s.repo.RecentHistory(ctx, s.now().Add(-s.cfg.HistoryWindow))
	if err != nil {
		log := s.subLog(sub.ID)
		log.Warn().Err(err).Msg("история назначений недоступна, подбираем без неё")
		entries = nil
	}
	subject := sub.Subject
	if subject == "" {
		subject = sub.Title
	}
	return domain.OracleRequest{
		SubmissionID: sub.ID,
		Subject:      subject,
		AuthorName:   sub.AuthorName,
		AuthorEmail:  sub.AuthorEmail,
		Body:         truncate(sub.Body, s.cfg.BodyLimit),
		Excluded:     excluded,
		Declined:     domain.NormalizeIdentity(declined),
		HistoryDays:  int(s.cfg.HistoryWindow / (24 * time.Hour)),
		HistoryText:  historyText(entries),
		WorkloadText: workloadText(entries),
	}
}

// historyText последние назначения без повторов пары (статья, рецензент). entries идут от новых к старым.
func historyText(entries []domain.HistoryEntry) string {
	seen := make(map[string]struct{}, len(entries))
	lines := make([]string, 0, historyLines)
	for _, e := range entries {
		key := strings.ToLower(e.Title) + "\x00" + domain.IdentityKey(e.Reviewer)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		lines = append(lines, fmt.Sprintf("- «%s» -> %s (%s)", e.Title, domain.Mention(e.Reviewer), e.AssignedAt.Format("2006-01-02")))
		if len(lines) == historyLines {
			break
		}
	}
	if len(lines) == 0 {
		return "нет недавних назначений"
	}
	return strings.Join(lines, "\n")
}

func workloadText(entries []domain.HistoryEntry) string {
	loads := domain.Workload(entries)
	if len(loads) == 0 {
		return "нет данных о загрузке"
	}
	lines := make([]string, 0, len(loads))
	for _, l := range loads {
		lines = append(lines, fmt.Sprintf("%s: %d", domain.Mention(l.Reviewer), l.Assignments))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
