package review

import (
	"fmt"
	"strings"
	"time"

	"github.com/NIC619/tem-operator-bot/internal/domain"
)

func mentions(identities []string) string {
	out := make([]string, 0, len(identities))
	for _, id := range identities {
		out = append(out, domain.Mention(id))
	}
	return strings.Join(out, " ")
}

// OverrideHint готовая команда переназначения для оператора.
func OverrideHint(submissionID int64, reviewers []string) string {
	if len(reviewers) == 0 {
		return fmt.Sprintf("/override %d @user1 @user2", submissionID)
	}
	return fmt.Sprintf("/override %d %s", submissionID, mentions(reviewers))
}

func announcementText(sub domain.Submission, pick domain.OraclePick) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📨 Новая статья #%d: %s\n", sub.ID, sub.Title)
	author := sub.AuthorName
	if author == "" {
		author = sub.AuthorEmail
	}
	fmt.Fprintf(&b, "Автор: %s\n", author)
	if sub.ArticleURL != "" {
		fmt.Fprintf(&b, "Ссылка: %s\n", sub.ArticleURL)
	}
	if pick.Category != "" {
		fmt.Fprintf(&b, "Категория: %s\n", pick.Category)
	}
	if pick.Rationale != "" {
		fmt.Fprintf(&b, "Почему они: %s\n", pick.Rationale)
	}
	return strings.TrimRight(b.String(), "\n")
}

func assignPromptText(sub domain.Submission, reviewers []string) string {
	return fmt.Sprintf("%s, возьмёте рецензию статьи #%d «%s»?", mentions(reviewers), sub.ID, sub.Title)
}

func oracleFailedText(sub domain.Submission, err error) string {
	return fmt.Sprintf("⚠️ Статья #%d «%s»: не удалось подобрать рецензентов (%v).\nНазначьте вручную:\n%s",
		sub.ID, sub.Title, err, OverrideHint(sub.ID, nil))
}

func overridePromptText(sub domain.Submission, reviewers []string) string {
	return fmt.Sprintf("🔁 Оператор переназначил статью #%d «%s».\n%s, подтвердите участие.", sub.ID, sub.Title, mentions(reviewers))
}

func replacementText(sub domain.Submission, declined, candidate string) string {
	return fmt.Sprintf("%s не может взять статью #%d «%s».\nЗамена: %s, возьмёте?",
		domain.Mention(declined), sub.ID, sub.Title, domain.Mention(candidate))
}

func replacementFailedText(sub domain.Submission, declined string, confirmed []string, reason string) string {
	hint := append(append([]string{}, confirmed...), "new_reviewer")
	return fmt.Sprintf("%s не может взять статью #%d «%s». Замену подобрать не удалось: %s.\nОператор, завершите команду:\n%s",
		domain.Mention(declined), sub.ID, sub.Title, reason, OverrideHint(sub.ID, hint))
}

func underReviewText(sub domain.Submission, confirmed []string, interval time.Duration) string {
	days := int(interval.Hours() / 24)
	return fmt.Sprintf("📖 Статья #%d «%s» на рецензии у %s.\nНапомню через %d дн. Когда закончите, нажмите кнопку или /done %s.",
		sub.ID, sub.Title, mentions(confirmed), days, sub.Keyword())
}

func waitingText(sub domain.Submission, finished string, waiting []string) string {
	return fmt.Sprintf("✅ %s закончил(а) рецензию статьи #%d «%s». Ждём: %s.",
		domain.Mention(finished), sub.ID, sub.Title, mentions(waiting))
}

func acceptedText(sub domain.Submission, publishAt time.Time) string {
	return fmt.Sprintf("🎉 Статья #%d «%s» принята! Публикация: %s.",
		sub.ID, sub.Title, publishAt.Format("2006-01-02 15:04 MST"))
}

func rejectedText(sub domain.Submission, reason string) string {
	if reason == "" {
		return fmt.Sprintf("⛔ Статья #%d «%s» отклонена.", sub.ID, sub.Title)
	}
	return fmt.Sprintf("⛔ Статья #%d «%s» отклонена.\nПричина: %s", sub.ID, sub.Title, reason)
}

// proposalMessage сообщение о предложении отказа. После порога текст заменяется
// одной кнопкой подтверждения.
func proposalMessage(sub domain.Submission, p domain.RejectionProposal) domain.ChatMessage {
	seconders := "пока никто"
	if len(p.Seconders) > 0 {
		seconders = mentions(p.Seconders)
	}
	if p.Ready() {
		return domain.ChatMessage{
			Text: fmt.Sprintf("⛔ Отказ по статье #%d «%s» поддержан (%d/%d): %s.\nПричина: %s\nОператор, подтвердите.",
				sub.ID, sub.Title, len(p.Seconders), domain.ConsensusThreshold, seconders, p.Reason),
			Buttons: domain.ConfirmRejectButtons(sub.ID),
		}
	}
	return domain.ChatMessage{
		Text: fmt.Sprintf("🗳 %s предлагает отклонить статью #%d «%s».\nПричина: %s\nПоддержали (%d/%d): %s.\nЧтобы поддержать: /second %s",
			domain.Mention(p.ProposedBy), sub.ID, sub.Title, p.Reason, len(p.Seconders), domain.ConsensusThreshold, seconders, sub.Keyword()),
	}
}

func followupMessage(sub domain.Submission, open []string) domain.ChatMessage {
	return domain.ChatMessage{
		Text: fmt.Sprintf("⏰ Напоминание: статья #%d «%s» ждёт рецензии от %s. Как дела?",
			sub.ID, sub.Title, mentions(open)),
		Buttons: domain.DoneButtons(sub.ID, open),
	}
}
