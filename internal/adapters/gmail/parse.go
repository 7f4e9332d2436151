package gmail

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	gmailv1 "google.golang.org/api/gmail/v1"

	"github.com/NIC619/tem-operator-bot/internal/domain"
)

var (
	articleURLRe   = regexp.MustCompile(`https?://(?:www\.)?medium\.com/[^\s"'>]+`)
	replyPrefixRe  = regexp.MustCompile(`(?i)^\s*(re|fwd|fw):\s*`)
	errReplyInMail = errors.New("письмо является ответом")
)

// decodeRaw декодирует поле raw; Gmail отдаёт base64url, иногда без паддинга.
func decodeRaw(raw string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(raw); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
}

// parseMessage разбирает письмо в формате raw. Ответы в ветке возвращают errReplyInMail.
func parseMessage(msg *gmailv1.Message) (domain.InboundSubmission, error) {
	raw, err := decodeRaw(msg.Raw)
	if err != nil {
		return domain.InboundSubmission{}, fmt.Errorf("декодирование письма %s: %w", msg.Id, err)
	}
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return domain.InboundSubmission{}, fmt.Errorf("разбор MIME %s: %w", msg.Id, err)
	}
	if env.GetHeader("In-Reply-To") != "" {
		return domain.InboundSubmission{}, errReplyInMail
	}

	subject := strings.TrimSpace(env.GetHeader("Subject"))
	title := CleanSubject(subject)
	if title == "" {
		title = subject
	}
	name, addr := parseFrom(env)
	body := strings.TrimSpace(env.Text)

	url := articleURLRe.FindString(body)
	if url == "" {
		url = articleURLRe.FindString(subject)
	}
	threadID := msg.ThreadId
	if threadID == "" {
		threadID = msg.Id
	}
	var received time.Time
	if msg.InternalDate > 0 {
		received = time.UnixMilli(msg.InternalDate)
	}
	return domain.InboundSubmission{
		ExternalID:      msg.Id,
		ThreadID:        threadID,
		MessageIDHeader: env.GetHeader("Message-ID"),
		Title:           title,
		AuthorName:      name,
		AuthorEmail:     addr,
		ArticleURL:      url,
		Subject:         subject,
		Body:            body,
		ReceivedAt:      received,
	}, nil
}

// CleanSubject убирает префиксы Re:/Fwd:/Fw:, в том числе повторённые.
func CleanSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		next := replyPrefixRe.ReplaceAllString(s, "")
		if next == s {
			return strings.TrimSpace(s)
		}
		s = next
	}
}

func parseFrom(env *enmime.Envelope) (string, string) {
	list, err := env.AddressList("From")
	if err == nil && len(list) > 0 {
		return strings.TrimSpace(list[0].Name), list[0].Address
	}
	return "", strings.TrimSpace(env.GetHeader("From"))
}
