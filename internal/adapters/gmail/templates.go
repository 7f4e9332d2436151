package gmail

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/NIC619/tem-operator-bot/internal/domain"
)

// PublishLayout формат даты публикации в письме о принятии.
const PublishLayout = "2006-01-02 15:04 MST"

var replyTemplates = template.Must(template.New("replies").Parse(`
{{define "under_review"}}Hi {{.Author}},

Thank you for submitting your article "{{.Title}}" to the TEM Medium column.

Your submission is currently under review. We will follow up once the review is complete.

Best,
{{.Signature}}{{end}}

{{define "accepted"}}Hi {{.Author}},

Great news! Your article "{{.Title}}" has been accepted for publication on the TEM Medium column.

It is scheduled to publish on {{.PublishAt}}.

Please make sure the article draft on Medium is ready before then. If you need to make any changes, please do so before the scheduled date.

Thank you for your contribution!

Best,
{{.Signature}}{{end}}

{{define "rejected"}}Hi {{.Author}},

Thank you for submitting your article "{{.Title}}" to the TEM Medium column.

After careful review, we are unable to accept this submission at this time.
{{if .Reason}}
{{.Reason}}
{{end}}
We encourage you to revise and resubmit in the future. If you have questions, feel free to reach out.

Best,
{{.Signature}}{{end}}
`))

type replyData struct {
	Author    string
	Title     string
	PublishAt string
	Reason    string
	Signature string
}

// RenderReply собирает текст письма автору.
func RenderReply(kind domain.ReplyKind, sub domain.Submission, args domain.ReplyArgs, signature string) (string, error) {
	data := replyData{
		Author:    sub.AuthorName,
		Title:     sub.Title,
		Reason:    strings.TrimSpace(args.Reason),
		Signature: signature,
	}
	if data.Author == "" {
		data.Author = "there"
	}
	if !args.PublishAt.IsZero() {
		data.PublishAt = args.PublishAt.Format(PublishLayout)
	}
	if kind == domain.ReplyAccepted && data.PublishAt == "" {
		return "", fmt.Errorf("письмо о принятии без даты публикации")
	}
	tmpl := replyTemplates.Lookup(string(kind))
	if tmpl == nil {
		return "", fmt.Errorf("нет шаблона письма %q", kind)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("шаблон %s: %w", kind, err)
	}
	return b.String(), nil
}
