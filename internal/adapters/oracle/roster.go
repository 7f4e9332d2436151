package oracle

import (
	"regexp"
	"strings"

	"github.com/NIC619/tem-operator-bot/internal/domain"
)

var (
	categoryRe     = regexp.MustCompile(`^##\s+(.+)$`)
	reviewerLineRe = regexp.MustCompile(`(?i)^reviewers?:\s*(.+)$`)
	usernameRe     = regexp.MustCompile(`@?(\w+)`)
)

// Category раздел файла рецензентов.
type Category struct {
	Name        string
	Description string
	Reviewers   []string
}

// ParseRoster разбирает markdown вида:
//
//	## Category
//	описание
//	Reviewers: @alice, @bob
func ParseRoster(content string) []Category {
	var (
		out     []Category
		current *Category
		desc    []string
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Description = strings.Join(desc, " ")
		out = append(out, *current)
		desc = nil
	}
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if m := categoryRe.FindStringSubmatch(line); m != nil {
			flush()
			current = &Category{Name: strings.TrimSpace(m[1])}
			continue
		}
		if current == nil || line == "" {
			continue
		}
		if m := reviewerLineRe.FindStringSubmatch(line); m != nil {
			for _, u := range usernameRe.FindAllStringSubmatch(m[1], -1) {
				current.Reviewers = append(current.Reviewers, u[1])
			}
			current.Reviewers = domain.NormalizeRoster(current.Reviewers)
			continue
		}
		desc = append(desc, line)
	}
	flush()
	return out
}

// AllReviewers возвращает всех рецензентов файла без повторов.
func AllReviewers(categories []Category) []string {
	var all []string
	for _, c := range categories {
		all = append(all, c.Reviewers...)
	}
	return domain.NormalizeRoster(all)
}
