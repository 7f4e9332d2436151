package domain

import (
	"fmt"
	"strings"
)

// CallbackAction действие кнопки под сообщением.
type CallbackAction string

const (
	CallbackAccept        CallbackAction = "accept"
	CallbackDecline       CallbackAction = "decline"
	CallbackDone          CallbackAction = "done"
	CallbackConfirmReject CallbackAction = "confirm_reject"
)

// Callback полезная нагрузка кнопки.
type Callback struct {
	Action       CallbackAction
	SubmissionID int64
	Reviewer     string
}

// Validate проверяет согласованность полей для конкретного действия.
func (c Callback) Validate() error {
	if c.SubmissionID <= 0 {
		return fmt.Errorf("callback: некорректный id статьи %d", c.SubmissionID)
	}
	switch c.Action {
	case CallbackAccept, CallbackDecline, CallbackDone:
		if NormalizeIdentity(c.Reviewer) == "" {
			return fmt.Errorf("callback: для %s нужен рецензент", c.Action)
		}
		if strings.ContainsAny(c.Reviewer, " \t\n") {
			return fmt.Errorf("callback: некорректное имя %q", c.Reviewer)
		}
	case CallbackConfirmReject:
		if c.Reviewer != "" {
			return fmt.Errorf("callback: %s не принимает рецензента", c.Action)
		}
	default:
		return fmt.Errorf("callback: неизвестное действие %q", c.Action)
	}
	return nil
}

// Button кнопка под сообщением.
type Button struct {
	Label    string
	Callback Callback
}

// ChatMessage сообщение для группы редакции.
type ChatMessage struct {
	Text    string
	Buttons [][]Button
}

// AcceptDeclineButtons строит по строке кнопок «беру / отказываюсь» на рецензента.
func AcceptDeclineButtons(submissionID int64, reviewers []string) [][]Button {
	rows := make([][]Button, 0, len(reviewers))
	for _, r := range reviewers {
		name := NormalizeIdentity(r)
		rows = append(rows, []Button{
			{Label: "✅ " + Mention(name) + " беру", Callback: Callback{Action: CallbackAccept, SubmissionID: submissionID, Reviewer: name}},
			{Label: "❌ " + Mention(name) + " не могу", Callback: Callback{Action: CallbackDecline, SubmissionID: submissionID, Reviewer: name}},
		})
	}
	return rows
}

// DoneButtons строит кнопку «готово» для каждого рецензента.
func DoneButtons(submissionID int64, reviewers []string) [][]Button {
	rows := make([][]Button, 0, len(reviewers))
	for _, r := range reviewers {
		name := NormalizeIdentity(r)
		rows = append(rows, []Button{
			{Label: "📝 " + Mention(name) + " готово", Callback: Callback{Action: CallbackDone, SubmissionID: submissionID, Reviewer: name}},
		})
	}
	return rows
}

// ConfirmRejectButtons кнопка подтверждения отказа.
func ConfirmRejectButtons(submissionID int64) [][]Button {
	return [][]Button{{
		{Label: "⛔ Подтвердить отказ", Callback: Callback{Action: CallbackConfirmReject, SubmissionID: submissionID}},
	}}
}
