package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NIC619/tem-operator-bot/internal/domain"
)

// CallbackDataLimit предел Telegram на callback_data в байтах.
const CallbackDataLimit = 64

const callbackSep = "|"

var actionCodes = map[domain.CallbackAction]string{
	domain.CallbackAccept:        "a",
	domain.CallbackDecline:       "d",
	domain.CallbackDone:          "f",
	domain.CallbackConfirmReject: "r",
}

var codeActions = func() map[string]domain.CallbackAction {
	out := make(map[string]domain.CallbackAction, len(actionCodes))
	for action, code := range actionCodes {
		out[code] = action
	}
	return out
}()

// EncodeCallback упаковывает действие кнопки в callback_data.
func EncodeCallback(cb domain.Callback) (string, error) {
	cb.Reviewer = domain.NormalizeIdentity(cb.Reviewer)
	if err := cb.Validate(); err != nil {
		return "", err
	}
	if strings.Contains(cb.Reviewer, callbackSep) {
		return "", fmt.Errorf("callback: недопустимый символ в имени %q", cb.Reviewer)
	}
	parts := []string{actionCodes[cb.Action], strconv.FormatInt(cb.SubmissionID, 10)}
	if cb.Reviewer != "" {
		parts = append(parts, cb.Reviewer)
	}
	data := strings.Join(parts, callbackSep)
	if len(data) > CallbackDataLimit {
		return "", fmt.Errorf("callback: %d байт больше предела %d", len(data), CallbackDataLimit)
	}
	return data, nil
}

// DecodeCallback разбирает callback_data. Любое отклонение от формата считается ошибкой.
func DecodeCallback(data string) (domain.Callback, error) {
	if data == "" || len(data) > CallbackDataLimit {
		return domain.Callback{}, fmt.Errorf("callback: некорректная длина %d", len(data))
	}
	parts := strings.Split(data, callbackSep)
	action, ok := codeActions[parts[0]]
	if !ok {
		return domain.Callback{}, fmt.Errorf("callback: неизвестный код %q", parts[0])
	}
	want := 3
	if action == domain.CallbackConfirmReject {
		want = 2
	}
	if len(parts) != want {
		return domain.Callback{}, fmt.Errorf("callback: ожидали %d полей, получили %d", want, len(parts))
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return domain.Callback{}, fmt.Errorf("callback: id статьи: %w", err)
	}
	cb := domain.Callback{Action: action, SubmissionID: id}
	if want == 3 {
		cb.Reviewer = parts[2]
		if cb.Reviewer != domain.NormalizeIdentity(cb.Reviewer) {
			return domain.Callback{}, fmt.Errorf("callback: некорректное имя %q", cb.Reviewer)
		}
	}
	if err := cb.Validate(); err != nil {
		return domain.Callback{}, err
	}
	return cb, nil
}
