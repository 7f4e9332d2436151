package domain

import "strings"

// NormalizeIdentity убирает пробелы и ведущий @ из имени пользователя.
func NormalizeIdentity(identity string) string {
	return strings.TrimPrefix(strings.TrimSpace(identity), "@")
}

// IdentityKey ключ для сравнения имён без учёта регистра.
func IdentityKey(identity string) string {
	return strings.ToLower(NormalizeIdentity(identity))
}

// SameIdentity сравнивает имена так, как к ним обращаются в чате.
func SameIdentity(a, b string) bool {
	return IdentityKey(a) == IdentityKey(b)
}

// ContainsIdentity ищет имя в списке без учёта регистра.
func ContainsIdentity(list []string, identity string) bool {
	for _, v := range list {
		if SameIdentity(v, identity) {
			return true
		}
	}
	return false
}

// NormalizeRoster чистит список рецензентов: без пустых имён и повторов.
func NormalizeRoster(identities []string) []string {
	out := make([]string, 0, len(identities))
	for _, raw := range identities {
		id := NormalizeIdentity(raw)
		if id == "" || ContainsIdentity(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Mention форматирует имя как упоминание в чате.
func Mention(identity string) string {
	return "@" + NormalizeIdentity(identity)
}

// Operator привилегированный участник, который подтверждает отказы и переназначает рецензентов.
// Нулевой ChatID означает, что оператор не настроен и проверка пропускается.
type Operator struct {
	ChatID int64
}

// Configured сообщает, задан ли оператор.
func (o Operator) Configured() bool {
	return o.ChatID != 0
}

// Allows проверяет право вызывающего на привилегированное действие.
func (o Operator) Allows(callerChatID int64) bool {
	if !o.Configured() {
		return true
	}
	return o.ChatID == callerChatID
}
