package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound статья, назначение или предложение не найдены.
	ErrNotFound = errors.New("не найдено")
	// ErrAlreadyRecorded повторное событие, состояние не изменилось.
	ErrAlreadyRecorded = errors.New("уже учтено")
	// ErrForbidden действие доступно только оператору.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrNoActiveProposal по статье нет активного предложения об отказе.
	ErrNoActiveProposal = errors.New("нет активного предложения об отказе")
	// ErrSelfSecond автор предложения не может его поддержать.
	ErrSelfSecond = errors.New("нельзя поддержать собственное предложение")
	// ErrConsensusNotReached порог поддержки ещё не набран.
	ErrConsensusNotReached = errors.New("недостаточно поддержавших")
	// ErrNotUnderReview статья не на рецензии.
	ErrNotUnderReview = errors.New("статья не на рецензии")
	// ErrTerminal статья уже принята или отклонена.
	ErrTerminal = errors.New("статья уже в финальном статусе")
	// ErrEmptyRoster список рецензентов пуст.
	ErrEmptyRoster = errors.New("пустой список рецензентов")
	// ErrEmptyReason не указана причина отказа.
	ErrEmptyReason = errors.New("не указана причина")
	// ErrInvalidOracleResponse ответ оракула не прошёл проверку.
	ErrInvalidOracleResponse = errors.New("некорректный ответ оракула")
	// ErrDeliveryFailure не удалось доставить письмо или сообщение.
	ErrDeliveryFailure = errors.New("ошибка доставки")
)

// AmbiguousMatchError ключевое слово подходит к нескольким статьям.
type AmbiguousMatchError struct {
	Keyword string
	Matches []Submission
}

func (e *AmbiguousMatchError) Error() string {
	titles := make([]string, 0, len(e.Matches))
	for _, m := range e.Matches {
		titles = append(titles, fmt.Sprintf("#%d %s", m.ID, m.Title))
	}
	return fmt.Sprintf("ключ %q подходит к нескольким статьям: %s", e.Keyword, strings.Join(titles, "; "))
}
