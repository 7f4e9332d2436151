package domain

import (
	"fmt"
	"strings"
	"time"
)

// PublishSchedule правило выбора даты публикации.
type PublishSchedule struct {
	Location *time.Location
	Hour     int
	Minute   int
}

// ParsePublishSchedule разбирает часовой пояс и время вида 09:30.
func ParsePublishSchedule(tz, clock string) (PublishSchedule, error) {
	loc, err := loadLocation(tz)
	if err != nil {
		return PublishSchedule{}, fmt.Errorf("часовой пояс публикации: %w", err)
	}
	t, err := time.Parse("15:04", strings.TrimSpace(clock))
	if err != nil {
		return PublishSchedule{}, fmt.Errorf("время публикации: %w", err)
	}
	return PublishSchedule{Location: loc, Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Next возвращает ближайший слот: следующий календарный день, кроме субботы и воскресенья,
// в заданное местное время.
func (s PublishSchedule) Next(now time.Time) time.Time {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day()+1, s.Hour, s.Minute, 0, 0, loc)
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = time.Date(day.Year(), day.Month(), day.Day()+1, s.Hour, s.Minute, 0, 0, loc)
	}
	return day
}

// loadLocation принимает имя зоны в любом регистре и с пробелами вместо подчёркиваний:
// "asia/taipei" и "America/New York" тоже подходят.
func loadLocation(raw string) (*time.Location, error) {
	candidate := strings.ReplaceAll(strings.TrimSpace(raw), " ", "_")
	if candidate == "" {
		return nil, fmt.Errorf("пустое имя зоны")
	}
	if loc, err := time.LoadLocation(candidate); err == nil {
		return loc, nil
	}
	parts := strings.Split(strings.ToLower(candidate), "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			pieces := strings.Split(segment, "-")
			for k, piece := range pieces {
				if piece != "" {
					pieces[k] = strings.ToUpper(piece[:1]) + piece[1:]
				}
			}
			segments[j] = strings.Join(pieces, "-")
		}
		parts[i] = strings.Join(segments, "_")
	}
	return time.LoadLocation(strings.Join(parts, "/"))
}
