package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/NIC619/tem-operator-bot/internal/domain"
)

// MessageLimit предел длины текста сообщения в символах.
const MessageLimit = 4096

// SplitMessage режет текст на части не длиннее MessageLimit, стараясь резать по переводам строк.
func SplitMessage(text string) []string {
	return splitText(text, MessageLimit)
}

func splitText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	runes := []rune(trimmed)
	if len(runes) <= limit {
		return []string{trimmed}
	}

	var parts []string
	add := func(chunk []rune) {
		if s := strings.Trim(string(chunk), "\n"); s != "" {
			parts = append(parts, s)
		}
	}
	for start := 0; start < len(runes); {
		end := start + limit
		if end >= len(runes) {
			add(runes[start:])
			break
		}
		split := end
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				split = i
				break
			}
		}
		add(runes[start:split])
		start = split
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}
	if len(parts) == 0 {
		return []string{trimmed}
	}
	return parts
}

// Keyboard собирает inline-клавиатуру из кнопок домена.
func Keyboard(rows [][]domain.Button) (*tgbotapi.InlineKeyboardMarkup, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			data, err := EncodeCallback(b.Callback)
			if err != nil {
				return nil, err
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, data))
		}
		out = append(out, buttons)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(out...)
	return &markup, nil
}
