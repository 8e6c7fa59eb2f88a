package utils

import "github.com/go-telegram/bot/models"

type Button struct {
	Text         string
	CallbackData string
	URL          string
}

// BuildInlineKeyboard lays buttons out one per row, the shape every menu in
// the bot uses.
func BuildInlineKeyboard(buttons []Button) *models.InlineKeyboardMarkup {
	pad := func(s string) string { return "   " + s + "   " }
	rows := make([][]models.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []models.InlineKeyboardButton{{
			Text:         pad(b.Text),
			CallbackData: b.CallbackData,
			URL:          b.URL,
		}})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
