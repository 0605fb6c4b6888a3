package tgui

import tele "gopkg.in/telebot.v4"

// ConfirmInline builds a two-button confirm keyboard with an optional extra row.
func ConfirmInline(yes, no tele.Btn, extra ...tele.Btn) *Inline {
	kb := NewInline().Row(yes, no)
	if len(extra) > 0 {
		kb.Row(extra...)
	}
	return kb
}
