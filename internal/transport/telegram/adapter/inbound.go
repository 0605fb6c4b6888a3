package adapter

import (
	tele "gopkg.in/telebot.v4"

	kit "remindbot/internal/transport"
)

// messageUpdate converts a text message. Messages without a sender
// (channel posts) are ignored.
func messageUpdate(m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Sender == nil || m.Chat == nil {
		return kit.Update{}, false
	}
	return kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ID:           m.ID,
			ChatID:       m.Chat.ID,
			ThreadID:     m.ThreadID,
			FromID:       m.Sender.ID,
			FromUsername: m.Sender.Username,
			Text:         m.Text,
		},
	}, true
}

// callbackUpdate converts a button press. Presses on inline-mode messages
// carry no chat and are ignored.
func callbackUpdate(cb *tele.Callback) (kit.Update, bool) {
	if cb == nil || cb.Sender == nil || cb.Message == nil || cb.Message.Chat == nil {
		return kit.Update{}, false
	}
	return kit.Update{
		Kind: kit.UpdateCallback,
		Callback: &kit.Callback{
			ID:        cb.ID,
			FromID:    cb.Sender.ID,
			ChatID:    cb.Message.Chat.ID,
			ThreadID:  cb.Message.ThreadID,
			MessageID: cb.Message.ID,
			Data:      cb.Data,
		},
	}, true
}
