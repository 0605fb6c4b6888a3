package adapter

import (
	"context"
	"fmt"
	"hash/maphash"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

var menuSeed = maphash.MakeSeed()

func sendOptions(opt *kit.SendOptions, threadID int) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: threadID}
	if opt == nil {
		return so
	}
	so.ParseMode = tele.ParseMode(opt.ParseMode)
	so.DisableWebPagePreview = opt.DisablePreview
	if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
		so.ReplyMarkup = rm
	}
	return so
}

func parseModeOf(opt *kit.SendOptions) string {
	if opt == nil {
		return ""
	}
	return opt.ParseMode
}

// SendText sends text, split into several messages when it is too long.
// The keyboard is attached to the first message, whose ref is returned.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit, parseModeOf(opt)) {
		if err := a.limiter.Wait(ctx); err != nil {
			return first, err
		}
		so := sendOptions(opt, to.ThreadID)
		if i > 0 {
			so.ReplyMarkup = nil
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			return first, classify(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// EditText replaces the text and keyboard of ref. Only the first chunk of
// an oversized text is kept.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	text = splitTelegramText(text, telegramTextLimit, parseModeOf(opt))[0]
	so := sendOptions(opt, 0)
	_, err := a.bot.Edit(&tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}, text, so)
	return classify(err)
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	if ref.IsZero() {
		return nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	return classify(a.bot.Delete(&tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}))
}

// AnswerCallback shows text as a toast. It skips the rate limiter: an
// unanswered press keeps the client spinner running.
func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// SendLog implements logx.Sender.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, threadID int, text string) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text,
		&kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// UpdateMenuCommands calls setMyCommands when cmds differ from the last
// successful call.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	var h maphash.Hash
	h.SetSeed(menuSeed)
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		h.WriteString(c.Command)
		h.WriteByte(0)
		h.WriteString(c.Description)
		h.WriteByte(0)
		list = append(list, tele.Command{Text: c.Command, Description: c.Description})
	}
	sum := h.Sum64()

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sum == a.menuSum {
		return nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := a.bot.SetCommands(list); err != nil {
		return fmt.Errorf("telegram setMyCommands: %w", err)
	}
	a.menuSum = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}

var (
	notModified = []string{"message is not modified"}
	notFound    = []string{
		"message to edit not found",
		"message to delete not found",
		"message can't be edited",
		"message can't be deleted",
		"message_id_invalid",
	}
)

// classify wraps Telegram API failures in the transport sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	has := func(subs []string) bool {
		for _, s := range subs {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}
	switch {
	case has(notModified):
		return fmt.Errorf("%w: %v", kit.ErrNotModified, err)
	case has(notFound):
		return fmt.Errorf("%w: %v", kit.ErrMessageNotFound, err)
	}
	return err
}
