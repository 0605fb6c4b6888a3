package bot

import (
	"context"

	"remindbot/internal/transport/telegram/router"
	"remindbot/pkg/tgui"
)

const (
	helpCollapse = "collapse"
	helpExpand   = "expand"
	helpDelete   = "delete"
)

func helpMessage(full bool) tgui.Message {
	del := tgui.Btn("🗑️ Delete", tgui.Data(scopeHelp, helpDelete))
	if !full {
		return tgui.New().
			Title("📖", "Help").
			Inline(tgui.NewInline().Row(tgui.Btn("📖 Expand", tgui.Data(scopeHelp, helpExpand)), del)).
			Build()
	}
	return tgui.New().
		Title("🤖", "Reminder Bot").
		Blank().
		Line("Set a reminder:").
		HTML("• "+tgui.Code("10m feed the cat")).
		HTML("• "+tgui.Code("1h30m water the plants")).
		HTML("• "+tgui.Code("today 14:00 meeting")).
		HTML("• "+tgui.Code("tomorrow 09:15 dentist")).
		HTML("• "+tgui.Code("22 June 19:30 birthday party")).
		HTML("• "+tgui.Code("18:45 call mom")).
		HTML("• "+tgui.Code("daily 07:00 stretch")+" repeats every day").
		Blank().
		Line("Manage reminders:").
		HTML("• "+tgui.B("delete all")+" or "+tgui.B("del all")).
		HTML("• "+tgui.B("delete [text]")+" or "+tgui.B("del [text]")).
		HTML("• "+tgui.B("time")+" shows the current time").
		HTML("• /list, /remove, /edit, /timezone").
		Inline(tgui.NewInline().Row(tgui.Btn("📉 Collapse", tgui.Data(scopeHelp, helpCollapse)), del)).
		Build()
}

func (b *Bot) handleHelp(ctx context.Context, req *router.Request) error {
	_, err := helpMessage(true).Send(ctx, b.adapter, req.Chat)
	return err
}
