package tgui

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "remindbot/internal/transport"
)

// Poster sends and edits messages; kit.Adapter satisfies it.
type Poster interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
}

// Message is a rendered screen.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

func (m Message) options() *kit.SendOptions {
	if m.Opt != nil {
		return m.Opt
	}
	return &kit.SendOptions{}
}

func (m Message) Send(ctx context.Context, p Poster, to kit.ChatTarget) (kit.MessageRef, error) {
	return p.SendText(ctx, to, m.Text, m.options())
}

// Edit rewrites ref in place with m.
func (m Message) Edit(ctx context.Context, p Poster, ref kit.MessageRef) error {
	return p.EditText(ctx, ref, m.Text, m.options())
}

// Builder assembles a Message line by line. Output is HTML with link
// previews disabled.
type Builder struct {
	lines  []string
	markup *tele.ReplyMarkup
}

func New() *Builder { return &Builder{} }

// Title appends "<emoji> <b>title</b>"; a blank title adds nothing.
func (b *Builder) Title(emoji, title string) *Builder {
	title = strings.TrimSpace(title)
	if title == "" {
		return b
	}
	line := B(title)
	if emoji = strings.TrimSpace(emoji); emoji != "" {
		line = Esc(emoji) + " " + line
	}
	return b.HTML(line)
}

// Line appends s escaped.
func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		s = ""
	}
	return b.HTML(Esc(s))
}

func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, string(h))
	return b
}

func (b *Builder) Blank() *Builder { return b.HTML("") }

// Inline sets the keyboard; nil or empty removes it.
func (b *Builder) Inline(kb *Inline) *Builder {
	b.markup = nil
	if kb != nil && kb.Len() > 0 {
		b.markup = kb.Markup()
	}
	return b
}

// Build joins the lines, dropping leading and trailing blank ones.
func (b *Builder) Build() Message {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if b.markup != nil {
		opt.ReplyMarkupAdapter = b.markup
	}
	return Message{Text: strings.Trim(strings.Join(b.lines, "\n"), "\n"), Opt: opt}
}
