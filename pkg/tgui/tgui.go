package tgui

import tele "gopkg.in/telebot.v4"

// Button is one inline keyboard button.
type Button = tele.Btn

// Btn makes a button whose callback data is data verbatim.
func Btn(text, data string) Button { return Button{Text: text, Data: data} }

// Inline collects keyboard rows.
type Inline struct {
	rows []tele.Row
}

func NewInline() *Inline { return &Inline{} }

// Row adds one row; an empty call adds nothing.
func (k *Inline) Row(btns ...Button) *Inline {
	if len(btns) > 0 {
		k.rows = append(k.rows, tele.Row(btns))
	}
	return k
}

// Grid lays btns out cols per row.
func (k *Inline) Grid(cols int, btns ...Button) *Inline {
	cols = max(cols, 1)
	for start := 0; start < len(btns); start += cols {
		k.Row(btns[start:min(start+cols, len(btns))]...)
	}
	return k
}

// Len is the number of rows.
func (k *Inline) Len() int { return len(k.rows) }

// Markup renders the rows as a telebot inline keyboard.
func (k *Inline) Markup() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rm.Inline(k.rows...)
	return rm
}
