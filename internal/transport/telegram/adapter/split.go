package adapter

import "strings"

// Telegram rejects messages above 4096 characters; keep headroom.
const telegramTextLimit = 4000

// splitTelegramText breaks s into chunks of at most limit runes. Cuts
// prefer a newline in the last two thirds of a chunk and, for HTML, never
// land inside a tag. There is always at least one chunk.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var chunks []string
	for len(rs) > limit {
		n := cutPoint(rs[:limit], html)
		chunks = append(chunks, strings.TrimRight(string(rs[:n]), "\n"))
		rs = rs[n:]
		for len(rs) > 0 && rs[0] == '\n' {
			rs = rs[1:]
		}
	}
	if len(rs) > 0 {
		chunks = append(chunks, string(rs))
	}
	return chunks
}

// cutPoint picks where to end a chunk taken from window.
func cutPoint(window []rune, html bool) int {
	n := len(window)
	for i := n - 1; i >= n/3; i-- {
		if window[i] == '\n' {
			n = i + 1
			break
		}
	}
	if html {
		open, closed := -1, -1
		for i, r := range window[:n] {
			switch r {
			case '<':
				open = i
			case '>':
				closed = i
			}
		}
		if open > closed && open > 1 {
			n = open
		}
	}
	return n
}
