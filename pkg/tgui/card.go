package tgui

import "strings"

// ParseMode is the Telegram parse mode a Card renders for.
const ParseMode = "HTML"

// Card is a titled block of lines, e.g. a status reply.
type Card struct {
	lines []string
}

// NewCard starts a card with a bold title. emoji may be empty.
func NewCard(emoji, title string) *Card {
	c := &Card{}
	t := B(strings.TrimSpace(title))
	if e := strings.TrimSpace(emoji); e != "" {
		t = Esc(e) + " " + t
	}
	c.lines = append(c.lines, t.String())
	return c
}

// Line appends escaped text.
func (c *Card) Line(s string) *Card {
	c.lines = append(c.lines, Esc(s).String())
	return c
}

// HTML appends a line that is already safe.
func (c *Card) HTML(h H) *Card {
	c.lines = append(c.lines, h.String())
	return c
}

// KV appends a "• key: value" row with a bold key.
func (c *Card) KV(key, value string) *Card {
	c.lines = append(c.lines, "• "+B(key).String()+": "+Esc(value).String())
	return c
}

func (c *Card) String() string { return strings.Join(c.lines, "\n") }
