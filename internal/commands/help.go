package commands

import "chimebot/pkg/tgui"

func (r *Router) helpText() string {
	r.mu.RLock()
	cmds := r.cmds
	r.mu.RUnlock()

	card := tgui.NewCard("🔔", "時報ボット")
	for _, c := range cmds {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		line := tgui.Code(usage)
		if c.Description != "" {
			line += " " + tgui.Esc(c.Description)
		}
		if c.Access == AccessOwnerOnly {
			line += " 🔒"
		}
		card.HTML(line)
	}
	return card.String()
}
