// Package tgui renders Telegram HTML replies. Text is escaped unless it is
// already an H.
package tgui
