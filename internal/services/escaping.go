package services

import (
	"fmt"
	"html"

	"github.com/ad/go-techlabs-agent/internal/models"
)

func FormatBold(text string) string {
	return fmt.Sprintf("<b>%s</b>", html.EscapeString(text))
}

func FormatItalic(text string) string {
	return fmt.Sprintf("<i>%s</i>", html.EscapeString(text))
}

// FormatBadgeHTML is the Telegram HTML rendering of FormatBadgeNotification.
func FormatBadgeHTML(def models.BadgeDefinition) string {
	return fmt.Sprintf(
		"🏆 %s\n\n%s %s\n\n%s\n\n+%d points",
		FormatBold("Badge Earned!"),
		GetBadgeEmoji(def),
		FormatBold(def.Name),
		FormatItalic(def.Description),
		def.Points,
	)
}
