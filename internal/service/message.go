package service

import (
	"html"
	"strings"
	"unicode/utf8"

	"video_notifier/internal/domain"
)

const captionLimit = 200

// renderText builds the HTML body of a text-only notification.
func renderText(item *domain.Item) string {
	var parts []string
	if item.Title != "" {
		parts = append(parts, html.EscapeString(item.Title))
	}
	if showSourceTitle(item) {
		parts = append(parts, "<i>"+html.EscapeString(item.SourceTitle)+"</i>")
	}
	return withURL(strings.Join(parts, ", "), html.EscapeString(item.URL))
}

// renderCaption builds the plain-text photo caption. The headline is shortened
// so the url always fits within the caption limit.
func renderCaption(item *domain.Item) string {
	var parts []string
	if item.Title != "" {
		parts = append(parts, item.Title)
	}
	if showSourceTitle(item) {
		parts = append(parts, item.SourceTitle)
	}
	headline := strings.Join(parts, ", ")
	if headline == "" {
		return item.URL
	}
	suffix := "\n" + item.URL
	return ellipsize(headline, captionLimit-utf8.RuneCountInString(suffix)) + suffix
}

func withURL(headline, url string) string {
	if headline == "" {
		return url
	}
	return headline + "\n" + url
}

func showSourceTitle(item *domain.Item) bool {
	return item.SourceTitle != "" && !strings.Contains(item.Title, item.SourceTitle)
}

func ellipsize(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
