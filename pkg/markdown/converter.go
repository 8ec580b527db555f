package markdown

import (
	"fmt"
	"html"
	"strings"

	"github.com/modelserve-go/internal/models"
	"github.com/russross/blackfriday/v2"
)

// ToHTML converts markdown to HTML
func ToHTML(markdown string) string {
	if markdown == "" {
		return ""
	}

	return string(blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions)))
}

// RenderTranscript renders a chat document as a standalone HTML page.
// Assistant messages are treated as markdown, user messages as plain text.
func RenderTranscript(doc *models.ChatDocument) string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	sb.WriteString(fmt.Sprintf("<title>Chat %s</title>\n", html.EscapeString(doc.ChatID)))
	sb.WriteString("<meta charset=\"utf-8\">\n</head>\n<body>\n")
	sb.WriteString(fmt.Sprintf("<h1>%s</h1>\n", html.EscapeString(doc.ModelID)))

	for _, msg := range doc.Messages {
		sb.WriteString(fmt.Sprintf("<div class=\"message %s\">\n", html.EscapeString(msg.Role)))
		sb.WriteString(fmt.Sprintf("<h3>%s</h3>\n", html.EscapeString(msg.Role)))
		if msg.Role == models.RoleAssistant {
			sb.WriteString(ToHTML(msg.Content))
		} else {
			sb.WriteString("<p>" + html.EscapeString(msg.Content) + "</p>")
		}
		sb.WriteString("\n<time>" + msg.Timestamp.Format("2006-01-02 15:04:05") + "</time>\n")
		sb.WriteString("</div>\n")
	}

	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}
