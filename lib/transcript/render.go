// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/warden-bot/warden/lib/ticket"
)

// The HTML renderer is left in its default safe mode: raw HTML in
// message bodies renders as a comment, not markup.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

const timeLayout = "2006-01-02 15:04:05 MST"

// Render produces the HTML page for transcript.
func Render(transcript ticket.Transcript) ([]byte, error) {
	var source strings.Builder
	fmt.Fprintf(&source, "# %s ticket %s\n\n", transcript.Type.Title(), inlineCode(transcript.Name))
	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&source, "- **%s:** %s\n", label, value)
		}
	}
	field("Ticket ID", inlineCode(transcript.CreatedID.String()))
	field("Requester", inlineCode(transcript.Requester))
	field("Closed by", inlineCode(transcript.ClosedBy))
	if !transcript.ClosedAt.IsZero() {
		field("Closed at", transcript.ClosedAt.UTC().Format(timeLayout))
	}
	field("Members", codeList(transcript.Members))
	field("Staff", codeList(transcript.Staff))
	fmt.Fprintf(&source, "- **Messages:** %d\n\n---\n\n", len(transcript.Messages))

	for _, message := range transcript.Messages {
		author := inlineCode(message.Author)
		if message.FromBot {
			author += " (bot)"
		}
		fmt.Fprintf(&source, "**%s** at %s\n\n", author, message.Timestamp.UTC().Format(timeLayout))
		body := strings.TrimSpace(message.Body)
		if body == "" {
			body = "*(empty message)*"
		}
		source.WriteString(body)
		source.WriteString("\n\n---\n\n")
	}

	var page bytes.Buffer
	title := html.EscapeString(fmt.Sprintf("%s ticket %s", transcript.Type.Title(), transcript.Name))
	fmt.Fprintf(&page, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n", title)
	if err := markdown.Convert([]byte(source.String()), &page); err != nil {
		return nil, fmt.Errorf("transcript: rendering %s: %w", transcript.Name, err)
	}
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}

// inlineCode wraps value in a code span wide enough that backticks
// inside it cannot end the span early.
func inlineCode(value string) string {
	if value == "" {
		return ""
	}
	fence := "`"
	for strings.Contains(value, fence) {
		fence += "`"
	}
	return fence + " " + value + " " + fence
}

func codeList(values []string) string {
	formatted := make([]string, 0, len(values))
	for _, value := range values {
		formatted = append(formatted, inlineCode(value))
	}
	return strings.Join(formatted, ", ")
}

// archiveTime is the timestamp shown in the close notice.
func archiveTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
