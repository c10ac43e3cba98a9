package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/m-mizutani/mkai/pkg/media"
	"github.com/m-mizutani/mkai/pkg/model"
)

const assistantName = "MK AI"

func roleLabel(role model.Role) string {
	if role == model.RoleModel {
		return assistantName
	}
	return "You"
}

// printMessage writes a chat message as plain text: the body, an image
// marker and numbered citations
func printMessage(w io.Writer, msg *model.ChatMessage) {
	fmt.Fprintf(w, "%s: ", roleLabel(msg.Role))
	if msg.Text != "" {
		fmt.Fprintln(w, strings.TrimRight(msg.Text, "\n"))
	} else {
		fmt.Fprintln(w)
	}

	if msg.ImageURL != "" {
		fmt.Fprintf(w, "  [image%s]\n", imageSize(msg.ImageURL))
	}

	if len(msg.Sources) > 0 {
		fmt.Fprintln(w, "  Sources:")
		for i, src := range msg.Sources {
			fmt.Fprintf(w, "  [%d] %s - %s\n", i+1, src.Title, src.URI)
		}
	}
}

func imageSize(dataURI string) string {
	mimeType, data, err := media.ParseDataURI(dataURI)
	if err != nil {
		return ""
	}
	return fmt.Sprintf(" %s, %d bytes", mimeType, len(data))
}

// printSessions writes the numbered session list used by /sessions and
// `sessions list`
func printSessions(w io.Writer, sessions []*model.ChatSession, active *model.ChatSession) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No conversations yet")
		return
	}

	for i, s := range sessions {
		marker := " "
		if active != nil && s.ID == active.ID {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %2d. %s (%d messages, %s)\n",
			marker, i+1, s.Title, len(s.Messages), s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
}

// printSession writes every message of a session
func printSession(w io.Writer, s *model.ChatSession) {
	fmt.Fprintf(w, "# %s\n\n", s.Title)
	for _, msg := range s.Messages {
		printMessage(w, msg)
		fmt.Fprintln(w)
	}
}

// lastImage returns the most recent image in the session, or ""
func lastImage(s *model.ChatSession) string {
	if s == nil {
		return ""
	}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == model.RoleModel && s.Messages[i].ImageURL != "" {
			return s.Messages[i].ImageURL
		}
	}
	return ""
}
