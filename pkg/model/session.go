package model

import (
	"time"

	"github.com/google/uuid"
)

type SessionID string

// NewSessionID generates a new unique SessionID
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

type MessageID string

// NewMessageID generates a new unique MessageID
func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

const (
	DefaultSessionTitle = "New Conversation"
	ImageSessionTitle   = "Image Query"

	titleLength = 30
)

// Source is a grounding citation returned with a web-grounded answer
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Resolvable reports whether the citation points somewhere. Placeholder
// entries produced for chunks without a web URI are not.
func (s *Source) Resolvable() bool {
	return s != nil && s.URI != "" && s.URI != "#"
}

// ChatMessage is a single message in a session. It is never modified after
// it has been appended.
type ChatMessage struct {
	ID        MessageID `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text,omitempty"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Sources   []*Source `json:"sources,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUserMessage creates the message for a submitted turn
func NewUserMessage(text, imageURL string, now time.Time) *ChatMessage {
	return &ChatMessage{
		ID:        NewMessageID(),
		Role:      RoleUser,
		Text:      text,
		ImageURL:  imageURL,
		Timestamp: now,
	}
}

// NewModelMessage creates an assistant message from a dispatch result
func NewModelMessage(result *Result, now time.Time) *ChatMessage {
	msg := &ChatMessage{
		ID:        NewMessageID(),
		Role:      RoleModel,
		Timestamp: now,
	}
	if result != nil {
		msg.Text = result.Text
		msg.ImageURL = result.ImageURL
		msg.Sources = result.Sources
	}
	return msg
}

// ChatSession is one conversation thread. Sessions are treated as values:
// every change produces a new *ChatSession and leaves the old one intact.
type ChatSession struct {
	ID        SessionID      `json:"id"`
	Title     string         `json:"title"`
	Messages  []*ChatMessage `json:"messages"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// NewChatSession creates an empty session with the default title
func NewChatSession(now time.Time) *ChatSession {
	return &ChatSession{
		ID:        NewSessionID(),
		Title:     DefaultSessionTitle,
		Messages:  []*ChatMessage{},
		UpdatedAt: now,
	}
}

// DeriveTitle returns the session title for a first user message
func DeriveTitle(text string) string {
	runes := []rune(text)
	if len(runes) > titleLength {
		runes = runes[:titleLength]
	}
	if len(runes) == 0 {
		return ImageSessionTitle
	}
	return string(runes)
}

// WithMessage returns a copy of the session with msg appended. The first user
// message also sets the title.
func (s *ChatSession) WithMessage(msg *ChatMessage, now time.Time) *ChatSession {
	messages := make([]*ChatMessage, len(s.Messages), len(s.Messages)+1)
	copy(messages, s.Messages)

	next := &ChatSession{
		ID:        s.ID,
		Title:     s.Title,
		Messages:  append(messages, msg),
		UpdatedAt: now,
	}

	if msg.Role == RoleUser && !s.hasUserMessage() {
		next.Title = DeriveTitle(msg.Text)
	}

	return next
}

// LastMessage returns the most recent message or nil
func (s *ChatSession) LastMessage() *ChatMessage {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}

func (s *ChatSession) hasUserMessage() bool {
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}
