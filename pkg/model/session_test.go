package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mkai/pkg/model"
)

func TestDeriveTitle(t *testing.T) {
	gt.Equal(t, model.DeriveTitle("Hello"), "Hello")
	gt.Equal(t, model.DeriveTitle(""), model.ImageSessionTitle)
	gt.Equal(t, model.DeriveTitle(strings.Repeat("a", 45)), strings.Repeat("a", 30))

	// Multi-byte characters are counted as characters, not bytes
	title := model.DeriveTitle(strings.Repeat("猫", 40))
	gt.Equal(t, len([]rune(title)), 30)
}

func TestSessionWithMessage(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := model.NewChatSession(now)
	gt.Equal(t, s.Title, model.DefaultSessionTitle)

	later := now.Add(time.Minute)
	first := model.NewUserMessage("draw a cat in a hat please", "", later)
	s1 := s.WithMessage(first, later)

	t.Run("original session is untouched", func(t *testing.T) {
		gt.A(t, s.Messages).Length(0)
		gt.Equal(t, s.Title, model.DefaultSessionTitle)
		gt.Equal(t, s.UpdatedAt, now)
	})

	t.Run("first user message sets the title", func(t *testing.T) {
		gt.A(t, s1.Messages).Length(1)
		gt.Equal(t, s1.Title, "draw a cat in a hat please")
		gt.Equal(t, s1.UpdatedAt, later)
		gt.Equal(t, s1.ID, s.ID)
	})

	t.Run("title does not change afterwards", func(t *testing.T) {
		reply := model.NewModelMessage(&model.Result{Text: "meow"}, later)
		s2 := s1.WithMessage(reply, later)
		s3 := s2.WithMessage(model.NewUserMessage("something else entirely", "", later), later)
		gt.Equal(t, s3.Title, "draw a cat in a hat please")
		gt.A(t, s3.Messages).Length(3)
		gt.Equal(t, s3.Messages[0].ID, first.ID)
		gt.Equal(t, s3.Messages[1].ID, reply.ID)
		gt.Equal(t, s3.LastMessage().Role, model.RoleUser)
	})
}

func TestSessionWithImageOnlyMessage(t *testing.T) {
	now := time.Now()
	s := model.NewChatSession(now).WithMessage(model.NewUserMessage("", "data:image/png;base64,AAAA", now), now)
	gt.Equal(t, s.Title, model.ImageSessionTitle)
}

func TestSourceResolvable(t *testing.T) {
	gt.True(t, (&model.Source{Title: "a", URI: "https://example.com"}).Resolvable())
	gt.False(t, (&model.Source{Title: "a", URI: "#"}).Resolvable())
	gt.False(t, (&model.Source{Title: "a"}).Resolvable())
}

func TestNewGuestUser(t *testing.T) {
	u := model.NewGuestUser()
	gt.True(t, u.IsGuest)
	gt.Equal(t, u.Name, "Guest User")
	gt.S(t, string(u.ID)).HasPrefix("guest-")

	n := model.NewUser("Alice", "alice@example.com", "")
	gt.False(t, n.IsGuest)
	gt.S(t, string(n.ID)).HasPrefix("user-")
	gt.NotEqual(t, u.ID, n.ID)
}
