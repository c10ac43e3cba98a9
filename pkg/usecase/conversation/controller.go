package conversation

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mkai/pkg/model"
	"github.com/m-mizutani/mkai/pkg/repository"
	"github.com/m-mizutani/mkai/pkg/utils/logging"
)

// ErrorText is appended as the model message when a turn fails
const ErrorText = "I'm sorry, I encountered an error processing your request. Please try again."

var (
	ErrBusy            = goerr.New("a turn is already in progress")
	ErrEmptyTurn       = goerr.New("turn has neither text nor image")
	ErrNotLoggedIn     = goerr.New("no identity is logged in")
	ErrSessionNotFound = goerr.New("session not found")
	ErrOffline         = goerr.New("no model backend configured")
)

// Classifier decides the intent of a turn. It must not fail.
type Classifier interface {
	Classify(ctx context.Context, text string, hasAttachedImage bool) model.Intent
}

// Dispatcher executes the operation selected by an intent
type Dispatcher interface {
	Dispatch(ctx context.Context, text string, intent model.Intent, imageURI string) (*model.Result, error)
}

// TurnState is a step of the turn lifecycle
type TurnState string

const (
	StateIdle                TurnState = "IDLE"
	StateSessionResolved     TurnState = "SESSION_RESOLVED"
	StateUserMessageAppended TurnState = "USER_MESSAGE_APPENDED"
	StateClassifying         TurnState = "CLASSIFYING"
	StateDispatching         TurnState = "DISPATCHING"
	StateResultAppended      TurnState = "RESULT_APPENDED"
	StateErrorAppended       TurnState = "ERROR_APPENDED"
)

// Controller owns the identity and the session collection and runs turns
// against them. Only one turn runs at a time.
type Controller struct {
	repo       repository.Repository
	classifier Classifier
	dispatcher Dispatcher

	now     func() time.Time
	onState func(ctx context.Context, state TurnState)

	awaiting atomic.Bool

	// persistMu orders writes so that a newer snapshot is never overwritten
	// by an older one
	persistMu sync.Mutex

	mu       sync.RWMutex
	user     *model.User
	sessions []*model.ChatSession
	activeID model.SessionID
}

type Option func(*Controller)

// WithClock replaces the time source used for message timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithStateHook registers a callback invoked on every turn state transition
func WithStateHook(hook func(ctx context.Context, state TurnState)) Option {
	return func(c *Controller) {
		c.onState = hook
	}
}

// NewInput contains the collaborators of a Controller. Classifier and
// Dispatcher may be nil for a controller that only manages identity and
// sessions; Send then fails with ErrOffline.
type NewInput struct {
	Repo       repository.Repository
	Classifier Classifier
	Dispatcher Dispatcher
}

// New creates a Controller and loads the stored identity and sessions. The
// first stored session becomes active. Unreadable state is logged and
// replaced with an empty one.
func New(ctx context.Context, input NewInput, opts ...Option) *Controller {
	c := &Controller{
		repo:       input.Repo,
		classifier: input.Classifier,
		dispatcher: input.Dispatcher,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	logger := logging.From(ctx)

	user, err := c.repo.GetUser(ctx)
	if err != nil {
		logger.Warn("failed to load identity", "error", err)
	}
	c.user = user

	sessions, err := c.repo.GetSessions(ctx)
	if err != nil {
		logger.Warn("failed to load sessions", "error", err)
		sessions = nil
	}
	c.sessions = sessions
	if len(sessions) > 0 {
		c.activeID = sessions[0].ID
	}

	return c
}

// Login stores user as the current identity
func (c *Controller) Login(ctx context.Context, user *model.User) error {
	if user == nil {
		return goerr.New("user is required")
	}
	if err := c.repo.PutUser(ctx, user); err != nil {
		return goerr.Wrap(err, "failed to store identity", goerr.V("user_id", user.ID))
	}

	c.mu.Lock()
	c.user = user
	c.mu.Unlock()

	logging.From(ctx).Debug("logged in", "user_id", user.ID, "guest", user.IsGuest)
	return nil
}

// Logout removes the identity. Sessions are kept.
func (c *Controller) Logout(ctx context.Context) error {
	if err := c.repo.DeleteUser(ctx); err != nil {
		return goerr.Wrap(err, "failed to remove identity")
	}

	c.mu.Lock()
	c.user = nil
	c.mu.Unlock()
	return nil
}

// User returns the current identity or nil
func (c *Controller) User() *model.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// Sessions returns the session collection, newest first. The returned slice
// is a snapshot and is never modified by the controller.
func (c *Controller) Sessions() []*model.ChatSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions
}

// ActiveSession returns the selected session or nil
func (c *Controller) ActiveSession() *model.ChatSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return findSession(c.sessions, c.activeID)
}

// Select makes id the active session
func (c *Controller) Select(id model.SessionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if findSession(c.sessions, id) == nil {
		return goerr.Wrap(ErrSessionNotFound, "cannot select session", goerr.V("session_id", id))
	}
	c.activeID = id
	return nil
}

// NewSession prepends an empty session and selects it
func (c *Controller) NewSession(ctx context.Context) *model.ChatSession {
	session := model.NewChatSession(c.now())

	c.mu.Lock()
	next := make([]*model.ChatSession, 0, len(c.sessions)+1)
	next = append(next, session)
	next = append(next, c.sessions...)
	c.sessions = next
	c.activeID = session.ID
	c.mu.Unlock()

	c.persist(ctx)
	return session
}

// DeleteSession removes a session. If it was active, the first remaining
// session is selected, or the selection is cleared when none remain.
func (c *Controller) DeleteSession(ctx context.Context, id model.SessionID) error {
	c.mu.Lock()
	if findSession(c.sessions, id) == nil {
		c.mu.Unlock()
		return goerr.Wrap(ErrSessionNotFound, "cannot delete session", goerr.V("session_id", id))
	}

	next := make([]*model.ChatSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		if s.ID != id {
			next = append(next, s)
		}
	}
	c.sessions = next

	switch {
	case len(next) == 0:
		c.activeID = ""
	case c.activeID == id:
		c.activeID = next[0].ID
	}
	c.mu.Unlock()

	c.persist(ctx)
	return nil
}

// Awaiting reports whether a turn is in progress
func (c *Controller) Awaiting() bool {
	return c.awaiting.Load()
}

// Send runs one turn: the user message is appended to the active session
// (created if needed), the turn is classified and dispatched, and exactly one
// model message is appended. A failed dispatch is not returned as an error;
// it is recorded as ErrorText in the session. The returned message is the
// appended model message. ErrSessionNotFound is returned when the session was
// deleted before the model message could be appended.
func (c *Controller) Send(ctx context.Context, text, imageURI string) (*model.ChatMessage, error) {
	if strings.TrimSpace(text) == "" && imageURI == "" {
		return nil, goerr.Wrap(ErrEmptyTurn, "nothing to send")
	}
	if c.User() == nil {
		return nil, goerr.Wrap(ErrNotLoggedIn, "login before sending")
	}
	if c.classifier == nil || c.dispatcher == nil {
		return nil, goerr.Wrap(ErrOffline, "cannot send")
	}
	if !c.awaiting.CompareAndSwap(false, true) {
		return nil, goerr.Wrap(ErrBusy, "turn rejected")
	}
	defer func() {
		c.awaiting.Store(false)
		c.transition(ctx, StateIdle)
	}()

	sessionID := c.resolveSession(ctx)
	c.transition(ctx, StateSessionResolved)

	c.appendMessage(ctx, sessionID, model.NewUserMessage(text, imageURI, c.now()))
	c.transition(ctx, StateUserMessageAppended)

	c.transition(ctx, StateClassifying)
	intent := c.classifier.Classify(ctx, text, imageURI != "")

	c.transition(ctx, StateDispatching)
	result, err := c.dispatcher.Dispatch(ctx, text, intent, imageURI)
	if err != nil {
		logging.From(ctx).Error("failed to process turn",
			"error", err,
			"intent", intent,
			"session_id", sessionID,
		)
		msg := model.NewModelMessage(&model.Result{Text: ErrorText}, c.now())
		if !c.appendMessage(ctx, sessionID, msg) {
			return nil, goerr.Wrap(ErrSessionNotFound, "session deleted during turn", goerr.V("session_id", sessionID))
		}
		c.transition(ctx, StateErrorAppended)
		return msg, nil
	}

	msg := model.NewModelMessage(result, c.now())
	if !c.appendMessage(ctx, sessionID, msg) {
		return nil, goerr.Wrap(ErrSessionNotFound, "session deleted during turn", goerr.V("session_id", sessionID))
	}
	c.transition(ctx, StateResultAppended)
	return msg, nil
}

// resolveSession returns the active session, creating and selecting a new one
// when nothing is active
func (c *Controller) resolveSession(ctx context.Context) model.SessionID {
	c.mu.RLock()
	active := findSession(c.sessions, c.activeID)
	c.mu.RUnlock()

	if active != nil {
		return active.ID
	}
	return c.NewSession(ctx).ID
}

// appendMessage replaces the target session with a copy carrying msg. The
// session may have been deleted meanwhile; the message is dropped then and
// false is returned.
func (c *Controller) appendMessage(ctx context.Context, id model.SessionID, msg *model.ChatMessage) bool {
	c.mu.Lock()
	next := make([]*model.ChatSession, len(c.sessions))
	found := false
	for i, s := range c.sessions {
		if s.ID == id {
			next[i] = s.WithMessage(msg, c.now())
			found = true
		} else {
			next[i] = s
		}
	}
	if found {
		c.sessions = next
	}
	c.mu.Unlock()

	if !found {
		logging.From(ctx).Warn("session vanished during turn", "session_id", id)
		return false
	}
	c.persist(ctx)
	return true
}

// persist writes the session collection back. Failures are logged only; an
// empty collection is not written.
func (c *Controller) persist(ctx context.Context) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	sessions := c.Sessions()
	if len(sessions) == 0 {
		return
	}
	if err := c.repo.PutSessions(ctx, sessions); err != nil {
		logging.From(ctx).Warn("failed to persist sessions", "error", err)
	}
}

func (c *Controller) transition(ctx context.Context, state TurnState) {
	logging.From(ctx).Debug("turn state", "state", state)
	if c.onState != nil {
		c.onState(ctx, state)
	}
}

func findSession(sessions []*model.ChatSession, id model.SessionID) *model.ChatSession {
	if id == "" {
		return nil
	}
	for _, s := range sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}
