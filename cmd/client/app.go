package main

import (
	"context"
	"errors"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/Avicted/roomchat/internal/authgate"
	"github.com/Avicted/roomchat/internal/chatsync"
	"github.com/Avicted/roomchat/internal/config"
	"github.com/Avicted/roomchat/internal/identity"
	"github.com/Avicted/roomchat/internal/message"
	"github.com/Avicted/roomchat/internal/notify"
	"github.com/Avicted/roomchat/internal/remote"
)

const noticeQueue = 32

// chatApp wires the remote gateway, the session and the sync engine, and
// turns their callbacks into tea messages.
type chatApp struct {
	api      *remote.Client
	sessions *identity.Sessions
	engine   *chatsync.Engine
	gate     *authgate.Gate
	logger   logrus.FieldLogger

	notices chan noticeMsg
	changed chan struct{}

	mu     sync.Mutex
	latest []message.Message

	unsubscribe func()
}

type noticeMsg struct {
	level notify.Level
	text  string
}

type messagesMsg []message.Message

func newChatApp(cfg config.ClientConfig, logger logrus.FieldLogger) *chatApp {
	a := &chatApp{
		api:      remote.New(cfg.ServerURL, remote.WithLogger(logger)),
		sessions: identity.NewSessions(),
		logger:   logger,
		notices:  make(chan noticeMsg, noticeQueue),
		changed:  make(chan struct{}, 1),
	}
	a.engine = chatsync.New(a.api, a.sessions, cfg.SyncConfig(),
		chatsync.WithLogger(logger),
		chatsync.WithNotifier(notify.Func(a.notice)),
	)
	a.gate = authgate.New(a.engine, a.sessions, logger)
	a.unsubscribe = a.engine.Messages(a.snapshot)
	return a
}

// start hides the chat until someone signs in.
func (a *chatApp) start(ctx context.Context) error {
	if err := a.gate.SetVisible(false); err != nil {
		return err
	}
	return a.gate.Start(ctx)
}

func (a *chatApp) stop() {
	a.gate.Stop()
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}

func (a *chatApp) notice(level notify.Level, text string) {
	select {
	case a.notices <- noticeMsg{level: level, text: text}:
	default:
		a.logger.WithField("notice", text).Debug("notice dropped")
	}
}

func (a *chatApp) snapshot(msgs []message.Message) {
	a.mu.Lock()
	a.latest = msgs
	a.mu.Unlock()
	select {
	case a.changed <- struct{}{}:
	default:
	}
}

func (a *chatApp) messages() []message.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest
}

// waitForEvent blocks until a notice or a new snapshot is available.
func (a *chatApp) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case n := <-a.notices:
			return n
		case <-a.changed:
			return messagesMsg(a.messages())
		}
	}
}

func (a *chatApp) principal() (identity.Principal, bool) {
	return a.sessions.CurrentPrincipal(context.Background())
}

// authenticate signs in or registers, then shows the chat. A failed
// history load is reported through the notifier, not returned.
func (a *chatApp) authenticate(ctx context.Context, register bool, email, password string) (remote.Session, error) {
	var session remote.Session
	var err error
	if register {
		session, err = a.api.Register(ctx, email, password)
	} else {
		session, err = a.api.Login(ctx, email, password)
	}
	if err != nil {
		return remote.Session{}, err
	}

	a.sessions.SignIn(session.Principal())
	if err := a.gate.SetVisible(true); err != nil {
		a.logger.WithError(err).Debug("chat not loaded after sign in")
	}
	return session, nil
}

func (a *chatApp) logout() {
	_ = a.gate.SetVisible(false)
	a.sessions.SignOut()
	a.api.Logout()
}

// reload retries a failed history load, then reopens a live feed that gave up.
func (a *chatApp) reload(ctx context.Context) error {
	if err := a.engine.Initialize(ctx); err != nil {
		return err
	}
	a.engine.Reconnect()
	return nil
}

func (a *chatApp) send(ctx context.Context, body string) error {
	_, err := a.engine.Send(ctx, body)
	return err
}

// sendFailureText is the notice shown for a failed send.
func sendFailureText(err error) (notify.Level, string) {
	var invalid *message.ValidationError
	var backend *chatsync.BackendError
	switch {
	case errors.As(err, &invalid):
		return notify.Warning, "Message must be 1-255 characters"
	case errors.Is(err, chatsync.ErrNotAuthenticated):
		return notify.Error, "You must be signed in to send messages"
	case errors.As(err, &backend):
		return notify.Error, "Failed to send message"
	default:
		return notify.Error, err.Error()
	}
}
