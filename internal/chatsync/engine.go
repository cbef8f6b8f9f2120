// Package chatsync keeps a local, ordered copy of the room's messages in
// step with the remote store: history first, then the live tail.
package chatsync

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Avicted/roomchat/internal/clock"
	"github.com/Avicted/roomchat/internal/gateway"
	"github.com/Avicted/roomchat/internal/identity"
	"github.com/Avicted/roomchat/internal/message"
	"github.com/Avicted/roomchat/internal/metrics"
	"github.com/Avicted/roomchat/internal/msgstore"
	"github.com/Avicted/roomchat/internal/notify"
	"github.com/Avicted/roomchat/internal/securelog"
	"github.com/Avicted/roomchat/internal/subscription"
)

const DefaultHistoryLimit = 100

const (
	noticeLoadFailed = "Could not load messages"
	noticeDegraded   = "Live updates are unavailable. New messages from others will appear after reconnecting."
)

type Config struct {
	HistoryLimit int
	Subscription subscription.Config
}

func DefaultConfig() Config {
	return Config{
		HistoryLimit: DefaultHistoryLimit,
		Subscription: subscription.DefaultConfig(),
	}
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

type Engine struct {
	gw       gateway.Gateway
	ids      identity.Provider
	store    *msgstore.Store
	subs     *subscription.Manager
	clock    clock.Clock
	logger   logrus.FieldLogger
	notifier notify.Notifier
	limit    int

	// mu serializes Initialize, Destroy and Reconnect.
	mu          sync.Mutex
	initialized bool

	sig       sync.Mutex
	cycle     uint64
	ready     chan struct{}
	readyDone bool
}

func New(gw gateway.Gateway, ids identity.Provider, cfg Config, opts ...Option) *Engine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	e := &Engine{
		gw:       gw,
		ids:      ids,
		store:    msgstore.New(),
		clock:    clock.Real{},
		logger:   logrus.StandardLogger(),
		notifier: notify.Discard,
		limit:    cfg.HistoryLimit,
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.subs = subscription.New(gw, cfg.Subscription,
		subscription.WithClock(e.clock),
		subscription.WithLogger(e.logger),
	)
	return e
}

// Initialize loads recent history and opens the live feed. It returns nil
// immediately when already initialized. A history failure is shown to the
// user, returned as *BackendError and leaves the engine uninitialized.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}

	history, err := e.gw.FetchRecent(ctx, e.limit)
	if err != nil {
		securelog.Error(e.logger, "chatsync.initialize", err)
		e.notifier.Show(notify.Error, noticeLoadFailed)
		return &BackendError{Op: "fetch recent", Err: err}
	}
	e.store.ReplaceAll(history)
	e.logger.WithField("count", len(history)).Debug("history loaded")

	e.openLocked()
	e.initialized = true
	return nil
}

// Send validates body, stamps it and inserts it. The stored row is merged
// into the local copy right away; the echo from the live feed is dropped as
// a duplicate. Sends are never retried.
func (e *Engine) Send(ctx context.Context, body string) (message.Message, error) {
	text, err := message.NormalizeBody(body)
	if err != nil {
		metrics.SendsTotal.WithLabelValues("invalid").Inc()
		return message.Message{}, err
	}

	principal, ok := e.ids.CurrentPrincipal(ctx)
	if !ok {
		metrics.SendsTotal.WithLabelValues("unauthenticated").Inc()
		return message.Message{}, ErrNotAuthenticated
	}

	saved, err := e.gw.Insert(ctx, message.Message{
		AuthorID:    principal.UserID,
		AuthorLabel: principal.Label(),
		Body:        text,
		CreatedAt:   e.clock.Now().UTC(),
	})
	if err != nil {
		metrics.SendsTotal.WithLabelValues("error").Inc()
		securelog.Error(e.logger, "chatsync.send", err)
		return message.Message{}, &BackendError{Op: "insert", Err: err}
	}

	metrics.SendsTotal.WithLabelValues("ok").Inc()
	e.merge(saved)
	return saved, nil
}

// Destroy stops the live feed and empties the local copy. Waiters on Ready
// are released.
func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subs.Teardown()
	e.store.Clear()
	e.initialized = false

	e.sig.Lock()
	e.cycle++
	e.closeReadyLocked()
	e.sig.Unlock()
}

// Reconnect reopens a live feed that gave up. It does nothing while the
// feed is connecting or live, or before Initialize.
func (e *Engine) Reconnect() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return
	}
	e.openLocked()
}

// Messages registers observer for every snapshot of the ordered messages,
// starting with the current one.
func (e *Engine) Messages(observer func([]message.Message)) func() {
	return e.store.Subscribe(observer)
}

// Ready is closed once the current live feed is connected or has given up,
// or the engine is destroyed.
func (e *Engine) Ready() <-chan struct{} {
	e.sig.Lock()
	defer e.sig.Unlock()
	return e.ready
}

func (e *Engine) Live() bool {
	return e.subs.Live()
}

// openLocked holds sig across Open so a ready callback cannot run against
// the previous cycle.
func (e *Engine) openLocked() {
	e.sig.Lock()
	defer e.sig.Unlock()

	cycle := e.cycle + 1
	if !e.subs.Open(e.mergeLive, func(r subscription.Ready) { e.settled(cycle, r) }) {
		return
	}
	e.cycle = cycle
	if e.readyDone {
		e.ready = make(chan struct{})
		e.readyDone = false
	}
}

func (e *Engine) settled(cycle uint64, r subscription.Ready) {
	e.sig.Lock()
	if cycle != e.cycle {
		e.sig.Unlock()
		return
	}
	e.closeReadyLocked()
	e.sig.Unlock()

	if r.Err != nil {
		e.logger.WithError(r.Err).Warn("live updates unavailable")
		e.notifier.Show(notify.Warning, noticeDegraded)
		return
	}
	e.logger.Debug("live updates connected")
}

func (e *Engine) closeReadyLocked() {
	if !e.readyDone {
		close(e.ready)
		e.readyDone = true
	}
}

func (e *Engine) mergeLive(msg message.Message) {
	if msg.ID == "" || strings.TrimSpace(msg.Body) == "" {
		e.logger.WithField("message_id", string(msg.ID)).Debug("dropping incomplete live event")
		return
	}
	e.merge(msg)
}

func (e *Engine) merge(msg message.Message) {
	if e.store.Merge(msg) {
		metrics.MessagesMerged.WithLabelValues("appended").Inc()
		return
	}
	metrics.MessagesMerged.WithLabelValues("duplicate").Inc()
}
