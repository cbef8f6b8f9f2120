// Package subscription owns the lifecycle of one live message subscription.
//
// A Manager moves through Idle → Opening → Live, and on failure through
// Failed → Retrying → Opening again, until the retry budget is spent and it
// parks in Closed. Every connect waits a settle delay first, and every retry
// waits a fixed backoff delay before that, so the two delays compose.
//
// Each connect attempt runs under a generation number. Teardown and every
// failure bump the generation; a timer or channel callback carrying an older
// generation is dropped.
package subscription

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/Avicted/roomchat/internal/clock"
	"github.com/Avicted/roomchat/internal/gateway"
	"github.com/Avicted/roomchat/internal/message"
	"github.com/Avicted/roomchat/internal/metrics"
)

const (
	DefaultSettleDelay   = time.Second
	DefaultRetryDelay    = 3 * time.Second
	DefaultMaxAttempts   = 3
	DefaultChannelPrefix = "roomchat"

	closeTimeout = 5 * time.Second
)

// ErrExhausted is reported through Ready when the retry budget is spent.
var ErrExhausted = errors.New("live subscription retries exhausted")

// Ready is delivered once per Open, when the manager first reaches Live or
// gives up.
type Ready struct {
	Live bool
	Err  error
}

// Opener is the part of the gateway the manager needs.
type Opener interface {
	OpenLiveChannel(ctx context.Context, name string, h gateway.Handler) (gateway.Channel, error)
	CloseChannel(ctx context.Context, ch gateway.Channel) error
}

type Config struct {
	SettleDelay   time.Duration
	RetryDelay    time.Duration
	MaxAttempts   int
	ChannelPrefix string
}

func DefaultConfig() Config {
	return Config{
		SettleDelay:   DefaultSettleDelay,
		RetryDelay:    DefaultRetryDelay,
		MaxAttempts:   DefaultMaxAttempts,
		ChannelPrefix: DefaultChannelPrefix,
	}
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithChannelNames overrides how channel names are generated.
func WithChannelNames(next func() string) Option {
	return func(m *Manager) { m.newName = next }
}

type Manager struct {
	opener  Opener
	cfg     Config
	clock   clock.Clock
	logger  logrus.FieldLogger
	newName func() string

	// delivery is held across an insert's generation check and its
	// onEvent call, and by anything that bumps gen on a live channel, so
	// no event from a replaced channel lands after Teardown returns.
	// Lock order: delivery, then mu.
	delivery sync.Mutex

	mu         sync.Mutex
	state      state
	attempts   int
	gen        uint64
	timer      clock.Timer
	cancelDial context.CancelFunc
	channel    gateway.Channel
	onEvent    func(message.Message)
	onReady    func(Ready)

	// onTransition observes every transition while the lock is held.
	onTransition func(from, to state)
}

func New(opener Opener, cfg Config, opts ...Option) *Manager {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = DefaultChannelPrefix
	}
	m := &Manager{
		opener: opener,
		cfg:    cfg,
		clock:  clock.Real{},
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.newName == nil {
		prefix := cfg.ChannelPrefix
		m.newName = func() string {
			return prefix + "-" + strings.ToLower(ulid.Make().String())
		}
	}
	return m
}

// Open starts the state machine. onEvent receives every insert delivered
// while Live; onReady fires once, at the first Live or Closed. Open is a
// no-op unless the manager is Idle or Closed; from Closed it resets the
// retry budget. It reports whether the machine was started.
func (m *Manager) Open(onEvent func(message.Message), onReady func(Ready)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != stateIdle && m.state != stateClosed {
		return false
	}
	m.onEvent = onEvent
	m.onReady = onReady
	m.attempts = 0
	m.gen++
	m.transitionLocked(stateOpening)
	m.scheduleLocked(m.cfg.SettleDelay, m.connect)
	return true
}

// Teardown forces Idle from any state. Pending timers are stopped and the
// live channel, if any, is closed in the background. An insert already being
// delivered finishes first; none is delivered afterwards. Safe to call
// repeatedly, but not from inside onEvent.
func (m *Manager) Teardown() {
	m.delivery.Lock()
	m.mu.Lock()
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	ch := m.channel
	m.channel = nil
	m.attempts = 0
	m.onEvent = nil
	m.onReady = nil
	if m.state != stateIdle {
		m.transitionLocked(stateIdle)
	}
	m.mu.Unlock()
	m.delivery.Unlock()

	if ch != nil {
		m.closeAsync(ch)
	}
}

// Live reports whether a confirmed channel is currently open.
func (m *Manager) Live() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateLive
}

func (m *Manager) scheduleLocked(d time.Duration, next func(gen uint64)) {
	gen := m.gen
	m.timer = m.clock.AfterFunc(d, func() { next(gen) })
}

func (m *Manager) connect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != stateOpening {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	name := m.newName()
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	m.logger.WithFields(logrus.Fields{"channel": name, "attempt": m.attempts}).Debug("opening live channel")
	m.mu.Unlock()
	defer cancel()

	ch, err := m.opener.OpenLiveChannel(ctx, name, gateway.Handler{
		OnInsert: func(msg message.Message) { m.handleInsert(gen, msg) },
		OnStatus: func(s gateway.Status, err error) { m.handleStatus(gen, s, err) },
	})

	m.mu.Lock()
	m.cancelDial = nil
	if gen != m.gen {
		// Torn down, or the attempt already failed through OnStatus.
		m.mu.Unlock()
		if ch != nil {
			m.closeAsync(ch)
		}
		return
	}
	if err != nil {
		ready := m.failLocked(err)
		m.mu.Unlock()
		ready()
		return
	}
	m.channel = ch
	m.mu.Unlock()
}

func (m *Manager) handleStatus(gen uint64, s gateway.Status, err error) {
	m.delivery.Lock()
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.delivery.Unlock()
		return
	}

	ready := func() {}
	switch {
	case s == gateway.Subscribed:
		if m.state == stateOpening {
			m.attempts = 0
			m.transitionLocked(stateLive)
			ready = m.takeReadyLocked(Ready{Live: true})
		}
	case m.state == stateOpening || m.state == stateLive:
		if err == nil {
			err = errors.New("live channel " + s.String())
		}
		ready = m.failLocked(err)
	}
	m.mu.Unlock()
	m.delivery.Unlock()
	ready()
}

func (m *Manager) handleInsert(gen uint64, msg message.Message) {
	m.delivery.Lock()
	defer m.delivery.Unlock()

	m.mu.Lock()
	deliver := gen == m.gen && m.state == stateLive
	onEvent := m.onEvent
	m.mu.Unlock()

	if deliver && onEvent != nil {
		onEvent(msg)
	}
}

// failLocked records a failed attempt and either schedules a retry or gives
// up. It returns the ready callback to run once the lock is released.
func (m *Manager) failLocked(cause error) func() {
	m.transitionLocked(stateFailed)
	m.gen++

	if ch := m.channel; ch != nil {
		m.channel = nil
		m.closeAsync(ch)
	}

	log := m.logger.WithFields(logrus.Fields{"attempt": m.attempts + 1, "max_attempts": m.cfg.MaxAttempts})
	if m.attempts+1 >= m.cfg.MaxAttempts {
		log.WithError(cause).Warn("live channel failed; retries exhausted")
		m.transitionLocked(stateClosed)
		return m.takeReadyLocked(Ready{Err: ErrExhausted})
	}

	log.WithError(cause).Info("live channel failed; retrying")
	m.attempts++
	m.transitionLocked(stateRetrying)
	m.scheduleLocked(m.cfg.RetryDelay, m.retry)
	return func() {}
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state != stateRetrying {
		return
	}
	m.transitionLocked(stateOpening)
	m.scheduleLocked(m.cfg.SettleDelay, m.connect)
}

// takeReadyLocked hands out onReady at most once per Open.
func (m *Manager) takeReadyLocked(r Ready) func() {
	fn := m.onReady
	m.onReady = nil
	if fn == nil {
		return func() {}
	}
	return func() { fn(r) }
}

func (m *Manager) transitionLocked(to state) {
	from := m.state
	m.state = to
	metrics.SubscriptionTransitions.WithLabelValues(to.String()).Inc()
	m.logger.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Debug("subscription transition")
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
}

func (m *Manager) closeAsync(ch gateway.Channel) {
	logger := m.logger
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := m.opener.CloseChannel(ctx, ch); err != nil {
			logger.WithField("channel", ch.Name()).WithError(err).Debug("close live channel")
		}
	}()
}
