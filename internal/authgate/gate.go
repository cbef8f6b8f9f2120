// Package authgate runs the chat engine only while someone is signed in
// and the chat panel is on screen.
package authgate

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Avicted/roomchat/internal/identity"
)

// Engine is the part of chatsync.Engine the gate drives.
type Engine interface {
	Initialize(ctx context.Context) error
	Destroy()
}

type Gate struct {
	engine Engine
	ids    identity.Provider
	logger logrus.FieldLogger

	mu          sync.Mutex
	ctx         context.Context
	visible     bool
	unsubscribe func()
}

func New(engine Engine, ids identity.Provider, logger logrus.FieldLogger) *Gate {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Gate{engine: engine, ids: ids, logger: logger, visible: true}
}

// Start follows auth changes until Stop. ctx bounds every Initialize the
// gate triggers. The engine is initialized right away when a principal is
// already present.
func (g *Gate) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.unsubscribe != nil {
		return nil
	}
	g.ctx = ctx
	g.unsubscribe = g.ids.OnAuthChange(g.handleAuth)
	return g.syncLocked()
}

// Stop detaches from auth changes and destroys the engine.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.unsubscribe != nil {
		g.unsubscribe()
		g.unsubscribe = nil
	}
	g.engine.Destroy()
}

// SetVisible shows or hides the chat. Hiding destroys the engine; showing
// initializes it when someone is signed in.
func (g *Gate) SetVisible(visible bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.visible == visible {
		return nil
	}
	g.visible = visible
	if g.unsubscribe == nil {
		return nil
	}
	return g.syncLocked()
}

func (g *Gate) handleAuth(ev identity.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.unsubscribe == nil {
		return
	}
	g.logger.WithField("event", ev.Kind.String()).Debug("auth changed")
	switch ev.Kind {
	case identity.SignedOut:
		g.engine.Destroy()
	case identity.SignedIn:
		// A different account may have signed in over the old one.
		g.engine.Destroy()
		if err := g.syncLocked(); err != nil {
			g.logger.WithError(err).Warn("chat not initialized after sign in")
		}
	}
}

func (g *Gate) syncLocked() error {
	_, signedIn := g.ids.CurrentPrincipal(g.ctx)
	if !g.visible || !signedIn {
		g.engine.Destroy()
		return nil
	}
	return g.engine.Initialize(g.ctx)
}
