package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"

	"github.com/Avicted/roomchat/internal/auth"
	"github.com/Avicted/roomchat/internal/message"
	"github.com/Avicted/roomchat/internal/metrics"
)

const (
	sendBuffer     = 64
	broadcastQueue = 256
	writeTimeout   = 5 * time.Second
	maxChannelName = 128
)

type tokenValidator interface {
	ValidateToken(token string) (auth.Session, error)
}

// Hub owns every open live channel and fans inserted rows out to them.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan message.Message
	clients    map[*Client]struct{}
	byChannel  map[string]*Client
	validator  tokenValidator
	logger     logrus.FieldLogger
	count      atomic.Int64
}

func NewHub(validator tokenValidator, logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message.Message, broadcastQueue),
		clients:    make(map[*Client]struct{}),
		byChannel:  make(map[string]*Client),
		validator:  validator,
		logger:     logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c, websocket.StatusGoingAway, "server shutdown")
			}
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			if _, ok := h.clients[c]; !ok {
				continue
			}
			h.drop(c, websocket.StatusNormalClosure, "bye")
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// Publish queues msg for every subscribed channel. It reports false when
// the queue is full or ctx ends first.
func (h *Hub) Publish(ctx context.Context, msg message.Message) bool {
	select {
	case h.broadcast <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (h *Hub) ClientCount() int64 {
	return h.count.Load()
}

func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	session, err := authenticateRequest(r, h.validator)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	name := strings.TrimSpace(r.URL.Query().Get("channel"))
	if name == "" || len(name) > maxChannelName {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	// The connection outlives the handler's request context.
	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		conn:     conn,
		hub:      h,
		ctx:      ctx,
		cancel:   cancel,
		send:     make(chan []byte, sendBuffer),
		accepted: make(chan bool, 1),
		channel:  name,
		userID:   string(session.UserID),
	}

	h.register <- client
	if !<-client.accepted {
		client.reject()
		return
	}

	go client.writeLoop()
	client.readLoop()
}

// add registers c and queues its ack before any insert can reach it.
func (h *Hub) add(c *Client) {
	log := h.logger.WithFields(logrus.Fields{"channel": c.channel, "user_id": c.userID})
	if _, taken := h.byChannel[c.channel]; taken {
		log.Debug("live channel name already in use")
		c.accepted <- false
		return
	}
	c.accepted <- true
	h.clients[c] = struct{}{}
	h.byChannel[c.channel] = c
	h.count.Add(1)
	metrics.LiveChannels.Inc()
	c.sendFrame(Frame{Type: FrameSubscribed, Channel: c.channel})
	log.Debug("live channel subscribed")
}

func (h *Hub) drop(c *Client, status websocket.StatusCode, reason string) {
	delete(h.clients, c)
	if h.byChannel[c.channel] == c {
		delete(h.byChannel, c.channel)
	}
	h.count.Add(-1)
	metrics.LiveChannels.Dec()
	c.close(status, reason)
	h.logger.WithField("channel", c.channel).Debug("live channel closed")
}

func (h *Hub) fanOut(msg message.Message) {
	row := message.RowFrom(msg)
	data, err := json.Marshal(Frame{Type: FrameInsert, Record: &row})
	if err != nil {
		h.logger.WithError(err).Error("encode insert frame")
		return
	}
	for c := range h.clients {
		if !c.Send(data) {
			h.logger.WithField("channel", c.channel).Warn("live channel too slow; dropping")
			h.drop(c, websocket.StatusTryAgainLater, "too slow")
		}
	}
}

type Client struct {
	conn      *websocket.Conn
	hub       *Hub
	ctx       context.Context
	cancel    context.CancelFunc
	send      chan []byte
	accepted  chan bool
	closeOnce sync.Once
	channel   string
	userID    string
}

func (c *Client) Send(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) readLoop() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.ctx.Done():
		}
	}()

	// Live channels are receive only; inbound frames are read and dropped.
	for {
		if _, _, err := c.conn.Read(c.ctx); err != nil {
			return
		}
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *Client) close(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
		_ = c.conn.Close(status, reason)
	})
}

// reject tells an unregistered client why and closes it.
func (c *Client) reject() {
	defer c.cancel()
	data, err := json.Marshal(Frame{Type: FrameError, Code: "channel_in_use", Message: "channel name already subscribed"})
	if err == nil {
		ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
		_ = c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
	}
	_ = c.conn.Close(websocket.StatusPolicyViolation, "channel in use")
}

func (c *Client) sendFrame(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	_ = c.Send(data)
}

func authenticateRequest(r *http.Request, validator tokenValidator) (auth.Session, error) {
	if validator == nil {
		return auth.Session{}, auth.ErrUnauthorized
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return validator.ValidateToken(token)
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		return parseAuthHeader(header, validator)
	}
	return auth.Session{}, auth.ErrUnauthorized
}

func parseAuthHeader(header string, validator tokenValidator) (auth.Session, error) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return auth.Session{}, auth.ErrUnauthorized
	}
	return validator.ValidateToken(parts[1])
}
