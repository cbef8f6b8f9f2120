package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"

	"github.com/Avicted/roomchat/internal/gateway"
	"github.com/Avicted/roomchat/internal/ws"
)

// liveChannel is one websocket subscription. Its read goroutine is the only
// caller of the handler.
type liveChannel struct {
	name   string
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	closing bool
}

func (l *liveChannel) Name() string { return l.name }

// OpenLiveChannel dials the server and starts reading. The subscribed ack,
// inserts and failures arrive through h; a returned error means the dial
// itself failed.
func (c *Client) OpenLiveChannel(ctx context.Context, name string, h gateway.Handler) (gateway.Channel, error) {
	token := c.Token()
	if token == "" {
		return nil, ErrNoSession
	}

	endpoint, err := liveURL(c.serverURL, name)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: c.dialHTTPClient(),
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "dial live channel")
	}

	readCtx, cancel := context.WithCancel(context.Background())
	ch := &liveChannel{
		name:   name,
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.readLoop(readCtx, ch, h)
	return ch, nil
}

// CloseChannel closes ch and waits for its reader to stop.
func (c *Client) CloseChannel(ctx context.Context, ch gateway.Channel) error {
	live, ok := ch.(*liveChannel)
	if !ok {
		return errors.Errorf("unknown channel type %T", ch)
	}

	live.mu.Lock()
	already := live.closing
	live.closing = true
	live.mu.Unlock()
	if already {
		return nil
	}

	err := live.conn.Close(websocket.StatusNormalClosure, "bye")
	live.cancel()

	select {
	case <-live.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err != nil && websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
		c.logger.WithField("channel", live.name).WithError(err).Debug("close live channel")
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, ch *liveChannel, h gateway.Handler) {
	defer close(ch.done)
	log := c.logger.WithField("channel", ch.name)

	acked := false
	for {
		readCtx, cancelRead := ctx, context.CancelFunc(func() {})
		if !acked {
			readCtx, cancelRead = context.WithTimeout(ctx, c.ackTimeout)
		}
		_, data, err := ch.conn.Read(readCtx)
		timedOut := readCtx.Err() == context.DeadlineExceeded
		cancelRead()
		if err != nil {
			if ch.isClosing() {
				return
			}
			switch {
			case timedOut:
				report(h, gateway.TimedOut, errors.New("no subscribed ack from server"))
			case websocket.CloseStatus(err) == websocket.StatusPolicyViolation:
				report(h, gateway.ChannelError, errors.Wrap(err, "live channel rejected"))
			default:
				report(h, gateway.Closed, errors.Wrap(err, "live channel closed"))
			}
			_ = ch.conn.Close(websocket.StatusNormalClosure, "")
			return
		}

		var frame ws.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.WithError(err).Debug("undecodable live frame")
			continue
		}

		switch frame.Type {
		case ws.FrameSubscribed:
			if !acked {
				acked = true
				report(h, gateway.Subscribed, nil)
			}
		case ws.FrameInsert:
			if frame.Record == nil {
				continue
			}
			msg, err := frame.Record.ToMessage()
			if err != nil {
				log.WithError(err).Debug("undecodable insert record")
				continue
			}
			if h.OnInsert != nil && acked && !ch.isClosing() {
				h.OnInsert(msg)
			}
		case ws.FrameError:
			if ch.isClosing() {
				return
			}
			report(h, gateway.ChannelError, errors.Errorf("server error %s: %s", frame.Code, frame.Message))
			ch.markClosing()
			_ = ch.conn.Close(websocket.StatusNormalClosure, "")
			return
		default:
			log.WithFields(logrus.Fields{"type": frame.Type}).Debug("unknown live frame")
		}
	}
}

func (l *liveChannel) isClosing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closing
}

func (l *liveChannel) markClosing() {
	l.mu.Lock()
	l.closing = true
	l.mu.Unlock()
}

func report(h gateway.Handler, s gateway.Status, err error) {
	if h.OnStatus != nil {
		h.OnStatus(s, err)
	}
}

func (c *Client) dialHTTPClient() *http.Client {
	// Dial must not inherit the REST timeout; the connection is long lived.
	hc := *c.httpClient
	hc.Timeout = 0
	return &hc
}

func liveURL(serverURL, name string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", errors.Wrap(err, "parse server url")
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", errors.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	query := url.Values{}
	query.Set("channel", name)
	u.RawQuery = query.Encode()
	return u.String(), nil
}
