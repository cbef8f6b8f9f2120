package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"nhooyr.io/websocket"

	"github.com/Avicted/roomchat/internal/auth"
	"github.com/Avicted/roomchat/internal/message"
)

type fakeValidator struct {
	sessions map[string]auth.Session
}

func (v *fakeValidator) ValidateToken(token string) (auth.Session, error) {
	s, ok := v.sessions[token]
	if !ok {
		return auth.Session{}, auth.ErrUnauthorized
	}
	return s, nil
}

func newTestHub(t *testing.T) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	validator := &fakeValidator{sessions: map[string]auth.Session{
		"good": {Token: "good", UserID: "u1", Email: "ana@example.com"},
	}}
	hub := NewHub(validator, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, srv, cancel
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
}

func dial(t *testing.T, srv *httptest.Server, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return websocket.Dial(ctx, wsURL(srv, query), &websocket.DialOptions{HTTPHeader: header})
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return f
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func TestHub_SubscribeAckThenInserts(t *testing.T) {
	hub, srv, _ := newTestHub(t)

	conn, _, err := dial(t, srv, "channel=room-1&token=good", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	ack := readFrame(t, conn)
	if ack.Type != FrameSubscribed || ack.Channel != "room-1" {
		t.Fatalf("ack = %+v", ack)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1", hub.ClientCount())
	}

	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	if !hub.Publish(context.Background(), message.Message{ID: "m1", AuthorID: "u1", AuthorLabel: "ana", Body: "hi", CreatedAt: at}) {
		t.Fatal("Publish() = false")
	}

	ins := readFrame(t, conn)
	if ins.Type != FrameInsert || ins.Record == nil {
		t.Fatalf("insert frame = %+v", ins)
	}
	got, err := ins.Record.ToMessage()
	if err != nil {
		t.Fatalf("ToMessage() error = %v", err)
	}
	if got.ID != "m1" || got.Body != "hi" || !got.CreatedAt.Equal(at) {
		t.Fatalf("record = %+v", got)
	}
}

func TestHub_FanOutToEveryChannel(t *testing.T) {
	hub, srv, _ := newTestHub(t)

	var conns []*websocket.Conn
	for _, name := range []string{"a", "b"} {
		conn, _, err := dial(t, srv, "channel="+name, http.Header{"Authorization": []string{"Bearer good"}})
		if err != nil {
			t.Fatalf("dial %s: %v", name, err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		if f := readFrame(t, conn); f.Type != FrameSubscribed {
			t.Fatalf("ack = %+v", f)
		}
		conns = append(conns, conn)
	}

	hub.Publish(context.Background(), message.Message{ID: "m1", Body: "hi", CreatedAt: time.Now()})
	for i, conn := range conns {
		if f := readFrame(t, conn); f.Type != FrameInsert || f.Record.ID != "m1" {
			t.Fatalf("conn %d frame = %+v", i, f)
		}
	}
}

func TestHub_DuplicateChannelRejected(t *testing.T) {
	hub, srv, _ := newTestHub(t)

	first, _, err := dial(t, srv, "channel=dup&token=good", nil)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close(websocket.StatusNormalClosure, "bye")
	readFrame(t, first)

	second, _, err := dial(t, srv, "channel=dup&token=good", nil)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	f := readFrame(t, second)
	if f.Type != FrameError || f.Code != "channel_in_use" {
		t.Fatalf("second frame = %+v", f)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, err = second.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("close status = %v, want policy violation", websocket.CloseStatus(err))
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1", hub.ClientCount())
	}
}

func TestHub_ClientCloseUnregisters(t *testing.T) {
	hub, srv, _ := newTestHub(t)

	conn, _, err := dial(t, srv, "channel=gone&token=good", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readFrame(t, conn)
	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	waitFor(t, 2*time.Second, func() bool { return hub.ClientCount() == 0 })

	again, _, err := dial(t, srv, "channel=gone&token=good", nil)
	if err != nil {
		t.Fatalf("redial: %v", err)
	}
	defer again.Close(websocket.StatusNormalClosure, "bye")
	if f := readFrame(t, again); f.Type != FrameSubscribed {
		t.Fatalf("name not released: %+v", f)
	}
}

func TestHub_ShutdownClosesChannels(t *testing.T) {
	hub, srv, cancel := newTestHub(t)

	conn, _, err := dial(t, srv, "channel=s&token=good", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readFrame(t, conn)

	cancel()
	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Fatalf("close status = %v, want going away", websocket.CloseStatus(err))
	}
	waitFor(t, time.Second, func() bool { return hub.ClientCount() == 0 })
}

func TestHub_HandleWS_Rejections(t *testing.T) {
	_, srv, _ := newTestHub(t)

	tests := []struct {
		name   string
		query  string
		header http.Header
		want   int
	}{
		{"no credentials", "channel=x", nil, http.StatusUnauthorized},
		{"bad token", "channel=x&token=bad", nil, http.StatusUnauthorized},
		{"bad header", "channel=x", http.Header{"Authorization": []string{"Basic good"}}, http.StatusUnauthorized},
		{"missing channel", "token=good", nil, http.StatusBadRequest},
		{"long channel", "token=good&channel=" + strings.Repeat("c", maxChannelName+1), nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := dial(t, srv, tt.query, tt.header)
			if err == nil {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				t.Fatal("expected dial to fail")
			}
			if resp == nil || resp.StatusCode != tt.want {
				t.Fatalf("status = %v, want %d", resp, tt.want)
			}
		})
	}
}

func TestHub_PublishHonoursContext(t *testing.T) {
	logger, _ := test.NewNullLogger()
	hub := NewHub(nil, logger)
	for i := 0; i < broadcastQueue; i++ {
		if !hub.Publish(context.Background(), message.Message{}) {
			t.Fatalf("Publish() #%d = false", i)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if hub.Publish(ctx, message.Message{}) {
		t.Fatal("Publish() on a full queue with a cancelled context = true")
	}
}

func TestClient_Send_FullBuffer(t *testing.T) {
	c := &Client{send: make(chan []byte, 1)}
	if !c.Send([]byte("a")) {
		t.Fatal("first Send() = false")
	}
	if c.Send([]byte("b")) {
		t.Fatal("Send() on a full buffer = true")
	}
}

func TestParseAuthHeader(t *testing.T) {
	validator := &fakeValidator{sessions: map[string]auth.Session{"tok": {UserID: "u1"}}}
	tests := []struct {
		header  string
		wantErr bool
	}{
		{"Bearer tok", false},
		{"bearer tok", false},
		{"Bearer", true},
		{"Bearer tok extra", true},
		{"Token tok", true},
		{"Bearer other", true},
	}
	for _, tt := range tests {
		_, err := parseAuthHeader(tt.header, validator)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseAuthHeader(%q) error = %v, wantErr %v", tt.header, err, tt.wantErr)
		}
	}
}

func TestAuthenticateRequest_NilValidator(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=good", nil)
	if _, err := authenticateRequest(r, nil); err == nil {
		t.Fatal("expected error without validator")
	}
}
