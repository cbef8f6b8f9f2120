// Package remote talks to the roomchat server over HTTP and websockets. A
// Client satisfies gateway.Gateway.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Avicted/roomchat/internal/identity"
	"github.com/Avicted/roomchat/internal/message"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	defaultAckTimeout  = 10 * time.Second
)

// ErrNoSession is returned by calls that need a bearer token before one
// was obtained.
var ErrNoSession = errors.New("no session token")

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "server returned " + strconv.Itoa(e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type Session struct {
	Token     string
	UserID    string
	Email     string
	ExpiresAt time.Time
}

func (s Session) Principal() identity.Principal {
	return identity.Principal{UserID: s.UserID, Email: s.Email}
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = l }
}

// WithAckTimeout bounds the wait for a live channel's subscribed frame.
func WithAckTimeout(d time.Duration) Option {
	return func(c *Client) { c.ackTimeout = d }
}

type Client struct {
	serverURL  string
	httpClient *http.Client
	logger     logrus.FieldLogger
	ackTimeout time.Duration

	mu    sync.RWMutex
	token string
}

func New(serverURL string, opts ...Option) *Client {
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logrus.StandardLogger(),
		ackTimeout: defaultAckTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Register creates an account and keeps the returned token.
func (c *Client) Register(ctx context.Context, email, password string) (Session, error) {
	return c.authRequest(ctx, "/auth/register", email, password)
}

// Login signs in and keeps the returned token.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	return c.authRequest(ctx, "/auth/login", email, password)
}

// Logout forgets the token locally.
func (c *Client) Logout() {
	c.SetToken("")
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	ExpiresAt string `json:"expires_at"`
}

func (c *Client) authRequest(ctx context.Context, path, email, password string) (Session, error) {
	var resp authResponse
	if err := c.doJSON(ctx, http.MethodPost, path, "", authRequest{Email: email, Password: password}, &resp); err != nil {
		return Session{}, err
	}
	expires, err := time.Parse(time.RFC3339Nano, resp.ExpiresAt)
	if err != nil {
		return Session{}, errors.Wrap(err, "decode expires_at")
	}
	session := Session{
		Token:     resp.Token,
		UserID:    resp.UserID,
		Email:     resp.Email,
		ExpiresAt: expires,
	}
	c.SetToken(session.Token)
	return session, nil
}

type listMessagesResponse struct {
	Messages []message.Row `json:"messages"`
}

// FetchRecent returns up to limit of the newest rows, oldest first.
func (c *Client) FetchRecent(ctx context.Context, limit int) ([]message.Message, error) {
	token := c.Token()
	if token == "" {
		return nil, ErrNoSession
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))

	var resp listMessagesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/messages?"+query.Encode(), token, nil, &resp); err != nil {
		return nil, err
	}

	msgs := make([]message.Message, 0, len(resp.Messages))
	for _, row := range resp.Messages {
		msg, err := row.ToMessage()
		if err != nil {
			return nil, errors.Wrapf(err, "decode row %s", row.ID)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

type createMessageRequest struct {
	Username  string `json:"username"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// Insert stores msg and returns the row the server assigned.
func (c *Client) Insert(ctx context.Context, msg message.Message) (message.Message, error) {
	token := c.Token()
	if token == "" {
		return message.Message{}, ErrNoSession
	}
	req := createMessageRequest{
		Username: msg.AuthorLabel,
		Message:  msg.Body,
	}
	if !msg.CreatedAt.IsZero() {
		req.CreatedAt = msg.CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	var row message.Row
	if err := c.doJSON(ctx, http.MethodPost, "/messages", token, req, &row); err != nil {
		return message.Message{}, err
	}
	saved, err := row.ToMessage()
	if err != nil {
		return message.Message{}, errors.Wrap(err, "decode inserted row")
	}
	return saved, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, strings.SplitN(path, "?", 2)[0])
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
