package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Avicted/roomchat/internal/auth"
	"github.com/Avicted/roomchat/internal/message"
	"github.com/Avicted/roomchat/internal/metrics"
	"github.com/Avicted/roomchat/internal/securelog"
	"github.com/Avicted/roomchat/internal/storage"
	"github.com/Avicted/roomchat/internal/user"
)

const (
	maxBodyBytes = 1 << 20
	timeLayout   = time.RFC3339Nano
)

// Publisher pushes stored rows to live channels.
type Publisher interface {
	Publish(ctx context.Context, msg message.Message) bool
}

type Handler struct {
	auth      *auth.Service
	messages  *message.Service
	publisher Publisher
	logger    logrus.FieldLogger
}

func NewHandler(auth *auth.Service, messages *message.Service, publisher Publisher, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		auth:      auth,
		messages:  messages,
		publisher: publisher,
		logger:    logger,
	}
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token     string  `json:"token"`
	UserID    user.ID `json:"user_id"`
	Email     string  `json:"email"`
	ExpiresAt string  `json:"expires_at"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		h.writeError(w, http.StatusInternalServerError, errors.New("auth service not configured"))
		return
	}

	var req authRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	_, session, err := h.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, user.ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, storage.ErrConflict):
			h.writeError(w, http.StatusConflict, errors.New("email already registered"))
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse(session))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		h.writeError(w, http.StatusInternalServerError, errors.New("auth service not configured"))
		return
	}

	var req authRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	_, session, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnauthorized):
			h.writeError(w, http.StatusUnauthorized, err)
		case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, user.ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse(session))
}

func sessionResponse(session auth.Session) authResponse {
	return authResponse{
		Token:     session.Token,
		UserID:    session.UserID,
		Email:     session.Email,
		ExpiresAt: session.ExpiresAt.UTC().Format(timeLayout),
	}
}

type listMessagesResponse struct {
	Messages []message.Row `json:"messages"`
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if h.messages == nil {
		h.writeError(w, http.StatusInternalServerError, errors.New("message service not configured"))
		return
	}
	if _, err := h.authenticate(r); err != nil {
		h.writeError(w, http.StatusUnauthorized, err)
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, errors.New("limit must be an integer"))
			return
		}
		limit = parsed
	}

	msgs, err := h.messages.Recent(r.Context(), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := listMessagesResponse{Messages: make([]message.Row, 0, len(msgs))}
	for _, msg := range msgs {
		resp.Messages = append(resp.Messages, message.RowFrom(msg))
	}
	writeJSON(w, http.StatusOK, resp)
}

type createMessageRequest struct {
	Username  string `json:"username"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

func (h *Handler) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	if h.messages == nil {
		h.writeError(w, http.StatusInternalServerError, errors.New("message service not configured"))
		return
	}
	session, err := h.authenticate(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req createMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	var createdAt time.Time
	if raw := strings.TrimSpace(req.CreatedAt); raw != "" {
		createdAt, err = time.Parse(timeLayout, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, errors.New("created_at must be RFC 3339"))
			return
		}
	}

	// The label always comes from the authenticated account.
	label := message.LabelFor(session.Email)
	saved, err := h.messages.Post(r.Context(), string(session.UserID), label, req.Message, createdAt)
	if err != nil {
		var invalid *message.ValidationError
		switch {
		case errors.As(err, &invalid):
			h.writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, storage.ErrConflict):
			h.writeError(w, http.StatusConflict, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	metrics.MessagesInserted.Inc()
	if h.publisher != nil && !h.publisher.Publish(r.Context(), saved) {
		h.logger.WithField("message_id", string(saved.ID)).Warn("insert not published to live channels")
	}
	writeJSON(w, http.StatusCreated, message.RowFrom(saved))
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) authenticate(r *http.Request) (auth.Session, error) {
	if h.auth == nil {
		return auth.Session{}, auth.ErrUnauthorized
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		parts := strings.Fields(header)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return h.auth.ValidateToken(parts[1])
		}
	}
	return auth.Session{}, auth.ErrUnauthorized
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("multiple json objects are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		securelog.Error(h.logger, "httpapi", err)
		err = errors.New(http.StatusText(status))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
