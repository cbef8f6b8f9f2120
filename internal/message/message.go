package message

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxBodyLength is the maximum number of characters in a trimmed body.
const MaxBodyLength = 255

// DefaultAuthorLabel is used when the principal has no email local part.
const DefaultAuthorLabel = "user"

type ID string

// Message is a chat row. It is never mutated after creation.
type Message struct {
	ID          ID
	AuthorID    string
	AuthorLabel string
	Body        string
	CreatedAt   time.Time
}

// Repository is the durable append-only message table.
type Repository interface {
	Insert(ctx context.Context, msg Message) (Message, error)
	ListRecent(ctx context.Context, limit int) ([]Message, error)
}

// ValidationError reports an outgoing body that cannot be sent.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid message: " + e.Reason
}

// NormalizeBody trims body and checks its length.
func NormalizeBody(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "", &ValidationError{Reason: "body is empty"}
	}
	if utf8.RuneCountInString(trimmed) > MaxBodyLength {
		return "", &ValidationError{Reason: "body exceeds 255 characters"}
	}
	return trimmed, nil
}

// LabelFor derives the display label from an email address.
func LabelFor(email string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	if local == "" {
		return DefaultAuthorLabel
	}
	return local
}
