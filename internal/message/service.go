package message

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// Service is the server side of the message table.
type Service struct {
	repo  Repository
	idGen func() ID
	now   func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		idGen: func() ID {
			return ID(uuid.NewString())
		},
		now: time.Now,
	}
}

// Post validates and stores a message for authorID. createdAt is the
// sender's clock; a zero value is replaced with the server's.
func (s *Service) Post(ctx context.Context, authorID, label, body string, createdAt time.Time) (Message, error) {
	if s.repo == nil {
		return Message{}, errors.New("repository is required")
	}
	if authorID == "" {
		return Message{}, &ValidationError{Reason: "author is required"}
	}
	text, err := NormalizeBody(body)
	if err != nil {
		return Message{}, err
	}
	if label == "" {
		label = DefaultAuthorLabel
	}
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	return s.repo.Insert(ctx, Message{
		ID:          s.idGen(),
		AuthorID:    authorID,
		AuthorLabel: label,
		Body:        text,
		CreatedAt:   createdAt.UTC(),
	})
}

// Recent returns up to limit of the newest messages, oldest first. limit
// falls back to DefaultListLimit when not positive and is capped at
// MaxListLimit.
func (s *Service) Recent(ctx context.Context, limit int) ([]Message, error) {
	if s.repo == nil {
		return nil, errors.New("repository is required")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.repo.ListRecent(ctx, limit)
}
