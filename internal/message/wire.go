package message

import (
	"fmt"
	"time"
)

// Row is the JSON shape of a chat_messages row.
type Row struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

func RowFrom(m Message) Row {
	return Row{
		ID:        string(m.ID),
		UserID:    m.AuthorID,
		Username:  m.AuthorLabel,
		Message:   m.Body,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (r Row) ToMessage() (Message, error) {
	created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("parse created_at: %w", err)
	}
	return Message{
		ID:          ID(r.ID),
		AuthorID:    r.UserID,
		AuthorLabel: r.Username,
		Body:        r.Message,
		CreatedAt:   created.UTC(),
	}, nil
}
