// Package domain contains core concepts of the match negotiation and chat system.
// This file defines chat messages and the rules applied to them on decode.
// Messages are immutable once created.
package domain

import (
	"cinematch/errors"
	"fmt"
	"strings"
	"time"
)

// ChatMessage is one message of a room. Provisional messages were appended
// locally on send and carry an id the server never assigned.
type ChatMessage struct {
	ID          string
	RoomID      string
	SenderID    string
	SenderName  string
	Content     string
	Timestamp   time.Time
	Provisional bool
}

// MessageRecord is a message as received from history or push, timestamp unparsed.
type MessageRecord struct {
	ID         string
	RoomID     string
	SenderID   string
	SenderName string
	Content    string
	SentAt     string
}

// the remote sometimes serializes instants without an offset; those are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
}

func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", errors.ErrMalformedTimestamp, raw)
}

// ToMessage validates the record and converts it into a confirmed ChatMessage.
func (r MessageRecord) ToMessage() (ChatMessage, error) {
	if strings.TrimSpace(r.Content) == "" {
		return ChatMessage{}, fmt.Errorf("%w: message %s has no content", errors.ErrInvalidPayload, r.ID)
	}
	at, err := ParseTimestamp(r.SentAt)
	if err != nil {
		return ChatMessage{}, err
	}
	return ChatMessage{
		ID:         r.ID,
		RoomID:     r.RoomID,
		SenderID:   r.SenderID,
		SenderName: r.SenderName,
		Content:    r.Content,
		Timestamp:  at,
	}, nil
}
