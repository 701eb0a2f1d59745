package protocol

import (
	"cinematch/domain"
	"cinematch/domain/event"
	"cinematch/errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	TargetMatchRequestReceived = "matchRequestReceived"
	TargetMutualMatch          = "mutualMatch"
	TargetReceiveMessage       = "ReceiveMessage"

	TargetJoinRoom    = "JoinRoom"
	TargetLeaveRoom   = "LeaveRoom"
	TargetSendMessage = "SendMessage"
)

var validate = validator.New()

type UserPayload struct {
	ID          string `json:"id" validate:"required"`
	DisplayName string `json:"displayName"`
}

func (u UserPayload) toRef() domain.UserRef {
	return domain.UserRef{ID: u.ID, DisplayName: u.DisplayName}
}

type MatchRequestPayload struct {
	User              UserPayload `json:"user"`
	SharedMoviesCount int         `json:"sharedMoviesCount" validate:"gte=0"`
	Message           string      `json:"message"`
}

type MutualMatchPayload struct {
	RoomID           string      `json:"roomId" validate:"required"`
	User             UserPayload `json:"user"`
	SharedMovieTitle string      `json:"sharedMovieTitle"`
}

// MessagePayload accepts both the chat API names and the client names,
// the hub has been seen pushing either.
type MessagePayload struct {
	ID                string `json:"id" validate:"required"`
	RoomID            string `json:"roomId" validate:"required"`
	SenderID          string `json:"senderId" validate:"required"`
	SenderDisplayName string `json:"senderDisplayName"`
	SenderName        string `json:"senderName"`
	Text              string `json:"text"`
	Content           string `json:"content"`
	SentAt            string `json:"sentAt"`
	Timestamp         string `json:"timestamp"`
}

func (m MessagePayload) ToRecord() domain.MessageRecord {
	return domain.MessageRecord{
		ID:         m.ID,
		RoomID:     m.RoomID,
		SenderID:   m.SenderID,
		SenderName: firstNonEmpty(m.SenderDisplayName, m.SenderName),
		Content:    firstNonEmpty(m.Text, m.Content),
		SentAt:     firstNonEmpty(m.SentAt, m.Timestamp),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ToEvent decodes an inbound invocation into the event it carries.
// Unknown targets return ok=false and no error.
func ToEvent(r Record) (evt event.Event, ok bool, err error) {
	switch r.Target {
	case TargetMatchRequestReceived:
		var p MatchRequestPayload
		if err := decodeArg(r, &p); err != nil {
			return nil, false, err
		}
		return event.MatchRequestReceived{
			FromUser:    p.User.toRef(),
			SharedCount: p.SharedMoviesCount,
			Message:     p.Message,
		}, true, nil
	case TargetMutualMatch:
		var p MutualMatchPayload
		if err := decodeArg(r, &p); err != nil {
			return nil, false, err
		}
		return event.MutualMatch{
			RoomID:           p.RoomID,
			OtherUser:        p.User.toRef(),
			SharedMovieTitle: p.SharedMovieTitle,
		}, true, nil
	case TargetReceiveMessage:
		var p MessagePayload
		if err := decodeArg(r, &p); err != nil {
			return nil, false, err
		}
		msg, err := p.ToRecord().ToMessage()
		if err != nil {
			return nil, false, err
		}
		return event.MessageReceived{Message: msg}, true, nil
	default:
		return nil, false, nil
	}
}

func decodeArg(r Record, v any) error {
	if err := r.Arg(0, v); err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s: %w", errors.ErrInvalidPayload, r.Target, err)
	}
	return nil
}
