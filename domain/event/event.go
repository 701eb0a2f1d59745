package event

import (
	"cinematch/domain"
	"time"
)

type Type string

const (
	MatchRequestReceivedType Type = "MATCH_REQUEST_RECEIVED"
	MutualMatchType          Type = "MUTUAL_MATCH"
	MessageReceivedType      Type = "MESSAGE_RECEIVED"
	ReconnectingType         Type = "RECONNECTING"
	ReconnectedType          Type = "RECONNECTED"
	ClosedType               Type = "CLOSED"
)

// Event is anything delivered to observers of the notification channel.
type Event interface {
	Type() Type
}

// MatchRequestReceived : another user asked to match with the local user.
type MatchRequestReceived struct {
	FromUser    domain.UserRef
	SharedCount int
	Message     string
}

func (MatchRequestReceived) Type() Type { return MatchRequestReceivedType }

// MutualMatch : both users accepted, a room now exists.
type MutualMatch struct {
	RoomID           string
	OtherUser        domain.UserRef
	SharedMovieTitle string
}

func (MutualMatch) Type() Type { return MutualMatchType }

type MessageReceived struct {
	Message domain.ChatMessage
}

func (MessageReceived) Type() Type { return MessageReceivedType }

type Reconnecting struct {
	Err error
	At  time.Time
}

func (Reconnecting) Type() Type { return ReconnectingType }

// Reconnected is raised once the channel is connected again after a drop.
// Every live room subscription was lost with the old connection.
type Reconnected struct {
	At time.Time
}

func (Reconnected) Type() Type { return ReconnectedType }

// Closed : the channel gave up reconnecting, or was closed for good by the remote.
type Closed struct {
	Err error
	At  time.Time
}

func (Closed) Type() Type { return ClosedType }
