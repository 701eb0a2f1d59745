package domain

import "time"

// RoomMembership is the durable record of a user's participation in a room.
// Live subscription to the room is not part of it.
type RoomMembership struct {
	RoomID   string
	UserID   string
	IsActive bool
	JoinedAt time.Time
}

// ConversationRecord is one room of the remote room listing.
type ConversationRecord struct {
	RoomID           string
	OtherUserID      string
	OtherDisplayName string
	TmdbID           *int
	LastText         string
	LastAt           string
}

// RoomSummary is an active room as shown to the user: the membership plus
// what the server last reported about the conversation, when it did.
type RoomSummary struct {
	RoomMembership
	OtherUserID      string
	OtherDisplayName string
	TmdbID           *int
	LastText         string
	LastAt           *time.Time
}
