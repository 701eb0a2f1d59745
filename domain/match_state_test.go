package domain

import (
	"cinematch/errors"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

var allStatuses = []MatchStatus{
	StatusNone, StatusPendingSent, StatusPendingReceived, StatusMatched, StatusDeclined,
}

func TestTransition_Only_Allowed_Pairs_Succeed(t *testing.T) {
	req := require.New(t)
	allowed := map[[2]MatchStatus]bool{}
	for _, pair := range [][2]MatchStatus{
		{StatusNone, StatusPendingSent},
		{StatusNone, StatusPendingReceived},
		{StatusNone, StatusDeclined},
		{StatusPendingSent, StatusMatched},
		{StatusPendingSent, StatusDeclined},
		{StatusPendingReceived, StatusMatched},
		{StatusPendingReceived, StatusDeclined},
	} {
		allowed[pair] = true
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			got, err := Transition(from, to)
			if allowed[[2]MatchStatus{from, to}] {
				req.NoError(err, "%s -> %s", from, to)
				req.Equal(to, got)
				continue
			}
			req.ErrorIs(err, errors.ErrInvalidTransition, "%s -> %s", from, to)
			req.Equal(from, got, "failed transition must leave the state unchanged")

			var transitionErr *TransitionError
			req.ErrorAs(err, &transitionErr)
			req.Equal(from, transitionErr.From)
			req.Equal(to, transitionErr.To)
		}
	}
}

func TestTransition_Terminal_States_Have_No_Exit(t *testing.T) {
	req := require.New(t)
	for _, terminal := range []MatchStatus{StatusMatched, StatusDeclined} {
		req.True(terminal.IsTerminal())
		req.True(ShouldRemoveFromList(terminal))
		for _, to := range allStatuses {
			req.False(CanTransition(terminal, to))
		}
	}
	req.False(ShouldRemoveFromList(StatusNone))
	req.False(ShouldRemoveFromList(StatusPendingSent))
	req.False(ShouldRemoveFromList(StatusPendingReceived))
}

func TestHandleAccept(t *testing.T) {
	req := require.New(t)

	next, err := HandleAccept(StatusNone)
	req.NoError(err)
	req.Equal(StatusPendingSent, next)

	next, err = HandleAccept(StatusPendingReceived)
	req.NoError(err)
	req.Equal(StatusMatched, next)

	// Accepting twice is a no-op
	next, err = HandleAccept(StatusPendingSent)
	req.NoError(err)
	req.Equal(StatusPendingSent, next)

	_, err = HandleAccept(StatusMatched)
	req.ErrorIs(err, errors.ErrInvalidTransition)
	_, err = HandleAccept(StatusDeclined)
	req.ErrorIs(err, errors.ErrInvalidTransition)
}

func TestHandleDecline(t *testing.T) {
	req := require.New(t)
	for _, from := range []MatchStatus{StatusNone, StatusPendingSent, StatusPendingReceived} {
		next, err := HandleDecline(from)
		req.NoError(err)
		req.Equal(StatusDeclined, next)
	}
	_, err := HandleDecline(StatusMatched)
	req.ErrorIs(err, errors.ErrInvalidTransition)
}

func TestHandleMutualMatchConfirmed(t *testing.T) {
	req := require.New(t)

	next, err := HandleMutualMatchConfirmed(StatusPendingSent)
	req.NoError(err)
	req.Equal(StatusMatched, next)

	next, err = HandleMutualMatchConfirmed(StatusPendingReceived)
	req.NoError(err)
	req.Equal(StatusMatched, next)

	next, err = HandleMutualMatchConfirmed(StatusNone)
	req.ErrorIs(err, errors.ErrInvalidTransition)
	req.Equal(StatusNone, next)
}

func TestParseMatchStatus(t *testing.T) {
	req := require.New(t)
	for _, status := range allStatuses {
		parsed, err := ParseMatchStatus(status.String())
		req.NoError(err)
		req.Equal(status, parsed)
	}

	parsed, err := ParseMatchStatus("superliked")
	req.ErrorIs(err, errors.ErrUnknownMatchStatus)
	req.Equal(StatusNone, parsed)
}

func TestMatchCandidate_WithStatus_Keeps_RequestSentAt_Invariant(t *testing.T) {
	req := require.New(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	candidate := MatchCandidate{UserID: "u1", Status: StatusNone}

	// When the candidate moves to pending_sent
	sent := candidate.WithStatus(StatusPendingSent, at)

	// Then the request time is recorded
	req.NotNil(sent.RequestSentAt)
	req.Equal(at, *sent.RequestSentAt)
	req.Nil(candidate.RequestSentAt, "original value is untouched")

	// And it is cleared once the candidate leaves pending_sent
	matched := sent.WithStatus(StatusMatched, at.Add(time.Minute))
	req.Nil(matched.RequestSentAt)
}

func TestMessageRecord_ToMessage(t *testing.T) {
	req := require.New(t)

	msg, err := MessageRecord{ID: "m1", RoomID: "r1", SenderID: "u1", Content: "hi", SentAt: "2024-05-01T10:00:00Z"}.ToMessage()
	req.NoError(err)
	req.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), msg.Timestamp)
	req.False(msg.Provisional)

	// No offset means UTC
	msg, err = MessageRecord{ID: "m2", Content: "hi", SentAt: "2024-05-01T10:00:00.123"}.ToMessage()
	req.NoError(err)
	req.Equal(time.UTC, msg.Timestamp.Location())

	_, err = MessageRecord{ID: "m3", Content: "hi", SentAt: "yesterday"}.ToMessage()
	req.ErrorIs(err, errors.ErrMalformedTimestamp)

	_, err = MessageRecord{ID: "m4", Content: "  ", SentAt: "2024-05-01T10:00:00Z"}.ToMessage()
	req.ErrorIs(err, errors.ErrInvalidPayload)
}
