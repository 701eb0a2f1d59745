package errors

import "fmt"

var (
	ErrConnection         = fmt.Errorf("connection error")
	ErrNotConnected       = fmt.Errorf("notification channel not connected")
	ErrHandshake          = fmt.Errorf("hub handshake failed")
	ErrInvalidTransition  = fmt.Errorf("invalid match status transition")
	ErrUnknownMatchStatus = fmt.Errorf("unknown match status")
	ErrMalformedTimestamp = fmt.Errorf("malformed timestamp")
	ErrRemoteRejection    = fmt.Errorf("remote call rejected")
	ErrStaleSubscription  = fmt.Errorf("push for a room without ephemeral membership")
	ErrEmptyContent       = fmt.Errorf("message content is empty")
	ErrCandidateNotFound  = fmt.Errorf("candidate not found")
	ErrRequestInFlight    = fmt.Errorf("a request for this candidate is already in flight")
	ErrMembershipInactive = fmt.Errorf("room membership is not active")
	ErrInvalidPayload     = fmt.Errorf("invalid payload")
	ErrMissingSubject     = fmt.Errorf("access token has no subject")
	ErrWorkerPanic        = fmt.Errorf("worker panic")
)
