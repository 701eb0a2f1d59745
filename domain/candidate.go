package domain

import "time"

// UserRef identifies a user together with the name shown to others.
type UserRef struct {
	ID          string
	DisplayName string
}

type SharedMovie struct {
	TmdbID      int
	Title       string
	PosterURL   string
	ReleaseYear *string
}

// MatchCandidate is a user offered as a potential match.
// RequestSentAt is set if and only if Status is StatusPendingSent.
type MatchCandidate struct {
	UserID         string
	DisplayName    string
	OverlapCount   int
	SharedMovieIDs []int
	SharedMovies   []SharedMovie
	Status         MatchStatus
	RequestSentAt  *time.Time
}

// WithStatus returns a copy moved to next, keeping the RequestSentAt invariant.
func (c MatchCandidate) WithStatus(next MatchStatus, at time.Time) MatchCandidate {
	c.Status = next
	switch {
	case next != StatusPendingSent:
		c.RequestSentAt = nil
	case c.RequestSentAt == nil:
		sentAt := at
		c.RequestSentAt = &sentAt
	}
	return c
}

// PrimaryMovieID is the shared movie a match request is made for.
func (c MatchCandidate) PrimaryMovieID() (int, bool) {
	if len(c.SharedMovieIDs) > 0 {
		return c.SharedMovieIDs[0], true
	}
	if len(c.SharedMovies) > 0 {
		return c.SharedMovies[0].TmdbID, true
	}
	return 0, false
}

// CandidateRecord is a candidate as received from the remote service, status untyped.
type CandidateRecord struct {
	UserID         string
	DisplayName    string
	OverlapCount   int
	SharedMovieIDs []int
	SharedMovies   []SharedMovie
	MatchStatus    string
	RequestSentAt  string
}

type MatchRequest struct {
	TargetUserID  string
	SharedMovieID int
}

// AcceptResult is the remote answer to an accept. RoomID is only set when Matched.
type AcceptResult struct {
	Matched bool
	RoomID  string
}
