package services

import (
	"cinematch/contract"
	"cinematch/domain"
	"cinematch/domain/event"
	"cinematch/errors"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

type CandidateSource interface {
	Fetch(ctx context.Context) ([]domain.MatchCandidate, error)
}

// MatchService owns the visible working set of candidates.
// State only moves after the remote call succeeded, and terminal rows are evicted.
// Remote calls run outside the lock; a row with a call in flight rejects a second one.
type MatchService struct {
	mu         sync.Mutex
	source     CandidateSource
	api        contract.IMatchAPI
	clock      contract.Clock
	log        *slog.Logger
	order      []string
	candidates map[string]domain.MatchCandidate
	inFlight   map[string]struct{}
	updates    *event.Registry[[]domain.MatchCandidate]
}

func NewMatchService(source CandidateSource, api contract.IMatchAPI, clock contract.Clock, log *slog.Logger) *MatchService {
	return &MatchService{
		source:     source,
		api:        api,
		clock:      clock,
		log:        log,
		candidates: make(map[string]domain.MatchCandidate),
		inFlight:   make(map[string]struct{}),
		updates:    event.NewRegistry[[]domain.MatchCandidate]("match_service", log),
	}
}

func (s *MatchService) OnUpdate(fn func([]domain.MatchCandidate)) event.Unsubscribe {
	return s.updates.Subscribe(fn)
}

// Refresh replaces the working set with the remote one, the source of truth.
func (s *MatchService) Refresh(ctx context.Context) error {
	fetched, err := s.source.Fetch(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.order = s.order[:0]
	s.candidates = make(map[string]domain.MatchCandidate, len(fetched))
	for _, candidate := range fetched {
		if domain.ShouldRemoveFromList(candidate.Status) {
			continue
		}
		if _, dup := s.candidates[candidate.UserID]; !dup {
			s.order = append(s.order, candidate.UserID)
		}
		s.candidates[candidate.UserID] = candidate
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Debug("Candidates refreshed", "count", len(snapshot))
	s.updates.Notify(snapshot)
	return nil
}

func (s *MatchService) Candidates() []domain.MatchCandidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *MatchService) Get(userID string) (domain.MatchCandidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[userID]
	return c, ok
}

// Accept expresses interest in a candidate. Accepting a pending_sent row is a
// no-op without remote call. When the remote answers matched, the returned
// result carries the room to open.
func (s *MatchService) Accept(ctx context.Context, userID string) (domain.AcceptResult, error) {
	candidate, target, err := s.begin(userID, domain.HandleAccept)
	if err != nil || target == candidate.Status {
		return domain.AcceptResult{}, err
	}
	defer s.end(userID)

	movieID, _ := candidate.PrimaryMovieID()
	result, err := s.api.Accept(ctx, domain.MatchRequest{TargetUserID: userID, SharedMovieID: movieID})
	if err != nil {
		return domain.AcceptResult{}, fmt.Errorf("%w: accept %s: %w", errors.ErrRemoteRejection, userID, err)
	}

	next := domain.StatusPendingSent
	if result.Matched {
		next = domain.StatusMatched
	}
	s.apply(userID, next)
	s.log.Info("Candidate accepted", "user_id", userID, "state", next, "room_id", result.RoomID)
	return result, nil
}

func (s *MatchService) Decline(ctx context.Context, userID string) error {
	candidate, _, err := s.begin(userID, domain.HandleDecline)
	if err != nil {
		return err
	}
	defer s.end(userID)

	movieID, _ := candidate.PrimaryMovieID()
	if err = s.api.Decline(ctx, domain.MatchRequest{TargetUserID: userID, SharedMovieID: movieID}); err != nil {
		return fmt.Errorf("%w: decline %s: %w", errors.ErrRemoteRejection, userID, err)
	}
	s.apply(userID, domain.StatusDeclined)
	s.log.Info("Candidate declined", "user_id", userID)
	return nil
}

// HandleMatchRequest applies a pushed request from another user.
// An unknown sender is added to the working set as pending_received.
func (s *MatchService) HandleMatchRequest(evt event.MatchRequestReceived) {
	s.mu.Lock()
	candidate, ok := s.candidates[evt.FromUser.ID]
	switch {
	case !ok:
		s.order = append(s.order, evt.FromUser.ID)
		s.candidates[evt.FromUser.ID] = domain.MatchCandidate{
			UserID:       evt.FromUser.ID,
			DisplayName:  evt.FromUser.DisplayName,
			OverlapCount: evt.SharedCount,
			Status:       domain.StatusPendingReceived,
		}
	case candidate.Status == domain.StatusNone:
		next, _ := domain.Transition(candidate.Status, domain.StatusPendingReceived)
		s.candidates[evt.FromUser.ID] = candidate.WithStatus(next, s.clock.Now())
	default:
		s.mu.Unlock()
		s.log.Debug("Match request ignored", "user_id", evt.FromUser.ID, "state", candidate.Status)
		return
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.updates.Notify(snapshot)
}

// HandleMutualMatch drives a pending candidate to matched and evicts it.
// The remote is authoritative: a row in another state is evicted as well.
func (s *MatchService) HandleMutualMatch(evt event.MutualMatch) {
	s.mu.Lock()
	candidate, ok := s.candidates[evt.OtherUser.ID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, err := domain.HandleMutualMatchConfirmed(candidate.Status); err != nil {
		s.log.Warn("Mutual match for a candidate not pending", "user_id", candidate.UserID,
			"state", candidate.Status, "error", err)
	}
	s.evictLocked(candidate.UserID)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.updates.Notify(snapshot)
}

// begin validates the user action against the state machine and marks the row in flight.
func (s *MatchService) begin(userID string, action func(domain.MatchStatus) (domain.MatchStatus, error)) (domain.MatchCandidate, domain.MatchStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate, ok := s.candidates[userID]
	if !ok {
		return domain.MatchCandidate{}, domain.StatusNone, fmt.Errorf("%w: %s", errors.ErrCandidateNotFound, userID)
	}
	target, err := action(candidate.Status)
	if err != nil {
		return candidate, candidate.Status, err
	}
	if target == candidate.Status {
		return candidate, target, nil
	}
	if _, busy := s.inFlight[userID]; busy {
		return candidate, candidate.Status, fmt.Errorf("%w: %s", errors.ErrRequestInFlight, userID)
	}
	s.inFlight[userID] = struct{}{}
	return candidate, target, nil
}

func (s *MatchService) end(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, userID)
}

// apply moves the row to next from whatever state it is in now, a push may
// have moved it while the remote call was running.
func (s *MatchService) apply(userID string, next domain.MatchStatus) {
	s.mu.Lock()
	candidate, ok := s.candidates[userID]
	if !ok || candidate.Status == next {
		s.mu.Unlock()
		return
	}

	current := candidate.Status
	// the remote may match a fresh accept directly
	if current == domain.StatusNone && next == domain.StatusMatched {
		current = domain.StatusPendingSent
	}
	moved, err := domain.Transition(current, next)
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("Remote answer does not fit local state", "user_id", userID,
			"state", candidate.Status, "error", err)
		return
	}

	if domain.ShouldRemoveFromList(moved) {
		s.evictLocked(userID)
	} else {
		s.candidates[userID] = candidate.WithStatus(moved, s.clock.Now())
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.updates.Notify(snapshot)
}

func (s *MatchService) evictLocked(userID string) {
	delete(s.candidates, userID)
	if idx := slices.Index(s.order, userID); idx >= 0 {
		s.order = slices.Delete(s.order, idx, idx+1)
	}
}

func (s *MatchService) snapshotLocked() []domain.MatchCandidate {
	out := make([]domain.MatchCandidate, 0, len(s.order))
	for _, userID := range s.order {
		out = append(out, s.candidates[userID])
	}
	return out
}
