package services

import (
	"cinematch/contract"
	"cinematch/domain"
	"cinematch/errors"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// MembershipService keeps the two kinds of room participation apart.
// Durable membership lives in the store and on the server.
// Ephemeral membership is the set of rooms the live connection is subscribed to
// and is lost with the connection, so it is reissued by Resubscribe.
type MembershipService struct {
	mu        sync.Mutex
	userID    string
	store     contract.IMembershipStore
	api       contract.IChatAPI
	hub       contract.IHub
	clock     contract.Clock
	log       *slog.Logger
	ephemeral map[string]struct{}
	// last server listing, by room
	conversations map[string]domain.ConversationRecord
}

func NewMembershipService(userID string, store contract.IMembershipStore, api contract.IChatAPI,
	hub contract.IHub, clock contract.Clock, log *slog.Logger) *MembershipService {
	return &MembershipService{
		userID:    userID,
		store:     store,
		api:       api,
		hub:       hub,
		clock:     clock,
		log:       log,
		ephemeral: make(map[string]struct{}),

		conversations: make(map[string]domain.ConversationRecord),
	}
}

// Create records durable membership of a newly matched room.
// Calling it again for an active room returns the existing record.
func (s *MembershipService) Create(roomID string) (domain.RoomMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok, err := s.store.Get(s.userID, roomID)
	if err != nil {
		return domain.RoomMembership{}, err
	}
	if ok && existing.IsActive {
		return existing, nil
	}
	membership := domain.RoomMembership{
		RoomID:   roomID,
		UserID:   s.userID,
		IsActive: true,
		JoinedAt: s.clock.Now().UTC(),
	}
	if err = s.store.Save(membership); err != nil {
		return domain.RoomMembership{}, err
	}
	s.log.Info("Room membership created", "room_id", roomID, "user_id", s.userID)
	return membership, nil
}

// Rooms lists active memberships, oldest first.
func (s *MembershipService) Rooms() ([]domain.RoomMembership, error) {
	all, err := s.store.List(s.userID)
	if err != nil {
		return nil, err
	}
	active := lo.Filter(all, func(m domain.RoomMembership, _ int) bool {
		return m.IsActive
	})
	slices.SortStableFunc(active, func(a, b domain.RoomMembership) int {
		return a.JoinedAt.Compare(b.JoinedAt)
	})
	return active, nil
}

func (s *MembershipService) IsActive(roomID string) (bool, error) {
	m, ok, err := s.store.Get(s.userID, roomID)
	if err != nil {
		return false, err
	}
	return ok && m.IsActive, nil
}

// Summaries lists active rooms, oldest first, with the conversation details
// of the last Hydrate.
func (s *MembershipService) Summaries() ([]domain.RoomSummary, error) {
	rooms, err := s.Rooms()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Map(rooms, func(m domain.RoomMembership, _ int) domain.RoomSummary {
		summary := domain.RoomSummary{RoomMembership: m}
		conversation, ok := s.conversations[m.RoomID]
		if !ok {
			return summary
		}
		summary.OtherUserID = conversation.OtherUserID
		summary.OtherDisplayName = conversation.OtherDisplayName
		summary.TmdbID = conversation.TmdbID
		summary.LastText = conversation.LastText
		if conversation.LastAt != "" {
			if at, err := domain.ParseTimestamp(conversation.LastAt); err == nil {
				summary.LastAt = &at
			}
		}
		return summary
	}), nil
}

// Hydrate records rooms known by the server but not yet by the local store,
// and keeps the listing for Summaries. A room left locally is never
// reactivated by it. The last activity of a room is not when it was joined.
func (s *MembershipService) Hydrate(ctx context.Context) error {
	conversations, err := s.api.Rooms(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conversation := range conversations {
		s.conversations[conversation.RoomID] = conversation
		_, ok, err := s.store.Get(s.userID, conversation.RoomID)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		err = s.store.Save(domain.RoomMembership{
			RoomID:   conversation.RoomID,
			UserID:   s.userID,
			IsActive: true,
			JoinedAt: s.clock.Now().UTC(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// JoinEphemeral subscribes the live connection to the room pushes.
// Only rooms with an active durable membership can be joined. The room is
// kept as subscribed even when the hub call fails, so Resubscribe retries it.
func (s *MembershipService) JoinEphemeral(ctx context.Context, roomID string) error {
	active, err := s.IsActive(roomID)
	if err != nil {
		return err
	}
	if !active {
		return fmt.Errorf("%w: %s", errors.ErrMembershipInactive, roomID)
	}

	s.mu.Lock()
	s.ephemeral[roomID] = struct{}{}
	s.mu.Unlock()

	if err = s.hub.JoinRoom(ctx, roomID); err != nil {
		return err
	}
	s.log.Debug("Joined room", "room_id", roomID)
	return nil
}

// LeaveEphemeral stops push delivery for the room. Durable membership is untouched.
// Leaving a room that is not joined is a no-op.
func (s *MembershipService) LeaveEphemeral(ctx context.Context, roomID string) error {
	s.mu.Lock()
	_, joined := s.ephemeral[roomID]
	delete(s.ephemeral, roomID)
	s.mu.Unlock()

	if !joined {
		return nil
	}
	if err := s.hub.LeaveRoom(ctx, roomID); err != nil {
		// the subscription dies with the connection anyway
		s.log.Warn("Leaving room on hub failed", "room_id", roomID, "error", err)
	}
	return nil
}

// LeavePermanently deactivates the durable membership on the server first,
// then locally. A room already left is a no-op.
func (s *MembershipService) LeavePermanently(ctx context.Context, roomID string) error {
	membership, ok, err := s.store.Get(s.userID, roomID)
	if err != nil {
		return err
	}
	if ok && !membership.IsActive {
		return s.LeaveEphemeral(ctx, roomID)
	}
	if err = s.api.Leave(ctx, roomID); err != nil {
		return err
	}
	if err = s.LeaveEphemeral(ctx, roomID); err != nil {
		return err
	}

	if !ok {
		membership = domain.RoomMembership{RoomID: roomID, UserID: s.userID, JoinedAt: s.clock.Now().UTC()}
	}
	membership.IsActive = false
	if err = s.store.Save(membership); err != nil {
		return err
	}
	s.log.Info("Room left permanently", "room_id", roomID, "user_id", s.userID)
	return nil
}

func (s *MembershipService) IsSubscribed(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ephemeral[roomID]
	return ok
}

func (s *MembershipService) Subscribed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := lo.Keys(s.ephemeral)
	slices.Sort(rooms)
	return rooms
}

// Resubscribe reissues JoinRoom for every ephemeral room, typically after a reconnect.
// Rooms failing to rejoin stay in the set so the next reconnect retries them.
func (s *MembershipService) Resubscribe(ctx context.Context) error {
	var errs []error
	for _, roomID := range s.Subscribed() {
		if err := s.hub.JoinRoom(ctx, roomID); err != nil {
			s.log.Warn("Rejoining room failed", "room_id", roomID, "error", err)
			errs = append(errs, fmt.Errorf("room %s: %w", roomID, err))
		}
	}
	return stderrors.Join(errs...)
}
