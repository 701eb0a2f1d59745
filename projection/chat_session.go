// Package projection builds the local, ordered view of a chat room.
// It merges fetched history, optimistic local sends and pushed deliveries.
// It never renders anything itself; observers receive snapshots.
package projection

import (
	"cinematch/contract"
	"cinematch/domain"
	"cinematch/domain/event"
	"cinematch/errors"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	DefaultReconcileWindow = 2 * time.Minute
	provisionalPrefix      = "local-"
)

// ChatSession owns the ordered message list of one room.
// Every mutation happens under mu, and the list is re-sorted by
// timestamp after each one, so arrival order never leaks into the view.
// publishMu is held from mutation to notification: observers see snapshots
// in mutation order and must not mutate the session themselves.
type ChatSession struct {
	publishMu       sync.Mutex
	mu              sync.Mutex
	roomID          string
	owner           domain.UserRef
	api             contract.IChatAPI
	hub             contract.IHub
	clock           contract.Clock
	log             *slog.Logger
	reconcileWindow time.Duration
	messages        []domain.ChatMessage
	known           map[string]struct{}
	updates         *event.Registry[[]domain.ChatMessage]
}

func NewChatSession(roomID string, owner domain.UserRef, api contract.IChatAPI, hub contract.IHub,
	clock contract.Clock, log *slog.Logger, reconcileWindow time.Duration) *ChatSession {
	if reconcileWindow <= 0 {
		reconcileWindow = DefaultReconcileWindow
	}
	log = log.With("room_id", roomID)
	return &ChatSession{
		roomID:          roomID,
		owner:           owner,
		api:             api,
		hub:             hub,
		clock:           clock,
		log:             log,
		reconcileWindow: reconcileWindow,
		known:           make(map[string]struct{}),
		updates:         event.NewRegistry[[]domain.ChatMessage]("chat_session", log),
	}
}

func (s *ChatSession) RoomID() string {
	return s.roomID
}

// OnUpdate registers an observer receiving the full ordered list after every change.
func (s *ChatSession) OnUpdate(fn func([]domain.ChatMessage)) event.Unsubscribe {
	return s.updates.Subscribe(fn)
}

// GetHistory fetches the most recent messages and merges them into the session.
// Records with an unparseable timestamp or no content are logged and dropped.
func (s *ChatSession) GetHistory(ctx context.Context, limit int) ([]domain.ChatMessage, error) {
	records, err := s.api.FetchMessages(ctx, s.roomID, limit)
	if err != nil {
		return nil, err
	}
	messages := make([]domain.ChatMessage, 0, len(records))
	for _, record := range records {
		msg, err := record.ToMessage()
		if err != nil {
			s.log.Warn("Dropping history record", "id", record.ID, "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	return s.Merge(messages), nil
}

// Merge adds confirmed messages, skipping ids already present.
// A provisional message of the owner is replaced by the first confirmed
// message carrying the same content within the reconcile window.
func (s *ChatSession) Merge(messages []domain.ChatMessage) []domain.ChatMessage {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	changed := false
	for _, msg := range messages {
		if msg.RoomID != "" && msg.RoomID != s.roomID {
			continue
		}
		if _, ok := s.known[msg.ID]; ok {
			continue
		}
		msg.RoomID = s.roomID
		msg.Provisional = false
		if msg.SenderID == s.owner.ID {
			s.dropProvisionalLocked(msg)
		}
		s.appendLocked(msg)
		changed = true
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		s.updates.Notify(snapshot)
	}
	return snapshot
}

// Send pushes content to the room. The provisional message is only appended
// once the hub accepted the send, a rejected send leaves the list untouched.
func (s *ChatSession) Send(ctx context.Context, content string) (domain.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.ChatMessage{}, errors.ErrEmptyContent
	}
	if err := s.hub.SendMessage(ctx, s.roomID, content); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("%w: send to room %s: %w", errors.ErrRemoteRejection, s.roomID, err)
	}

	msg := domain.ChatMessage{
		ID:          provisionalPrefix + uuid.NewString(),
		RoomID:      s.roomID,
		SenderID:    s.owner.ID,
		SenderName:  s.owner.DisplayName,
		Content:     content,
		Timestamp:   s.clock.Now().UTC(),
		Provisional: true,
	}
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	s.mu.Lock()
	s.appendLocked(msg)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.updates.Notify(snapshot)
	return msg, nil
}

// OnReceive applies a pushed message and reports whether the list changed.
// Pushes from the owner are echoes of a local send and are suppressed.
func (s *ChatSession) OnReceive(msg domain.ChatMessage) bool {
	if msg.RoomID != s.roomID {
		return false
	}
	if msg.SenderID == s.owner.ID {
		s.log.Debug("Suppressing echo", "id", msg.ID)
		return false
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	s.mu.Lock()
	if _, ok := s.known[msg.ID]; ok {
		s.mu.Unlock()
		return false
	}
	s.appendLocked(msg)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.updates.Notify(snapshot)
	return true
}

func (s *ChatSession) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *ChatSession) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *ChatSession) appendLocked(msg domain.ChatMessage) {
	s.messages = append(s.messages, msg)
	s.known[msg.ID] = struct{}{}
	slices.SortStableFunc(s.messages, func(a, b domain.ChatMessage) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

func (s *ChatSession) dropProvisionalLocked(confirmed domain.ChatMessage) {
	_, idx, found := lo.FindIndexOf(s.messages, func(m domain.ChatMessage) bool {
		return m.Provisional &&
			m.SenderID == confirmed.SenderID &&
			m.Content == confirmed.Content &&
			absDuration(m.Timestamp.Sub(confirmed.Timestamp)) <= s.reconcileWindow
	})
	if !found {
		return
	}
	delete(s.known, s.messages[idx].ID)
	s.messages = slices.Delete(s.messages, idx, idx+1)
}

func (s *ChatSession) snapshotLocked() []domain.ChatMessage {
	return slices.Clone(s.messages)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
