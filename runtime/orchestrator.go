package runtime

import (
	"cinematch/contract"
	"cinematch/domain"
	"cinematch/domain/event"
	"cinematch/errors"
	"cinematch/projection"
	"cinematch/services"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

// MessageCache keeps confirmed history for rooms whose history endpoint is unreachable.
type MessageCache interface {
	StoreMessages(messages []domain.ChatMessage) error
	GetMessages(roomID string) ([]domain.ChatMessage, error)
}

type OrchestratorConfig struct {
	HistoryLimit    int
	RequestTimeout  time.Duration
	ReconcileWindow time.Duration
}

// Orchestrator wires one signed-in identity: the notification channel,
// the candidate working set, room memberships and the open chat sessions.
// A new identity needs a new Orchestrator, after Stop on the previous one.
type Orchestrator struct {
	mu            sync.Mutex
	log           *slog.Logger
	owner         domain.UserRef
	channel       *NotificationChannel
	matches       *services.MatchService
	memberships   *services.MembershipService
	chatAPI       contract.IChatAPI
	cache         MessageCache
	clock         contract.Clock
	config        OrchestratorConfig
	sessions      map[string]*projection.ChatSession
	unsubscribers []event.Unsubscribe

	// resync wakes the resync loop; pending wake-ups collapse into one.
	resync  chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	started sync.Once
	wg      sync.WaitGroup
}

func NewOrchestrator(log *slog.Logger, owner domain.UserRef, channel *NotificationChannel,
	matches *services.MatchService, memberships *services.MembershipService,
	chatAPI contract.IChatAPI, cache MessageCache, clock contract.Clock, config OrchestratorConfig) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		log:         log.With("user_id", owner.ID),
		owner:       owner,
		channel:     channel,
		matches:     matches,
		memberships: memberships,
		chatAPI:     chatAPI,
		cache:       cache,
		clock:       clock,
		config:      config,
		sessions:    make(map[string]*projection.ChatSession),
		resync:      make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (o *Orchestrator) Owner() domain.UserRef {
	return o.owner
}

func (o *Orchestrator) Channel() *NotificationChannel {
	return o.channel
}

func (o *Orchestrator) Matches() *services.MatchService {
	return o.matches
}

// Start registers observers, connects the channel and loads the pull state.
// A channel failing to connect is logged only: everything still works by pull.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.started.Do(func() {
		o.wg.Add(1)
		go o.resyncLoop()
	})

	o.mu.Lock()
	o.unsubscribers = append(o.unsubscribers,
		o.channel.OnMatchRequest(o.matches.HandleMatchRequest),
		o.channel.OnMutualMatch(o.onMutualMatch),
		o.channel.OnMessage(o.onMessage),
		o.channel.OnReconnected(o.onReconnected),
	)
	o.mu.Unlock()

	if err := o.channel.Connect(ctx); err != nil {
		o.log.Warn("Live updates unavailable, falling back to pull", "error", err)
	}
	return o.Sync(ctx)
}

// Sync reloads rooms and candidates from the server. Only a failed candidate
// fetch is returned, the room list keeps its local copy.
func (o *Orchestrator) Sync(ctx context.Context) error {
	if err := o.memberships.Hydrate(ctx); err != nil {
		o.log.Warn("Room list not refreshed from server", "error", err)
	}
	return o.matches.Refresh(ctx)
}

// Stop cancels any resync in flight and disconnects the channel.
// No observer of this identity runs afterwards.
func (o *Orchestrator) Stop() {
	o.cancel()

	o.mu.Lock()
	unsubscribers := o.unsubscribers
	o.unsubscribers = nil
	o.mu.Unlock()

	for _, unsubscribe := range unsubscribers {
		unsubscribe()
	}
	o.channel.Disconnect()
	o.wg.Wait()
	o.log.Info("Session stopped")
}

func (o *Orchestrator) Accept(ctx context.Context, userID string) (domain.AcceptResult, error) {
	result, err := o.matches.Accept(ctx, userID)
	if err != nil {
		return result, err
	}
	if result.Matched && result.RoomID != "" {
		o.createRoom(result.RoomID)
	}
	return result, nil
}

func (o *Orchestrator) Decline(ctx context.Context, userID string) error {
	return o.matches.Decline(ctx, userID)
}

func (o *Orchestrator) Rooms() ([]domain.RoomSummary, error) {
	return o.memberships.Summaries()
}

// OpenRoom subscribes to the room pushes and loads its history.
// A failed subscription is logged only; the room still works by pull.
func (o *Orchestrator) OpenRoom(ctx context.Context, roomID string) (*projection.ChatSession, error) {
	if err := o.memberships.JoinEphemeral(ctx, roomID); err != nil {
		if stderrors.Is(err, errors.ErrMembershipInactive) {
			return nil, err
		}
		o.log.Warn("Live updates unavailable for room", "room_id", roomID, "error", err)
	}
	session := o.session(roomID)
	o.loadHistory(ctx, session)
	return session, nil
}

// CloseRoom stops live delivery for the room. The user remains a participant.
func (o *Orchestrator) CloseRoom(ctx context.Context, roomID string) error {
	if err := o.memberships.LeaveEphemeral(ctx, roomID); err != nil {
		return err
	}
	o.dropSession(roomID)
	return nil
}

// LeaveRoom ends the participation. Only a new mutual match brings the room back.
func (o *Orchestrator) LeaveRoom(ctx context.Context, roomID string) error {
	if err := o.memberships.LeavePermanently(ctx, roomID); err != nil {
		return err
	}
	o.dropSession(roomID)
	return nil
}

func (o *Orchestrator) Send(ctx context.Context, roomID, content string) (domain.ChatMessage, error) {
	o.mu.Lock()
	session, ok := o.sessions[roomID]
	o.mu.Unlock()
	if !ok {
		return domain.ChatMessage{}, fmt.Errorf("%w: room %s is not open", errors.ErrStaleSubscription, roomID)
	}
	return session.Send(ctx, content)
}

func (o *Orchestrator) Session(roomID string) (*projection.ChatSession, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	session, ok := o.sessions[roomID]
	return session, ok
}

func (o *Orchestrator) onMutualMatch(evt event.MutualMatch) {
	o.matches.HandleMutualMatch(evt)
	o.createRoom(evt.RoomID)
}

func (o *Orchestrator) createRoom(roomID string) {
	if _, err := o.memberships.Create(roomID); err != nil {
		o.log.Error("Room membership not recorded", "room_id", roomID, "error", err)
		return
	}
	o.session(roomID)
}

// onMessage routes a push to its session. Pushes for rooms not subscribed
// anymore are stale and dropped.
func (o *Orchestrator) onMessage(evt event.MessageReceived) {
	roomID := evt.Message.RoomID
	if !o.memberships.IsSubscribed(roomID) {
		o.log.Debug("Dropping push for unsubscribed room", "room_id", roomID, "error", errors.ErrStaleSubscription)
		return
	}
	session, ok := o.Session(roomID)
	if !ok {
		o.log.Debug("Dropping push for closed room", "room_id", roomID, "error", errors.ErrStaleSubscription)
		return
	}
	if session.OnReceive(evt.Message) && o.cache != nil {
		if err := o.cache.StoreMessages([]domain.ChatMessage{evt.Message}); err != nil {
			o.log.Warn("Message not cached", "room_id", roomID, "error", err)
		}
	}
}

// onReconnected runs on the channel dispatcher, so the resync itself is
// left to resyncLoop: pushes on the new connection must not wait for it.
func (o *Orchestrator) onReconnected(event.Reconnected) {
	select {
	case o.resync <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) resyncLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-o.resync:
			o.resyncAfterReconnect()
		}
	}
}

// resyncAfterReconnect restores room subscriptions then closes the gap by
// pull: nothing pushed while disconnected is replayed by the hub.
func (o *Orchestrator) resyncAfterReconnect() {
	ctx, cancel := context.WithTimeout(o.ctx, o.requestTimeout())
	defer cancel()

	if err := o.memberships.Resubscribe(ctx); err != nil {
		o.log.Warn("Some rooms were not rejoined", "error", err)
	}
	o.mu.Lock()
	open := lo.Filter(lo.Values(o.sessions), func(s *projection.ChatSession, _ int) bool {
		return o.memberships.IsSubscribed(s.RoomID())
	})
	o.mu.Unlock()
	for _, session := range open {
		if ctx.Err() != nil {
			return
		}
		o.loadHistory(ctx, session)
	}
	if ctx.Err() != nil {
		return
	}
	if err := o.matches.Refresh(ctx); err != nil {
		o.log.Warn("Candidates not refreshed after reconnect", "error", err)
	}
}

func (o *Orchestrator) loadHistory(ctx context.Context, session *projection.ChatSession) {
	history, err := session.GetHistory(ctx, o.config.HistoryLimit)
	if err == nil {
		if o.cache != nil {
			if err = o.cache.StoreMessages(history); err != nil {
				o.log.Warn("History not cached", "room_id", session.RoomID(), "error", err)
			}
		}
		return
	}
	o.log.Warn("History unavailable", "room_id", session.RoomID(), "error", err)
	if o.cache == nil {
		return
	}
	cached, err := o.cache.GetMessages(session.RoomID())
	if err != nil {
		o.log.Warn("Cached history unavailable", "room_id", session.RoomID(), "error", err)
		return
	}
	session.Merge(cached)
}

func (o *Orchestrator) session(roomID string) *projection.ChatSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	if session, ok := o.sessions[roomID]; ok {
		return session
	}
	session := projection.NewChatSession(roomID, o.owner, o.chatAPI, o.channel, o.clock, o.log, o.config.ReconcileWindow)
	o.sessions[roomID] = session
	return session
}

func (o *Orchestrator) dropSession(roomID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sessions, roomID)
}

func (o *Orchestrator) requestTimeout() time.Duration {
	if o.config.RequestTimeout <= 0 {
		return 10 * time.Second
	}
	return o.config.RequestTimeout
}
