package runtime

import (
	"cinematch/domain"
	"cinematch/errors"
	"cinematch/mocks"
	"cinematch/protocol"
	"cinematch/repositories"
	"cinematch/services"
	"context"
	"github.com/dgraph-io/badger/v4"
	"github.com/jonboulle/clockwork"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"log/slog"
	"testing"
	"time"
)

var alice = domain.UserRef{ID: "alice", DisplayName: "Alice"}

type orchestratorFixture struct {
	orchestrator *Orchestrator
	factory      *fakeFactory
	clock        *clockwork.FakeClock
	matchAPI     *mocks.MockIMatchAPI
	chatAPI      *mocks.MockIChatAPI
	cache        repositories.MessageRepository
}

func newOrchestrator(t *testing.T) orchestratorFixture {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctrl := gomock.NewController(t)
	matchAPI := mocks.NewMockIMatchAPI(ctrl)
	chatAPI := mocks.NewMockIChatAPI(ctrl)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	factory := &fakeFactory{}
	manual := clockwork.NewFakeClockAt(start)

	channel := NewNotificationChannel(factory, manual, log, 16, constantBackOff(time.Second, 3))
	matches := services.NewMatchService(repositories.NewCandidateRepository(matchAPI, log, false), matchAPI, manual, log)
	memberships := services.NewMembershipService(alice.ID, repositories.NewMembershipRepository(db, log), chatAPI, channel, manual, log)
	cache := repositories.NewMessageRepository(db, log, nil)

	orchestrator := NewOrchestrator(log, alice, channel, matches, memberships, chatAPI, cache, manual,
		OrchestratorConfig{HistoryLimit: 50, RequestTimeout: 10 * time.Second})
	t.Cleanup(orchestrator.Stop)

	return orchestratorFixture{
		orchestrator: orchestrator,
		factory:      factory,
		clock:        manual,
		matchAPI:     matchAPI,
		chatAPI:      chatAPI,
		cache:        cache,
	}
}

func messagePayload(id, sender, text string, at time.Time) map[string]any {
	return map[string]any{
		"id":                id,
		"roomId":            "room-1",
		"senderId":          sender,
		"senderDisplayName": sender,
		"text":              text,
		"sentAt":            at.Format(time.RFC3339Nano),
	}
}

func messageRecord(id, sender, text string, at time.Time) domain.MessageRecord {
	return domain.MessageRecord{ID: id, RoomID: "room-1", SenderID: sender, Content: text, SentAt: at.Format(time.RFC3339Nano)}
}

func TestOrchestrator_Reconnect_Rejoins_Rooms_And_Refetches(t *testing.T) {
	req := require.New(t)
	f := newOrchestrator(t)
	ctx := context.Background()

	refreshed := make(chan struct{}, 2)
	f.matchAPI.EXPECT().FetchCandidates(gomock.Any()).DoAndReturn(
		func(context.Context) ([]domain.CandidateRecord, error) {
			refreshed <- struct{}{}
			return nil, nil
		}).Times(2)
	f.chatAPI.EXPECT().Rooms(gomock.Any()).Return([]domain.ConversationRecord{{RoomID: "room-1"}}, nil)
	f.chatAPI.EXPECT().FetchMessages(gomock.Any(), "room-1", 50).
		Return([]domain.MessageRecord{messageRecord("m1", "bob", "before", start)}, nil)
	f.chatAPI.EXPECT().FetchMessages(gomock.Any(), "room-1", 50).
		Return([]domain.MessageRecord{
			messageRecord("m1", "bob", "before", start),
			messageRecord("m2", "bob", "during the gap", start.Add(time.Second)),
		}, nil)

	// Given alice has room-1 open
	req.NoError(f.orchestrator.Start(ctx))
	<-refreshed
	session, err := f.orchestrator.OpenRoom(ctx, "room-1")
	req.NoError(err)
	first := f.factory.last()
	first.nextSent(t, protocol.TargetJoinRoom)
	req.Equal(1, session.Len())

	// When the connection drops and comes back after the backoff
	first.Close()
	waitForTimer(t, f.clock)
	f.clock.Advance(time.Second)

	// Then the room is joined again on the new connection
	req.Eventually(func() bool { return f.factory.dialCount() == 2 }, waitFor, tick)
	f.factory.last().nextSent(t, protocol.TargetJoinRoom)

	// And the history refetch closes the gap, without replay from the hub
	req.Eventually(func() bool { return session.Len() == 2 }, waitFor, tick)
	<-refreshed
}

func TestOrchestrator_Slow_Resync_Keeps_Pushes_Flowing(t *testing.T) {
	req := require.New(t)
	f := newOrchestrator(t)
	ctx := context.Background()

	f.matchAPI.EXPECT().FetchCandidates(gomock.Any()).Return([]domain.CandidateRecord{
		{UserID: "bob", MatchStatus: "pending_sent"},
	}, nil)
	f.chatAPI.EXPECT().Rooms(gomock.Any()).Return([]domain.ConversationRecord{{RoomID: "room-1"}}, nil)
	f.chatAPI.EXPECT().FetchMessages(gomock.Any(), "room-1", 50).Return(nil, nil)
	refetching := make(chan struct{})
	f.chatAPI.EXPECT().FetchMessages(gomock.Any(), "room-1", 50).DoAndReturn(
		func(ctx context.Context, _ string, _ int) ([]domain.MessageRecord, error) {
			close(refetching)
			<-ctx.Done()
			return nil, ctx.Err()
		})

	// Given alice has room-1 open
	req.NoError(f.orchestrator.Start(ctx))
	_, err := f.orchestrator.OpenRoom(ctx, "room-1")
	req.NoError(err)
	first := f.factory.last()
	first.nextSent(t, protocol.TargetJoinRoom)

	// When the connection comes back and the history refetch hangs
	first.Close()
	waitForTimer(t, f.clock)
	f.clock.Advance(time.Second)
	select {
	case <-refetching:
	case <-time.After(waitFor):
		req.FailNow("history was not refetched after reconnect")
	}

	// Then pushes on the new connection are still delivered
	f.factory.last().push(t, protocol.TargetMutualMatch, map[string]any{
		"roomId": "room-9",
		"user":   map[string]any{"id": "bob", "displayName": "Bob"},
	})
	req.Eventually(func() bool {
		_, ok := f.orchestrator.Session("room-9")
		return ok
	}, waitFor, tick)

	// And Stop cancels the refetch instead of waiting for it
	stopped := make(chan struct{})
	go func() {
		f.orchestrator.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		req.Fail("Stop should not wait for the request timeout")
	}
}

func TestOrchestrator_Mutual_Match_Creates_Room(t *testing.T) {
	req := require.New(t)
	f := newOrchestrator(t)
	f.matchAPI.EXPECT().FetchCandidates(gomock.Any()).Return([]domain.CandidateRecord{
		{UserID: "bob", MatchStatus: "pending_sent"},
	}, nil)
	f.chatAPI.EXPECT().Rooms(gomock.Any()).Return(nil, nil)
	req.NoError(f.orchestrator.Start(context.Background()))

	// When the hub reports the mutual match
	f.factory.last().push(t, protocol.TargetMutualMatch, map[string]any{
		"roomId": "room-9",
		"user":   map[string]any{"id": "bob", "displayName": "Bob"},
	})

	// Then the candidate is gone and the room is available
	req.Eventually(func() bool {
		rooms, err := f.orchestrator.Rooms()
		return err == nil && len(rooms) == 1 && rooms[0].RoomID == "room-9"
	}, waitFor, tick)
	req.Empty(f.orchestrator.Matches().Candidates())
	_, ok := f.orchestrator.Session("room-9")
	req.True(ok)
}

func TestOrchestrator_Pushes_For_Closed_Room_Are_Dropped(t *testing.T) {
	req := require.New(t)
	f := newOrchestrator(t)
	ctx := context.Background()
	f.matchAPI.EXPECT().FetchCandidates(gomock.Any()).Return(nil, nil)
	f.chatAPI.EXPECT().Rooms(gomock.Any()).Return([]domain.ConversationRecord{{RoomID: "room-1"}}, nil)
	f.chatAPI.EXPECT().FetchMessages(gomock.Any(), "room-1", 50).Return(nil, nil)
	req.NoError(f.orchestrator.Start(ctx))

	// Given the room is open and receives a push
	session, err := f.orchestrator.OpenRoom(ctx, "room-1")
	req.NoError(err)
	conn := f.factory.last()
	conn.push(t, protocol.TargetReceiveMessage, messagePayload("m1", "bob", "hi", start))
	req.Eventually(func() bool { return session.Len() == 1 }, waitFor, tick)

	// When alice navigates away
	req.NoError(f.orchestrator.CloseRoom(ctx, "room-1"))
	conn.nextSent(t, protocol.TargetLeaveRoom)
	conn.push(t, protocol.TargetReceiveMessage, messagePayload("m2", "bob", "still there?", start.Add(time.Second)))

	// Then the late push is ignored, while she stays a participant
	time.Sleep(50 * time.Millisecond)
	req.Equal(1, session.Len())
	rooms, err := f.orchestrator.Rooms()
	req.NoError(err)
	req.Len(rooms, 1)
}

func TestOrchestrator_Leave_Room_Permanently(t *testing.T) {
	req := require.New(t)
	f := newOrchestrator(t)
	ctx := context.Background()
	f.matchAPI.EXPECT().FetchCandidates(gomock.Any()).Return(nil, nil)
	f.chatAPI.EXPECT().Rooms(gomock.Any()).Return([]domain.ConversationRecord{{RoomID: "room-1"}}, nil)
	f.chatAPI.EXPECT().FetchMessages(gomock.Any(), "room-1", 50).Return(nil, nil)
	f.chatAPI.EXPECT().Leave(gomock.Any(), "room-1").Return(nil)
	req.NoError(f.orchestrator.Start(ctx))
	_, err := f.orchestrator.OpenRoom(ctx, "room-1")
	req.NoError(err)

	// When alice unmatches
	req.NoError(f.orchestrator.LeaveRoom(ctx, "room-1"))

	// Then the room is gone for good
	rooms, err := f.orchestrator.Rooms()
	req.NoError(err)
	req.Empty(rooms)
	_, err = f.orchestrator.OpenRoom(ctx, "room-1")
	req.ErrorIs(err, errors.ErrMembershipInactive)
	_, err = f.orchestrator.Send(ctx, "room-1", "hello?")
	req.ErrorIs(err, errors.ErrStaleSubscription)
}

func TestOrchestrator_Works_By_Pull_Without_Channel(t *testing.T) {
	req := require.New(t)
	f := newOrchestrator(t)
	ctx := context.Background()

	// Given the hub is unreachable
	f.factory.failNext(1)
	f.matchAPI.EXPECT().FetchCandidates(gomock.Any()).Return([]domain.CandidateRecord{
		{UserID: "bob", MatchStatus: "pending_received"},
	}, nil)
	f.chatAPI.EXPECT().Rooms(gomock.Any()).Return(nil, nil)
	req.NoError(f.orchestrator.Start(ctx))
	req.False(f.orchestrator.Channel().IsConnected())

	// When alice accepts and the remote reports the match
	f.matchAPI.EXPECT().Accept(gomock.Any(), gomock.Any()).Return(domain.AcceptResult{Matched: true, RoomID: "room-7"}, nil)
	_, err := f.orchestrator.Accept(ctx, "bob")
	req.NoError(err)

	// Then the room exists and its history loads by pull
	f.chatAPI.EXPECT().FetchMessages(gomock.Any(), "room-7", 50).Return([]domain.MessageRecord{
		{ID: "m1", RoomID: "room-7", SenderID: "bob", Content: "hey", SentAt: start.Format(time.RFC3339)},
	}, nil)
	session, err := f.orchestrator.OpenRoom(ctx, "room-7")
	req.NoError(err)
	req.Equal(1, session.Len())

	// And sending fails cleanly
	_, err = f.orchestrator.Send(ctx, "room-7", "hello")
	req.ErrorIs(err, errors.ErrRemoteRejection)
	req.Equal(1, session.Len())
}

func TestOrchestrator_History_Falls_Back_To_Cache(t *testing.T) {
	req := require.New(t)
	f := newOrchestrator(t)
	ctx := context.Background()
	req.NoError(f.cache.StoreMessages([]domain.ChatMessage{
		{ID: "m1", RoomID: "room-1", SenderID: "bob", Content: "cached", Timestamp: start},
	}))
	f.matchAPI.EXPECT().FetchCandidates(gomock.Any()).Return(nil, nil)
	f.chatAPI.EXPECT().Rooms(gomock.Any()).Return([]domain.ConversationRecord{{RoomID: "room-1"}}, nil)
	f.chatAPI.EXPECT().FetchMessages(gomock.Any(), "room-1", 50).Return(nil, errors.ErrRemoteRejection)
	req.NoError(f.orchestrator.Start(ctx))

	session, err := f.orchestrator.OpenRoom(ctx, "room-1")

	req.NoError(err)
	req.Equal(1, session.Len())
	req.Equal("cached", session.Messages()[0].Content)
}
