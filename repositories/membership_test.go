package repositories

import (
	"cinematch/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
	"time"
)

func openInMemory(t *testing.T) *badger.DB {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMembershipRepository_Save_And_Get(t *testing.T) {
	req := require.New(t)
	repository := NewMembershipRepository(openInMemory(t), logs.GetLoggerFromLevel(slog.LevelDebug))
	joinedAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	membership := domain.RoomMembership{RoomID: "room-1", UserID: "alice", IsActive: true, JoinedAt: joinedAt}

	// When a membership is saved
	req.NoError(repository.Save(membership))

	// Then it can be read back
	got, ok, err := repository.Get("alice", "room-1")
	req.NoError(err)
	req.True(ok)
	req.Equal(membership, got)

	// And nothing is found for another user
	_, ok, err = repository.Get("bob", "room-1")
	req.NoError(err)
	req.False(ok)
}

func TestMembershipRepository_List_Only_Returns_User_Rooms(t *testing.T) {
	req := require.New(t)
	repository := NewMembershipRepository(openInMemory(t), logs.GetLoggerFromLevel(slog.LevelDebug))
	now := time.Now().UTC()

	// Given rooms for two users
	req.NoError(repository.Save(domain.RoomMembership{RoomID: "r1", UserID: "alice", IsActive: true, JoinedAt: now}))
	req.NoError(repository.Save(domain.RoomMembership{RoomID: "r2", UserID: "alice", IsActive: false, JoinedAt: now}))
	req.NoError(repository.Save(domain.RoomMembership{RoomID: "r3", UserID: "alicia", IsActive: true, JoinedAt: now}))

	// When listing alice's rooms
	memberships, err := repository.List("alice")

	// Then only her two rooms come back, inactive included
	req.NoError(err)
	req.Len(memberships, 2)
	req.Equal("r1", memberships[0].RoomID)
	req.Equal("r2", memberships[1].RoomID)
	req.False(memberships[1].IsActive)
}

func TestMembershipRepository_Save_Overwrites(t *testing.T) {
	req := require.New(t)
	repository := NewMembershipRepository(openInMemory(t), logs.GetLoggerFromLevel(slog.LevelDebug))
	membership := domain.RoomMembership{RoomID: "r1", UserID: "alice", IsActive: true, JoinedAt: time.Now().UTC()}
	req.NoError(repository.Save(membership))

	membership.IsActive = false
	req.NoError(repository.Save(membership))

	memberships, err := repository.List("alice")
	req.NoError(err)
	req.Len(memberships, 1)
	req.False(memberships[0].IsActive)
}
