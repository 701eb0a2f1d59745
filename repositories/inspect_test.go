package repositories

import (
	"cinematch/domain"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestInspect(t *testing.T) {
	req := require.New(t)
	db := openInMemory(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	// Given a membership, a cached message and a foreign key
	req.NoError(NewMembershipRepository(db, log).Save(domain.RoomMembership{RoomID: "room-1", UserID: "alice", IsActive: true, JoinedAt: at}))
	req.NoError(NewMessageRepository(db, log, nil).StoreMessages([]domain.ChatMessage{
		{ID: "m1", RoomID: "room-1", SenderID: "bob", Content: "hello", Timestamp: at},
	}))
	req.NoError(db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("msg:broken"), []byte("not json"))
	}))

	// When inspecting everything
	var entries []Entry
	req.NoError(Inspect(db, "", func(e Entry) error {
		entries = append(entries, e)
		return nil
	}))

	// Then each row is decoded by its key family
	req.Len(entries, 3)
	byKind := map[string]Entry{}
	for _, e := range entries {
		byKind[e.Kind] = e
	}
	req.Equal("active", byKind["MEMBERSHIP"].Detail)
	req.Equal(at, byKind["MEMBERSHIP"].At)
	req.Equal("hello", byKind["MESSAGE"].Detail)
	req.Equal("bob", byKind["MESSAGE"].UserID)
	req.Equal("not json", byKind["RAW"].Detail)

	// And a prefix narrows the scan
	var count int
	req.NoError(Inspect(db, "membership:", func(Entry) error {
		count++
		return nil
	}))
	req.Equal(1, count)
}
