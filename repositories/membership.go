package repositories

import (
	"cinematch/domain"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

type MembershipRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMembershipRepository(db *badger.DB, log *slog.Logger) MembershipRepository {
	return MembershipRepository{db: db, log: log}
}

type diskMembership struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsActive bool   `json:"isActive"`
	JoinedAt int64  `json:"joinedAt"`
}

// membershipKey is "membership:{user_id}:{room_id}" so that one prefix scan
// returns every room of a user.
func membershipKey(userID, roomID string) []byte {
	return []byte(fmt.Sprintf("membership:%s:%s", userID, roomID))
}

func (m MembershipRepository) Save(membership domain.RoomMembership) error {
	bytes, err := json.Marshal(fromMembership(membership))
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(membershipKey(membership.UserID, membership.RoomID), bytes)
	})
}

func (m MembershipRepository) Get(userID, roomID string) (domain.RoomMembership, bool, error) {
	var disk diskMembership
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(membershipKey(userID, roomID))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &disk)
		})
	})
	switch {
	case err == badger.ErrKeyNotFound:
		return domain.RoomMembership{}, false, nil
	case err != nil:
		return domain.RoomMembership{}, false, err
	}
	return toMembership(disk), true, nil
}

// List returns every membership of the user, active or not, by key order.
func (m MembershipRepository) List(userID string) ([]domain.RoomMembership, error) {
	var disks []diskMembership
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("membership:%s:", userID))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var disk diskMembership
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &disk)
			})
			if err != nil {
				m.log.Warn("Skipping unreadable membership", "key", string(it.Item().Key()), "error", err)
				continue
			}
			disks = append(disks, disk)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(disks, func(d diskMembership, _ int) domain.RoomMembership {
		return toMembership(d)
	}), nil
}

func fromMembership(m domain.RoomMembership) diskMembership {
	return diskMembership{
		RoomID:   m.RoomID,
		UserID:   m.UserID,
		IsActive: m.IsActive,
		JoinedAt: m.JoinedAt.UnixNano(),
	}
}

func toMembership(d diskMembership) domain.RoomMembership {
	return domain.RoomMembership{
		RoomID:   d.RoomID,
		UserID:   d.UserID,
		IsActive: d.IsActive,
		JoinedAt: time.Unix(0, d.JoinedAt).UTC(),
	}
}
