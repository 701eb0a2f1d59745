package repositories

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Entry is one decoded row of the local cache, for inspection tools.
type Entry struct {
	Key    string
	Kind   string
	At     time.Time
	RoomID string
	UserID string
	Detail string
}

// Inspect walks every key under prefix and decodes the rows it knows about.
// Rows it cannot decode are reported with kind "RAW" and their raw value.
func Inspect(db *badger.DB, prefix string, fn func(Entry) error) error {
	return db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			key := string(item.Key())
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(decodeEntry(key, value)); err != nil {
				return err
			}
		}
		return nil
	})
}

func decodeEntry(key string, value []byte) Entry {
	entry := Entry{Key: key, Kind: "RAW", Detail: string(value)}
	switch {
	case strings.HasPrefix(key, "membership:"):
		var d diskMembership
		if json.Unmarshal(value, &d) != nil {
			return entry
		}
		entry.Kind = "MEMBERSHIP"
		entry.At = time.Unix(0, d.JoinedAt).UTC()
		entry.RoomID, entry.UserID = d.RoomID, d.UserID
		entry.Detail = "inactive"
		if d.IsActive {
			entry.Detail = "active"
		}
	case strings.HasPrefix(key, "msg:"):
		var d diskMessage
		if json.Unmarshal(value, &d) != nil {
			return entry
		}
		entry.Kind = "MESSAGE"
		entry.At = time.Unix(0, d.At).UTC()
		entry.RoomID, entry.UserID = d.RoomID, d.SenderID
		entry.Detail = d.Content
	}
	return entry
}
