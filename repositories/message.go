package repositories

import (
	"cinematch/domain"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

// MessageRepository caches confirmed messages locally so a room can still be
// rendered when the history endpoint is unreachable.
type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

type diskMessage struct {
	ID         string `json:"id"`
	RoomID     string `json:"roomId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	At         int64  `json:"at"`
}

// StoreMessages persists confirmed messages. Provisional ones are skipped.
// The key is formatted as "msg:{room_id}:{timestamp_padded}:{id}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Make storing the same message twice a plain overwrite.
func (m MessageRepository) StoreMessages(messages []domain.ChatMessage) error {
	confirmed := lo.Filter(messages, func(msg domain.ChatMessage, _ int) bool {
		return !msg.Provisional
	})
	if len(confirmed) == 0 {
		return nil
	}
	return m.db.Update(func(txn *badger.Txn) error {
		for _, msg := range confirmed {
			key := fmt.Sprintf("msg:%s:%019d:%s", msg.RoomID, msg.Timestamp.UnixNano(), msg.ID)
			bytes, err := json.Marshal(fromMessage(msg))
			if err != nil {
				return err
			}
			if err = txn.Set([]byte(key), bytes); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetMessages returns the most recent cached messages of a room, oldest first.
// It scans the room prefix backwards and stops once limitMessages is reached.
func (m MessageRepository) GetMessages(roomID string) ([]domain.ChatMessage, error) {
	var messages []domain.ChatMessage
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("msg:%s:", roomID))
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		seekKey := append(slices.Clone(prefix), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(messages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", *m.limitMessages))
				break
			}
			var disk diskMessage
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &disk)
			})
			if err != nil {
				return err
			}
			messages = append(messages, toMessage(disk))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

func fromMessage(msg domain.ChatMessage) diskMessage {
	return diskMessage{
		ID:         msg.ID,
		RoomID:     msg.RoomID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Content:    msg.Content,
		At:         msg.Timestamp.UnixNano(),
	}
}

func toMessage(d diskMessage) domain.ChatMessage {
	return domain.ChatMessage{
		ID:         d.ID,
		RoomID:     d.RoomID,
		SenderID:   d.SenderID,
		SenderName: d.SenderName,
		Content:    d.Content,
		Timestamp:  time.Unix(0, d.At).UTC(),
	}
}
