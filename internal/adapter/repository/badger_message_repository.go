package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"agrilink/internal/domain/entity"
	"agrilink/internal/domain/repository"
	apperrors "agrilink/pkg/errors"
)

const (
	msgKeyPrefix   = "msg/"
	msgIDKeyPrefix = "msgid/"
	seqKeyPrefix   = "seq/"
)

type badgerMessageRepository struct {
	db *badger.DB
}

// NewBadgerMessageRepository returns a MessageRepository on an embedded
// Badger store. Messages are keyed by zero-padded sequence so ordinary
// prefix iteration yields append order.
func NewBadgerMessageRepository(db *badger.DB) repository.MessageRepository {
	return &badgerMessageRepository{db: db}
}

func msgKey(conversationID string, seq int64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", msgKeyPrefix, conversationID, seq))
}

func msgPrefix(conversationID string) []byte {
	return []byte(msgKeyPrefix + conversationID + "/")
}

func msgIDKey(conversationID, messageID string) []byte {
	return []byte(msgIDKeyPrefix + conversationID + "/" + messageID)
}

func seqKey(conversationID string) []byte {
	return []byte(seqKeyPrefix + conversationID)
}

func (r *badgerMessageRepository) Append(ctx context.Context, message *entity.Message) error {
	if strings.TrimSpace(message.Text) == "" {
		return apperrors.EmptyText()
	}
	if utf8.RuneCountInString(message.Text) > entity.MaxMessageLength {
		return apperrors.MessageTooLong(entity.MaxMessageLength)
	}

	if message.ID == "" {
		message.ID = uuid.New().String()
	}

	err := runUpdate(r.db, func(txn *badger.Txn) error {
		// Allocate the next per-conversation sequence. The counter read
		// participates in conflict detection, so concurrent appenders
		// are serialized and never share a sequence.
		var seq int64 = 1
		item, err := txn.Get(seqKey(message.ConversationID))
		if err == nil {
			if err := item.Value(func(val []byte) error {
				seq = int64(binary.BigEndian.Uint64(val)) + 1
				return nil
			}); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(seq))
		if err := txn.Set(seqKey(message.ConversationID), buf[:]); err != nil {
			return err
		}

		message.Seq = seq
		message.CreatedAt = time.Now()

		data, err := json.Marshal(message)
		if err != nil {
			return err
		}
		if err := txn.Set(msgKey(message.ConversationID, seq), data); err != nil {
			return err
		}
		return txn.Set(msgIDKey(message.ConversationID, message.ID), msgKey(message.ConversationID, seq))
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return apperrors.Internal("failed to append message", err)
	}
	return nil
}

func decodeMessage(item *badger.Item) (*entity.Message, error) {
	var message entity.Message
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &message)
	}); err != nil {
		return nil, apperrors.Internal("failed to parse message data", err)
	}
	return &message, nil
}

func getMessage(txn *badger.Txn, conversationID, messageID string) (*entity.Message, error) {
	idItem, err := txn.Get(msgIDKey(conversationID, messageID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, apperrors.NotFound("Message", nil)
		}
		return nil, apperrors.Internal("failed to resolve message id", err)
	}
	key, err := idItem.ValueCopy(nil)
	if err != nil {
		return nil, apperrors.Internal("failed to read message index", err)
	}
	item, err := txn.Get(key)
	if err != nil {
		return nil, apperrors.Internal("failed to get message", err)
	}
	return decodeMessage(item)
}

func (r *badgerMessageRepository) GetByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error) {
	var message *entity.Message
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		message, err = getMessage(txn, conversationID, messageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

func (r *badgerMessageRepository) ListByConversation(ctx context.Context, conversationID string, cursor entity.Cursor, limit int, oldest bool) ([]*entity.Message, entity.Cursor, error) {
	var messages []*entity.Message
	var next entity.Cursor

	err := r.db.View(func(txn *badger.Txn) error {
		prefix := msgPrefix(conversationID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = !oldest

		it := txn.NewIterator(opts)
		defer it.Close()

		var seek []byte
		switch {
		case oldest && cursor.Seq > 0:
			seek = msgKey(conversationID, cursor.Seq+1)
		case oldest:
			seek = prefix
		case cursor.Seq > 0:
			seek = msgKey(conversationID, cursor.Seq-1)
		default:
			// Reverse iteration starts past the highest message key.
			seek = append(append([]byte{}, prefix...), 0xFF)
		}

		for it.Seek(seek); it.ValidForPrefix(prefix) && len(messages) < limit; it.Next() {
			message, err := decodeMessage(it.Item())
			if err != nil {
				return err
			}
			messages = append(messages, message)
			next = entity.Cursor{Seq: message.Seq}
		}
		return nil
	})
	if err != nil {
		return nil, entity.Cursor{}, err
	}
	if len(messages) < limit {
		next = entity.Cursor{}
	}
	return messages, next, nil
}

func (r *badgerMessageRepository) ListUnreadFor(ctx context.Context, conversationID, userID string, uptoSeq int64) ([]*entity.Message, error) {
	var unread []*entity.Message
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := msgPrefix(conversationID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			message, err := decodeMessage(it.Item())
			if err != nil {
				return err
			}
			if message.Seq > uptoSeq {
				break
			}
			if message.UnreadFor(userID) {
				unread = append(unread, message)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unread, nil
}

func (r *badgerMessageRepository) AddReaders(ctx context.Context, conversationID string, messageIDs []string, userID string) ([]string, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	var added []string
	err := runUpdate(r.db, func(txn *badger.Txn) error {
		added = added[:0]
		for _, messageID := range messageIDs {
			message, err := getMessage(txn, conversationID, messageID)
			if err != nil {
				return err
			}
			if message.ReadByUser(userID) {
				continue
			}
			message.ReadBy = append(message.ReadBy, userID)

			data, err := json.Marshal(message)
			if err != nil {
				return err
			}
			if err := txn.Set(msgKey(conversationID, message.Seq), data); err != nil {
				return err
			}
			added = append(added, messageID)
		}
		return nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperrors.Internal("failed to update read receipts", err)
	}
	return added, nil
}

func (r *badgerMessageRepository) CountUnreadFor(ctx context.Context, conversationID, userID string) (int, error) {
	count := 0
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := msgPrefix(conversationID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			message, err := decodeMessage(it.Item())
			if err != nil {
				return err
			}
			if message.UnreadFor(userID) {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *badgerMessageRepository) Latest(ctx context.Context, conversationID string) (*entity.Message, error) {
	var latest *entity.Message
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := msgPrefix(conversationID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF)
		it.Seek(seek)
		if !it.ValidForPrefix(prefix) {
			return apperrors.NotFound("Message", nil)
		}
		var err error
		latest, err = decodeMessage(it.Item())
		return err
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}
