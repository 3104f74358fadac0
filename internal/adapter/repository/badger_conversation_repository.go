package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"agrilink/internal/domain/entity"
	"agrilink/internal/domain/repository"
	apperrors "agrilink/pkg/errors"
)

const (
	convKeyPrefix     = "conv/"
	pairKeyPrefix     = "pair/"
	userIndexPrefix   = "idx/user/"
	badgerTxnAttempts = 50
)

type badgerConversationRepository struct {
	db *badger.DB
}

// NewBadgerConversationRepository returns a ConversationRepository on an
// embedded Badger store. Badger transactions are optimistic; conflicting
// commits are retried, which serializes deltas per conversation without
// any wider lock.
func NewBadgerConversationRepository(db *badger.DB) repository.ConversationRepository {
	return &badgerConversationRepository{db: db}
}

// storedConversation carries the bookkeeping fields the entity hides
// from API serialization. Without it the version and delta tokens would
// be dropped on every write and the optimistic checks would never fire.
type storedConversation struct {
	*entity.Conversation
	ParticipantIDs     []string `json:"participantIds"`
	Version            int64    `json:"version"`
	LastDeltaMessageID string   `json:"lastDeltaMessageId"`
	LastReadDeltaID    string   `json:"lastReadDeltaId"`
}

func encodeConversation(conversation *entity.Conversation) ([]byte, error) {
	return json.Marshal(storedConversation{
		Conversation:       conversation,
		ParticipantIDs:     conversation.ParticipantIDs,
		Version:            conversation.Version,
		LastDeltaMessageID: conversation.LastDeltaMessageID,
		LastReadDeltaID:    conversation.LastReadDeltaID,
	})
}

func decodeConversation(data []byte) (*entity.Conversation, error) {
	stored := storedConversation{Conversation: &entity.Conversation{}}
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	stored.Conversation.ParticipantIDs = stored.ParticipantIDs
	stored.Conversation.Version = stored.Version
	stored.Conversation.LastDeltaMessageID = stored.LastDeltaMessageID
	stored.Conversation.LastReadDeltaID = stored.LastReadDeltaID
	return stored.Conversation, nil
}

func convKey(id string) []byte {
	return []byte(convKeyPrefix + id)
}

func pairKey(userA, userB string) []byte {
	return []byte(pairKeyPrefix + entity.PairKey(userA, userB))
}

func userIndexKey(userID, conversationID string) []byte {
	return []byte(userIndexPrefix + userID + "/" + conversationID)
}

// runUpdate retries optimistic transaction conflicts. Any other error is
// returned as-is.
func runUpdate(db *badger.DB, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < badgerTxnAttempts; attempt++ {
		err = db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return apperrors.Transient("storage transaction kept conflicting", err)
}

func (r *badgerConversationRepository) Create(ctx context.Context, conversation *entity.Conversation) error {
	if conversation.ID == "" {
		conversation.ID = uuid.New().String()
	}
	now := time.Now()
	conversation.CreatedAt = now
	conversation.UpdatedAt = now

	err := runUpdate(r.db, func(txn *badger.Txn) error {
		if len(conversation.ParticipantIDs) == 2 {
			key := pairKey(conversation.ParticipantIDs[0], conversation.ParticipantIDs[1])
			if _, err := txn.Get(key); err == nil {
				return apperrors.Conflict("conversation for this participant pair already exists")
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(key, []byte(conversation.ID)); err != nil {
				return err
			}
		}

		data, err := encodeConversation(conversation)
		if err != nil {
			return err
		}
		if err := txn.Set(convKey(conversation.ID), data); err != nil {
			return err
		}
		for _, userID := range conversation.ParticipantIDs {
			if err := txn.Set(userIndexKey(userID, conversation.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return apperrors.Internal("failed to create conversation", err)
	}
	return nil
}

func getConversation(txn *badger.Txn, id string) (*entity.Conversation, error) {
	item, err := txn.Get(convKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, apperrors.NotFound("Conversation", nil)
		}
		return nil, apperrors.Internal("failed to get conversation", err)
	}

	var conversation *entity.Conversation
	if err := item.Value(func(val []byte) error {
		var decodeErr error
		conversation, decodeErr = decodeConversation(val)
		return decodeErr
	}); err != nil {
		return nil, apperrors.Internal("failed to parse conversation data", err)
	}
	return conversation, nil
}

func (r *badgerConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	var conversation *entity.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		conversation, err = getConversation(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conversation, nil
}

func (r *badgerConversationRepository) FindByParticipants(ctx context.Context, userA, userB string) (*entity.Conversation, error) {
	var conversation *entity.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pairKey(userA, userB))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return apperrors.NotFound("Conversation", nil)
			}
			return apperrors.Internal("failed to resolve participant pair", err)
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return apperrors.Internal("failed to read participant pair index", err)
		}
		conversation, err = getConversation(txn, string(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return conversation, nil
}

func (r *badgerConversationRepository) ListByUserID(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	var conversations []*entity.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(userIndexPrefix + userID + "/")

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			conversationID := string(it.Item().Key()[len(prefix):])
			conversation, err := getConversation(txn, conversationID)
			if err != nil {
				return err
			}
			conversations = append(conversations, conversation)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conversations, nil
}

func (r *badgerConversationRepository) ApplyDelta(ctx context.Context, id string, delta entity.ConversationDelta) (*entity.Conversation, error) {
	var applied *entity.Conversation
	err := runUpdate(r.db, func(txn *badger.Txn) error {
		conversation, err := getConversation(txn, id)
		if err != nil {
			return err
		}

		// Retried delta: already reflected, nothing to do.
		if delta.MessageID != "" && conversation.LastDeltaMessageID == delta.MessageID {
			applied = conversation
			return nil
		}
		if delta.ReadDeltaID != "" && conversation.LastReadDeltaID == delta.ReadDeltaID {
			applied = conversation
			return nil
		}
		if delta.ExpectedVersion != nil && conversation.Version != *delta.ExpectedVersion {
			return apperrors.Conflict("conversation changed since the delta was computed")
		}

		conversation.Apply(delta, time.Now())

		data, err := encodeConversation(conversation)
		if err != nil {
			return apperrors.Internal("failed to encode conversation", err)
		}
		if err := txn.Set(convKey(id), data); err != nil {
			return err
		}
		applied = conversation
		return nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperrors.Internal("failed to apply conversation delta", err)
	}
	return applied, nil
}
