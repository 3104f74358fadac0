package repository

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"agrilink/internal/domain/entity"
	"agrilink/internal/domain/repository"
	apperrors "agrilink/pkg/errors"
)

const (
	messageSubcollection = "messages"
	counterCollection    = "message_counters"
)

type firestoreMessageRepository struct {
	client *firestore.Client
}

func NewFirestoreMessageRepository(client *firestore.Client) repository.MessageRepository {
	return &firestoreMessageRepository{client: client}
}

func (r *firestoreMessageRepository) messages(conversationID string) *firestore.CollectionRef {
	return r.client.Collection(conversationCollection).Doc(conversationID).Collection(messageSubcollection)
}

func (r *firestoreMessageRepository) Append(ctx context.Context, message *entity.Message) error {
	if strings.TrimSpace(message.Text) == "" {
		return apperrors.EmptyText()
	}
	if utf8.RuneCountInString(message.Text) > entity.MaxMessageLength {
		return apperrors.MessageTooLong(entity.MaxMessageLength)
	}

	if message.ID == "" {
		message.ID = uuid.New().String()
	}

	counterRef := r.client.Collection(counterCollection).Doc(message.ConversationID)
	msgRef := r.messages(message.ConversationID).Doc(message.ID)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// The counter document serializes sequence allocation per
		// conversation; the transaction retries on contention.
		var seq int64 = 1
		doc, err := tx.Get(counterRef)
		if err == nil {
			current, err := doc.DataAt("seq")
			if err != nil {
				return err
			}
			seq = current.(int64) + 1
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		message.Seq = seq
		message.CreatedAt = time.Now()

		if err := tx.Set(counterRef, map[string]interface{}{"seq": seq}); err != nil {
			return err
		}
		return tx.Set(msgRef, message)
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return apperrors.Transient("Failed to append message", err)
	}
	return nil
}

func (r *firestoreMessageRepository) GetByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error) {
	doc, err := r.messages(conversationID).Doc(messageID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, apperrors.NotFound("Message", nil)
		}
		return nil, apperrors.Internal("Failed to get message", err)
	}

	var message entity.Message
	if err := doc.DataTo(&message); err != nil {
		return nil, apperrors.Internal("Failed to parse message data", err)
	}
	return &message, nil
}

func (r *firestoreMessageRepository) ListByConversation(ctx context.Context, conversationID string, cursor entity.Cursor, limit int, oldest bool) ([]*entity.Message, entity.Cursor, error) {
	direction := firestore.Desc
	if oldest {
		direction = firestore.Asc
	}

	query := r.messages(conversationID).OrderBy("seq", direction)
	if cursor.Seq > 0 {
		query = query.StartAfter(cursor.Seq)
	}
	query = query.Limit(limit)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var messages []*entity.Message
	var next entity.Cursor
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, entity.Cursor{}, apperrors.Internal("Failed to iterate messages", err)
		}

		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			return nil, entity.Cursor{}, apperrors.Internal("Failed to parse message data", err)
		}
		messages = append(messages, &message)
		next = entity.Cursor{Seq: message.Seq}
	}
	if len(messages) < limit {
		next = entity.Cursor{}
	}
	return messages, next, nil
}

func (r *firestoreMessageRepository) ListUnreadFor(ctx context.Context, conversationID, userID string, uptoSeq int64) ([]*entity.Message, error) {
	// Firestore cannot express "readBy does not contain"; fetch in seq
	// order and filter here, the way the chat history queries do.
	query := r.messages(conversationID).OrderBy("seq", firestore.Asc).Where("seq", "<=", uptoSeq)

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, apperrors.Internal("Failed to fetch unread messages", err)
	}

	var unread []*entity.Message
	for _, doc := range docs {
		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			continue
		}
		if message.UnreadFor(userID) {
			unread = append(unread, &message)
		}
	}
	return unread, nil
}

// addReadersChunk bounds a read receipt batch below Firestore's 500
// writes-per-transaction limit.
const addReadersChunk = 250

func (r *firestoreMessageRepository) AddReaders(ctx context.Context, conversationID string, messageIDs []string, userID string) ([]string, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	var added []string
	for start := 0; start < len(messageIDs); start += addReadersChunk {
		end := start + addReadersChunk
		if end > len(messageIDs) {
			end = len(messageIDs)
		}
		chunk := messageIDs[start:end]

		refs := make([]*firestore.DocumentRef, len(chunk))
		for i, messageID := range chunk {
			refs[i] = r.messages(conversationID).Doc(messageID)
		}

		var chunkAdded []string
		err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			chunkAdded = chunkAdded[:0]
			docs, err := tx.GetAll(refs)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return apperrors.NotFound("Message", err)
				}
				return err
			}
			for _, doc := range docs {
				var message entity.Message
				if err := doc.DataTo(&message); err != nil {
					return apperrors.Internal("Failed to parse message data", err)
				}
				if message.ReadByUser(userID) {
					continue
				}
				if err := tx.Update(doc.Ref, []firestore.Update{
					{Path: "readBy", Value: firestore.ArrayUnion(userID)},
				}); err != nil {
					return err
				}
				chunkAdded = append(chunkAdded, message.ID)
			}
			return nil
		})
		if err != nil {
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) {
				return nil, err
			}
			return nil, apperrors.Transient("Failed to update read receipts", err)
		}
		added = append(added, chunkAdded...)
	}
	return added, nil
}

func (r *firestoreMessageRepository) CountUnreadFor(ctx context.Context, conversationID, userID string) (int, error) {
	docs, err := r.messages(conversationID).Documents(ctx).GetAll()
	if err != nil {
		return 0, apperrors.Internal("Failed to count messages", err)
	}

	count := 0
	for _, doc := range docs {
		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			continue
		}
		if message.UnreadFor(userID) {
			count++
		}
	}
	return count, nil
}

func (r *firestoreMessageRepository) Latest(ctx context.Context, conversationID string) (*entity.Message, error) {
	iter := r.messages(conversationID).OrderBy("seq", firestore.Desc).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, apperrors.NotFound("Message", nil)
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to get latest message", err)
	}

	var message entity.Message
	if err := doc.DataTo(&message); err != nil {
		return nil, apperrors.Internal("Failed to parse message data", err)
	}
	return &message, nil
}
