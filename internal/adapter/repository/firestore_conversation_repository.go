package repository

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"agrilink/internal/domain/entity"
	"agrilink/internal/domain/repository"
	apperrors "agrilink/pkg/errors"
)

const (
	conversationCollection = "conversations"
	pairCollection         = "conversation_pairs"
)

type firestoreConversationRepository struct {
	client *firestore.Client
}

func NewFirestoreConversationRepository(client *firestore.Client) repository.ConversationRepository {
	return &firestoreConversationRepository{client: client}
}

func (r *firestoreConversationRepository) Create(ctx context.Context, conversation *entity.Conversation) error {
	if conversation.ID == "" {
		conversation.ID = uuid.New().String()
	}
	now := time.Now()
	conversation.CreatedAt = now
	conversation.UpdatedAt = now

	convRef := r.client.Collection(conversationCollection).Doc(conversation.ID)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// Two-party conversations are unique per participant pair; the
		// pair document doubles as the find-or-create index.
		if len(conversation.ParticipantIDs) == 2 {
			pairRef := r.client.Collection(pairCollection).Doc(entity.PairKey(conversation.ParticipantIDs[0], conversation.ParticipantIDs[1]))
			if _, err := tx.Get(pairRef); err == nil {
				return apperrors.Conflict("conversation for this participant pair already exists")
			} else if status.Code(err) != codes.NotFound {
				return err
			}
			if err := tx.Set(pairRef, map[string]interface{}{"conversationId": conversation.ID}); err != nil {
				return err
			}
		}
		return tx.Set(convRef, conversation)
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return apperrors.Internal("Failed to create conversation", err)
	}
	return nil
}

func (r *firestoreConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	doc, err := r.client.Collection(conversationCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, apperrors.NotFound("Conversation", nil)
		}
		return nil, apperrors.Internal("Failed to get conversation", err)
	}

	var conversation entity.Conversation
	if err := doc.DataTo(&conversation); err != nil {
		return nil, apperrors.Internal("Failed to parse conversation data", err)
	}
	return &conversation, nil
}

func (r *firestoreConversationRepository) FindByParticipants(ctx context.Context, userA, userB string) (*entity.Conversation, error) {
	pairDoc, err := r.client.Collection(pairCollection).Doc(entity.PairKey(userA, userB)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, apperrors.NotFound("Conversation", nil)
		}
		return nil, apperrors.Internal("Failed to resolve participant pair", err)
	}

	id, err := pairDoc.DataAt("conversationId")
	if err != nil {
		return nil, apperrors.Internal("Failed to parse participant pair data", err)
	}
	conversationID, ok := id.(string)
	if !ok {
		return nil, apperrors.Internal("Malformed participant pair index", nil)
	}
	return r.GetByID(ctx, conversationID)
}

func (r *firestoreConversationRepository) ListByUserID(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	query := r.client.Collection(conversationCollection).Where("participantIds", "array-contains", userID)

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, apperrors.Internal("Failed to fetch conversations", err)
	}

	var conversations []*entity.Conversation
	for _, doc := range docs {
		var conversation entity.Conversation
		if err := doc.DataTo(&conversation); err != nil {
			continue // skip malformed documents
		}
		conversations = append(conversations, &conversation)
	}
	return conversations, nil
}

func (r *firestoreConversationRepository) ApplyDelta(ctx context.Context, id string, delta entity.ConversationDelta) (*entity.Conversation, error) {
	convRef := r.client.Collection(conversationCollection).Doc(id)
	var applied *entity.Conversation

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(convRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return apperrors.NotFound("Conversation", nil)
			}
			return err
		}

		var conversation entity.Conversation
		if err := doc.DataTo(&conversation); err != nil {
			return apperrors.Internal("Failed to parse conversation data", err)
		}

		if delta.MessageID != "" && conversation.LastDeltaMessageID == delta.MessageID {
			applied = &conversation
			return nil
		}
		if delta.ReadDeltaID != "" && conversation.LastReadDeltaID == delta.ReadDeltaID {
			applied = &conversation
			return nil
		}
		if delta.ExpectedVersion != nil && conversation.Version != *delta.ExpectedVersion {
			return apperrors.Conflict("conversation changed since the delta was computed")
		}

		conversation.Apply(delta, time.Now())
		applied = &conversation
		return tx.Set(convRef, &conversation)
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperrors.Transient("Failed to apply conversation delta", err)
	}
	return applied, nil
}
