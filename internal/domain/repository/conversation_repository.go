package repository

import (
	"context"

	"agrilink/internal/domain/entity"
)

// ConversationRepository is the persistence boundary for conversation
// aggregates. ApplyDelta is the only mutation after Create: it must be
// atomic and safe under concurrent callers for the same conversation.
type ConversationRepository interface {
	// Create persists a new conversation and assigns its id. For
	// two-party conversations the participant pair is unique; creating
	// a second conversation for an existing pair fails with CONFLICT.
	Create(ctx context.Context, conversation *entity.Conversation) error

	GetByID(ctx context.Context, id string) (*entity.Conversation, error)

	// FindByParticipants resolves the two-party conversation between
	// userA and userB, order-independent. NOT_FOUND if none exists.
	FindByParticipants(ctx context.Context, userA, userB string) (*entity.Conversation, error)

	ListByUserID(ctx context.Context, userID string) ([]*entity.Conversation, error)

	// ApplyDelta applies one summary mutation atomically and returns
	// the resulting aggregate. Deltas carrying a MessageID already
	// recorded on the conversation are skipped; deltas carrying an
	// ExpectedVersion fail with CONFLICT when the version has moved.
	ApplyDelta(ctx context.Context, id string, delta entity.ConversationDelta) (*entity.Conversation, error)
}
