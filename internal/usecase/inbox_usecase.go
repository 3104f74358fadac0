package usecase

import (
	"context"

	"github.com/samber/lo"

	"agrilink/internal/domain/entity"
	"agrilink/internal/domain/repository"
	"agrilink/pkg/errors"
)

// InboxUseCase serves the read side: conversation lists, unread badges
// and message history. It never writes.
type InboxUseCase struct {
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
}

func NewInboxUseCase(convRepo repository.ConversationRepository, msgRepo repository.MessageRepository) *InboxUseCase {
	return &InboxUseCase{
		convRepo: convRepo,
		msgRepo:  msgRepo,
	}
}

// ListInbox returns the caller's conversations, most recent activity
// first. Conversations with no messages yet sort after active ones.
func (uc *InboxUseCase) ListInbox(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	conversations, err := uc.convRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	entity.SortInbox(conversations)
	return conversations, nil
}

func (uc *InboxUseCase) GetConversation(ctx context.Context, userID, conversationID string) (*entity.Conversation, error) {
	conversation, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, errors.Forbidden("caller is not a participant of this conversation", nil)
	}
	return conversation, nil
}

// GetHistory pages through a conversation's messages. Cursors stay
// valid across new sends: pages are keyed by the message sequence, not
// by offset.
func (uc *InboxUseCase) GetHistory(ctx context.Context, userID, conversationID string, cursor entity.Cursor, limit int, oldest bool) ([]*entity.Message, entity.Cursor, error) {
	conversation, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, entity.Cursor{}, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, entity.Cursor{}, errors.Forbidden("caller is not a participant of this conversation", nil)
	}
	return uc.msgRepo.ListByConversation(ctx, conversationID, cursor, limit, oldest)
}

type UnreadSummary struct {
	Total            int            `json:"total"`
	ByConversation   map[string]int `json:"byConversation"`
	ConversationsSum int            `json:"conversations"`
}

// TotalUnread aggregates the caller's unread counters across all their
// conversations, as shown on the app badge.
func (uc *InboxUseCase) TotalUnread(ctx context.Context, userID string) (*UnreadSummary, error) {
	conversations, err := uc.convRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	byConversation := make(map[string]int)
	for _, conversation := range conversations {
		if n := conversation.UnreadCount[userID]; n > 0 {
			byConversation[conversation.ID] = n
		}
	}
	total := lo.Sum(lo.Values(byConversation))
	return &UnreadSummary{
		Total:            total,
		ByConversation:   byConversation,
		ConversationsSum: len(byConversation),
	}, nil
}
