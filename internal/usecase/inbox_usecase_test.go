package usecase

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrilink/internal/adapter/repository"
	"agrilink/internal/domain/entity"
	apperrors "agrilink/pkg/errors"
)

func newInboxFixtures(t *testing.T) (*MessagingUseCase, *InboxUseCase) {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	convRepo := repository.NewBadgerConversationRepository(db)
	msgRepo := repository.NewBadgerMessageRepository(db)
	return NewMessagingUseCase(convRepo, msgRepo, nil), NewInboxUseCase(convRepo, msgRepo)
}

func pairWith(farmerID string) []entity.Participant {
	return []entity.Participant{
		{UserID: farmerID, Role: entity.RoleFarmer},
		{UserID: "buyer-1", Role: entity.RoleBuyer},
	}
}

func TestListInboxOrdersByActivity(t *testing.T) {
	engine, inbox := newInboxFixtures(t)
	ctx := context.Background()

	first, err := engine.Send(ctx, "farmer-1", entity.RoleFarmer, SendMessageInput{
		Participants: pairWith("farmer-1"),
		Text:         "first conversation",
	})
	require.NoError(t, err)

	second, err := engine.Send(ctx, "farmer-2", entity.RoleFarmer, SendMessageInput{
		Participants: pairWith("farmer-2"),
		Text:         "second conversation",
	})
	require.NoError(t, err)

	// A conversation without messages sorts last.
	empty, err := engine.EnsureConversation(ctx, "buyer-1", pairWith("farmer-3"), nil)
	require.NoError(t, err)

	conversations, err := inbox.ListInbox(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, conversations, 3)
	assert.Equal(t, second.ConversationID, conversations[0].ID)
	assert.Equal(t, first.ConversationID, conversations[1].ID)
	assert.Equal(t, empty.ID, conversations[2].ID)

	// Activity in the older conversation moves it to the top.
	_, err = engine.Send(ctx, "buyer-1", entity.RoleBuyer, SendMessageInput{
		ConversationID: first.ConversationID,
		Text:           "bump",
	})
	require.NoError(t, err)

	conversations, err = inbox.ListInbox(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, conversations[0].ID)
}

func TestGetConversationEnforcesMembership(t *testing.T) {
	engine, inbox := newInboxFixtures(t)
	ctx := context.Background()

	conversation, err := engine.EnsureConversation(ctx, "buyer-1", pairWith("farmer-1"), nil)
	require.NoError(t, err)

	got, err := inbox.GetConversation(ctx, "farmer-1", conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, conversation.ID, got.ID)

	_, err = inbox.GetConversation(ctx, "stranger", conversation.ID)
	assert.True(t, apperrors.Is(err, "FORBIDDEN"))

	_, err = inbox.GetConversation(ctx, "farmer-1", "missing")
	assert.True(t, apperrors.Is(err, "NOT_FOUND"))
}

func TestGetHistoryPagesAndEnforcesMembership(t *testing.T) {
	engine, inbox := newInboxFixtures(t)
	ctx := context.Background()

	var conversationID string
	for i := 0; i < 5; i++ {
		message, err := engine.Send(ctx, "farmer-1", entity.RoleFarmer, SendMessageInput{
			Participants: pairWith("farmer-1"),
			Text:         "update",
		})
		require.NoError(t, err)
		conversationID = message.ConversationID
	}

	page, next, err := inbox.GetHistory(ctx, "buyer-1", conversationID, entity.Cursor{}, 2, false)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(5), page[0].Seq)

	page, _, err = inbox.GetHistory(ctx, "buyer-1", conversationID, next, 2, false)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].Seq)

	_, _, err = inbox.GetHistory(ctx, "stranger", conversationID, entity.Cursor{}, 2, false)
	assert.True(t, apperrors.Is(err, "FORBIDDEN"))
}

func TestTotalUnread(t *testing.T) {
	engine, inbox := newInboxFixtures(t)
	ctx := context.Background()

	first, err := engine.Send(ctx, "farmer-1", entity.RoleFarmer, SendMessageInput{
		Participants: pairWith("farmer-1"),
		Text:         "one",
	})
	require.NoError(t, err)
	_, err = engine.Send(ctx, "farmer-1", entity.RoleFarmer, SendMessageInput{
		ConversationID: first.ConversationID,
		Text:           "two",
	})
	require.NoError(t, err)

	second, err := engine.Send(ctx, "farmer-2", entity.RoleFarmer, SendMessageInput{
		Participants: pairWith("farmer-2"),
		Text:         "three",
	})
	require.NoError(t, err)

	summary, err := inbox.TotalUnread(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.ByConversation[first.ConversationID])
	assert.Equal(t, 1, summary.ByConversation[second.ConversationID])
	assert.Equal(t, 2, summary.ConversationsSum)

	// Senders see nothing pending.
	summary, err = inbox.TotalUnread(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)

	require.NoError(t, engine.MarkConversationRead(ctx, "buyer-1", first.ConversationID, ""))

	summary, err = inbox.TotalUnread(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.ConversationsSum)
}
