package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrilink/internal/domain/entity"
	"agrilink/internal/domain/repository"
	apperrors "agrilink/pkg/errors"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testRepos(t *testing.T) (repository.ConversationRepository, repository.MessageRepository) {
	db := openTestDB(t)
	return NewBadgerConversationRepository(db), NewBadgerMessageRepository(db)
}

func newTestConversation(t *testing.T, convRepo repository.ConversationRepository, farmerID, buyerID string) *entity.Conversation {
	t.Helper()

	conversation, err := entity.NewConversation([]entity.Participant{
		{UserID: farmerID, Role: entity.RoleFarmer},
		{UserID: buyerID, Role: entity.RoleBuyer},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, convRepo.Create(context.Background(), conversation))
	return conversation
}

func TestCreateRejectsDuplicatePair(t *testing.T) {
	convRepo, _ := testRepos(t)
	newTestConversation(t, convRepo, "farmer-1", "buyer-1")

	duplicate, err := entity.NewConversation([]entity.Participant{
		{UserID: "buyer-1", Role: entity.RoleBuyer},
		{UserID: "farmer-1", Role: entity.RoleFarmer},
	}, nil)
	require.NoError(t, err)

	err = convRepo.Create(context.Background(), duplicate)
	assert.True(t, apperrors.Is(err, "CONFLICT"), "reversed pair must hit the same key")
}

func TestFindByParticipantsEitherOrder(t *testing.T) {
	convRepo, _ := testRepos(t)
	created := newTestConversation(t, convRepo, "farmer-1", "buyer-1")

	found, err := convRepo.FindByParticipants(context.Background(), "farmer-1", "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	found, err = convRepo.FindByParticipants(context.Background(), "buyer-1", "farmer-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = convRepo.FindByParticipants(context.Background(), "farmer-1", "nobody")
	assert.True(t, apperrors.Is(err, "NOT_FOUND"))
}

func TestListByUserID(t *testing.T) {
	convRepo, _ := testRepos(t)
	newTestConversation(t, convRepo, "farmer-1", "buyer-1")
	newTestConversation(t, convRepo, "farmer-2", "buyer-1")
	newTestConversation(t, convRepo, "farmer-1", "buyer-2")

	conversations, err := convRepo.ListByUserID(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.Len(t, conversations, 2)

	conversations, err = convRepo.ListByUserID(context.Background(), "stranger")
	require.NoError(t, err)
	assert.Empty(t, conversations)
}

func TestApplyDeltaIsIdempotentPerMessage(t *testing.T) {
	convRepo, _ := testRepos(t)
	conversation := newTestConversation(t, convRepo, "farmer-1", "buyer-1")

	delta := entity.ConversationDelta{
		MessageID:       "m-1",
		IncrementUnread: []string{"buyer-1"},
	}

	applied, err := convRepo.ApplyDelta(context.Background(), conversation.ID, delta)
	require.NoError(t, err)
	assert.Equal(t, 1, applied.UnreadCount["buyer-1"])

	// Replay of the same send delta changes nothing.
	applied, err = convRepo.ApplyDelta(context.Background(), conversation.ID, delta)
	require.NoError(t, err)
	assert.Equal(t, 1, applied.UnreadCount["buyer-1"])
	assert.Equal(t, int64(1), applied.Version)
}

func TestApplyDeltaVersionConflict(t *testing.T) {
	convRepo, _ := testRepos(t)
	conversation := newTestConversation(t, convRepo, "farmer-1", "buyer-1")

	stale := conversation.Version
	_, err := convRepo.ApplyDelta(context.Background(), conversation.ID, entity.ConversationDelta{
		MessageID:       "m-1",
		IncrementUnread: []string{"buyer-1"},
	})
	require.NoError(t, err)

	_, err = convRepo.ApplyDelta(context.Background(), conversation.ID, entity.ConversationDelta{
		DecrementUnread: map[string]int{"buyer-1": 1},
		ExpectedVersion: &stale,
	})
	assert.True(t, apperrors.Is(err, "CONFLICT"))
}

func TestBookkeepingFieldsSurviveReload(t *testing.T) {
	convRepo, _ := testRepos(t)
	conversation := newTestConversation(t, convRepo, "farmer-1", "buyer-1")

	_, err := convRepo.ApplyDelta(context.Background(), conversation.ID, entity.ConversationDelta{
		MessageID:       "m-1",
		IncrementUnread: []string{"buyer-1"},
	})
	require.NoError(t, err)

	// A fresh read must see the version and delta tokens, not zero
	// values, or the idempotency and CAS checks are dead on this
	// backend.
	reloaded, err := convRepo.GetByID(context.Background(), conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.Version)
	assert.Equal(t, "m-1", reloaded.LastDeltaMessageID)
	assert.ElementsMatch(t, []string{"farmer-1", "buyer-1"}, reloaded.ParticipantIDs)

	_, err = convRepo.ApplyDelta(context.Background(), conversation.ID, entity.ConversationDelta{
		ReadDeltaID:     "r-1",
		DecrementUnread: map[string]int{"buyer-1": 1},
	})
	require.NoError(t, err)

	reloaded, err = convRepo.GetByID(context.Background(), conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reloaded.Version)
	assert.Equal(t, "r-1", reloaded.LastReadDeltaID)

	// Replay of the settled read delta changes nothing.
	applied, err := convRepo.ApplyDelta(context.Background(), conversation.ID, entity.ConversationDelta{
		ReadDeltaID:     "r-1",
		DecrementUnread: map[string]int{"buyer-1": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), applied.Version)
	assert.Equal(t, 0, applied.UnreadCount["buyer-1"])
}

func TestConcurrentIncrementsAllLand(t *testing.T) {
	convRepo, _ := testRepos(t)
	conversation := newTestConversation(t, convRepo, "farmer-1", "buyer-1")

	const senders = 20
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := convRepo.ApplyDelta(context.Background(), conversation.ID, entity.ConversationDelta{
				MessageID:       fmt.Sprintf("m-%d", i),
				IncrementUnread: []string{"buyer-1"},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	final, err := convRepo.GetByID(context.Background(), conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, senders, final.UnreadCount["buyer-1"])
	assert.Equal(t, int64(senders), final.Version)
}

func TestAppendAssignsDenseSequences(t *testing.T) {
	convRepo, msgRepo := testRepos(t)
	conversation := newTestConversation(t, convRepo, "farmer-1", "buyer-1")

	const total = 25
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := msgRepo.Append(context.Background(), &entity.Message{
				ConversationID: conversation.ID,
				SenderID:       "farmer-1",
				SenderRole:     entity.RoleFarmer,
				Text:           fmt.Sprintf("message %d", i),
				ReadBy:         []string{"farmer-1"},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	messages, _, err := msgRepo.ListByConversation(context.Background(), conversation.ID, entity.Cursor{}, total+1, true)
	require.NoError(t, err)
	require.Len(t, messages, total)

	for i, message := range messages {
		assert.Equal(t, int64(i+1), message.Seq, "sequences must be dense and gapless")
	}
}

func TestAppendValidatesText(t *testing.T) {
	convRepo, msgRepo := testRepos(t)
	conversation := newTestConversation(t, convRepo, "farmer-1", "buyer-1")

	err := msgRepo.Append(context.Background(), &entity.Message{
		ConversationID: conversation.ID,
		SenderID:       "farmer-1",
		Text:           "   ",
	})
	assert.True(t, apperrors.Is(err, "EMPTY_TEXT"))

	long := make([]rune, entity.MaxMessageLength+1)
	for i := range long {
		long[i] = 'x'
	}
	err = msgRepo.Append(context.Background(), &entity.Message{
		ConversationID: conversation.ID,
		SenderID:       "farmer-1",
		Text:           string(long),
	})
	assert.True(t, apperrors.Is(err, "MESSAGE_TOO_LONG"))
}

func appendN(t *testing.T, msgRepo repository.MessageRepository, conversationID string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		require.NoError(t, msgRepo.Append(context.Background(), &entity.Message{
			ConversationID: conversationID,
			SenderID:       "farmer-1",
			SenderRole:     entity.RoleFarmer,
			Text:           fmt.Sprintf("message %d", i),
			ReadBy:         []string{"farmer-1"},
		}))
	}
}

func TestListByConversationPagination(t *testing.T) {
	convRepo, msgRepo := testRepos(t)
	conversation := newTestConversation(t, convRepo, "farmer-1", "buyer-1")
	appendN(t, msgRepo, conversation.ID, 7)

	// Oldest first, pages of 3: 1-3, 4-6, 7.
	page, next, err := msgRepo.ListByConversation(context.Background(), conversation.ID, entity.Cursor{}, 3, true)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(1), page[0].Seq)
	assert.Equal(t, int64(3), next.Seq)

	page, next, err = msgRepo.ListByConversation(context.Background(), conversation.ID, next, 3, true)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(4), page[0].Seq)

	page, next, err = msgRepo.ListByConversation(context.Background(), conversation.ID, next, 3, true)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(7), page[0].Seq)
	assert.Equal(t, int64(0), next.Seq, "exhausted listing returns the zero cursor")

	// Newest first: 7-5, then 4-2.
	page, next, err = msgRepo.ListByConversation(context.Background(), conversation.ID, entity.Cursor{}, 3, false)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(7), page[0].Seq)
	assert.Equal(t, int64(5), next.Seq)

	page, _, err = msgRepo.ListByConversation(context.Background(), conversation.ID, next, 3, false)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(4), page[0].Seq)
	assert.Equal(t, int64(2), page[2].Seq)
}

func TestCursorSurvivesNewAppends(t *testing.T) {
	convRepo, msgRepo := testRepos(t)
	conversation := newTestConversation(t, convRepo, "farmer-1", "buyer-1")
	appendN(t, msgRepo, conversation.ID, 4)

	_, next, err := msgRepo.ListByConversation(context.Background(), conversation.ID, entity.Cursor{}, 2, true)
	require.NoError(t, err)

	// Appends between pages must not shift the resume point.
	appendN(t, msgRepo, conversation.ID, 2)

	page, _, err := msgRepo.ListByConversation(context.Background(), conversation.ID, next, 2, true)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].Seq)
	assert.Equal(t, int64(4), page[1].Seq)
}

func TestAddReadersReportsExactTransitions(t *testing.T) {
	convRepo, msgRepo := testRepos(t)
	conversation := newTestConversation(t, convRepo, "farmer-1", "buyer-1")
	appendN(t, msgRepo, conversation.ID, 3)

	unread, err := msgRepo.ListUnreadFor(context.Background(), conversation.ID, "buyer-1", 3)
	require.NoError(t, err)
	require.Len(t, unread, 3)

	ids := []string{unread[0].ID, unread[1].ID, unread[2].ID}

	added, err := msgRepo.AddReaders(context.Background(), conversation.ID, ids, "buyer-1")
	require.NoError(t, err)
	assert.Len(t, added, 3)

	// A replay transitions nothing.
	added, err = msgRepo.AddReaders(context.Background(), conversation.ID, ids, "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, added)

	count, err := msgRepo.CountUnreadFor(context.Background(), conversation.ID, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestAddReadersConcurrentCallersSplitOwnership(t *testing.T) {
	convRepo, msgRepo := testRepos(t)
	conversation := newTestConversation(t, convRepo, "farmer-1", "buyer-1")
	appendN(t, msgRepo, conversation.ID, 10)

	unread, err := msgRepo.ListUnreadFor(context.Background(), conversation.ID, "buyer-1", 10)
	require.NoError(t, err)
	ids := make([]string, len(unread))
	for i, message := range unread {
		ids[i] = message.ID
	}

	const callers = 8
	results := make([][]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			added, err := msgRepo.AddReaders(context.Background(), conversation.ID, ids, "buyer-1")
			assert.NoError(t, err)
			results[i] = added
		}(i)
	}
	wg.Wait()

	// Every message is claimed exactly once across all callers.
	claimed := make(map[string]int)
	for _, added := range results {
		for _, id := range added {
			claimed[id]++
		}
	}
	assert.Len(t, claimed, 10)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "message %s claimed more than once", id)
	}
}

func TestListUnreadForRespectsBoundary(t *testing.T) {
	convRepo, msgRepo := testRepos(t)
	conversation := newTestConversation(t, convRepo, "farmer-1", "buyer-1")
	appendN(t, msgRepo, conversation.ID, 5)

	unread, err := msgRepo.ListUnreadFor(context.Background(), conversation.ID, "buyer-1", 3)
	require.NoError(t, err)
	assert.Len(t, unread, 3, "messages past the boundary stay unread")

	unread, err = msgRepo.ListUnreadFor(context.Background(), conversation.ID, "farmer-1", 5)
	require.NoError(t, err)
	assert.Empty(t, unread, "own messages are never unread")
}

func TestLatest(t *testing.T) {
	convRepo, msgRepo := testRepos(t)
	conversation := newTestConversation(t, convRepo, "farmer-1", "buyer-1")

	_, err := msgRepo.Latest(context.Background(), conversation.ID)
	assert.True(t, apperrors.Is(err, "NOT_FOUND"))

	appendN(t, msgRepo, conversation.ID, 4)

	latest, err := msgRepo.Latest(context.Background(), conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), latest.Seq)
}

func TestGetByIDResolvesMessage(t *testing.T) {
	convRepo, msgRepo := testRepos(t)
	conversation := newTestConversation(t, convRepo, "farmer-1", "buyer-1")

	message := &entity.Message{
		ConversationID: conversation.ID,
		SenderID:       "farmer-1",
		Text:           "hello",
		ReadBy:         []string{"farmer-1"},
	}
	require.NoError(t, msgRepo.Append(context.Background(), message))

	got, err := msgRepo.GetByID(context.Background(), conversation.ID, message.ID)
	require.NoError(t, err)
	assert.Equal(t, message.Seq, got.Seq)
	assert.Equal(t, "hello", got.Text)

	_, err = msgRepo.GetByID(context.Background(), conversation.ID, "missing")
	assert.True(t, apperrors.Is(err, "NOT_FOUND"))
}
