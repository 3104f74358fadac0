package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"agrilink/internal/domain/entity"
	"agrilink/internal/domain/repository"
	"agrilink/pkg/errors"
	"agrilink/pkg/logger"
)

// Notifier is the outbound hook to the real-time delivery component.
// Implementations must not block and must never fail a send.
type Notifier interface {
	OnMessageSent(conversationID string, message *entity.Message, recipientIDs []string)
}

// MessagingUseCase is the only writer of the two messaging stores. It
// keeps the conversation summary consistent with the append-only log:
// the log is the source of truth, the summary a repairable cache.
type MessagingUseCase struct {
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	notifier Notifier

	deltaRetries int
}

func NewMessagingUseCase(convRepo repository.ConversationRepository, msgRepo repository.MessageRepository, notifier Notifier) *MessagingUseCase {
	return &MessagingUseCase{
		convRepo:     convRepo,
		msgRepo:      msgRepo,
		notifier:     notifier,
		deltaRetries: 5,
	}
}

type SendMessageInput struct {
	// ConversationID targets an existing conversation. When empty,
	// Participants drives a find-or-create.
	ConversationID string
	Participants   []entity.Participant
	Product        *entity.ProductContext
	Text           string
	Metadata       map[string]interface{}
}

// Send appends a message and updates the owning conversation's summary
// as one logical unit. The append is never rolled back: if the summary
// delta cannot be applied after retries the send still succeeds and the
// summary stays repairable via Reconcile.
func (uc *MessagingUseCase) Send(ctx context.Context, senderID, senderRole string, input SendMessageInput) (*entity.Message, error) {
	conversation, err := uc.resolveConversation(ctx, senderID, input)
	if err != nil {
		return nil, err
	}

	message := &entity.Message{
		ConversationID: conversation.ID,
		SenderID:       senderID,
		SenderRole:     senderRole,
		Text:           input.Text,
		Metadata:       input.Metadata,
		ReadBy:         []string{senderID},
	}
	if err := uc.msgRepo.Append(ctx, message); err != nil {
		return nil, err
	}

	recipients := conversation.RecipientIDs(senderID)
	delta := entity.ConversationDelta{
		MessageID: message.ID,
		SetLastMessage: &entity.LastMessage{
			Text:     message.Text,
			SenderID: senderID,
			SentAt:   message.CreatedAt,
		},
		IncrementUnread: recipients,
	}
	if err := uc.applyDeltaWithRetry(ctx, conversation.ID, delta); err != nil {
		// The message is durably appended; a stale summary is repaired
		// by Reconcile, never surfaced as a send failure.
		logger.Error("Send: summary delta for conversation %s message %s failed: %v", conversation.ID, message.ID, err)
	}

	if uc.notifier != nil {
		uc.notifier.OnMessageSent(conversation.ID, message, recipients)
	}
	return message, nil
}

// EnsureConversation finds the existing two-party conversation for the
// given participants or creates it. The caller must be a participant.
func (uc *MessagingUseCase) EnsureConversation(ctx context.Context, callerID string, participants []entity.Participant, product *entity.ProductContext) (*entity.Conversation, error) {
	fresh, err := entity.NewConversation(participants, product)
	if err != nil {
		return nil, err
	}
	if !fresh.HasParticipant(callerID) {
		return nil, errors.Forbidden("caller is not a participant of this conversation", nil)
	}

	if len(fresh.ParticipantIDs) == 2 {
		existing, err := uc.convRepo.FindByParticipants(ctx, fresh.ParticipantIDs[0], fresh.ParticipantIDs[1])
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, "NOT_FOUND") {
			return nil, err
		}
	}

	if err := uc.convRepo.Create(ctx, fresh); err != nil {
		// Lost a creation race for the same pair; the winner's
		// conversation is the one to use.
		if errors.Is(err, "CONFLICT") && len(fresh.ParticipantIDs) == 2 {
			return uc.convRepo.FindByParticipants(ctx, fresh.ParticipantIDs[0], fresh.ParticipantIDs[1])
		}
		return nil, err
	}
	return fresh, nil
}

func (uc *MessagingUseCase) resolveConversation(ctx context.Context, senderID string, input SendMessageInput) (*entity.Conversation, error) {
	if input.ConversationID != "" {
		conversation, err := uc.convRepo.GetByID(ctx, input.ConversationID)
		if err != nil {
			return nil, err
		}
		if !conversation.HasParticipant(senderID) {
			return nil, errors.Forbidden("sender is not a participant of this conversation", nil)
		}
		return conversation, nil
	}
	return uc.EnsureConversation(ctx, senderID, input.Participants, input.Product)
}

// MarkConversationRead acknowledges every message from other senders up
// to uptoMessageID (empty or "latest": everything currently unread) on
// behalf of readerID, then adjusts the reader's unread counter.
//
// The counter is adjusted by the number of messages this call actually
// transitioned to read, under an optimistic version check, so a send
// landing mid-flight is never clobbered: its message either joined the
// acknowledged batch or remains counted as unread.
func (uc *MessagingUseCase) MarkConversationRead(ctx context.Context, readerID, conversationID, uptoMessageID string) error {
	conversation, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conversation.HasParticipant(readerID) {
		return errors.Forbidden("reader is not a participant of this conversation", nil)
	}

	// Pin the acknowledgement boundary before touching anything, so
	// retries never swallow messages sent after the call began.
	var uptoSeq int64
	switch uptoMessageID {
	case "", "latest":
		latest, err := uc.msgRepo.Latest(ctx, conversationID)
		if err != nil {
			if errors.Is(err, "NOT_FOUND") {
				uptoSeq = 0 // empty log, only lastSeen to update
			} else {
				return err
			}
		} else {
			uptoSeq = latest.Seq
		}
	default:
		target, err := uc.msgRepo.GetByID(ctx, conversationID, uptoMessageID)
		if err != nil {
			return err
		}
		uptoSeq = target.Seq
	}

	acknowledged := 0
	lastToken := ""
	lastCarried := 0
	var lastErr error
	for attempt := 0; attempt < uc.deltaRetries; attempt++ {
		if attempt > 0 {
			if conversation, err = uc.convRepo.GetByID(ctx, conversationID); err != nil {
				return err
			}
			// A delta that committed before its error surfaced left its
			// token behind; those messages are already off the counter.
			if lastToken != "" && conversation.LastReadDeltaID == lastToken {
				acknowledged -= lastCarried
			}
		}
		version := conversation.Version

		if uptoSeq > 0 {
			unread, err := uc.msgRepo.ListUnreadFor(ctx, conversationID, readerID, uptoSeq)
			if err != nil {
				return err
			}
			ids := make([]string, len(unread))
			for i, message := range unread {
				ids[i] = message.ID
			}
			added, err := uc.msgRepo.AddReaders(ctx, conversationID, ids, readerID)
			if err != nil {
				return err
			}
			acknowledged += len(added)
		}

		token := uuid.New().String()
		delta := entity.ConversationDelta{
			ReadDeltaID:     token,
			DecrementUnread: map[string]int{readerID: acknowledged},
			SetLastSeen:     map[string]time.Time{readerID: time.Now()},
			ExpectedVersion: &version,
		}
		if _, err := uc.convRepo.ApplyDelta(ctx, conversationID, delta); err != nil {
			if errors.IsRetryable(err) {
				lastToken, lastCarried = token, acknowledged
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return errors.Internal("could not settle read state after retries", lastErr)
}

// Reconcile recomputes a conversation's summary from its message log.
// Idempotent; safe to run at any time; used to heal drift after a crash
// between a message append and its summary delta.
func (uc *MessagingUseCase) Reconcile(ctx context.Context, conversationID string) error {
	var lastErr error
	for attempt := 0; attempt < uc.deltaRetries; attempt++ {
		conversation, err := uc.convRepo.GetByID(ctx, conversationID)
		if err != nil {
			return err
		}
		version := conversation.Version

		messages, err := uc.allMessages(ctx, conversationID)
		if err != nil {
			return err
		}

		reset := make(map[string]int, len(conversation.Participants))
		for _, p := range conversation.Participants {
			reset[p.UserID] = 0
		}
		for _, message := range messages {
			for _, p := range conversation.Participants {
				if message.UnreadFor(p.UserID) {
					reset[p.UserID]++
				}
			}
		}

		delta := entity.ConversationDelta{
			ResetUnread:     reset,
			ExpectedVersion: &version,
		}
		if len(messages) > 0 {
			latest := messages[len(messages)-1]
			delta.MessageID = latest.ID
			delta.SetLastMessage = &entity.LastMessage{
				Text:     latest.Text,
				SenderID: latest.SenderID,
				SentAt:   latest.CreatedAt,
			}
			// The idempotency token must take effect even when the
			// latest message's own delta already landed.
			if conversation.LastDeltaMessageID == latest.ID {
				delta.MessageID = ""
			}
		}

		if _, err := uc.convRepo.ApplyDelta(ctx, conversationID, delta); err != nil {
			if errors.IsRetryable(err) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return errors.Internal("could not reconcile conversation after retries", lastErr)
}

func (uc *MessagingUseCase) allMessages(ctx context.Context, conversationID string) ([]*entity.Message, error) {
	var all []*entity.Message
	cursor := entity.Cursor{}
	for {
		page, next, err := uc.msgRepo.ListByConversation(ctx, conversationID, cursor, 500, true)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next.Seq == 0 {
			return all, nil
		}
		cursor = next
	}
}

func (uc *MessagingUseCase) applyDeltaWithRetry(ctx context.Context, conversationID string, delta entity.ConversationDelta) error {
	var lastErr error
	for attempt := 0; attempt < uc.deltaRetries; attempt++ {
		// Idempotent per message id: a delta that actually committed
		// before a transient failure surfaces is skipped on replay.
		if _, err := uc.convRepo.ApplyDelta(ctx, conversationID, delta); err != nil {
			lastErr = err
			if errors.IsRetryable(err) {
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}
