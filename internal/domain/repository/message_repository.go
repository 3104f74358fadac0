package repository

import (
	"context"

	"agrilink/internal/domain/entity"
)

// MessageRepository is the persistence boundary for the append-only
// message log. Messages are immutable once appended except for ReadBy,
// which only grows.
type MessageRepository interface {
	// Append stores the message, assigning its id, per-conversation
	// sequence and creation time. EMPTY_TEXT on blank text.
	Append(ctx context.Context, message *entity.Message) error

	GetByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error)

	// ListByConversation returns one page ordered by sequence. When
	// oldest is false the newest messages come first. The returned
	// cursor resumes after the page; empty when exhausted.
	ListByConversation(ctx context.Context, conversationID string, cursor entity.Cursor, limit int, oldest bool) ([]*entity.Message, entity.Cursor, error)

	// ListUnreadFor returns the messages userID has not acknowledged,
	// sent by someone else, with Seq <= uptoSeq, oldest first.
	ListUnreadFor(ctx context.Context, conversationID, userID string, uptoSeq int64) ([]*entity.Message, error)

	// AddReaders adds userID to ReadBy of each listed message in one
	// batch and returns the ids of messages that actually changed.
	// Already present entries are skipped; the call is idempotent, and
	// no message is ever reported as changed by two concurrent callers.
	AddReaders(ctx context.Context, conversationID string, messageIDs []string, userID string) ([]string, error)

	// CountUnreadFor recomputes the true unread count from the log.
	// Repair and reconciliation path, not the hot read path.
	CountUnreadFor(ctx context.Context, conversationID, userID string) (int, error)

	// Latest returns the newest message by sequence, or NOT_FOUND when
	// the log is empty.
	Latest(ctx context.Context, conversationID string) (*entity.Message, error)
}
