package entity

import (
	"sort"
	"time"

	apperrors "agrilink/pkg/errors"
)

const (
	RoleFarmer = "farmer"
	RoleBuyer  = "buyer"
)

// Participant is the conversation-local snapshot of a user.
type Participant struct {
	UserID      string    `json:"user_id" firestore:"userId"`
	Role        string    `json:"role" firestore:"role"` // "farmer" or "buyer"
	DisplayName string    `json:"display_name,omitempty" firestore:"displayName,omitempty"`
	LastSeenAt  time.Time `json:"last_seen_at,omitempty" firestore:"lastSeenAt,omitempty"`
}

// LastMessage is the denormalized snapshot of the newest message in the log.
type LastMessage struct {
	Text     string    `json:"text" firestore:"text"`
	SenderID string    `json:"sender_id" firestore:"senderId"`
	SentAt   time.Time `json:"sent_at" firestore:"sentAt"`
}

// ProductContext optionally links a conversation to the product that
// started it. Opaque to the messaging engine.
type ProductContext struct {
	ProductID   string `json:"product_id" firestore:"productId"`
	ProductName string `json:"product_name,omitempty" firestore:"productName,omitempty"`
}

// Conversation is the summary aggregate over an append-only message log.
// LastMessage and UnreadCount are derived from the log and repairable;
// the log is the source of truth.
type Conversation struct {
	ID             string          `json:"id" firestore:"id"`
	Participants   []Participant   `json:"participants" firestore:"participants"`
	ParticipantIDs []string        `json:"-" firestore:"participantIds"` // flattened for queries
	Product        *ProductContext `json:"product,omitempty" firestore:"product,omitempty"`
	LastMessage    *LastMessage    `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	UnreadCount    map[string]int  `json:"unread_count" firestore:"unreadCount"`

	// Version increments on every applied delta; resets carry the version
	// they were computed against so a racing increment is never clobbered.
	Version int64 `json:"-" firestore:"version"`
	// LastDeltaMessageID is the id of the message whose send delta was
	// applied last. A retried delta for the same message is a no-op.
	LastDeltaMessageID string `json:"-" firestore:"lastDeltaMessageId"`
	// LastReadDeltaID is the token of the read delta applied last. A
	// reader whose delta committed but surfaced an error finds its token
	// here and knows not to decrement again.
	LastReadDeltaID string `json:"-" firestore:"lastReadDeltaId"`

	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updatedAt"`
}

// ConversationDelta is a single atomically-applied summary mutation.
type ConversationDelta struct {
	// MessageID, when set, is the idempotency token of a send delta.
	MessageID string
	// ReadDeltaID, when set, is the idempotency token of a read delta.
	ReadDeltaID    string
	SetLastMessage *LastMessage
	// IncrementUnread lists the user ids whose counter gets +1.
	IncrementUnread []string
	// DecrementUnread subtracts acknowledged messages from counters,
	// flooring at zero. Decrements commute with increments, so a
	// mark-read never clobbers a racing send.
	DecrementUnread map[string]int
	// ResetUnread sets counters to absolute values (reconcile).
	ResetUnread map[string]int
	// SetLastSeen updates one participant's lastSeenAt.
	SetLastSeen map[string]time.Time
	// ExpectedVersion, when non-nil, makes the delta conditional: the
	// store rejects it with CONFLICT if the conversation has moved on.
	ExpectedVersion *int64
}

// NewConversation builds a conversation aggregate with zeroed counters.
// At least two distinct participants are required.
func NewConversation(participants []Participant, product *ProductContext) (*Conversation, error) {
	if len(participants) < 2 {
		return nil, apperrors.InvalidParticipants("a conversation needs at least two participants")
	}

	seen := make(map[string]struct{}, len(participants))
	ids := make([]string, 0, len(participants))
	unread := make(map[string]int, len(participants))
	for _, p := range participants {
		if p.UserID == "" {
			return nil, apperrors.InvalidParticipants("participant user id must not be empty")
		}
		if _, dup := seen[p.UserID]; dup {
			return nil, apperrors.InvalidParticipants("participant user ids must be distinct")
		}
		seen[p.UserID] = struct{}{}
		ids = append(ids, p.UserID)
		unread[p.UserID] = 0
	}

	return &Conversation{
		Participants:   participants,
		ParticipantIDs: ids,
		Product:        product,
		UnreadCount:    unread,
	}, nil
}

// PairKey returns a canonical key for a two-party participant set,
// independent of order. Used by find-or-create.
func PairKey(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + "|" + userB
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// RecipientIDs returns every participant id except the sender's.
func (c *Conversation) RecipientIDs(senderID string) []string {
	var ids []string
	for _, p := range c.Participants {
		if p.UserID != senderID {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// Apply mutates the summary in place. Both storage adapters call this
// inside their transaction so the semantics stay identical; the caller
// is responsible for the idempotency and version checks.
func (c *Conversation) Apply(delta ConversationDelta, now time.Time) {
	if c.UnreadCount == nil {
		c.UnreadCount = make(map[string]int)
	}

	if delta.SetLastMessage != nil {
		c.LastMessage = delta.SetLastMessage
	}
	for _, userID := range delta.IncrementUnread {
		c.UnreadCount[userID]++
	}
	for userID, count := range delta.DecrementUnread {
		next := c.UnreadCount[userID] - count
		if next < 0 {
			next = 0
		}
		c.UnreadCount[userID] = next
	}
	for userID, count := range delta.ResetUnread {
		if count < 0 {
			count = 0
		}
		c.UnreadCount[userID] = count
	}
	for userID, seenAt := range delta.SetLastSeen {
		for i := range c.Participants {
			if c.Participants[i].UserID == userID {
				c.Participants[i].LastSeenAt = seenAt
			}
		}
	}

	if delta.MessageID != "" {
		c.LastDeltaMessageID = delta.MessageID
	}
	if delta.ReadDeltaID != "" {
		c.LastReadDeltaID = delta.ReadDeltaID
	}
	c.Version++
	c.UpdatedAt = now
}

// SortInbox orders conversations for inbox display: newest activity
// first, conversations without any message last by creation time.
func SortInbox(conversations []*Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		a, b := conversations[i], conversations[j]
		switch {
		case a.LastMessage != nil && b.LastMessage != nil:
			return a.LastMessage.SentAt.After(b.LastMessage.SentAt)
		case a.LastMessage != nil:
			return true
		case b.LastMessage != nil:
			return false
		default:
			return a.CreatedAt.After(b.CreatedAt)
		}
	})
}
