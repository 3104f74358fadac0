package entity

import "time"

// MaxMessageLength bounds message text, in runes.
const MaxMessageLength = 2000

// Message is one immutable entry of a conversation's log. Only ReadBy
// may grow after the append; nothing is ever removed.
type Message struct {
	ID             string `json:"id" firestore:"id"`
	ConversationID string `json:"conversation_id" firestore:"conversationId"`
	// Seq is assigned at append time and strictly increases within a
	// conversation. History cursors are built on it.
	Seq        int64                  `json:"seq" firestore:"seq"`
	SenderID   string                 `json:"sender_id" firestore:"senderId"`
	SenderRole string                 `json:"sender_role" firestore:"senderRole"`
	Text       string                 `json:"text" firestore:"text"`
	Metadata   map[string]interface{} `json:"metadata,omitempty" firestore:"metadata,omitempty"`
	ReadBy     []string               `json:"read_by" firestore:"readBy"`
	CreatedAt  time.Time              `json:"created_at" firestore:"createdAt"`
}

func (m *Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// UnreadFor reports whether the message counts toward userID's unread
// counter: sent by someone else and not yet acknowledged.
func (m *Message) UnreadFor(userID string) bool {
	return m.SenderID != userID && !m.ReadByUser(userID)
}
