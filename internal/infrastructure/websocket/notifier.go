package websocket

import (
	"encoding/json"
	"time"

	"agrilink/internal/domain/entity"
	"agrilink/pkg/logger"
)

// Notifier pushes new-message events to connected recipients. It
// satisfies the messaging engine's notifier contract: delivery is best
// effort and never blocks or fails a send.
type Notifier struct {
	manager *Manager
}

func NewNotifier(manager *Manager) *Notifier {
	return &Notifier{manager: manager}
}

func (n *Notifier) OnMessageSent(conversationID string, message *entity.Message, recipientIDs []string) {
	event := Event{
		Type:           EventNewMessage,
		ConversationID: conversationID,
		Data:           message,
		Timestamp:      time.Now().Format(time.RFC3339),
	}

	raw, err := json.Marshal(event)
	if err != nil {
		logger.Error("notifier: marshal message %s: %v", message.ID, err)
		return
	}

	for _, recipientID := range recipientIDs {
		n.manager.SendToUser(recipientID, raw)
	}
}
