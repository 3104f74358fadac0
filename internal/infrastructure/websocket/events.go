package websocket

import (
	"encoding/json"
	"time"

	"agrilink/pkg/logger"
)

// WebSocket event types. Messages themselves travel over the REST API;
// the socket carries notifications and ephemeral state only.
const (
	EventPing            = "ping"
	EventPong            = "pong"
	EventNewMessage      = "new_message"
	EventJoinRoom        = "join_room"
	EventLeaveRoom       = "leave_room"
	EventTypingStart     = "typing_start"
	EventTypingStop      = "typing_stop"
	EventTypingIndicator = "typing_indicator"
	EventError           = "error"
)

type Event struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Timestamp      string      `json:"timestamp"`
}

type typingData struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Typing         bool   `json:"typing"`
	ExpiresAt      string `json:"expires_at"`
}

// HandleClientMessage processes one incoming frame from a client.
func (m *Manager) HandleClientMessage(client *Client, raw []byte) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		logger.Warn("websocket: bad frame from %s: %v", client.UserID, err)
		m.sendError(client, "Invalid message format")
		return
	}

	switch event.Type {
	case EventPing:
		m.sendEvent(client, Event{Type: EventPong, Data: map[string]string{"status": "alive"}})

	case EventJoinRoom:
		if event.ConversationID == "" {
			m.sendError(client, "Missing conversation_id")
			return
		}
		m.JoinRoom(event.ConversationID, client.UserID)
		client.ActiveConversation = event.ConversationID

	case EventLeaveRoom:
		if event.ConversationID == "" {
			m.sendError(client, "Missing conversation_id")
			return
		}
		m.LeaveRoom(event.ConversationID, client.UserID)
		if client.ActiveConversation == event.ConversationID {
			client.ActiveConversation = ""
		}

	case EventTypingStart, EventTypingStop:
		m.relayTyping(client, event)

	default:
		logger.Warn("websocket: unknown event type %q from %s", event.Type, client.UserID)
		m.sendError(client, "Unknown message type")
	}
}

func (m *Manager) relayTyping(client *Client, event Event) {
	conversationID := event.ConversationID
	if conversationID == "" {
		conversationID = client.ActiveConversation
	}
	if conversationID == "" {
		m.sendError(client, "Missing conversation_id")
		return
	}

	typing := event.Type == EventTypingStart
	indicator := Event{
		Type:           EventTypingIndicator,
		ConversationID: conversationID,
		Data: typingData{
			ConversationID: conversationID,
			UserID:         client.UserID,
			Typing:         typing,
			ExpiresAt:      time.Now().Add(5 * time.Second).Format(time.RFC3339),
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}

	raw, err := json.Marshal(indicator)
	if err != nil {
		return
	}
	m.BroadcastToRoomExcept(conversationID, client.UserID, raw)
}

func (m *Manager) sendEvent(client *Client, event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().Format(time.RFC3339)
	}
	raw, err := json.Marshal(event)
	if err != nil {
		logger.Error("websocket: marshal event for %s: %v", client.UserID, err)
		return
	}

	select {
	case client.Send <- raw:
	default:
		logger.Warn("Client %s send buffer full, dropping event", client.UserID)
	}
}

func (m *Manager) sendError(client *Client, message string) {
	m.sendEvent(client, Event{
		Type: EventError,
		Data: map[string]string{"error": message},
	})
}
