package websocket

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"agrilink/pkg/logger"
)

// Client represents a WebSocket connection client
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	// ActiveConversation is the conversation the client currently has
	// open, used to scope typing indicators.
	ActiveConversation string
}

// Manager manages all active WebSocket connections
type Manager struct {
	clients map[string]*Client
	// rooms maps a conversation id to the user ids currently viewing it.
	rooms      map[string]map[string]bool
	Register   chan *Client
	Unregister chan *Client
	mutex      sync.RWMutex
}

// NewManager creates a new WebSocket connection manager
func NewManager() *Manager {
	return &Manager{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Start runs the manager's main loop in a goroutine
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				m.clients[client.UserID] = client
				m.mutex.Unlock()
				logger.Debug("Client registered: %s", client.UserID)

			case client := <-m.Unregister:
				m.mutex.Lock()
				if _, ok := m.clients[client.UserID]; ok {
					delete(m.clients, client.UserID)
					close(client.Send)
				}
				for _, members := range m.rooms {
					delete(members, client.UserID)
				}
				m.mutex.Unlock()
				logger.Debug("Client unregistered: %s", client.UserID)

			case <-ctx.Done():
				return
			}
		}
	}()
}

// SendToUser sends a message to a specific user. A user without an open
// connection is skipped silently; delivery is best effort.
//
// The lock is held through the channel send: Unregister closes Send
// under the write lock, so the channel cannot close mid-send. The send
// itself never blocks.
func (m *Manager) SendToUser(userID string, message []byte) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	client, ok := m.clients[userID]
	if !ok {
		return
	}
	select {
	case client.Send <- message:
	default:
		logger.Warn("Client %s send buffer full, dropping message", userID)
	}
}

// JoinRoom records that userID is viewing the given conversation.
func (m *Manager) JoinRoom(conversationID, userID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.rooms[conversationID] == nil {
		m.rooms[conversationID] = make(map[string]bool)
	}
	m.rooms[conversationID][userID] = true
}

// LeaveRoom removes userID from the conversation's viewer set.
func (m *Manager) LeaveRoom(conversationID, userID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.rooms[conversationID], userID)
}

// BroadcastToRoomExcept sends a message to everyone viewing the
// conversation except one user, typically the originator.
func (m *Manager) BroadcastToRoomExcept(conversationID, exceptUserID string, message []byte) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for userID := range m.rooms[conversationID] {
		if userID == exceptUserID {
			continue
		}
		client, ok := m.clients[userID]
		if !ok {
			continue
		}
		select {
		case client.Send <- message:
		default:
			logger.Warn("Client %s send buffer full, dropping message", client.UserID)
		}
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		m.Unregister <- c
		c.Conn.Close()
	}()

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("websocket read: %v", err)
			}
			break
		}

		m.HandleClientMessage(c, message)
	}
}

// WritePump sends messages to the WebSocket connection
func (c *Client) WritePump() {
	defer c.Conn.Close()

	for {
		message, ok := <-c.Send
		if !ok {
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		err := c.Conn.WriteMessage(websocket.TextMessage, message)
		if err != nil {
			logger.Error("websocket write: %v", err)
			return
		}
	}
}
