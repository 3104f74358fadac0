package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"agrilink/internal/domain/entity"
	"agrilink/internal/usecase"
	"agrilink/pkg/response"
	"agrilink/pkg/utils"
)

type ConversationHandler struct {
	messagingUseCase *usecase.MessagingUseCase
	inboxUseCase     *usecase.InboxUseCase
}

func NewConversationHandler(messagingUseCase *usecase.MessagingUseCase, inboxUseCase *usecase.InboxUseCase) *ConversationHandler {
	return &ConversationHandler{
		messagingUseCase: messagingUseCase,
		inboxUseCase:     inboxUseCase,
	}
}

type createConversationRequest struct {
	RecipientID    string `json:"recipient_id" validate:"required"`
	RecipientRole  string `json:"recipient_role" validate:"required,oneof=farmer buyer"`
	RecipientName  string `json:"recipient_name"`
	SenderName     string `json:"sender_name"`
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	InitialMessage string `json:"initial_message"`
}

type sendMessageRequest struct {
	Text     string                 `json:"text" validate:"required"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type markReadRequest struct {
	UpToMessageID string `json:"up_to_message_id"`
}

// CreateConversation starts (or returns) the conversation between the
// caller and a recipient, optionally delivering a first message.
func (h *ConversationHandler) CreateConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)
	userRole := c.Get("role").(string)

	participants := []entity.Participant{
		{UserID: userID, Role: userRole, DisplayName: req.SenderName},
		{UserID: req.RecipientID, Role: req.RecipientRole, DisplayName: req.RecipientName},
	}

	var product *entity.ProductContext
	if req.ProductID != "" {
		product = &entity.ProductContext{
			ProductID:   req.ProductID,
			ProductName: req.ProductName,
		}
	}

	if req.InitialMessage != "" {
		message, err := h.messagingUseCase.Send(c.Request().Context(), userID, userRole, usecase.SendMessageInput{
			Participants: participants,
			Product:      product,
			Text:         req.InitialMessage,
			Metadata:     nil,
		})
		if err != nil {
			return response.Error(c, err)
		}

		conversation, err := h.inboxUseCase.GetConversation(c.Request().Context(), userID, message.ConversationID)
		if err != nil {
			return response.Error(c, err)
		}
		return response.Created(c, conversation)
	}

	conversation, err := h.messagingUseCase.EnsureConversation(c.Request().Context(), userID, participants, product)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, conversation)
}

// GetConversations lists the caller's inbox, most recent activity first.
func (h *ConversationHandler) GetConversations(c echo.Context) error {
	userID := c.Get("uid").(string)

	conversations, err := h.inboxUseCase.ListInbox(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversations)
}

// GetUnreadSummary returns the caller's unread badge totals.
func (h *ConversationHandler) GetUnreadSummary(c echo.Context) error {
	userID := c.Get("uid").(string)

	summary, err := h.inboxUseCase.TotalUnread(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, summary)
}

// GetConversationByID returns a single conversation the caller is part of.
func (h *ConversationHandler) GetConversationByID(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	conversation, err := h.inboxUseCase.GetConversation(c.Request().Context(), userID, conversationID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversation)
}

// GetConversationMessages pages through a conversation's message history.
func (h *ConversationHandler) GetConversationMessages(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	params := utils.GetHistoryParams(c)
	cursor, err := entity.DecodeCursor(params.Cursor)
	if err != nil {
		return response.Error(c, err)
	}

	messages, next, err := h.inboxUseCase.GetHistory(c.Request().Context(), userID, conversationID, cursor, params.Limit, params.Oldest)
	if err != nil {
		return response.Error(c, err)
	}

	nextCursor := ""
	if next.Seq != 0 {
		nextCursor = next.Encode()
	}
	return response.Page(c, messages, nextCursor)
}

// SendMessage appends a message to an existing conversation.
func (h *ConversationHandler) SendMessage(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)
	userRole := c.Get("role").(string)

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	message, err := h.messagingUseCase.Send(c.Request().Context(), userID, userRole, usecase.SendMessageInput{
		ConversationID: conversationID,
		Text:           req.Text,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// MarkConversationRead acknowledges messages on behalf of the caller.
// With no body (or an empty up_to_message_id) everything currently
// unread is acknowledged.
func (h *ConversationHandler) MarkConversationRead(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	var req markReadRequest
	if err := c.Bind(&req); err != nil && c.Request().ContentLength > 0 {
		return response.Error(c, err)
	}

	err := h.messagingUseCase.MarkConversationRead(c.Request().Context(), userID, conversationID, req.UpToMessageID)
	if err != nil {
		return response.Error(c, err)
	}

	return c.NoContent(http.StatusOK)
}

// ReconcileConversation rebuilds a conversation's summary from its
// message log. Maintenance endpoint; callable by any participant.
func (h *ConversationHandler) ReconcileConversation(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	if _, err := h.inboxUseCase.GetConversation(c.Request().Context(), userID, conversationID); err != nil {
		return response.Error(c, err)
	}

	if err := h.messagingUseCase.Reconcile(c.Request().Context(), conversationID); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"message": "Conversation reconciled"})
}
