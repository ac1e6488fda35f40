package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/gigchat/gigchat/internal/auth"
	"github.com/gigchat/gigchat/internal/chat"
	"github.com/gigchat/gigchat/internal/metrics"
	"github.com/gigchat/gigchat/internal/store"
)

// APIHandlers provides HTTP handlers for REST API endpoints.
type APIHandlers struct {
	authService *auth.Service
	store       store.Store
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(authService *auth.Service, st store.Store, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		store:       st,
		log:         logger,
	}
}

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=32"`
	Password    string `json:"password" binding:"required,min=6"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token string           `json:"token"`
	User  chat.Participant `json:"user"`
}

// SendMessageRequest represents the message creation request body.
type SendMessageRequest struct {
	ReceiverID string `json:"receiverId" binding:"required"`
	Content    string `json:"content" binding:"required"`
	LocalID    string `json:"localId"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Register handles user registration.
// POST /api/register
func (h *APIHandlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid register request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	user, token, err := h.authService.Register(c.Request.Context(), req.Username, req.Password, req.DisplayName, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "user already exists"})
		case errors.Is(err, auth.ErrInvalidRole):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid role"})
		default:
			h.log.Error().Err(err).Str("username", req.Username).Msg("failed to register user")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	h.log.Info().Str("username", user.Username).Str("role", user.Role).Msg("user registered successfully")
	c.JSON(http.StatusCreated, AuthResponse{Token: token, User: participant(user)})
}

// Login handles user login.
// POST /api/login
func (h *APIHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	user, token, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		h.log.Error().Err(err).Str("username", req.Username).Msg("failed to login user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("username", user.Username).Msg("user logged in successfully")
	c.JSON(http.StatusOK, AuthResponse{Token: token, User: participant(user)})
}

// Contacts lists every other registered user.
// GET /api/contacts
func (h *APIHandlers) Contacts(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)

	users, err := h.store.ListContacts(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list contacts")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]chat.Participant, 0, len(users))
	for _, u := range users {
		out = append(out, participant(u))
	}
	c.JSON(http.StatusOK, out)
}

// Conversations lists the caller's conversations, most recent activity first.
// GET /api/conversations
func (h *APIHandlers) Conversations(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)
	ctx := c.Request.Context()

	rows, err := h.store.ListConversations(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list conversations")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]chat.Conversation, 0, len(rows))
	for _, row := range rows {
		conv, err := h.buildConversation(ctx, row)
		if err != nil {
			h.log.Error().Err(err).Str("conversation_id", row.ID).Msg("failed to resolve conversation")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		out = append(out, conv)
	}
	c.JSON(http.StatusOK, out)
}

// ConversationMessages returns one conversation's full history, oldest first,
// marking the caller's unread messages as read.
// GET /api/conversations/:id/messages
func (h *APIHandlers) ConversationMessages(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)
	convID := c.Param("id")
	ctx := c.Request.Context()

	a, b, ok := chat.SplitPair(convID)
	if !ok || (userID != a && userID != b) {
		// Membership is encoded in the id itself.
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a participant"})
		return
	}

	msgs, err := h.store.ListMessages(ctx, convID)
	if err != nil {
		h.log.Error().Err(err).Str("conversation_id", convID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if err := h.store.MarkRead(ctx, convID, userID); err != nil {
		h.log.Warn().Err(err).Str("conversation_id", convID).Msg("failed to mark messages read")
	}

	names := h.displayNames(ctx, a, b)
	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, chat.Message{
			ID:             m.ID,
			LocalID:        m.LocalID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			ReceiverID:     m.ReceiverID,
			Content:        m.Content,
			Timestamp:      m.CreatedAt,
			SenderName:     names[m.SenderID],
		})
	}
	c.JSON(http.StatusOK, out)
}

// SendMessage persists a message and returns the stored record.
// POST /api/messages
func (h *APIHandlers) SendMessage(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)
	ctx := c.Request.Context()

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send message request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty content"})
		return
	}

	receiver, err := h.store.GetUserByID(ctx, req.ReceiverID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "receiver not found"})
			return
		}
		h.log.Error().Err(err).Msg("failed to look up receiver")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	sender, err := h.store.GetUserByID(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to look up sender")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	msg := &store.Message{
		LocalID:        req.LocalID,
		ConversationID: chat.PairKey(sender.ID, receiver.ID),
		SenderID:       sender.ID,
		ReceiverID:     receiver.ID,
		Content:        req.Content,
	}
	if err := h.store.SaveMessage(ctx, msg); err != nil {
		h.log.Error().Err(err).Msg("failed to save message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	metrics.MessagesPersisted.Inc()

	c.JSON(http.StatusCreated, chat.Message{
		ID:             msg.ID,
		LocalID:        msg.LocalID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Content:        msg.Content,
		Timestamp:      msg.CreatedAt,
		SenderName:     sender.DisplayName,
	})
}

// buildConversation resolves a conversation row into the wire model with both
// participants attached.
func (h *APIHandlers) buildConversation(ctx context.Context, row *store.Conversation) (chat.Conversation, error) {
	a, b, ok := chat.SplitPair(row.ID)
	if !ok {
		return chat.Conversation{}, errors.New("malformed conversation id")
	}

	conv := chat.Conversation{
		ID: row.ID,
		LastMessage: chat.LastMessage{
			Content:   row.LastContent,
			Timestamp: row.LastAt,
			SenderID:  row.LastSenderID,
		},
		UnreadCount: row.Unread,
	}
	for i, id := range []string{a, b} {
		u, err := h.store.GetUserByID(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				conv.Participants[i] = chat.Participant{ID: id}
				continue
			}
			return chat.Conversation{}, err
		}
		conv.Participants[i] = participant(u)
	}
	return conv, nil
}

// displayNames maps the two participant ids to display names, tolerating
// missing users.
func (h *APIHandlers) displayNames(ctx context.Context, ids ...string) map[string]string {
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		if u, err := h.store.GetUserByID(ctx, id); err == nil {
			names[id] = u.DisplayName
		}
	}
	return names
}

func participant(u *store.User) chat.Participant {
	return chat.Participant{ID: u.ID, DisplayName: u.DisplayName, Role: u.Role}
}
