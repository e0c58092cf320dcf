package widget

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"tchat-server/internal/automation"
	"tchat-server/internal/config"
	"tchat-server/internal/database"
	"tchat-server/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errChatbotInactive = errors.New("chatbot is not active")

// Handler serves the public endpoints the embedded chat widget calls.
type Handler struct {
	Config *config.Config
	DB     *gorm.DB
	Store  *database.ConversationStore
	Engine *automation.Engine
	Logger *zap.Logger
}

func NewHandler(cfg *config.Config, store *database.ConversationStore, engine *automation.Engine, logger *zap.Logger) *Handler {
	return &Handler{
		Config: cfg,
		DB:     store.DB,
		Store:  store,
		Engine: engine,
		Logger: logger,
	}
}

func (h *Handler) findChatbot(ctx context.Context, query, arg string) (*models.Chatbot, error) {
	var chatbot models.Chatbot
	err := h.DB.WithContext(ctx).Where(query, arg).First(&chatbot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !chatbot.IsActive {
		return &chatbot, errChatbotInactive
	}
	return &chatbot, nil
}

func (h *Handler) writeChatbotError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Chatbot not found"})
	case errors.Is(err, errChatbotInactive):
		c.JSON(http.StatusForbidden, gin.H{"error": "Chatbot is not active"})
	default:
		h.Logger.Error("Chatbot lookup error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

func (h *Handler) settings(chatbot *models.Chatbot) models.ChatbotSettings {
	var s models.ChatbotSettings
	if len(chatbot.Settings) > 0 {
		if err := json.Unmarshal(chatbot.Settings, &s); err != nil {
			h.Logger.Warn("Invalid chatbot settings", zap.String("chatbot_id", chatbot.ID), zap.Error(err))
		}
	}
	if s.Greeting == "" {
		s.Greeting = h.Config.DefaultGreeting
	}
	return s
}

// Init returns the public chatbot configuration for ?embedCode=
func (h *Handler) Init(c *gin.Context) {
	embedCode := c.Query("embedCode")
	if embedCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "embedCode is required"})
		return
	}

	chatbot, err := h.findChatbot(c.Request.Context(), "embed_code = ?", embedCode)
	if err != nil {
		h.writeChatbotError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"chatbot": gin.H{
			"id":       chatbot.ID,
			"name":     chatbot.Name,
			"settings": h.settings(chatbot),
		},
	})
}

type conversationRequest struct {
	ChatbotID    string `json:"chatbotId"`
	EmbedCode    string `json:"embedCode"`
	VisitorID    string `json:"visitorId"`
	VisitorName  string `json:"visitorName"`
	VisitorEmail string `json:"visitorEmail"`
}

// CreateConversation resumes the visitor's open conversation or starts a
// new one.
func (h *Handler) CreateConversation(c *gin.Context) {
	var req conversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ChatbotID == "" && req.EmbedCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chatbotId or embedCode is required"})
		return
	}

	ctx := c.Request.Context()
	var chatbot *models.Chatbot
	var err error
	if req.ChatbotID != "" {
		chatbot, err = h.findChatbot(ctx, "id = ?", req.ChatbotID)
	} else {
		chatbot, err = h.findChatbot(ctx, "embed_code = ?", req.EmbedCode)
	}
	if err != nil {
		h.writeChatbotError(c, err)
		return
	}

	if req.VisitorID != "" {
		var existing models.Conversation
		err := h.DB.WithContext(ctx).
			Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
			Where("chatbot_id = ? AND visitor_id = ? AND status IN ?", chatbot.ID, req.VisitorID,
				[]models.ConversationStatus{models.StatusOpen, models.StatusAssigned}).
			Order("updated_at DESC").
			First(&existing).Error
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"success": true, "conversation": existing, "visitorId": req.VisitorID, "resumed": true})
			return
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	} else {
		req.VisitorID = uuid.NewString()
	}

	conv := models.Conversation{
		TenantID:     chatbot.TenantID,
		ChatbotID:    chatbot.ID,
		VisitorID:    req.VisitorID,
		VisitorName:  req.VisitorName,
		VisitorEmail: req.VisitorEmail,
		Status:       models.StatusOpen,
	}
	if err := h.DB.WithContext(ctx).Create(&conv).Error; err != nil {
		h.Logger.Error("Create conversation error", zap.String("chatbot_id", chatbot.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create conversation"})
		return
	}

	// A static greeting would make the visitor's first message the second
	// one, so WELCOME triggers take over greeting when present.
	// If the lookup fails the greeting is skipped rather than risk
	// shadowing a WELCOME trigger.
	var welcomeTriggers int64
	err = h.DB.WithContext(ctx).Model(&models.Trigger{}).
		Where("chatbot_id = ? AND is_active = ? AND type = ?", chatbot.ID, true, string(automation.TypeWelcome)).
		Count(&welcomeTriggers).Error
	if err != nil {
		h.Logger.Error("Error counting welcome triggers, skipping greeting",
			zap.String("chatbot_id", chatbot.ID), zap.Error(err))
	}

	conv.Messages = []models.Message{}
	if greeting := h.settings(chatbot).Greeting; greeting != "" && err == nil && welcomeTriggers == 0 {
		msg, err := h.Store.CreateMessage(ctx, conv.ID, greeting, models.SenderBot)
		if err != nil {
			h.Logger.Warn("Greeting not stored", zap.String("conversation_id", conv.ID), zap.Error(err))
		} else {
			conv.Messages = append(conv.Messages, *msg)
		}
	}

	h.Logger.Info("Conversation started",
		zap.String("conversation_id", conv.ID),
		zap.String("chatbot_id", chatbot.ID),
		zap.String("tenant_id", chatbot.TenantID))
	c.JSON(http.StatusCreated, gin.H{"success": true, "conversation": conv, "visitorId": req.VisitorID, "resumed": false})
}

type messageRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// PostMessage stores a visitor message, runs the chatbot's triggers and
// returns the visitor message together with everything the triggers wrote.
func (h *Handler) PostMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ConversationID == "" || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId and content are required"})
		return
	}

	ctx := c.Request.Context()
	var conv models.Conversation
	err := h.DB.WithContext(ctx).Preload("Chatbot").Where("id = ?", req.ConversationID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conv.Chatbot != nil && !conv.Chatbot.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "Chatbot is not active"})
		return
	}

	visitorMsg, err := h.Store.CreateMessage(ctx, conv.ID, req.Content, models.SenderVisitor)
	if err != nil {
		h.Logger.Error("Store visitor message error", zap.String("conversation_id", conv.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store message"})
		return
	}

	// The visitor message is committed; a dropped connection must not cut
	// trigger execution short.
	if h.Engine != nil {
		h.Engine.EvaluateAndExecute(context.WithoutCancel(ctx), conv.ID, req.Content)
	}

	replies, err := h.messagesAfter(ctx, conv.ID, visitorMsg.ID)
	if err != nil {
		h.Logger.Warn("Load replies error", zap.String("conversation_id", conv.ID), zap.Error(err))
		replies = []models.Message{}
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "message": visitorMsg, "replies": replies})
}

// GetMessages returns a conversation's messages, optionally only those
// after the message ?after=
func (h *Handler) GetMessages(c *gin.Context) {
	conversationID := c.Query("conversationId")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
		return
	}

	ctx := c.Request.Context()
	var count int64
	if err := h.DB.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", conversationID).Count(&count).Error; err != nil {
		h.Logger.Error("Get messages error", zap.String("conversation_id", conversationID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load conversation"})
		return
	}
	if count == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}

	messages, err := h.messagesAfter(ctx, conversationID, c.Query("after"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, messages)
}

// messagesAfter returns the conversation's messages in order, starting
// after afterID. An empty or unknown afterID returns everything.
func (h *Handler) messagesAfter(ctx context.Context, conversationID, afterID string) ([]models.Message, error) {
	var messages []models.Message
	if err := h.DB.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		return nil, err
	}

	if afterID != "" {
		for i, m := range messages {
			if m.ID == afterID {
				return messages[i+1:], nil
			}
		}
	}
	return messages, nil
}
