package api

import (
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"strings"
	"time"

	"tchat-server/internal/database"
	"tchat-server/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ConversationHandler struct {
	DB       *gorm.DB
	Notifier database.Notifier
	Logger   *zap.Logger
}

func NewConversationHandler(db *gorm.DB, notifier database.Notifier, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{DB: db, Notifier: notifier, Logger: logger}
}

type conversationSummary struct {
	models.Conversation
	LastMessage  *models.Message `json:"last_message"`
	MessageCount int64           `json:"message_count"`
}

func (h *ConversationHandler) filtered(c *gin.Context) *gorm.DB {
	query := h.DB.Model(&models.Conversation{}).Where("tenant_id = ?", tenantID(c))

	if status := strings.ToUpper(c.Query("status")); status != "" && status != "ALL" {
		query = query.Where("status = ?", status)
	}
	if chatbotID := c.Query("chatbotId"); chatbotID != "" {
		query = query.Where("chatbot_id = ?", chatbotID)
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(visitor_name) LIKE ? OR LOWER(visitor_email) LIKE ?", like, like)
	}
	return query
}

// GetConversations lists conversations by latest activity
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	var conversations []models.Conversation
	err := h.filtered(c).
		Preload("Chatbot").
		Preload("Assignments.User").
		Order("updated_at DESC").
		Find(&conversations).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]conversationSummary, 0, len(conversations))
	for _, conv := range conversations {
		s := conversationSummary{Conversation: conv}
		var last models.Message
		if err := h.DB.Where("conversation_id = ?", conv.ID).Order("created_at DESC").First(&last).Error; err == nil {
			s.LastMessage = &last
		}
		h.DB.Model(&models.Message{}).Where("conversation_id = ?", conv.ID).Count(&s.MessageCount)
		out = append(out, s)
	}

	c.JSON(http.StatusOK, out)
}

// GetConversation returns one conversation with its full history
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	var conv models.Conversation
	err := h.DB.
		Preload("Chatbot").
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Messages.User").
		Preload("Assignments.User").
		Where("id = ? AND tenant_id = ?", c.Param("id"), tenantID(c)).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, conv)
}

// SendMessage posts an agent reply. Agent messages do not run triggers.
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	conv, ok := h.find(c)
	if !ok {
		return
	}

	msg := models.Message{
		ConversationID: conv.ID,
		Content:        req.Content,
		Sender:         models.SenderAgent,
	}
	if uid := userID(c); uid != "" {
		msg.UserID = &uid
	}

	if err := database.AppendMessage(c.Request.Context(), h.DB, &msg); err != nil {
		h.Logger.Error("Send agent message error", zap.String("conversation_id", conv.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
		return
	}
	if h.Notifier != nil {
		h.Notifier.NotifyMessage(msg)
	}

	c.JSON(http.StatusCreated, msg)
}

// UpdateStatus sets the conversation status
func (h *ConversationHandler) UpdateStatus(c *gin.Context) {
	var req struct {
		Status models.ConversationStatus `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	conv, ok := h.find(c)
	if !ok {
		return
	}

	if err := h.DB.Model(&models.Conversation{}).Where("id = ?", conv.ID).Update("status", req.Status).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if h.Notifier != nil {
		h.Notifier.NotifyStatus(conv.ID, req.Status)
	}

	conv.Status = req.Status
	c.JSON(http.StatusOK, conv)
}

// AssignConversation hands the conversation to exactly one agent,
// replacing earlier assignments.
func (h *ConversationHandler) AssignConversation(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	conv, ok := h.find(c)
	if !ok {
		return
	}

	var agent models.User
	err := h.DB.Where("id = ? AND tenant_id = ?", req.UserID, tenantID(c)).First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := assignExclusive(c.Request.Context(), h.DB, conv.ID, agent.ID); err != nil {
		h.Logger.Error("Assign conversation error", zap.String("conversation_id", conv.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to assign conversation"})
		return
	}
	if h.Notifier != nil {
		h.Notifier.NotifyStatus(conv.ID, models.StatusAssigned)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "conversation_id": conv.ID, "user_id": agent.ID, "status": models.StatusAssigned})
}

func assignExclusive(ctx context.Context, db *gorm.DB, conversationID, userID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&models.ChatAssignment{}).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.ChatAssignment{ConversationID: conversationID, UserID: userID}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			Update("status", models.StatusAssigned).Error
	})
}

// ExportConversations writes the filtered conversation list as CSV
func (h *ConversationHandler) ExportConversations(c *gin.Context) {
	var conversations []models.Conversation
	if err := h.filtered(c).Preload("Chatbot").Order("updated_at DESC").Find(&conversations).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=conversations.csv")
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	w.Write([]string{"ID", "Chatbot", "Visitor", "Email", "Status", "Created At", "Updated At"})
	for _, conv := range conversations {
		chatbotName := ""
		if conv.Chatbot != nil {
			chatbotName = conv.Chatbot.Name
		}
		w.Write([]string{
			conv.ID,
			chatbotName,
			conv.VisitorName,
			conv.VisitorEmail,
			string(conv.Status),
			conv.CreatedAt.Format(time.RFC3339),
			conv.UpdatedAt.Format(time.RFC3339),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		h.Logger.Warn("CSV export error", zap.Error(err))
	}
}

func (h *ConversationHandler) find(c *gin.Context) (models.Conversation, bool) {
	var conv models.Conversation
	err := h.DB.Where("id = ? AND tenant_id = ?", c.Param("id"), tenantID(c)).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return conv, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return conv, false
	}
	return conv, true
}
