package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"tchat-server/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ChatbotHandler struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

func NewChatbotHandler(db *gorm.DB, logger *zap.Logger) *ChatbotHandler {
	return &ChatbotHandler{DB: db, Logger: logger}
}

// NewEmbedCode returns a fresh public widget identifier.
func NewEmbedCode() string {
	return "tchat-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

type chatbotSummary struct {
	models.Chatbot
	TriggerCount      int64 `json:"trigger_count"`
	ConversationCount int64 `json:"conversation_count"`
}

// GetChatbots lists the tenant's chatbots, newest first
func (h *ChatbotHandler) GetChatbots(c *gin.Context) {
	var chatbots []models.Chatbot
	if err := h.DB.Where("tenant_id = ?", tenantID(c)).Order("created_at DESC").Find(&chatbots).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]chatbotSummary, 0, len(chatbots))
	for _, bot := range chatbots {
		s := chatbotSummary{Chatbot: bot}
		h.DB.Model(&models.Trigger{}).Where("chatbot_id = ?", bot.ID).Count(&s.TriggerCount)
		h.DB.Model(&models.Conversation{}).Where("chatbot_id = ?", bot.ID).Count(&s.ConversationCount)
		out = append(out, s)
	}

	c.JSON(http.StatusOK, out)
}

// GetChatbot returns one chatbot with its triggers
func (h *ChatbotHandler) GetChatbot(c *gin.Context) {
	var chatbot models.Chatbot
	err := h.DB.
		Preload("Triggers", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ? AND tenant_id = ?", c.Param("id"), tenantID(c)).
		First(&chatbot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chatbot not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, chatbot)
}

type chatbotRequest struct {
	Name        string                  `json:"name"`
	Description *string                 `json:"description"`
	Settings    *models.ChatbotSettings `json:"settings"`
	IsActive    *bool                   `json:"is_active"`
}

// CreateChatbot creates a chatbot with a generated embed code
func (h *ChatbotHandler) CreateChatbot(c *gin.Context) {
	var req chatbotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	settings := models.ChatbotSettings{Position: "bottom-right", ShowBranding: true}
	if req.Settings != nil {
		settings = *req.Settings
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chatbot := models.Chatbot{
		TenantID:  tenantID(c),
		Name:      req.Name,
		EmbedCode: NewEmbedCode(),
		Settings:  datatypes.JSON(settingsJSON),
		IsActive:  true,
	}
	if req.Description != nil {
		chatbot.Description = *req.Description
	}

	if err := h.DB.Create(&chatbot).Error; err != nil {
		h.Logger.Error("Create chatbot error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create chatbot"})
		return
	}

	c.JSON(http.StatusCreated, chatbot)
}

// UpdateChatbot applies a partial update
func (h *ChatbotHandler) UpdateChatbot(c *gin.Context) {
	var req chatbotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chatbot, ok := h.find(c)
	if !ok {
		return
	}

	updateData := map[string]interface{}{}
	if req.Name != "" {
		updateData["name"] = req.Name
	}
	if req.Description != nil {
		updateData["description"] = *req.Description
	}
	if req.Settings != nil {
		raw, err := json.Marshal(req.Settings)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		updateData["settings"] = datatypes.JSON(raw)
	}
	if req.IsActive != nil {
		updateData["is_active"] = *req.IsActive
	}

	if len(updateData) > 0 {
		if err := h.DB.Model(&chatbot).Updates(updateData).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	h.DB.First(&chatbot, "id = ?", chatbot.ID)
	c.JSON(http.StatusOK, chatbot)
}

// DeleteChatbot removes a chatbot with its triggers and conversations
func (h *ChatbotHandler) DeleteChatbot(c *gin.Context) {
	chatbot, ok := h.find(c)
	if !ok {
		return
	}

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		convIDs := func() *gorm.DB {
			return tx.Model(&models.Conversation{}).Select("id").Where("chatbot_id = ?", chatbot.ID)
		}
		if err := tx.Where("conversation_id IN (?)", convIDs()).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id IN (?)", convIDs()).Delete(&models.ChatAssignment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chatbot_id = ?", chatbot.ID).Delete(&models.Conversation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chatbot_id = ?", chatbot.ID).Delete(&models.Trigger{}).Error; err != nil {
			return err
		}
		return tx.Delete(&chatbot).Error
	})
	if err != nil {
		h.Logger.Error("Delete chatbot error", zap.String("chatbot_id", chatbot.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete chatbot"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ToggleChatbot flips is_active
func (h *ChatbotHandler) ToggleChatbot(c *gin.Context) {
	chatbot, ok := h.find(c)
	if !ok {
		return
	}

	if err := h.DB.Model(&chatbot).Update("is_active", !chatbot.IsActive).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "is_active": !chatbot.IsActive})
}

// find loads the :id chatbot of the current tenant or writes a 404.
func (h *ChatbotHandler) find(c *gin.Context) (models.Chatbot, bool) {
	var chatbot models.Chatbot
	err := h.DB.Where("id = ? AND tenant_id = ?", c.Param("id"), tenantID(c)).First(&chatbot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chatbot not found"})
		return chatbot, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return chatbot, false
	}
	return chatbot, true
}
