package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"tchat-server/internal/automation"
	"tchat-server/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TriggerHandler struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

func NewTriggerHandler(db *gorm.DB, logger *zap.Logger) *TriggerHandler {
	return &TriggerHandler{DB: db, Logger: logger}
}

// tenantChatbots restricts a query to chatbots owned by the current tenant.
func (h *TriggerHandler) tenantChatbots(c *gin.Context) *gorm.DB {
	return h.DB.Model(&models.Chatbot{}).Select("id").Where("tenant_id = ?", tenantID(c))
}

func (h *TriggerHandler) tenantTriggers(c *gin.Context) *gorm.DB {
	return h.DB.Model(&models.Trigger{}).Select("id").Where("chatbot_id IN (?)", h.tenantChatbots(c))
}

// GetTriggers returns the tenant's triggers, newest first
func (h *TriggerHandler) GetTriggers(c *gin.Context) {
	query := h.DB.Preload("Chatbot").Where("chatbot_id IN (?)", h.tenantChatbots(c))
	if chatbotID := c.Query("chatbotId"); chatbotID != "" {
		query = query.Where("chatbot_id = ?", chatbotID)
	}

	var triggers []models.Trigger
	if err := query.Order("created_at DESC").Find(&triggers).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, triggers)
}

// GetTrigger returns a single trigger
func (h *TriggerHandler) GetTrigger(c *gin.Context) {
	trigger, ok := h.find(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, trigger)
}

type triggerRequest struct {
	ChatbotID   string          `json:"chatbot_id"`
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	Type        string          `json:"type"`
	Conditions  json.RawMessage `json:"conditions"`
	Actions     json.RawMessage `json:"actions"`
	IsActive    *bool           `json:"is_active"`
}

func normalizePayloads(triggerType string, conditions, actions []byte) (datatypes.JSON, datatypes.JSON, error) {
	cond, acts, err := automation.Normalize(automation.TriggerType(triggerType), conditions, actions)
	if err != nil {
		return nil, nil, err
	}
	return datatypes.JSON(cond), datatypes.JSON(acts), nil
}

// CreateTrigger creates a trigger on one of the tenant's chatbots
func (h *TriggerHandler) CreateTrigger(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ChatbotID == "" || strings.TrimSpace(req.Name) == "" || req.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chatbot_id, name and type are required"})
		return
	}

	var chatbot models.Chatbot
	err := h.DB.Where("id = ? AND tenant_id = ?", req.ChatbotID, tenantID(c)).First(&chatbot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chatbot not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	conditions, actions, err := normalizePayloads(req.Type, req.Conditions, req.Actions)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	trigger := models.Trigger{
		ChatbotID:  chatbot.ID,
		Name:       req.Name,
		Type:       req.Type,
		Conditions: conditions,
		Actions:    actions,
		IsActive:   true,
	}
	if req.Description != nil {
		trigger.Description = *req.Description
	}
	if req.IsActive != nil {
		trigger.IsActive = *req.IsActive
	}

	if err := h.DB.Create(&trigger).Error; err != nil {
		h.Logger.Error("Create trigger error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create trigger"})
		return
	}

	c.JSON(http.StatusCreated, trigger)
}

// UpdateTrigger applies a partial update, re-validating the payloads
// against the resulting type
func (h *TriggerHandler) UpdateTrigger(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	trigger, ok := h.find(c)
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
	if req.IsActive != nil {
		updateData["is_active"] = *req.IsActive
	}

	if req.Type != "" || len(req.Conditions) > 0 || len(req.Actions) > 0 {
		triggerType := trigger.Type
		if req.Type != "" {
			triggerType = req.Type
		}
		conditions := []byte(trigger.Conditions)
		if len(req.Conditions) > 0 {
			conditions = req.Conditions
		}
		actions := []byte(trigger.Actions)
		if len(req.Actions) > 0 {
			actions = req.Actions
		}

		storedConditions, storedActions, err := normalizePayloads(triggerType, conditions, actions)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		updateData["type"] = triggerType
		updateData["conditions"] = storedConditions
		updateData["actions"] = storedActions
	}

	if len(updateData) > 0 {
		if err := h.DB.Model(&models.Trigger{}).Where("id = ?", trigger.ID).Updates(updateData).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	h.DB.First(&trigger, "id = ?", trigger.ID)
	c.JSON(http.StatusOK, trigger)
}

// DeleteTrigger deletes a trigger
func (h *TriggerHandler) DeleteTrigger(c *gin.Context) {
	trigger, ok := h.find(c)
	if !ok {
		return
	}

	if err := h.DB.Delete(&models.Trigger{}, "id = ?", trigger.ID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ToggleTrigger enables or disables a trigger
func (h *TriggerHandler) ToggleTrigger(c *gin.Context) {
	trigger, ok := h.find(c)
	if !ok {
		return
	}

	if err := h.DB.Model(&models.Trigger{}).Where("id = ?", trigger.ID).Update("is_active", !trigger.IsActive).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "is_active": !trigger.IsActive})
}

// GetRuns returns trigger execution history
func (h *TriggerHandler) GetRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}

	query := h.DB.Where("trigger_id IN (?)", h.tenantTriggers(c))
	if triggerID := c.Query("triggerId"); triggerID != "" {
		query = query.Where("trigger_id = ?", triggerID)
	}

	var runs []models.TriggerRun
	if err := query.Order("created_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, runs)
}

// GetRunAnalytics returns trigger and execution totals
func (h *TriggerHandler) GetRunAnalytics(c *gin.Context) {
	var stats struct {
		TotalTriggers   int64 `json:"total_triggers"`
		ActiveTriggers  int64 `json:"active_triggers"`
		TotalExecutions int64 `json:"total_executions"`
		SuccessfulExecs int64 `json:"successful_executions"`
		FailedExecs     int64 `json:"failed_executions"`
	}

	h.DB.Model(&models.Trigger{}).Where("chatbot_id IN (?)", h.tenantChatbots(c)).Count(&stats.TotalTriggers)
	h.DB.Model(&models.Trigger{}).Where("chatbot_id IN (?) AND is_active = ?", h.tenantChatbots(c), true).Count(&stats.ActiveTriggers)
	h.DB.Model(&models.TriggerRun{}).Where("trigger_id IN (?)", h.tenantTriggers(c)).Count(&stats.TotalExecutions)
	h.DB.Model(&models.TriggerRun{}).Where("trigger_id IN (?) AND success = ?", h.tenantTriggers(c), true).Count(&stats.SuccessfulExecs)
	h.DB.Model(&models.TriggerRun{}).Where("trigger_id IN (?) AND success = ?", h.tenantTriggers(c), false).Count(&stats.FailedExecs)

	c.JSON(http.StatusOK, stats)
}

func (h *TriggerHandler) find(c *gin.Context) (models.Trigger, bool) {
	var trigger models.Trigger
	err := h.DB.Preload("Chatbot").
		Where("id = ? AND chatbot_id IN (?)", c.Param("id"), h.tenantChatbots(c)).
		First(&trigger).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trigger not found"})
		return trigger, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return trigger, false
	}
	return trigger, true
}
