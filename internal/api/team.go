package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"tchat-server/internal/database"
	"tchat-server/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// PasswordCost is the bcrypt cost used for member passwords.
const PasswordCost = 12

type TeamHandler struct {
	DB     *gorm.DB
	Logger *zap.Logger
	// Cost overrides PasswordCost when non-zero.
	Cost int
}

func NewTeamHandler(db *gorm.DB, logger *zap.Logger) *TeamHandler {
	return &TeamHandler{DB: db, Logger: logger}
}

type memberSummary struct {
	models.User
	AssignedChats int64 `json:"assigned_chats"`
}

// GetMembers lists the tenant's team with their assignment counts
func (h *TeamHandler) GetMembers(c *gin.Context) {
	var members []memberSummary
	err := h.DB.Model(&models.User{}).
		Select("users.*, (SELECT COUNT(*) FROM chat_assignments WHERE chat_assignments.user_id = users.id) AS assigned_chats").
		Where("users.tenant_id = ?", tenantID(c)).
		Order("users.created_at DESC").
		Scan(&members).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if members == nil {
		members = []memberSummary{}
	}
	c.JSON(http.StatusOK, members)
}

func generateTempPassword() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// InviteMember creates a member with a temporary password that is
// returned once in the response
func (h *TeamHandler) InviteMember(c *gin.Context) {
	var req struct {
		Email string      `json:"email"`
		Name  string      `json:"name"`
		Role  models.Role `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "valid email is required"})
		return
	}
	if req.Role == "" {
		req.Role = models.RoleTenantUser
	}
	if req.Role != models.RoleTenantUser && req.Role != models.RoleTenantAdmin {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}

	var existing int64
	if err := h.DB.Model(&models.User{}).Where("email = ?", req.Email).Count(&existing).Error; err != nil {
		h.Logger.Error("Invite member lookup error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to invite member"})
		return
	}
	if existing > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": database.ErrEmailTaken.Error()})
		return
	}

	cost := h.Cost
	if cost == 0 {
		cost = PasswordCost
	}
	tempPassword := generateTempPassword()
	hash, err := bcrypt.GenerateFromPassword([]byte(tempPassword), cost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	user := models.User{
		TenantID:     tenantID(c),
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: string(hash),
		Role:         req.Role,
	}
	if err := database.CreateUser(c.Request.Context(), h.DB, &user); err != nil {
		if errors.Is(err, database.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.Logger.Error("Invite member error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to invite member"})
		return
	}

	h.Logger.Info("Team member invited", zap.String("tenant_id", user.TenantID), zap.String("user_id", user.ID))
	c.JSON(http.StatusCreated, gin.H{"user": user, "temp_password": tempPassword})
}

// UpdateMember changes a member's name or role
func (h *TeamHandler) UpdateMember(c *gin.Context) {
	var req struct {
		Name *string     `json:"name"`
		Role models.Role `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role != "" && req.Role != models.RoleTenantUser && req.Role != models.RoleTenantAdmin {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}

	user, ok := h.find(c)
	if !ok {
		return
	}

	updateData := map[string]interface{}{}
	if req.Name != nil {
		updateData["name"] = *req.Name
	}
	if req.Role != "" {
		updateData["role"] = req.Role
	}
	if len(updateData) > 0 {
		if err := h.DB.Model(&user).Updates(updateData).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	h.DB.First(&user, "id = ?", user.ID)
	c.JSON(http.StatusOK, user)
}

// RemoveMember deletes a member and their assignments. Members cannot
// remove themselves.
func (h *TeamHandler) RemoveMember(c *gin.Context) {
	if c.Param("id") == userID(c) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot remove yourself"})
		return
	}

	user, ok := h.find(c)
	if !ok {
		return
	}

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.ChatAssignment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove member"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetTeamStats returns headline numbers for the team page
func (h *TeamHandler) GetTeamStats(c *gin.Context) {
	var stats struct {
		TotalMembers        int64 `json:"total_members"`
		ActiveConversations int64 `json:"active_conversations"`
		ResolvedToday       int64 `json:"resolved_today"`
	}

	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	h.DB.Model(&models.User{}).Where("tenant_id = ?", tenantID(c)).Count(&stats.TotalMembers)
	h.DB.Model(&models.Conversation{}).
		Where("tenant_id = ? AND status IN ?", tenantID(c), []models.ConversationStatus{models.StatusOpen, models.StatusAssigned}).
		Count(&stats.ActiveConversations)
	h.DB.Model(&models.Conversation{}).
		Where("tenant_id = ? AND status = ? AND updated_at >= ?", tenantID(c), models.StatusResolved, startOfDay).
		Count(&stats.ResolvedToday)

	c.JSON(http.StatusOK, stats)
}

func (h *TeamHandler) find(c *gin.Context) (models.User, bool) {
	var user models.User
	err := h.DB.Where("id = ? AND tenant_id = ?", c.Param("id"), tenantID(c)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		return user, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return user, false
	}
	return user, true
}
