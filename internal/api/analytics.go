package api

import (
	"net/http"
	"sort"
	"time"

	"tchat-server/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type AnalyticsHandler struct {
	DB *gorm.DB
	// Now is overridable in tests.
	Now func() time.Time
}

func NewAnalyticsHandler(db *gorm.DB) *AnalyticsHandler {
	return &AnalyticsHandler{DB: db, Now: time.Now}
}

var periodDays = map[string]int{"7d": 7, "30d": 30, "90d": 90}

type countRow struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

type chatbotStat struct {
	ChatbotID         string `json:"chatbot_id"`
	Name              string `json:"name"`
	ConversationCount int64  `json:"conversation_count"`
}

type dailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

func (h *AnalyticsHandler) periodStart(c *gin.Context) (string, time.Time) {
	period := c.DefaultQuery("period", "7d")
	days, ok := periodDays[period]
	if !ok {
		period, days = "7d", 7
	}
	now := h.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -(days - 1))
	return period, start
}

// GetAnalytics returns conversation and message statistics for a period
// (?period=7d|30d|90d)
func (h *AnalyticsHandler) GetAnalytics(c *gin.Context) {
	period, start := h.periodStart(c)
	tenant := tenantID(c)

	var totalConversations int64
	h.DB.Model(&models.Conversation{}).
		Where("tenant_id = ? AND created_at >= ?", tenant, start).
		Count(&totalConversations)

	var byStatus []countRow
	h.DB.Model(&models.Conversation{}).
		Select("status AS label, COUNT(*) AS count").
		Where("tenant_id = ? AND created_at >= ?", tenant, start).
		Group("status").
		Scan(&byStatus)

	tenantMessages := func() *gorm.DB {
		return h.DB.Model(&models.Message{}).
			Joins("JOIN conversations ON conversations.id = messages.conversation_id").
			Where("conversations.tenant_id = ? AND messages.created_at >= ?", tenant, start)
	}

	var totalMessages int64
	tenantMessages().Count(&totalMessages)

	var bySender []countRow
	tenantMessages().
		Select("messages.sender AS label, COUNT(*) AS count").
		Group("messages.sender").
		Scan(&bySender)

	var resolved []models.Conversation
	h.DB.Select("created_at", "updated_at").
		Where("tenant_id = ? AND status = ? AND created_at >= ?", tenant, models.StatusResolved, start).
		Find(&resolved)
	var avgResolutionMinutes float64
	if len(resolved) > 0 {
		var total time.Duration
		for _, conv := range resolved {
			total += conv.UpdatedAt.Sub(conv.CreatedAt)
		}
		avgResolutionMinutes = total.Minutes() / float64(len(resolved))
	}

	var perChatbot []chatbotStat
	h.DB.Model(&models.Chatbot{}).
		Select("chatbots.id AS chatbot_id, chatbots.name AS name, "+
			"(SELECT COUNT(*) FROM conversations WHERE conversations.chatbot_id = chatbots.id AND conversations.created_at >= ?) AS conversation_count", start).
		Where("chatbots.tenant_id = ?", tenant).
		Order("conversation_count DESC").
		Scan(&perChatbot)

	var createdTimes []time.Time
	h.DB.Model(&models.Conversation{}).
		Where("tenant_id = ? AND created_at >= ?", tenant, start).
		Pluck("created_at", &createdTimes)

	c.JSON(http.StatusOK, gin.H{
		"period":                  period,
		"start":                   start,
		"total_conversations":     totalConversations,
		"total_messages":          totalMessages,
		"conversations_by_status": nonNil(byStatus),
		"messages_by_sender":      nonNil(bySender),
		"avg_resolution_minutes":  avgResolutionMinutes,
		"chatbots":                perChatbot,
		"daily":                   dailyTrend(start, h.Now(), createdTimes),
	})
}

func nonNil(rows []countRow) []countRow {
	if rows == nil {
		return []countRow{}
	}
	return rows
}

// dailyTrend buckets times by local calendar day, filling empty days
// with zero.
func dailyTrend(start, end time.Time, times []time.Time) []dailyCount {
	counts := map[string]int64{}
	for _, t := range times {
		counts[t.In(start.Location()).Format("2006-01-02")]++
	}

	var out []dailyCount
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		out = append(out, dailyCount{Date: key, Count: counts[key]})
	}
	return out
}

type agentStat struct {
	UserID        string `json:"user_id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	AssignedChats int64  `json:"assigned_chats"`
	ResolvedChats int64  `json:"resolved_chats"`
	MessagesSent  int64  `json:"messages_sent"`
}

// GetAgentPerformance returns per-agent workload for a period
func (h *AnalyticsHandler) GetAgentPerformance(c *gin.Context) {
	_, start := h.periodStart(c)

	var users []models.User
	if err := h.DB.Where("tenant_id = ?", tenantID(c)).Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]agentStat, 0, len(users))
	for _, u := range users {
		s := agentStat{UserID: u.ID, Name: u.Name, Email: u.Email}
		h.DB.Model(&models.ChatAssignment{}).
			Where("user_id = ? AND created_at >= ?", u.ID, start).
			Count(&s.AssignedChats)
		h.DB.Model(&models.ChatAssignment{}).
			Joins("JOIN conversations ON conversations.id = chat_assignments.conversation_id").
			Where("chat_assignments.user_id = ? AND chat_assignments.created_at >= ? AND conversations.status = ?", u.ID, start, models.StatusResolved).
			Count(&s.ResolvedChats)
		h.DB.Model(&models.Message{}).
			Where("user_id = ? AND sender = ? AND created_at >= ?", u.ID, models.SenderAgent, start).
			Count(&s.MessagesSent)
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].AssignedChats > out[j].AssignedChats })
	c.JSON(http.StatusOK, out)
}
