package api

import "github.com/gin-gonic/gin"

// Handlers groups the dashboard API handlers.
type Handlers struct {
	Chatbots      *ChatbotHandler
	Triggers      *TriggerHandler
	Conversations *ConversationHandler
	Team          *TeamHandler
	Analytics     *AnalyticsHandler
}

// RegisterRoutes mounts the tenant-scoped dashboard API on g.
func RegisterRoutes(g *gin.RouterGroup, h Handlers) {
	g.Use(RequireTenant())

	// Chatbots
	g.GET("/chatbots", h.Chatbots.GetChatbots)
	g.POST("/chatbots", h.Chatbots.CreateChatbot)
	g.GET("/chatbots/:id", h.Chatbots.GetChatbot)
	g.PUT("/chatbots/:id", h.Chatbots.UpdateChatbot)
	g.DELETE("/chatbots/:id", h.Chatbots.DeleteChatbot)
	g.PATCH("/chatbots/:id/toggle", h.Chatbots.ToggleChatbot)

	// Triggers
	g.GET("/triggers", h.Triggers.GetTriggers)
	g.POST("/triggers", h.Triggers.CreateTrigger)
	g.GET("/triggers/runs", h.Triggers.GetRuns)
	g.GET("/triggers/analytics", h.Triggers.GetRunAnalytics)
	g.GET("/triggers/:id", h.Triggers.GetTrigger)
	g.PUT("/triggers/:id", h.Triggers.UpdateTrigger)
	g.DELETE("/triggers/:id", h.Triggers.DeleteTrigger)
	g.PATCH("/triggers/:id/toggle", h.Triggers.ToggleTrigger)

	// Conversations
	g.GET("/conversations", h.Conversations.GetConversations)
	g.GET("/conversations/export", h.Conversations.ExportConversations)
	g.GET("/conversations/:id", h.Conversations.GetConversation)
	g.POST("/conversations/:id/messages", h.Conversations.SendMessage)
	g.PUT("/conversations/:id/status", h.Conversations.UpdateStatus)
	g.POST("/conversations/:id/assign", h.Conversations.AssignConversation)

	// Team
	g.GET("/team", h.Team.GetMembers)
	g.POST("/team", h.Team.InviteMember)
	g.GET("/team/stats", h.Team.GetTeamStats)
	g.PUT("/team/:id", h.Team.UpdateMember)
	g.DELETE("/team/:id", h.Team.RemoveMember)

	// Analytics
	g.GET("/analytics", h.Analytics.GetAnalytics)
	g.GET("/analytics/agents", h.Analytics.GetAgentPerformance)
}
