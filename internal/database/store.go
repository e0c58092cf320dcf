package database

import (
	"context"
	"errors"
	"time"

	"tchat-server/internal/automation"
	"tchat-server/internal/models"

	"gorm.io/gorm"
)

// Notifier is told about writes that dashboards should see live.
type Notifier interface {
	NotifyMessage(msg models.Message)
	NotifyStatus(conversationID string, status models.ConversationStatus)
}

// ConversationStore is the gorm-backed store the trigger engine uses.
type ConversationStore struct {
	DB       *gorm.DB
	Notifier Notifier
}

func NewConversationStore(db *gorm.DB, notifier Notifier) *ConversationStore {
	return &ConversationStore{DB: db, Notifier: notifier}
}

func (s *ConversationStore) GetConversationWithActiveTriggers(ctx context.Context, conversationID string) (*automation.ConversationTriggers, error) {
	var conv models.Conversation
	err := s.DB.WithContext(ctx).Where("id = ?", conversationID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var triggers []models.Trigger
	if err := s.DB.WithContext(ctx).
		Where("chatbot_id = ? AND is_active = ?", conv.ChatbotID, true).
		Order("created_at ASC").
		Find(&triggers).Error; err != nil {
		return nil, err
	}

	return &automation.ConversationTriggers{Conversation: conv, Triggers: triggers}, nil
}

func (s *ConversationStore) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&n).Error
	return n, err
}

func (s *ConversationStore) CreateMessage(ctx context.Context, conversationID, content string, sender models.Sender) (*models.Message, error) {
	msg := &models.Message{
		ConversationID: conversationID,
		Content:        content,
		Sender:         sender,
	}
	if err := AppendMessage(ctx, s.DB, msg); err != nil {
		return nil, err
	}
	if s.Notifier != nil {
		s.Notifier.NotifyMessage(*msg)
	}
	return msg, nil
}

func (s *ConversationStore) CreateAssignment(ctx context.Context, conversationID, userID string) error {
	return s.DB.WithContext(ctx).Create(&models.ChatAssignment{
		ConversationID: conversationID,
		UserID:         userID,
	}).Error
}

func (s *ConversationStore) UpdateConversationStatus(ctx context.Context, conversationID string, status models.ConversationStatus) error {
	err := s.DB.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("status", status).Error
	if err != nil {
		return err
	}
	if s.Notifier != nil {
		s.Notifier.NotifyStatus(conversationID, status)
	}
	return nil
}

func (s *ConversationStore) RecordRun(ctx context.Context, run *models.TriggerRun) error {
	return s.DB.WithContext(ctx).Create(run).Error
}

// AppendMessage stores msg and bumps the conversation's updated_at so
// dashboards sort by latest activity.
func AppendMessage(ctx context.Context, db *gorm.DB, msg *models.Message) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Update("updated_at", time.Now()).Error
	})
}

var (
	_ automation.Store       = (*ConversationStore)(nil)
	_ automation.RunRecorder = (*ConversationStore)(nil)
)
