package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConversationStatus is the lifecycle state of a conversation
type ConversationStatus string

const (
	StatusOpen     ConversationStatus = "OPEN"
	StatusAssigned ConversationStatus = "ASSIGNED"
	StatusResolved ConversationStatus = "RESOLVED"
	StatusClosed   ConversationStatus = "CLOSED"
)

// Valid reports whether s is one of the known statuses.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusAssigned, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Sender identifies who wrote a message
type Sender string

const (
	SenderVisitor Sender = "VISITOR"
	SenderAgent   Sender = "AGENT"
	SenderBot     Sender = "BOT"
)

// Role is a team member's role inside a tenant
type Role string

const (
	RoleTenantAdmin Role = "TENANT_ADMIN"
	RoleTenantUser  Role = "TENANT_USER"
)

// Base gives every table a string UUID primary key.
type Base struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// Chatbot is one embeddable widget owned by a tenant
type Chatbot struct {
	Base
	TenantID    string         `gorm:"type:varchar(36);index;not null" json:"tenant_id"`
	Name        string         `gorm:"type:varchar(255);not null" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	EmbedCode   string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"embed_code"`
	Settings    datatypes.JSON `json:"settings"`
	IsActive    bool           `json:"is_active"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`

	Triggers      []Trigger      `gorm:"foreignKey:ChatbotID;constraint:OnDelete:CASCADE;" json:"triggers,omitempty"`
	Conversations []Conversation `gorm:"foreignKey:ChatbotID;constraint:OnDelete:CASCADE;" json:"-"`
}

func (Chatbot) TableName() string {
	return "chatbots"
}

// ChatbotSettings is the shape stored in Chatbot.Settings
type ChatbotSettings struct {
	PrimaryColor   string `json:"primaryColor,omitempty"`
	SecondaryColor string `json:"secondaryColor,omitempty"`
	Position       string `json:"position,omitempty"` // bottom-right, bottom-left
	Greeting       string `json:"greeting,omitempty"`
	Placeholder    string `json:"placeholder,omitempty"`
	ShowBranding   bool   `json:"showBranding"`
}

// Trigger is an automation rule attached to a chatbot
type Trigger struct {
	Base
	ChatbotID   string         `gorm:"type:varchar(36);index;not null" json:"chatbot_id"`
	Name        string         `gorm:"type:varchar(255);not null" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	Type        string         `gorm:"type:varchar(50);not null" json:"type"`
	Conditions  datatypes.JSON `json:"conditions"`
	Actions     datatypes.JSON `json:"actions"`
	IsActive    bool           `json:"is_active"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`

	Chatbot *Chatbot `gorm:"foreignKey:ChatbotID" json:"chatbot,omitempty"`
}

func (Trigger) TableName() string {
	return "triggers"
}

// Conversation is a visitor's dialogue session with a chatbot
type Conversation struct {
	Base
	TenantID     string             `gorm:"type:varchar(36);index;not null" json:"tenant_id"`
	ChatbotID    string             `gorm:"type:varchar(36);index;not null" json:"chatbot_id"`
	VisitorID    string             `gorm:"type:varchar(255);index" json:"visitor_id"`
	VisitorName  string             `gorm:"type:varchar(255)" json:"visitor_name"`
	VisitorEmail string             `gorm:"type:varchar(255)" json:"visitor_email"`
	Status       ConversationStatus `gorm:"type:varchar(20);default:'OPEN';index" json:"status"`
	UpdatedAt    time.Time          `gorm:"autoUpdateTime" json:"updated_at"`

	Chatbot     *Chatbot         `gorm:"foreignKey:ChatbotID" json:"chatbot,omitempty"`
	Messages    []Message        `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE;" json:"messages,omitempty"`
	Assignments []ChatAssignment `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE;" json:"assignments,omitempty"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Message is a single utterance inside a conversation
type Message struct {
	Base
	ConversationID string  `gorm:"type:varchar(36);index;not null" json:"conversation_id"`
	Content        string  `gorm:"type:text" json:"content"`
	Sender         Sender  `gorm:"type:varchar(20);not null" json:"sender"`
	UserID         *string `gorm:"type:varchar(36);index" json:"user_id,omitempty"` // agent that wrote it

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (Message) TableName() string {
	return "messages"
}

// ChatAssignment links a conversation to an agent
type ChatAssignment struct {
	Base
	ConversationID string `gorm:"type:varchar(36);index;not null" json:"conversation_id"`
	UserID         string `gorm:"type:varchar(36);index;not null" json:"user_id"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (ChatAssignment) TableName() string {
	return "chat_assignments"
}

// User is a team member of a tenant
type User struct {
	Base
	TenantID     string    `gorm:"type:varchar(36);index;not null" json:"tenant_id"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name         string    `gorm:"type:varchar(255)" json:"name"`
	PasswordHash string    `gorm:"type:varchar(255)" json:"-"`
	Role         Role      `gorm:"type:varchar(20);default:'TENANT_USER'" json:"role"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// TriggerRun is the audit entry written each time a trigger fires
type TriggerRun struct {
	Base
	TriggerID      string `gorm:"type:varchar(36);index" json:"trigger_id"`
	ConversationID string `gorm:"type:varchar(36);index" json:"conversation_id"`
	TriggerType    string `gorm:"type:varchar(50)" json:"trigger_type"`
	ActionsTaken   string `gorm:"type:text" json:"actions_taken"`
	Success        bool   `json:"success"`
	ErrorMessage   string `gorm:"type:text" json:"error_message"`
}

func (TriggerRun) TableName() string {
	return "trigger_runs"
}

// All lists every model for auto-migration and data copies, parents first.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Chatbot{},
		&Trigger{},
		&Conversation{},
		&Message{},
		&ChatAssignment{},
		&TriggerRun{},
	}
}
