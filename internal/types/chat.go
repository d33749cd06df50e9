package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Chat struct {
	gorm.Model
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID     uuid.UUID `gorm:"index;not null" json:"user_id"`
	User       *User     `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"-"`
	Title      string    `gorm:"not null;default:'New Chat';column:title" json:"title"`
	CreatedAt  time.Time `gorm:"not null;default:now()" json:"created_at"`
	LastActive time.Time `gorm:"not null;default:now();column:last_active" json:"last_active"`
}

func (Chat) TableName() string {
	return "chat"
}

type LearningSession struct {
	gorm.Model
	ID         uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChatID     uuid.UUID  `gorm:"index;not null" json:"chat_id"`
	Chat       *Chat      `gorm:"constraint:OnDelete:CASCADE;foreignKey:ChatID;references:ID" json:"-"`
	UserID     uuid.UUID  `gorm:"index;not null" json:"user_id"`
	Difficulty string     `gorm:"column:user_selected_difficulty" json:"difficulty,omitempty"`
	StartedAt  time.Time  `gorm:"not null;default:now();column:started_at" json:"started_at"`
	EndedAt    *time.Time `gorm:"column:ended_at" json:"ended_at,omitempty"`
}

func (LearningSession) TableName() string {
	return "session"
}
