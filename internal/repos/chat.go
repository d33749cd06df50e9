package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/types"
)

type ChatRepo interface {
	Create(ctx context.Context, tx *gorm.DB, chat *types.Chat) (*types.Chat, error)
	GetByID(ctx context.Context, tx *gorm.DB, chatID, userID uuid.UUID) (*types.Chat, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Chat, error)
	UpdateTitle(ctx context.Context, tx *gorm.DB, chatID, userID uuid.UUID, title string) (*types.Chat, error)
	Touch(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) error
	FullDelete(ctx context.Context, tx *gorm.DB, chatID, userID uuid.UUID) error
}

type chatRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatRepo(db *gorm.DB, baseLog *logger.Logger) ChatRepo {
	return &chatRepo{db: db, log: baseLog.With("repo", "ChatRepo")}
}

func (r *chatRepo) Create(ctx context.Context, tx *gorm.DB, chat *types.Chat) (*types.Chat, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(chat).Error; err != nil {
		return nil, err
	}
	return chat, nil
}

func (r *chatRepo) GetByID(ctx context.Context, tx *gorm.DB, chatID, userID uuid.UUID) (*types.Chat, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var chat types.Chat
	if err := transaction.WithContext(ctx).
		Where("id = ? AND user_id = ?", chatID, userID).
		First(&chat).Error; err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *chatRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Chat, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var chats []*types.Chat
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_active DESC").
		Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *chatRepo) UpdateTitle(ctx context.Context, tx *gorm.DB, chatID, userID uuid.UUID, title string) (*types.Chat, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	chat, err := r.GetByID(ctx, transaction, chatID, userID)
	if err != nil {
		return nil, err
	}
	chat.Title = title
	chat.LastActive = time.Now().UTC()
	if err := transaction.WithContext(ctx).Save(chat).Error; err != nil {
		return nil, err
	}
	return chat, nil
}

func (r *chatRepo) Touch(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Chat{}).
		Where("id = ?", chatID).
		Update("last_active", time.Now().UTC()).Error
}

func (r *chatRepo) FullDelete(ctx context.Context, tx *gorm.DB, chatID, userID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Unscoped().
		Where("id = ? AND user_id = ?", chatID, userID).
		Delete(&types.Chat{}).Error
}
