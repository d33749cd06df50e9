package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/types"
)

type TurnRepo interface {
	Create(ctx context.Context, tx *gorm.DB, turn *types.Turn) (*types.Turn, error)
	GetByID(ctx context.Context, tx *gorm.DB, turnID uuid.UUID) (*types.Turn, error)
	ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Turn, error)
	ListByChat(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) ([]*types.Turn, error)
	CountBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (int64, error)
	AttachVoice(ctx context.Context, tx *gorm.DB, turnID uuid.UUID, audioURL string, timings datatypes.JSON) error
	AttachVisual(ctx context.Context, tx *gorm.DB, turnID uuid.UUID, visual datatypes.JSON) error
	FullDeleteByChat(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) error
}

type turnRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTurnRepo(db *gorm.DB, baseLog *logger.Logger) TurnRepo {
	return &turnRepo{db: db, log: baseLog.With("repo", "TurnRepo")}
}

func (r *turnRepo) Create(ctx context.Context, tx *gorm.DB, turn *types.Turn) (*types.Turn, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(turn).Error; err != nil {
		return nil, err
	}
	return turn, nil
}

func (r *turnRepo) GetByID(ctx context.Context, tx *gorm.DB, turnID uuid.UUID) (*types.Turn, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var turn types.Turn
	if err := transaction.WithContext(ctx).Where("id = ?", turnID).First(&turn).Error; err != nil {
		return nil, err
	}
	return &turn, nil
}

func (r *turnRepo) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Turn, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var turns []*types.Turn
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("turn_index ASC").
		Find(&turns).Error; err != nil {
		return nil, err
	}
	return turns, nil
}

func (r *turnRepo) ListByChat(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) ([]*types.Turn, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var turns []*types.Turn
	if err := transaction.WithContext(ctx).
		Joins("JOIN session ON session.id = query.session_id").
		Where("session.chat_id = ?", chatID).
		Order("query.created_at ASC").
		Find(&turns).Error; err != nil {
		return nil, err
	}
	return turns, nil
}

func (r *turnRepo) CountBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Turn{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *turnRepo) AttachVoice(ctx context.Context, tx *gorm.DB, turnID uuid.UUID, audioURL string, timings datatypes.JSON) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Turn{}).
		Where("id = ?", turnID).
		Updates(map[string]interface{}{
			"explanation_audio_url": audioURL,
			"tts_timings":           timings,
		}).Error
}

func (r *turnRepo) AttachVisual(ctx context.Context, tx *gorm.DB, turnID uuid.UUID, visual datatypes.JSON) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Turn{}).
		Where("id = ?", turnID).
		Update("visual_ref", visual).Error
}

func (r *turnRepo) FullDeleteByChat(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Unscoped().
		Where("session_id IN (?)", transaction.Model(&types.LearningSession{}).Select("id").Where("chat_id = ?", chatID)).
		Delete(&types.Turn{}).Error
}
