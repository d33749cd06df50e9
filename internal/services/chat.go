package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/repos"
	"github.com/yungbote/affectlearn-backend/internal/types"
	"github.com/yungbote/affectlearn-backend/internal/utils"
)

// ChatWithTurns is a chat plus its full turn transcript across sessions.
type ChatWithTurns struct {
	Chat  *types.Chat   `json:"chat"`
	Turns []*types.Turn `json:"turns"`
}

type ChatService interface {
	CreateChat(ctx context.Context, userID uuid.UUID, title string) (*types.Chat, *types.LearningSession, error)
	ListChats(ctx context.Context, userID uuid.UUID) ([]*types.Chat, error)
	GetChat(ctx context.Context, chatID, userID uuid.UUID) (*ChatWithTurns, error)
	RenameChat(ctx context.Context, chatID, userID uuid.UUID, title string) (*types.Chat, error)
	DeleteChat(ctx context.Context, chatID, userID uuid.UUID) error
	ListSessions(ctx context.Context, chatID, userID uuid.UUID) ([]*types.LearningSession, error)
	StartSession(ctx context.Context, chatID, userID uuid.UUID, difficulty string) (*types.LearningSession, error)
	EndSession(ctx context.Context, sessionID, userID uuid.UUID) (*types.LearningSession, error)
}

type chatService struct {
	db          *gorm.DB
	log         *logger.Logger
	chatRepo    repos.ChatRepo
	sessionRepo repos.SessionRepo
	turnRepo    repos.TurnRepo
}

func NewChatService(db *gorm.DB, log *logger.Logger, chatRepo repos.ChatRepo, sessionRepo repos.SessionRepo, turnRepo repos.TurnRepo) ChatService {
	return &chatService{
		db:          db,
		log:         log.With("service", "ChatService"),
		chatRepo:    chatRepo,
		sessionRepo: sessionRepo,
		turnRepo:    turnRepo,
	}
}

func (s *chatService) CreateChat(ctx context.Context, userID uuid.UUID, title string) (*types.Chat, *types.LearningSession, error) {
	title = utils.NormalizeInput(title)
	if title == "" {
		title = "New Chat"
	}

	var chat *types.Chat
	var session *types.LearningSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		chat, err = s.chatRepo.Create(ctx, tx, &types.Chat{
			ID:     uuid.New(),
			UserID: userID,
			Title:  title,
		})
		if err != nil {
			return err
		}
		session, err = s.sessionRepo.Create(ctx, tx, &types.LearningSession{
			ID:     uuid.New(),
			ChatID: chat.ID,
			UserID: userID,
		})
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create chat: %w", err)
	}
	return chat, session, nil
}

func (s *chatService) ListChats(ctx context.Context, userID uuid.UUID) ([]*types.Chat, error) {
	return s.chatRepo.ListByUser(ctx, nil, userID)
}

func (s *chatService) GetChat(ctx context.Context, chatID, userID uuid.UUID) (*ChatWithTurns, error) {
	chat, err := s.chatRepo.GetByID(ctx, nil, chatID, userID)
	if err != nil {
		return nil, err
	}
	turns, err := s.turnRepo.ListByChat(ctx, nil, chatID)
	if err != nil {
		return nil, err
	}
	return &ChatWithTurns{Chat: chat, Turns: turns}, nil
}

func (s *chatService) RenameChat(ctx context.Context, chatID, userID uuid.UUID, title string) (*types.Chat, error) {
	title = utils.NormalizeInput(title)
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	return s.chatRepo.UpdateTitle(ctx, nil, chatID, userID, title)
}

// DeleteChat removes the chat with its sessions and turns.
func (s *chatService) DeleteChat(ctx context.Context, chatID, userID uuid.UUID) error {
	if _, err := s.chatRepo.GetByID(ctx, nil, chatID, userID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.turnRepo.FullDeleteByChat(ctx, tx, chatID); err != nil {
			return err
		}
		if err := s.sessionRepo.FullDeleteByChat(ctx, tx, chatID); err != nil {
			return err
		}
		return s.chatRepo.FullDelete(ctx, tx, chatID, userID)
	})
}

func (s *chatService) ListSessions(ctx context.Context, chatID, userID uuid.UUID) ([]*types.LearningSession, error) {
	if _, err := s.chatRepo.GetByID(ctx, nil, chatID, userID); err != nil {
		return nil, err
	}
	return s.sessionRepo.ListByChat(ctx, nil, chatID)
}

func (s *chatService) StartSession(ctx context.Context, chatID, userID uuid.UUID, difficulty string) (*types.LearningSession, error) {
	if _, err := s.chatRepo.GetByID(ctx, nil, chatID, userID); err != nil {
		return nil, err
	}
	session, err := s.sessionRepo.Create(ctx, nil, &types.LearningSession{
		ID:         uuid.New(),
		ChatID:     chatID,
		UserID:     userID,
		Difficulty: utils.NormalizeInput(difficulty),
	})
	if err != nil {
		return nil, err
	}
	if err := s.chatRepo.Touch(ctx, nil, chatID); err != nil {
		s.log.Warn("Failed to touch chat", "chat_id", chatID, "error", err.Error())
	}
	return session, nil
}

func (s *chatService) EndSession(ctx context.Context, sessionID, userID uuid.UUID) (*types.LearningSession, error) {
	return s.sessionRepo.End(ctx, nil, sessionID, userID)
}
