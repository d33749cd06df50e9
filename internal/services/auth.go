package services

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/repos"
	"github.com/yungbote/affectlearn-backend/internal/types"
	"github.com/yungbote/affectlearn-backend/internal/utils"
)

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type AuthService interface {
	Register(ctx context.Context, email, password, firstName, lastName string) (*types.User, error)
	Login(ctx context.Context, email, password string) (*types.User, TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
	Logout(ctx context.Context, accessToken string) error
	// UserIDFromToken validates an access token and returns its subject.
	UserIDFromToken(ctx context.Context, accessToken string) (uuid.UUID, error)
}

type authService struct {
	db            *gorm.DB
	log           *logger.Logger
	userRepo      repos.UserRepo
	userTokenRepo repos.UserTokenRepo
	jwtSecretKey  []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewAuthService(db *gorm.DB, log *logger.Logger, userRepo repos.UserRepo, userTokenRepo repos.UserTokenRepo) (AuthService, error) {
	secret := utils.GetEnv("JWT_SECRET_KEY", "", log)
	if secret == "" {
		return nil, fmt.Errorf("missing JWT_SECRET_KEY")
	}
	return &authService{
		db:            db,
		log:           log.With("service", "AuthService"),
		userRepo:      userRepo,
		userTokenRepo: userTokenRepo,
		jwtSecretKey:  []byte(secret),
		accessTTL:     time.Duration(utils.GetEnvAsInt("JWT_ACCESS_TTL_MINUTES", 30, log)) * time.Minute,
		refreshTTL:    time.Duration(utils.GetEnvAsInt("JWT_REFRESH_TTL_HOURS", 24*7, log)) * time.Hour,
	}, nil
}

func (as *authService) Register(ctx context.Context, email, password, firstName, lastName string) (*types.User, error) {
	email = utils.NormalizeEmail(email)
	password = utils.NormalizeInput(password)
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password are required")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	exists, err := as.userRepo.EmailExists(ctx, nil, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("email already registered")
	}

	hashed, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &types.User{
		ID:        uuid.New(),
		Email:     email,
		Password:  hashed,
		FirstName: utils.NormalizeInput(firstName),
		LastName:  utils.NormalizeInput(lastName),
	}
	return as.userRepo.Create(ctx, nil, user)
}

func (as *authService) Login(ctx context.Context, email, password string) (*types.User, TokenPair, error) {
	email = utils.NormalizeEmail(email)
	user, err := as.userRepo.GetByEmail(ctx, nil, email)
	if err != nil {
		return nil, TokenPair{}, fmt.Errorf("invalid credentials")
	}
	if !utils.CheckPassword(user.Password, utils.NormalizeInput(password)) {
		return nil, TokenPair{}, fmt.Errorf("invalid credentials")
	}

	var pair TokenPair
	err = as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// One active token set per user.
		if err := as.userTokenRepo.DeleteByUserID(ctx, tx, user.ID); err != nil {
			return err
		}
		pair, err = as.issueTokens(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

func (as *authService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	stored, err := as.userTokenRepo.GetByRefreshToken(ctx, nil, refreshToken)
	if err != nil {
		return TokenPair{}, fmt.Errorf("invalid refresh token")
	}
	if stored.RefreshExp.Before(time.Now()) {
		return TokenPair{}, fmt.Errorf("refresh token expired")
	}

	var pair TokenPair
	err = as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := as.userTokenRepo.DeleteByUserID(ctx, tx, stored.UserID); err != nil {
			return err
		}
		pair, err = as.issueTokens(ctx, tx, stored.UserID)
		return err
	})
	return pair, err
}

func (as *authService) Logout(ctx context.Context, accessToken string) error {
	return as.userTokenRepo.DeleteByAccessToken(ctx, nil, accessToken)
}

func (as *authService) UserIDFromToken(ctx context.Context, accessToken string) (uuid.UUID, error) {
	token, err := jwt.Parse(accessToken, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return as.jwtSecretKey, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid claims")
	}
	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid subject")
	}

	// The token must also still be present server-side (logout revokes it).
	if _, err := as.userTokenRepo.GetByAccessToken(ctx, nil, accessToken); err != nil {
		return uuid.Nil, fmt.Errorf("token revoked")
	}
	return userID, nil
}

func (as *authService) issueTokens(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (TokenPair, error) {
	now := time.Now()
	accessExp := now.Add(as.accessTTL)
	refreshExp := now.Add(as.refreshTTL)

	access, err := as.signToken(userID, "access", now, accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := as.signToken(userID, "refresh", now, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}

	_, err = as.userTokenRepo.Create(ctx, tx, &types.UserToken{
		ID:           uuid.New(),
		UserID:       userID,
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to store tokens: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (as *authService) signToken(userID uuid.UUID, kind string, issuedAt, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":  userID.String(),
		"kind": kind,
		"iat":  issuedAt.Unix(),
		"exp":  expiresAt.Unix(),
		"jti":  uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(as.jwtSecretKey)
}
