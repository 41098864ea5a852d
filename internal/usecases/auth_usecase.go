package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"support_flow/internal/entities"
	"support_flow/internal/repository"
)

const tokenTTL = 24 * time.Hour

// StaffClaims is the token payload issued to dashboard users.
type StaffClaims struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type UserStore interface {
	Create(ctx context.Context, user *entities.User) error
	GetByUsername(ctx context.Context, username string) (*entities.User, error)
	List(ctx context.Context) ([]entities.User, error)
}

type AuthUsecase struct {
	userRepo  UserStore
	jwtSecret []byte
	now       func() time.Time
}

func NewAuthUsecase(repo UserStore, secret string) *AuthUsecase {
	return &AuthUsecase{
		userRepo:  repo,
		jwtSecret: []byte(secret),
		now:       time.Now,
	}
}

// Register creates a staff account with the given role.
func (uc *AuthUsecase) Register(ctx context.Context, username, password, role string) (*entities.User, error) {
	username = strings.TrimSpace(username)
	if role == "" {
		role = entities.RoleAgent
	}
	if role != entities.RoleAdmin && role != entities.RoleAgent {
		return nil, newError(ErrorValidation, fmt.Sprintf("invalid role %q", role), nil)
	}
	if len(username) < 3 || len(password) < 8 {
		return nil, newError(ErrorValidation, "username needs 3+ characters and password 8+", nil)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &entities.User{
		Username:     username,
		PasswordHash: string(hashed),
		Role:         role,
	}
	err = uc.userRepo.Create(ctx, user)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, newError(ErrorConflict, "username already exists", err)
	}
	if err != nil {
		return nil, newError(ErrorPersistence, "could not create user", err)
	}
	return user, nil
}

// Login verifies credentials and returns a signed HS256 token.
func (uc *AuthUsecase) Login(ctx context.Context, username, password string) (string, error) {
	user, err := uc.userRepo.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return "", newError(ErrorValidation, "invalid credentials", nil)
	}
	if err != nil {
		return "", newError(ErrorPersistence, "could not load user", err)
	}
	if !user.IsActive {
		return "", newError(ErrorValidation, "invalid credentials", nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", newError(ErrorValidation, "invalid credentials", nil)
	}

	now := uc.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, StaffClaims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	})
	tokenString, err := token.SignedString(uc.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ParseToken verifies an HS256 token issued by Login and returns its claims.
func (uc *AuthUsecase) ParseToken(tokenString string) (*StaffClaims, error) {
	claims := &StaffClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return uc.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(uc.now))
	if err != nil {
		return nil, newError(ErrorValidation, "invalid token", err)
	}
	if claims.UserID == 0 {
		return nil, newError(ErrorValidation, "invalid token", nil)
	}
	return claims, nil
}

// EnsureAdmin creates the admin account if it does not exist (called on startup)
func (uc *AuthUsecase) EnsureAdmin(ctx context.Context, username, password string) error {
	_, err := uc.userRepo.GetByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return uc.userRepo.Create(ctx, &entities.User{
		Username:     username,
		PasswordHash: string(hashed),
		Role:         entities.RoleAdmin,
	})
}

func (uc *AuthUsecase) ListUsers(ctx context.Context) ([]entities.User, error) {
	users, err := uc.userRepo.List(ctx)
	if err != nil {
		return nil, newError(ErrorPersistence, "could not list users", err)
	}
	return users, nil
}
