package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"mediaforge/api/internal/config"
	"mediaforge/api/internal/ids"
	"mediaforge/api/internal/models"
	"mediaforge/api/internal/quota"
	"mediaforge/api/internal/repository"
	"mediaforge/api/internal/security"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserSuspended      = errors.New("user suspended")
	ErrEmailTaken         = errors.New("email already registered")
)

type AuthService struct {
	users  *repository.UserRepository
	ledger quota.Ledger
	cfg    *config.AppConfig
	log    zerolog.Logger
}

func NewAuthService(users *repository.UserRepository, ledger quota.Ledger, cfg *config.AppConfig, log zerolog.Logger) *AuthService {
	return &AuthService{users: users, ledger: ledger, cfg: cfg, log: log}
}

type LoginInput struct {
	Email    string
	Password string
}

type AuthResult struct {
	AccessToken string
	User        models.User
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	user, err := s.users.FindByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, err
	}

	ok, err := security.VerifyPassword(input.Password, user.PasswordHash)
	if err != nil || !ok {
		return AuthResult{}, ErrInvalidCredentials
	}
	if user.Status == models.UserStatusSuspended {
		return AuthResult{}, ErrUserSuspended
	}

	token, err := security.GenerateAccessToken(
		s.cfg.Security.JWTSecret, user.ID, string(user.Role), s.cfg.Security.JWTAccessTTL)
	if err != nil {
		return AuthResult{}, err
	}

	s.log.Info().Str("user_id", user.ID).Msg("user logged in")
	return AuthResult{AccessToken: token, User: user}, nil
}

type CreateUserInput struct {
	Email       string
	Password    string
	DisplayName string
	Role        models.UserRole
}

// CreateUser provisions an account and its default quota rows, and records
// the creating admin as the account's manager.
func (s *AuthService) CreateUser(ctx context.Context, admin models.User, input CreateUserInput) (models.User, error) {
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	if input.Email == "" || input.Password == "" {
		return models.User{}, fmt.Errorf("email and password required")
	}
	if input.Role == "" {
		input.Role = models.UserRoleUser
	}
	if input.Role == models.UserRoleSuperAdmin && admin.Role != models.UserRoleSuperAdmin {
		return models.User{}, fmt.Errorf("only a superadmin may create superadmins")
	}

	if _, err := s.users.FindByEmail(ctx, input.Email); err == nil {
		return models.User{}, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return models.User{}, err
	}

	passwordHash, err := security.HashPassword(input.Password)
	if err != nil {
		return models.User{}, err
	}

	user := models.User{
		ID:           ids.New(),
		Email:        input.Email,
		PasswordHash: passwordHash,
		DisplayName:  input.DisplayName,
		Role:         input.Role,
		Status:       models.UserStatusActive,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return models.User{}, err
	}

	if err := s.ledger.Provision(ctx, user.ID); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("quota provisioning failed")
	}

	if admin.Role != models.UserRoleSuperAdmin {
		if err := s.users.AssignManaged(ctx, admin.ID, user.ID); err != nil {
			return models.User{}, err
		}
	}

	s.log.Info().
		Str("user_id", user.ID).
		Str("created_by", admin.ID).
		Str("role", string(user.Role)).
		Msg("user account created")
	return user, nil
}
