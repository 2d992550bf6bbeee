package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/infrastructure/config"
	"github.com/sapling/core/internal/infrastructure/logger"
	"github.com/sapling/core/internal/ports"
)

// Claims represents the JWT claims
type Claims struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

// AuthService handles account identity: registration, login and deletion
type AuthService struct {
	accountRepo ports.AccountRepository
	ledgerRepo  ports.LedgerRepository
	friendRepo  ports.FriendRepository
	jwtConfig   config.JWTConfig
	logger      *logger.Logger
	now         func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(accountRepo ports.AccountRepository, ledgerRepo ports.LedgerRepository, friendRepo ports.FriendRepository, jwtConfig config.JWTConfig, logger *logger.Logger) *AuthService {
	return &AuthService{
		accountRepo: accountRepo,
		ledgerRepo:  ledgerRepo,
		friendRepo:  friendRepo,
		jwtConfig:   jwtConfig,
		logger:      logger.WithComponent("auth"),
		now:         time.Now,
	}
}

// Register creates an account with a zero balance and an empty friend list
func (s *AuthService) Register(ctx context.Context, req ports.RegisterRequest) (*ports.AuthResponse, error) {
	account, err := s.CreateAccount(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	return s.issue(account)
}

// CreateAccount registers an account without issuing a token.
func (s *AuthService) CreateAccount(ctx context.Context, email, password string) (*entities.Account, error) {
	email = entities.NormalizeEmail(email)
	if !emailShape.MatchString(email) {
		return nil, entities.NewValidationError("invalid email address %q", email)
	}
	if len(password) < 8 {
		return nil, entities.NewValidationError("password must be at least 8 characters")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &entities.Account{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hashedPassword),
		CreatedAt:    s.now().UTC(),
	}

	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	if err := s.ledgerRepo.Init(ctx, account.ID); err != nil {
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}
	if err := s.friendRepo.Init(ctx, account.ID); err != nil {
		return nil, fmt.Errorf("failed to create friend list: %w", err)
	}

	s.logger.LogAccountAction(account.ID, "register", map[string]interface{}{"email": account.Email})

	return account, nil
}

// Login authenticates an account
func (s *AuthService) Login(ctx context.Context, req ports.LoginRequest) (*ports.AuthResponse, error) {
	account, err := s.accountRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			return nil, entities.NewUnauthenticatedError("invalid credentials")
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.LogSecurityEvent("failed_login", account.ID, "", map[string]interface{}{"email": account.Email})
		return nil, entities.NewUnauthenticatedError("invalid credentials")
	}

	s.logger.LogAccountAction(account.ID, "login", nil)

	return s.issue(account)
}

// ValidateToken validates a JWT token and returns its claims
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtConfig.Secret), nil
	}, jwt.WithIssuer(s.jwtConfig.Issuer))
	if err != nil {
		return nil, entities.NewUnauthenticatedError(err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.AccountID == "" {
		return nil, entities.NewUnauthenticatedError("invalid token")
	}

	return claims, nil
}

// DeleteAccount removes the account and everything it owns
func (s *AuthService) DeleteAccount(ctx context.Context, accountID string) error {
	if err := s.accountRepo.Delete(ctx, accountID); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	s.logger.LogAccountAction(accountID, "delete_account", nil)
	return nil
}

func (s *AuthService) issue(account *entities.Account) (*ports.AuthResponse, error) {
	now := s.now()
	claims := &Claims{
		AccountID: account.ID,
		Email:     account.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			Issuer:    s.jwtConfig.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtConfig.ExpiresIn)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtConfig.Secret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &ports.AuthResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.jwtConfig.ExpiresIn.Seconds()),
		Account:     account,
	}, nil
}
