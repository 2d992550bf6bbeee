package services

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/infrastructure/config"
	"github.com/sapling/core/internal/infrastructure/logger"
	"github.com/sapling/core/internal/ports"
)

var emailShape = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// FriendService manages directional follow relations and friend stats
type FriendService struct {
	accountRepo        ports.AccountRepository
	friendRepo         ports.FriendRepository
	ledgerRepo         ports.LedgerRepository
	treeRepo           ports.TreeRepository
	locks              *AccountLocks
	validate           *validator.Validate
	statsRequireFollow bool
	writeTimeout       time.Duration
	logger             *logger.Logger
}

// NewFriendService creates a new friend service
func NewFriendService(accountRepo ports.AccountRepository, friendRepo ports.FriendRepository, ledgerRepo ports.LedgerRepository, treeRepo ports.TreeRepository, locks *AccountLocks, cfg config.SocialConfig, writeTimeout time.Duration, logger *logger.Logger) *FriendService {
	return &FriendService{
		accountRepo:        accountRepo,
		friendRepo:         friendRepo,
		ledgerRepo:         ledgerRepo,
		treeRepo:           treeRepo,
		locks:              locks,
		validate:           validator.New(),
		statsRequireFollow: cfg.StatsRequireFollow,
		writeTimeout:       writeTimeout,
		logger:             logger.WithComponent("friends"),
	}
}

func (s *FriendService) checkEmail(email string) error {
	if email == "" {
		return entities.NewValidationError("email is required")
	}
	if !emailShape.MatchString(email) || s.validate.Var(email, "email") != nil {
		return entities.NewValidationError("invalid email address %q", email)
	}
	return nil
}

// Follow adds the account registered under email to the caller's friends.
func (s *FriendService) Follow(ctx context.Context, accountID, email string) ([]string, error) {
	email = entities.NormalizeEmail(email)
	if err := s.checkEmail(email); err != nil {
		return nil, err
	}

	caller, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get caller: %w", err)
	}
	if caller.Email == email {
		return nil, entities.NewValidationError("cannot follow yourself")
	}

	if _, err := s.accountRepo.GetByEmail(ctx, email); err != nil {
		return nil, fmt.Errorf("find account to follow: %w", err)
	}

	unlock := s.locks.Lock(accountID)
	defer unlock()

	wctx, cancel := detach(ctx, s.writeTimeout)
	defer cancel()

	friends, err := s.friendRepo.Add(wctx, accountID, email)
	if err != nil {
		return nil, fmt.Errorf("follow %s: %w", email, err)
	}

	s.logger.LogAccountAction(accountID, "follow", map[string]interface{}{"email": email})
	return friends, nil
}

// Unfollow removes email from the caller's friends. Unknown emails are ignored.
func (s *FriendService) Unfollow(ctx context.Context, accountID, email string) ([]string, error) {
	email = entities.NormalizeEmail(email)
	if email == "" {
		return nil, entities.NewValidationError("email is required")
	}

	unlock := s.locks.Lock(accountID)
	defer unlock()

	wctx, cancel := detach(ctx, s.writeTimeout)
	defer cancel()

	friends, err := s.friendRepo.Remove(wctx, accountID, email)
	if err != nil {
		return nil, fmt.Errorf("unfollow %s: %w", email, err)
	}

	s.logger.LogAccountAction(accountID, "unfollow", map[string]interface{}{"email": email})
	return friends, nil
}

// ListFollowing returns the emails the caller follows
func (s *FriendService) ListFollowing(ctx context.Context, accountID string) ([]string, error) {
	friends, err := s.friendRepo.List(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	return friends, nil
}

// StatsFor reads another account's balance, completed task count and trees.
// When follow is required, accounts the caller does not follow are reported
// as not found so their existence is not disclosed.
func (s *FriendService) StatsFor(ctx context.Context, accountID, email string) (*entities.AccountStats, error) {
	email = entities.NormalizeEmail(email)
	if err := s.checkEmail(email); err != nil {
		return nil, err
	}

	if s.statsRequireFollow {
		allowed, err := s.canSee(ctx, accountID, email)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, entities.NewNotFoundError("no account with email %s", email)
		}
	}

	target, err := s.accountRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}

	ledger, err := s.ledgerRepo.Get(ctx, target.ID)
	if err != nil {
		return nil, fmt.Errorf("get stats ledger: %w", err)
	}

	trees, err := s.treeRepo.List(ctx, target.ID)
	if err != nil {
		return nil, fmt.Errorf("get stats trees: %w", err)
	}

	return &entities.AccountStats{
		Email:          target.Email,
		Credits:        ledger.Credits,
		CompletedTasks: ledger.CompletedTasks,
		Trees:          trees,
	}, nil
}

func (s *FriendService) canSee(ctx context.Context, accountID, email string) (bool, error) {
	caller, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("get caller: %w", err)
	}
	if caller.Email == email {
		return true, nil
	}

	friends, err := s.friendRepo.List(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("list friends: %w", err)
	}
	for _, f := range friends {
		if f == email {
			return true, nil
		}
	}
	return false, nil
}
