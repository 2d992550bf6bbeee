package ports

import (
	"github.com/sapling/core/internal/domain/entities"
)

// Request/Response Types

// Auth related types
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	AccessToken string            `json:"access_token"`
	TokenType   string            `json:"token_type"`
	ExpiresIn   int64             `json:"expires_in"`
	Account     *entities.Account `json:"account"`
}

// Task related types
type CreateTaskRequest struct {
	Name     string            `json:"name" validate:"required"`
	Duration entities.Duration `json:"duration"`
	Dates    []string          `json:"dates" validate:"required,min=1"`
}

type CompleteTaskRequest struct {
	Date string `json:"date" validate:"required"`
}

// CompletionResult reports the committed outcome of a completion. Task is
// nil when the completion removed the last date.
type CompletionResult struct {
	Task    *entities.Task `json:"task,omitempty"`
	Deleted bool           `json:"deleted"`
	Credits int64          `json:"credits"`
	Resumed bool           `json:"resumed,omitempty"`
}

// Tree related types
type PurchaseTreeRequest struct {
	CatalogID string `json:"catalog_id" validate:"required"`
	Title     string `json:"title" validate:"required"`
}

// PurchaseResult is the committed outcome of a purchase.
type PurchaseResult struct {
	Tree    *entities.OwnedTree `json:"tree"`
	Credits int64               `json:"credits"`
}

// TreeCatalog is the read side of the tree catalog.
type TreeCatalog interface {
	List() []entities.CatalogTree
	Get(id string) (entities.CatalogTree, bool)
}

// Friend related types
type FollowRequest struct {
	Email string `json:"email" validate:"required"`
}

type FriendListResponse struct {
	Following []string `json:"following"`
}

type BalanceResponse struct {
	Credits        int64 `json:"credits"`
	CompletedTasks int64 `json:"completed_tasks"`
}
