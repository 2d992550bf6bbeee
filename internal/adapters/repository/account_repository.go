package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/ports"
)

type accountDocument struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccountRepositoryImpl implements the AccountRepository interface
type AccountRepositoryImpl struct {
	store ports.DocumentStore
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(store ports.DocumentStore) ports.AccountRepository {
	return &AccountRepositoryImpl{store: store}
}

// Create claims the email first so two accounts can never share it.
func (r *AccountRepositoryImpl) Create(ctx context.Context, account *entities.Account) error {
	account.Email = entities.NormalizeEmail(account.Email)

	_, err := r.store.Create(ctx, emailRef(account.Email), map[string]interface{}{"account_id": account.ID})
	if err != nil {
		if isAlreadyExists(err) {
			return entities.NewValidationError("email %s is already registered", account.Email)
		}
		return unavailable("claim email", err)
	}

	fields, err := ports.FieldsOf(accountDocument{
		ID:           account.ID,
		Email:        account.Email,
		PasswordHash: account.PasswordHash,
		CreatedAt:    account.CreatedAt,
	})
	if err != nil {
		return r.releaseEmail(ctx, account.Email, fmt.Errorf("encode account: %w", err))
	}

	if _, err := r.store.Create(ctx, profileRef(account.ID), fields); err != nil {
		if isAlreadyExists(err) {
			return r.releaseEmail(ctx, account.Email, entities.NewValidationError("account %s already exists", account.ID))
		}
		return r.releaseEmail(ctx, account.Email, unavailable("create account", err))
	}

	return nil
}

// releaseEmail gives back the email claimed by a registration that failed
// with cause. If the release fails too the email stays claimed, and the
// returned error names both failures.
func (r *AccountRepositoryImpl) releaseEmail(ctx context.Context, email string, cause error) error {
	err := r.store.Delete(ctx, emailRef(email))
	if err == nil || isNotFound(err) {
		return cause
	}
	return entities.NewUnavailableError(
		fmt.Sprintf("release email %s after failed registration (%v)", email, cause), err)
}

func (r *AccountRepositoryImpl) GetByID(ctx context.Context, id string) (*entities.Account, error) {
	doc, err := r.store.Get(ctx, profileRef(id))
	if err != nil {
		if isNotFound(err) {
			return nil, entities.NewNotFoundError("account %s", id)
		}
		return nil, unavailable("get account", err)
	}

	var d accountDocument
	if err := doc.Decode(&d); err != nil {
		return nil, unavailable("decode account", err)
	}

	return &entities.Account{
		ID:           d.ID,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt,
	}, nil
}

func (r *AccountRepositoryImpl) GetByEmail(ctx context.Context, email string) (*entities.Account, error) {
	email = entities.NormalizeEmail(email)

	doc, err := r.store.Get(ctx, emailRef(email))
	if err != nil {
		if isNotFound(err) {
			return nil, entities.NewNotFoundError("no account with email %s", email)
		}
		return nil, unavailable("get account by email", err)
	}

	accountID, _ := doc.Fields["account_id"].(string)
	if accountID == "" {
		return nil, entities.NewNotFoundError("no account with email %s", email)
	}

	return r.GetByID(ctx, accountID)
}

// Delete removes the profile and every document the account owns.
func (r *AccountRepositoryImpl) Delete(ctx context.Context, id string) error {
	account, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	for _, collection := range []string{CollectionTasks, CollectionTrees, CollectionCompletions} {
		docs, err := r.store.Query(ctx, ports.Query{Account: id, Collection: collection})
		if err != nil {
			return unavailable("list "+collection, err)
		}
		for _, doc := range docs {
			if err := r.store.Delete(ctx, doc.Ref); err != nil && !isNotFound(err) {
				return unavailable("delete "+doc.Ref.String(), err)
			}
		}
	}

	for _, ref := range []ports.DocRef{statsRef(id), friendsRef(id), profileRef(id), emailRef(account.Email)} {
		if err := r.store.Delete(ctx, ref); err != nil && !isNotFound(err) {
			return unavailable("delete "+ref.String(), err)
		}
	}

	return nil
}
