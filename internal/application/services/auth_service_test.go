package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/ports"
)

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	resp, err := env.svc.Auth.Register(ctx, ports.RegisterRequest{Email: "Ada@Example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "ada@example.com", resp.Account.Email)

	claims, err := env.svc.Auth.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.Account.ID, claims.AccountID)
	assert.Equal(t, "ada@example.com", claims.Email)

	ledger, err := env.svc.Ledger.Balance(ctx, resp.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ledger.Credits)

	friends, err := env.svc.Friends.ListFollowing(ctx, resp.Account.ID)
	require.NoError(t, err)
	assert.Empty(t, friends)

	login, err := env.svc.Auth.Login(ctx, ports.LoginRequest{Email: "ada@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, resp.Account.ID, login.Account.ID)

	_, err = env.svc.Auth.Login(ctx, ports.LoginRequest{Email: "ada@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, entities.ErrUnauthenticated)

	_, err = env.svc.Auth.Login(ctx, ports.LoginRequest{Email: "nobody@example.com", Password: "password123"})
	assert.ErrorIs(t, err, entities.ErrUnauthenticated)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.register(t, "ada@example.com")

	_, err := env.svc.Auth.CreateAccount(ctx, "ADA@example.com", "password123")
	assert.ErrorIs(t, err, entities.ErrValidation, "duplicate email")

	_, err = env.svc.Auth.CreateAccount(ctx, "not-an-email", "password123")
	assert.ErrorIs(t, err, entities.ErrValidation)

	_, err = env.svc.Auth.CreateAccount(ctx, "bob@example.com", "short")
	assert.ErrorIs(t, err, entities.ErrValidation)
}

func TestValidateTokenRejectsForeignTokens(t *testing.T) {
	env := newTestEnv(t)

	sign := func(secret, issuer string, expires time.Time) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
			AccountID: "acc-1",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				ExpiresAt: jwt.NewNumericDate(expires),
			},
		})
		signed, err := token.SignedString([]byte(secret))
		require.NoError(t, err)
		return signed
	}

	_, err := env.svc.Auth.ValidateToken(sign("test-secret", "sapling-test", time.Now().Add(time.Hour)))
	assert.NoError(t, err)

	_, err = env.svc.Auth.ValidateToken(sign("other-secret", "sapling-test", time.Now().Add(time.Hour)))
	assert.ErrorIs(t, err, entities.ErrUnauthenticated)

	_, err = env.svc.Auth.ValidateToken(sign("test-secret", "someone-else", time.Now().Add(time.Hour)))
	assert.ErrorIs(t, err, entities.ErrUnauthenticated)

	_, err = env.svc.Auth.ValidateToken(sign("test-secret", "sapling-test", time.Now().Add(-time.Minute)))
	assert.ErrorIs(t, err, entities.ErrUnauthenticated)

	_, err = env.svc.Auth.ValidateToken("garbage")
	assert.ErrorIs(t, err, entities.ErrUnauthenticated)
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	account := env.register(t, "ada@example.com")
	env.fund(t, account.ID, 5)

	_, err := env.svc.Tasks.CreateTask(ctx, account.ID, readTask("2024-01-01"))
	require.NoError(t, err)

	require.NoError(t, env.svc.Auth.DeleteAccount(ctx, account.ID))

	_, err = env.svc.Auth.Login(ctx, ports.LoginRequest{Email: "ada@example.com", Password: "password123"})
	assert.ErrorIs(t, err, entities.ErrUnauthenticated)

	tasks, err := env.svc.Tasks.ListTasks(ctx, account.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Equal(t, int64(0), env.balance(t, account.ID))

	assert.ErrorIs(t, env.svc.Auth.DeleteAccount(ctx, account.ID), entities.ErrNotFound)
}
