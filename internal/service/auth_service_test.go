package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/quotelane/quotelane-api/internal/models"
	appErrors "github.com/quotelane/quotelane-api/pkg/errors"
)

type authRepoStub struct {
	user          *models.User
	lastLoginUser string
}

func (s *authRepoStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if s.user == nil || s.user.Email != email {
		return nil, sql.ErrNoRows
	}
	return s.user, nil
}

func (s *authRepoStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, sql.ErrNoRows
	}
	return s.user, nil
}

func (s *authRepoStub) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	s.lastLoginUser = id
	return nil
}

func newTestAuthService(repo *authRepoStub) *AuthService {
	return NewAuthService(repo, nil, nil, AuthConfig{
		AccessTokenSecret: "test-secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "quotelane-test",
	})
}

func activeCustomer(t *testing.T) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret!"), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{
		ID:           "cust-1",
		Email:        "jan@example.com",
		PasswordHash: string(hash),
		FullName:     "Jan Kowalski",
		Role:         models.RoleCustomer,
		Active:       true,
	}
}

func TestLoginIssuesValidAccessToken(t *testing.T) {
	repo := &authRepoStub{user: activeCustomer(t)}
	svc := newTestAuthService(repo)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "jan@example.com",
		Password: "s3cret!",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "cust-1", repo.lastLoginUser)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "cust-1", claims.UserID)
	assert.Equal(t, models.RoleCustomer, claims.Role)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc := newTestAuthService(&authRepoStub{user: activeCustomer(t)})

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "jan@example.com",
		Password: "wrong",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestLoginRejectsUnknownEmail(t *testing.T) {
	svc := newTestAuthService(&authRepoStub{})

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "nobody@example.com",
		Password: "s3cret!",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	user := activeCustomer(t)
	user.Active = false
	svc := newTestAuthService(&authRepoStub{user: user})

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "jan@example.com",
		Password: "s3cret!",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	repo := &authRepoStub{user: activeCustomer(t)}
	issuer := newTestAuthService(repo)
	resp, err := issuer.Login(context.Background(), models.LoginRequest{
		Email:    "jan@example.com",
		Password: "s3cret!",
	})
	require.NoError(t, err)

	other := NewAuthService(repo, nil, nil, AuthConfig{
		AccessTokenSecret: "different-secret",
		AccessTokenExpiry: time.Hour,
	})
	_, err = other.ValidateToken(resp.AccessToken)
	require.Error(t, err)
}
