package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/clefworks/msm-api/internal/models"
	appErrors "github.com/clefworks/msm-api/pkg/errors"
)

type mockAuthRepo struct {
	userByEmail      *models.User
	userByID         *models.User
	findByEmailErr   error
	refreshTokens    map[string]*models.RefreshToken
	auditLogs        []*models.AuditLog
	lastLoginUpdated bool
	revokedUsers     []string
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.userByID != nil {
		return m.userByID, nil
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revokedUsers = append(m.revokedUsers, userID)
	now := time.Now().UTC()
	for _, token := range m.refreshTokens {
		if token.UserID == userID {
			token.Revoked = true
			token.RevokedAt = &now
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.refreshTokens == nil {
		m.refreshTokens = make(map[string]*models.RefreshToken)
	}
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func testAuthConfig() AuthConfig {
	return AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "msm-api",
	}
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	password, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByEmail: &models.User{
		ID: "u1", OrgID: "org-1", Email: "owner@example.com",
		PasswordHash: string(password), Active: true, Role: models.RoleOwner,
	}}
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "owner@example.com", Password: "password"})
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.RefreshToken)
	require.Equal(t, "org-1", res.User.OrgID)
	require.True(t, repo.lastLoginUpdated)
	require.NotEmpty(t, repo.refreshTokens)
	require.NotEmpty(t, repo.auditLogs)
	require.Empty(t, repo.revokedUsers)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.UserID)
	require.Equal(t, "org-1", claims.OrgID)
	require.Equal(t, models.RoleOwner, claims.Role)
}

func TestAuthServiceSingleSessionRevokesPriorTokens(t *testing.T) {
	password, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByEmail: &models.User{
		ID: "u1", OrgID: "org-1", Email: "owner@example.com",
		PasswordHash: string(password), Active: true, Role: models.RoleOwner,
	}}
	cfg := testAuthConfig()
	cfg.SingleSession = true
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), cfg)

	first, err := svc.Login(context.Background(), models.LoginRequest{Email: "owner@example.com", Password: "password"})
	require.NoError(t, err)
	second, err := svc.Login(context.Background(), models.LoginRequest{Email: "owner@example.com", Password: "password"})
	require.NoError(t, err)

	require.Equal(t, []string{"u1", "u1"}, repo.revokedUsers)
	require.True(t, repo.refreshTokens[first.RefreshToken].Revoked)
	require.False(t, repo.refreshTokens[second.RefreshToken].Revoked)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	password, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", OrgID: "org-1", Email: "owner@example.com", PasswordHash: string(password), Active: true}}
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "owner@example.com", Password: "nope"})
	requireAppError(t, err, appErrors.ErrInvalidCredentials.Code)
}

func TestAuthServiceLoginInactive(t *testing.T) {
	password, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", Email: "owner@example.com", PasswordHash: string(password), Active: false}}
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "owner@example.com", Password: "password"})
	requireAppError(t, err, appErrors.ErrInactiveAccount.Code)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	user := &models.User{ID: "u1", OrgID: "org-1", Email: "owner@example.com", Active: true, Role: models.RoleAdmin}
	repo := &mockAuthRepo{userByID: user, refreshTokens: map[string]*models.RefreshToken{
		"old-token": {ID: "rt1", UserID: "u1", Token: "old-token", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "old-token"})
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)
	require.NotEqual(t, "old-token", res.RefreshToken)
	require.True(t, repo.refreshTokens["old-token"].Revoked)
}

func TestAuthServiceRefreshExpired(t *testing.T) {
	user := &models.User{ID: "u1", Active: true}
	repo := &mockAuthRepo{userByID: user, refreshTokens: map[string]*models.RefreshToken{
		"stale": {ID: "rt1", UserID: "u1", Token: "stale", ExpiresAt: time.Now().Add(-time.Minute)},
	}}
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "stale"})
	requireAppError(t, err, appErrors.ErrUnauthorized.Code)
}

func TestAuthServiceLogoutChecksOwnership(t *testing.T) {
	repo := &mockAuthRepo{refreshTokens: map[string]*models.RefreshToken{
		"tok": {ID: "rt1", UserID: "u1", Token: "tok", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	svc := NewAuthService(repo, validator.New(), zap.NewNop(), testAuthConfig())

	err := svc.Logout(context.Background(), "tok", "someone-else")
	requireAppError(t, err, appErrors.ErrForbidden.Code)

	require.NoError(t, svc.Logout(context.Background(), "tok", "u1"))
	require.True(t, repo.refreshTokens["tok"].Revoked)
}
