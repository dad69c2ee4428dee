package handler

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/clefworks/msm-api/internal/dto"
	"github.com/clefworks/msm-api/internal/middleware"
	"github.com/clefworks/msm-api/internal/models"
	appErrors "github.com/clefworks/msm-api/pkg/errors"
)

type intakeServiceStub struct {
	submitResult  *dto.SubmitResult
	submitErr     error
	previewResult *dto.RespondPreview
	previewErr    error
	lastToken     string
	lastPortalReq dto.PortalSubmitRequest
}

func (s *intakeServiceStub) SubmitByToken(ctx context.Context, req dto.TokenSubmitRequest) (*dto.SubmitResult, error) {
	s.lastToken = req.Token
	return s.submitResult, s.submitErr
}

func (s *intakeServiceStub) SubmitForGuardian(ctx context.Context, req dto.PortalSubmitRequest, actor *models.JWTClaims) (*dto.SubmitResult, error) {
	s.lastPortalReq = req
	return s.submitResult, s.submitErr
}

func (s *intakeServiceStub) TokenPreview(ctx context.Context, token string) (*dto.RespondPreview, error) {
	s.lastToken = token
	return s.previewResult, s.previewErr
}

func buildResponseRouter(stub *intakeServiceStub, claims *models.JWTClaims) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if claims != nil {
			c.Set(middleware.ContextUserKey, claims)
		}
		c.Next()
	})
	h := NewResponseHandler(stub)
	router.GET("/continuation/respond/:token", h.Preview)
	router.POST("/continuation/respond", h.Submit)
	router.POST("/continuation/portal/respond", h.PortalSubmit)
	return router
}

func TestResponsePreview(t *testing.T) {
	stub := &intakeServiceStub{previewResult: &dto.RespondPreview{StudentName: "Ada Chen", Open: true}}
	router := buildResponseRouter(stub, nil)

	req, _ := http.NewRequest(http.MethodGet, "/continuation/respond/tok-123", nil)
	resp := performRequest(router, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "tok-123", stub.lastToken)
	require.Contains(t, resp.Body.String(), `"open":true`)
}

func TestResponsePreviewRateLimited(t *testing.T) {
	stub := &intakeServiceStub{previewErr: appErrors.ErrRateLimited}
	router := buildResponseRouter(stub, nil)

	req, _ := http.NewRequest(http.MethodGet, "/continuation/respond/tok-123", nil)
	resp := performRequest(router, req)
	require.Equal(t, http.StatusTooManyRequests, resp.Code)
}

func TestResponseSubmit(t *testing.T) {
	stub := &intakeServiceStub{submitResult: &dto.SubmitResult{Success: true, Response: models.ResponseContinuing}}
	router := buildResponseRouter(stub, nil)

	body := bytes.NewBufferString(`{"token":"tok-123","response":"continuing"}`)
	req, _ := http.NewRequest(http.MethodPost, "/continuation/respond", body)
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"success":true`)
	require.Equal(t, "tok-123", stub.lastToken)
}

func TestResponseSubmitRequiresToken(t *testing.T) {
	router := buildResponseRouter(&intakeServiceStub{}, nil)

	body := bytes.NewBufferString(`{"response":"continuing"}`)
	req, _ := http.NewRequest(http.MethodPost, "/continuation/respond", body)
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestResponsePortalSubmit(t *testing.T) {
	stub := &intakeServiceStub{submitResult: &dto.SubmitResult{Success: true}}
	claims := &models.JWTClaims{UserID: "user-g1", OrgID: "org-1", Role: models.RoleGuardian}
	router := buildResponseRouter(stub, claims)

	body := bytes.NewBufferString(`{"run_id":"run-1","student_id":"s1","response":"withdrawing","withdrawal_reason":"moving"}`)
	req, _ := http.NewRequest(http.MethodPost, "/continuation/portal/respond", body)
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "run-1", stub.lastPortalReq.RunID)
	require.Equal(t, "moving", stub.lastPortalReq.WithdrawalReason)
}

func TestResponsePortalSubmitRequiresAuth(t *testing.T) {
	router := buildResponseRouter(&intakeServiceStub{}, nil)

	body := bytes.NewBufferString(`{"run_id":"run-1","student_id":"s1","response":"continuing"}`)
	req, _ := http.NewRequest(http.MethodPost, "/continuation/portal/respond", body)
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}
