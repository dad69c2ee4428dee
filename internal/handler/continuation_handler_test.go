package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/clefworks/msm-api/internal/dto"
	"github.com/clefworks/msm-api/internal/middleware"
	"github.com/clefworks/msm-api/internal/models"
	appErrors "github.com/clefworks/msm-api/pkg/errors"
)

type continuationServiceStub struct {
	createResult   *dto.CreateRunResult
	createErr      error
	sendResult     *dto.SendResult
	sendErr        error
	deadlineResult *dto.DeadlineResult
	exportData     []byte
	lastOrgID      string
	lastRunID      string
	lastAction     string
}

func (s *continuationServiceStub) CreateRun(ctx context.Context, req dto.ActionRequest, actor *models.JWTClaims) (*dto.CreateRunResult, error) {
	s.lastAction = "create"
	s.lastOrgID = req.OrgID
	return s.createResult, s.createErr
}

func (s *continuationServiceStub) SendRun(ctx context.Context, orgID, runID string, actor *models.JWTClaims) (*dto.SendResult, error) {
	s.lastAction = "send"
	s.lastOrgID = orgID
	s.lastRunID = runID
	return s.sendResult, s.sendErr
}

func (s *continuationServiceStub) SendReminders(ctx context.Context, orgID, runID string, actor *models.JWTClaims) (*dto.RemindResult, error) {
	s.lastAction = "send_reminders"
	return &dto.RemindResult{RemindedCount: 2}, nil
}

func (s *continuationServiceStub) ProcessDeadline(ctx context.Context, orgID, runID string, actor *models.JWTClaims) (*dto.DeadlineResult, error) {
	s.lastAction = "process_deadline"
	return s.deadlineResult, nil
}

func (s *continuationServiceStub) CompleteRun(ctx context.Context, orgID, runID string, actor *models.JWTClaims) (*models.ContinuationRun, error) {
	s.lastAction = "complete"
	return &models.ContinuationRun{ID: runID, Status: models.RunStatusCompleted}, nil
}

func (s *continuationServiceStub) GetRun(ctx context.Context, orgID, runID string) (*dto.RunDetail, error) {
	s.lastOrgID = orgID
	s.lastRunID = runID
	return &dto.RunDetail{Run: models.ContinuationRun{ID: runID, OrgID: orgID}}, nil
}

func (s *continuationServiceStub) ListRuns(ctx context.Context, orgID string) ([]models.ContinuationRun, error) {
	s.lastOrgID = orgID
	return []models.ContinuationRun{{ID: "run-1", OrgID: orgID}}, nil
}

func (s *continuationServiceStub) ExportRun(ctx context.Context, orgID, runID, format string) ([]byte, string, string, error) {
	s.lastOrgID = orgID
	s.lastRunID = runID
	return s.exportData, "continuation-run-" + runID + ".csv", "text/csv", nil
}

func staffClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-1", OrgID: "org-1", Role: models.RoleAdmin}
}

func buildContinuationRouter(stub *continuationServiceStub, claims *models.JWTClaims) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if claims != nil {
			c.Set(middleware.ContextUserKey, claims)
		}
		c.Next()
	})
	h := NewContinuationHandler(stub)
	router.POST("/continuation-runs/actions", h.Action)
	router.GET("/continuation-runs", h.List)
	router.GET("/continuation-runs/:id", h.Get)
	router.GET("/continuation-runs/:id/export", h.Export)
	return router
}

func performRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestContinuationActionDispatch(t *testing.T) {
	stub := &continuationServiceStub{
		createResult: &dto.CreateRunResult{RunID: "run-1", TotalStudents: 3},
		sendResult:   &dto.SendResult{SentCount: 2},
	}
	router := buildContinuationRouter(stub, staffClaims())

	t.Run("create returns 201", func(t *testing.T) {
		body := bytes.NewBufferString(`{"action":"create","org_id":"org-1","current_term_id":"t2","next_term_id":"t3","notice_deadline":"2026-04-05"}`)
		req, _ := http.NewRequest(http.MethodPost, "/continuation-runs/actions", body)
		req.Header.Set("Content-Type", "application/json")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusCreated, resp.Code)
		require.Contains(t, resp.Body.String(), `"run_id":"run-1"`)
		require.Equal(t, "create", stub.lastAction)
	})

	t.Run("send returns 200", func(t *testing.T) {
		body := bytes.NewBufferString(`{"action":"send","org_id":"org-1","run_id":"run-1"}`)
		req, _ := http.NewRequest(http.MethodPost, "/continuation-runs/actions", body)
		req.Header.Set("Content-Type", "application/json")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"sent_count":2`)
		require.Equal(t, "run-1", stub.lastRunID)
	})

	t.Run("unknown action rejected", func(t *testing.T) {
		body := bytes.NewBufferString(`{"action":"explode","org_id":"org-1"}`)
		req, _ := http.NewRequest(http.MethodPost, "/continuation-runs/actions", body)
		req.Header.Set("Content-Type", "application/json")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("org defaults to claims", func(t *testing.T) {
		body := bytes.NewBufferString(`{"action":"send","run_id":"run-1"}`)
		req, _ := http.NewRequest(http.MethodPost, "/continuation-runs/actions", body)
		req.Header.Set("Content-Type", "application/json")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Equal(t, "org-1", stub.lastOrgID)
	})

	t.Run("foreign org rejected", func(t *testing.T) {
		body := bytes.NewBufferString(`{"action":"send","org_id":"org-other","run_id":"run-1"}`)
		req, _ := http.NewRequest(http.MethodPost, "/continuation-runs/actions", body)
		req.Header.Set("Content-Type", "application/json")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
	})
}

func TestContinuationActionErrorsPassThrough(t *testing.T) {
	stub := &continuationServiceStub{sendErr: appErrors.ErrInvalidTransition}
	router := buildContinuationRouter(stub, staffClaims())

	body := bytes.NewBufferString(`{"action":"send","org_id":"org-1","run_id":"run-1"}`)
	req, _ := http.NewRequest(http.MethodPost, "/continuation-runs/actions", body)
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), "INVALID_TRANSITION")
}

func TestContinuationActionRequiresAuth(t *testing.T) {
	router := buildContinuationRouter(&continuationServiceStub{}, nil)

	body := bytes.NewBufferString(`{"action":"send","org_id":"org-1","run_id":"run-1"}`)
	req, _ := http.NewRequest(http.MethodPost, "/continuation-runs/actions", body)
	req.Header.Set("Content-Type", "application/json")
	resp := performRequest(router, req)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestContinuationListAndGet(t *testing.T) {
	stub := &continuationServiceStub{}
	router := buildContinuationRouter(stub, staffClaims())

	req, _ := http.NewRequest(http.MethodGet, "/continuation-runs", nil)
	resp := performRequest(router, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "org-1", stub.lastOrgID)

	req, _ = http.NewRequest(http.MethodGet, "/continuation-runs/run-9", nil)
	resp = performRequest(router, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "run-9", stub.lastRunID)
}

func TestContinuationExportSetsDisposition(t *testing.T) {
	stub := &continuationServiceStub{exportData: []byte("Student,Response\n")}
	router := buildContinuationRouter(stub, staffClaims())

	req, _ := http.NewRequest(http.MethodGet, "/continuation-runs/run-1/export?format=csv", nil)
	resp := performRequest(router, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "text/csv", resp.Header().Get("Content-Type"))
	require.Contains(t, resp.Header().Get("Content-Disposition"), "continuation-run-run-1.csv")
	require.Equal(t, "Student,Response\n", resp.Body.String())
}
