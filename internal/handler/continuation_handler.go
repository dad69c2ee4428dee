package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clefworks/msm-api/internal/dto"
	"github.com/clefworks/msm-api/internal/models"
	appErrors "github.com/clefworks/msm-api/pkg/errors"
	"github.com/clefworks/msm-api/pkg/response"
)

type continuationService interface {
	CreateRun(ctx context.Context, req dto.ActionRequest, actor *models.JWTClaims) (*dto.CreateRunResult, error)
	SendRun(ctx context.Context, orgID, runID string, actor *models.JWTClaims) (*dto.SendResult, error)
	SendReminders(ctx context.Context, orgID, runID string, actor *models.JWTClaims) (*dto.RemindResult, error)
	ProcessDeadline(ctx context.Context, orgID, runID string, actor *models.JWTClaims) (*dto.DeadlineResult, error)
	CompleteRun(ctx context.Context, orgID, runID string, actor *models.JWTClaims) (*models.ContinuationRun, error)
	GetRun(ctx context.Context, orgID, runID string) (*dto.RunDetail, error)
	ListRuns(ctx context.Context, orgID string) ([]models.ContinuationRun, error)
	ExportRun(ctx context.Context, orgID, runID, format string) ([]byte, string, string, error)
}

// ContinuationHandler exposes the staff-facing continuation workflow endpoints.
type ContinuationHandler struct {
	service continuationService
}

// NewContinuationHandler constructs the handler.
func NewContinuationHandler(service continuationService) *ContinuationHandler {
	return &ContinuationHandler{service: service}
}

// Action godoc
// @Summary Apply a continuation workflow action
// @Description Dispatches create, send, send_reminders, process_deadline or complete
// @Tags Continuation
// @Accept json
// @Produce json
// @Param payload body dto.ActionRequest true "Action payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /continuation-runs/actions [post]
func (h *ContinuationHandler) Action(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "continuation service not configured"))
		return
	}
	var req dto.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid action payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if req.OrgID == "" {
		req.OrgID = claims.OrgID
	}
	if req.OrgID != claims.OrgID {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "organisation mismatch"))
		return
	}

	ctx := c.Request.Context()
	switch models.RunAction(req.Action) {
	case models.RunActionCreate:
		result, err := h.service.CreateRun(ctx, req, claims)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusCreated, result, nil)
	case models.RunActionSend:
		result, err := h.service.SendRun(ctx, req.OrgID, req.RunID, claims)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, result, nil)
	case models.RunActionSendReminders:
		result, err := h.service.SendReminders(ctx, req.OrgID, req.RunID, claims)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, result, nil)
	case models.RunActionProcessDeadline:
		result, err := h.service.ProcessDeadline(ctx, req.OrgID, req.RunID, claims)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, result, nil)
	case models.RunActionComplete:
		run, err := h.service.CompleteRun(ctx, req.OrgID, req.RunID, claims)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, run, nil)
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown action"))
	}
}

// List godoc
// @Summary List continuation runs
// @Tags Continuation
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /continuation-runs [get]
func (h *ContinuationHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	runs, err := h.service.ListRuns(c.Request.Context(), claims.OrgID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, runs, nil)
}

// Get godoc
// @Summary Get continuation run detail
// @Tags Continuation
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /continuation-runs/{id} [get]
func (h *ContinuationHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	detail, err := h.service.GetRun(c.Request.Context(), claims.OrgID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Export godoc
// @Summary Export continuation run responses
// @Tags Continuation
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Run ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /continuation-runs/{id}/export [get]
func (h *ContinuationHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	data, filename, contentType, err := h.service.ExportRun(c.Request.Context(), claims.OrgID, c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, contentType, data)
}
