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

type intakeService interface {
	SubmitByToken(ctx context.Context, req dto.TokenSubmitRequest) (*dto.SubmitResult, error)
	SubmitForGuardian(ctx context.Context, req dto.PortalSubmitRequest, actor *models.JWTClaims) (*dto.SubmitResult, error)
	TokenPreview(ctx context.Context, token string) (*dto.RespondPreview, error)
}

// ResponseHandler exposes the participant-facing intake endpoints. The token
// routes are unauthenticated; possession of the token is the credential.
type ResponseHandler struct {
	service intakeService
}

// NewResponseHandler constructs the handler.
func NewResponseHandler(service intakeService) *ResponseHandler {
	return &ResponseHandler{service: service}
}

// Preview godoc
// @Summary Preview a continuation response page
// @Description Returns the student's projected schedule for an email link token
// @Tags Responses
// @Produce json
// @Param token path string true "Response token"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /continuation/respond/{token} [get]
func (h *ResponseHandler) Preview(c *gin.Context) {
	preview, err := h.service.TokenPreview(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}

// Submit godoc
// @Summary Submit a continuation response by token
// @Tags Responses
// @Accept json
// @Produce json
// @Param payload body dto.TokenSubmitRequest true "Response payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /continuation/respond [post]
func (h *ResponseHandler) Submit(c *gin.Context) {
	var req dto.TokenSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid response payload"))
		return
	}
	if req.Token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.service.SubmitByToken(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// PortalSubmit godoc
// @Summary Submit a continuation response from the guardian portal
// @Tags Responses
// @Accept json
// @Produce json
// @Param payload body dto.PortalSubmitRequest true "Response payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /continuation/portal/respond [post]
func (h *ResponseHandler) PortalSubmit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.PortalSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid response payload"))
		return
	}
	if req.RunID == "" || req.StudentID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "run_id and student_id are required"))
		return
	}
	result, err := h.service.SubmitForGuardian(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
