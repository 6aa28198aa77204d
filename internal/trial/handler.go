package trial

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/restoreassist/trial-engine/pkg/common"
	"github.com/restoreassist/trial-engine/pkg/middleware"
	"github.com/restoreassist/trial-engine/pkg/pagination"
)

// ServiceInterface is the orchestrator surface the handler depends on.
type ServiceInterface interface {
	ActivateTrial(ctx context.Context, req *ActivateTrialRequest) (*ActivationResult, error)
	TrialStatus(ctx context.Context, userID uuid.UUID) (*TrialStatusResponse, error)
	ConsumeReport(ctx context.Context, tokenID uuid.UUID, reportID string) (bool, error)
	RevokeTrial(ctx context.Context, tokenID uuid.UUID, reason string) (bool, error)
	ListUsage(ctx context.Context, tokenID uuid.UUID, limit, offset int) ([]*TrialUsageRecord, int64, error)
}

// Handler handles trial HTTP requests.
type Handler struct {
	service ServiceInterface
}

// NewHandler creates a trial handler.
func NewHandler(service ServiceInterface) *Handler {
	return &Handler{service: service}
}

// ActivateTrial runs the activation pipeline for a user/device pair
// POST /api/v1/trials/activate
func (h *Handler) ActivateTrial(c *gin.Context) {
	var req ActivateTrialRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	result, err := h.service.ActivateTrial(c.Request.Context(), &req)
	if err != nil {
		if appErr, ok := err.(*common.AppError); ok {
			common.AppErrorResponse(c, appErr)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to activate trial")
		return
	}

	// A denial is a first-class decision, not an error: HTTP 200 with the
	// envelope success mirroring the outcome.
	c.JSON(http.StatusOK, common.Response{Success: result.Success, Data: result})
}

// TrialStatus returns the caller's active token, 404 when none is live
// GET /api/v1/trials/status/:user_id
func (h *Handler) TrialStatus(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid user id")
		return
	}

	status, err := h.service.TrialStatus(c.Request.Context(), userID)
	if err != nil {
		if appErr, ok := err.(*common.AppError); ok {
			common.AppErrorResponse(c, appErr)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to load trial status")
		return
	}

	common.SuccessResponse(c, status)
}

// ConsumeReport burns one report generation against a token
// POST /api/v1/trials/consume
func (h *Handler) ConsumeReport(c *gin.Context) {
	var req ConsumeReportRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	consumed, err := h.service.ConsumeReport(c.Request.Context(), req.TokenID, req.ReportID)
	if err != nil {
		if appErr, ok := err.(*common.AppError); ok {
			common.AppErrorResponse(c, appErr)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to consume trial report")
		return
	}

	common.SuccessResponse(c, ConsumeReportResponse{Consumed: consumed})
}

// RevokeTrial kills a token after a post-hoc fraud finding
// POST /api/v1/trials/revoke
func (h *Handler) RevokeTrial(c *gin.Context) {
	var req RevokeTrialRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	revoked, err := h.service.RevokeTrial(c.Request.Context(), req.TokenID, req.Reason)
	if err != nil {
		if appErr, ok := err.(*common.AppError); ok {
			common.AppErrorResponse(c, appErr)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to revoke trial")
		return
	}
	if !revoked {
		common.ErrorResponse(c, http.StatusNotFound, "token not found")
		return
	}

	common.SuccessResponse(c, RevokeTrialResponse{TokenID: req.TokenID, Revoked: true})
}

// ListUsage lists the usage log for a token, newest first
// GET /api/v1/trials/:token_id/usage
func (h *Handler) ListUsage(c *gin.Context) {
	tokenID, err := uuid.Parse(c.Param("token_id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid token id")
		return
	}

	params := pagination.ParseParams(c)
	records, total, err := h.service.ListUsage(c.Request.Context(), tokenID, params.Limit, params.Offset)
	if err != nil {
		if appErr, ok := err.(*common.AppError); ok {
			common.AppErrorResponse(c, appErr)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to list trial usage")
		return
	}
	if records == nil {
		records = []*TrialUsageRecord{}
	}

	meta := pagination.BuildMeta(params.Limit, params.Offset, total)
	common.SuccessResponseWithMeta(c, records, meta)
}

// RegisterRoutes registers trial routes. Revocation and the usage log are
// admin-only; extra guards (rate limiting, body caps) for the activation
// route are passed in by the caller.
func (h *Handler) RegisterRoutes(r *gin.Engine, jwtSecret string, activateGuards ...gin.HandlerFunc) {
	trials := r.Group("/api/v1/trials")
	{
		activate := append(append([]gin.HandlerFunc{}, activateGuards...), h.ActivateTrial)
		trials.POST("/activate", activate...)
		trials.GET("/status/:user_id", h.TrialStatus)
		trials.POST("/consume", h.ConsumeReport)
	}

	admin := r.Group("/api/v1/trials")
	admin.Use(middleware.AuthMiddleware(jwtSecret))
	admin.Use(middleware.RequireAdmin())
	{
		admin.POST("/revoke", h.RevokeTrial)
		admin.GET("/:token_id/usage", h.ListUsage)
	}
}
