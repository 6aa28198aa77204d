package devices

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/restoreassist/trial-engine/pkg/common"
	"github.com/restoreassist/trial-engine/pkg/middleware"
	"github.com/restoreassist/trial-engine/pkg/pagination"
)

// ServiceInterface is the registry surface the handler depends on.
type ServiceInterface interface {
	Block(ctx context.Context, fingerprintHash, reason string) error
	List(ctx context.Context, limit, offset int) ([]*DeviceFingerprint, int64, error)
}

// Handler handles administrative HTTP requests for the device registry.
type Handler struct {
	service ServiceInterface
}

// NewHandler creates a device registry handler.
func NewHandler(service ServiceInterface) *Handler {
	return &Handler{service: service}
}

// BlockDevice permanently blocks a fingerprint from trial grants
// POST /api/v1/devices/:fingerprint/block
func (h *Handler) BlockDevice(c *gin.Context) {
	var uri struct {
		Fingerprint string `uri:"fingerprint" validate:"required,fingerprint"`
	}
	if err := middleware.ValidateURI(c, &uri); err != nil {
		middleware.RespondWithValidationError(c, err)
		return
	}

	var req BlockDeviceRequest
	if !middleware.ValidateAndBind(c, &req) {
		return
	}

	if err := h.service.Block(c.Request.Context(), uri.Fingerprint, req.Reason); err != nil {
		if appErr, ok := err.(*common.AppError); ok {
			common.AppErrorResponse(c, appErr)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to block device")
		return
	}

	common.SuccessResponse(c, BlockDeviceResponse{
		FingerprintHash: uri.Fingerprint,
		Blocked:         true,
	})
}

// ListDevices lists the fingerprint registry, most recently seen first
// GET /api/v1/devices
func (h *Handler) ListDevices(c *gin.Context) {
	params := pagination.ParseParams(c)

	devices, total, err := h.service.List(c.Request.Context(), params.Limit, params.Offset)
	if err != nil {
		if appErr, ok := err.(*common.AppError); ok {
			common.AppErrorResponse(c, appErr)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []*DeviceFingerprint{}
	}

	meta := pagination.BuildMeta(params.Limit, params.Offset, total)
	common.SuccessResponseWithMeta(c, devices, meta)
}

// RegisterRoutes registers device registry routes. All routes are
// admin-only.
func (h *Handler) RegisterRoutes(r *gin.Engine, jwtSecret string) {
	admin := r.Group("/api/v1/devices")
	admin.Use(middleware.AuthMiddleware(jwtSecret))
	admin.Use(middleware.RequireAdmin())
	{
		admin.GET("", h.ListDevices)
		admin.POST("/:fingerprint/block", h.BlockDevice)
	}
}
