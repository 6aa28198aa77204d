package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ========================================
// RESPONSE ENVELOPE
// ========================================

// Meta carries pagination information alongside list responses
type Meta struct {
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages,omitempty"`
}

// Response is the standard envelope for all API responses
type Response struct {
	Success bool          `json:"success"`
	Data    interface{}   `json:"data,omitempty"`
	Meta    *Meta         `json:"meta,omitempty"`
	Message string        `json:"message,omitempty"`
	Error   *ErrorDetails `json:"error,omitempty"`
}

// ErrorDetails is the client-facing error payload
type ErrorDetails struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ========================================
// SUCCESS RESPONSES
// ========================================

// SuccessResponse sends a 200 response with the given data
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// SuccessResponseWithMeta sends a 200 response with data and pagination meta
func SuccessResponseWithMeta(c *gin.Context, data interface{}, meta *Meta) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

// SuccessResponseWithStatus sends a response with a custom status code and message
func SuccessResponseWithStatus(c *gin.Context, status int, data interface{}, message string) {
	c.JSON(status, Response{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// CreatedResponse sends a 201 response with the given data
func CreatedResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    data,
	})
}

// ========================================
// ERROR RESPONSES
// ========================================

// ErrorResponse sends an error response with the given status code and message
func ErrorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &ErrorDetails{
			Code:    status,
			Message: message,
		},
	})
}

// AppErrorResponse sends an error response built from an AppError
func AppErrorResponse(c *gin.Context, err *AppError) {
	ErrorResponse(c, err.Code, err.Message)
}
