package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/restoreassist/trial-engine/pkg/validation"
)

// ValidateJSON binds the JSON body into req and runs struct validation.
func ValidateJSON(c *gin.Context, req interface{}) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return err
	}
	return validation.ValidateStruct(req)
}

// ValidateURI binds path parameters into req and runs struct validation.
func ValidateURI(c *gin.Context, req interface{}) error {
	if err := c.ShouldBindUri(req); err != nil {
		return err
	}
	return validation.ValidateStruct(req)
}

// RespondWithValidationError writes the standard 400 payload. Field-level
// detail is included when the error carries it.
func RespondWithValidationError(c *gin.Context, err error) {
	if valErr, ok := err.(*validation.ValidationError); ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Validation failed",
			"fields": valErr.Errors,
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Validation failed",
		"details": err.Error(),
	})
}

// ValidateAndBind binds and validates the JSON body, answering the request
// itself on failure. Returns true when the handler may proceed.
func ValidateAndBind(c *gin.Context, req interface{}) bool {
	if err := ValidateJSON(c, req); err != nil {
		RespondWithValidationError(c, err)
		return false
	}
	return true
}

// MaxBodySize rejects request bodies larger than maxSize bytes before they
// reach binding.
func MaxBodySize(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body == nil {
			c.Next()
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{
					"error":          "Request body too large",
					"max_size_bytes": maxSize,
				})
			} else {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Unable to read request body"})
			}
			c.Abort()
			return
		}

		// Downstream binding needs a fresh reader.
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		c.Next()
	}
}
