package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/resolveguard/models"
	"github.com/use-agent/resolveguard/resolveerr"
)

// respondErr maps a resolveerr.Error (or any other error) to the
// appropriate HTTP status and writes a structured JSON error body shaped
// like models.ErrorDetail, mirroring purify's respondError.
func respondErr(c *gin.Context, body gin.H, err error) {
	rerr, ok := err.(*resolveerr.Error)
	if !ok {
		body["error"] = &models.ErrorDetail{Code: models.ErrCodeInternal, Message: err.Error()}
		c.JSON(http.StatusInternalServerError, body)
		return
	}
	body["error"] = &models.ErrorDetail{Code: string(rerr.Code), Message: rerr.Message}
	c.JSON(statusForCode(rerr.Code), body)
}

func statusForCode(code resolveerr.Code) int {
	switch code {
	case resolveerr.CodeSelectorNotFound, resolveerr.CodeSnapshot:
		return http.StatusNotFound
	case resolveerr.CodeContextValidation, resolveerr.CodeValidation:
		return http.StatusBadRequest
	case resolveerr.CodeResolutionTimeout:
		return http.StatusGatewayTimeout
	case resolveerr.CodeConfidenceThresh:
		return http.StatusUnprocessableEntity
	case resolveerr.CodeConfiguration:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
