package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yourusername/hqmx-go/internal/app"
	"github.com/yourusername/hqmx-go/internal/domain"
)

// statusFor maps an application error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrDownloadNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrInvalidState):
		return http.StatusConflict
	}

	var de *domain.Error
	if !errors.As(err, &de) {
		return http.StatusInternalServerError
	}
	switch de.Kind {
	case domain.ErrValidation:
		return http.StatusBadRequest
	case domain.ErrUnsupported:
		return http.StatusUnprocessableEntity
	case domain.ErrNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorBody renders an error, with its kind when it is a domain error
func errorBody(err error) gin.H {
	body := gin.H{"error": err.Error()}
	var de *domain.Error
	if errors.As(err, &de) {
		body["kind"] = de.Kind
	}
	return body
}
