package api

import (
	"errors"
	"io"

	apperrors "persona-ritual/backend/pkg/errors"
	"persona-ritual/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// NOTE: the authenticated user is always read through middleware.UserID so the
// context key stays in one place.

func currentUser(c *gin.Context) (string, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.Error(apperrors.Unauthenticated("User not authenticated"))
		return "", false
	}
	return userID, true
}

// bindJSON decodes the body into v. An empty body is accepted when optional is set.
func bindJSON(c *gin.Context, v any, optional bool) bool {
	err := c.ShouldBindJSON(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	c.Error(apperrors.Validation("Invalid request format").WithCause(err))
	return false
}
