package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kidcare-enrollment-api/internal/middleware"
	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/kidcare-enrollment-api/pkg/errors"
)

// actorFromContext resolves the authenticated caller. Routes are mounted
// behind JWT, so a missing actor means the middleware was skipped.
func actorFromContext(c *gin.Context) (models.Actor, error) {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		return models.Actor{}, appErrors.ErrUnauthorized
	}
	return claims.Actor(), nil
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func invalidPayload(err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
}
