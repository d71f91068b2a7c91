package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-select-api/internal/middleware"
	"github.com/noah-isme/course-select-api/internal/models"
	"github.com/noah-isme/course-select-api/internal/service"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext builds the access-check identity for the current request.
// STUDENT users get their student profile resolved; other roles act on their
// user id alone.
func actorFromContext(c *gin.Context, students *service.StudentService) (service.Actor, error) {
	claims := claimsFromContext(c)
	if claims == nil {
		return service.Actor{}, appErrors.ErrUnauthorized
	}
	actor := service.Actor{UserID: claims.UserID, Role: claims.Role}
	if claims.Role == models.RoleStudent {
		student, err := students.ByUserID(c.Request.Context(), claims.UserID)
		if err != nil {
			return service.Actor{}, err
		}
		actor.StudentID = student.ID
	}
	return actor, nil
}
