package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/brightfund/review-api/internal/models"
	"github.com/brightfund/review-api/internal/service"
	appErrors "github.com/brightfund/review-api/pkg/errors"
	"github.com/brightfund/review-api/pkg/response"
)

// ContextReviewerKey is the gin context key storing reviewer session claims.
const ContextReviewerKey = "currentReviewer"

// ReviewerAuth protects reviewer-facing routes by requiring a valid session JWT.
func ReviewerAuth(reviewerService *service.ReviewerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := reviewerService.ValidateSession(parts[1])
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextReviewerKey, claims)
		c.Next()
	}
}

// ReviewerFromContext extracts the reviewer claims set by ReviewerAuth.
func ReviewerFromContext(c *gin.Context) (*models.ReviewerClaims, bool) {
	value, ok := c.Get(ContextReviewerKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*models.ReviewerClaims)
	return claims, ok
}
