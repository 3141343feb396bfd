package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/richxcame/driver-location/pkg/common"
)

// GetUserID extracts the authenticated caller's ID from the request context.
// Handlers that run without an upstream identity (the internal routes) get
// common.ErrUnauthorized, which callers treat as "anonymous".
func GetUserID(c *gin.Context) (uuid.UUID, error) {
	userID, exists := c.Get("user_id")
	if !exists {
		return uuid.Nil, common.ErrUnauthorized
	}
	id, ok := userID.(uuid.UUID)
	if !ok {
		return uuid.Nil, common.ErrUnauthorized
	}
	return id, nil
}
