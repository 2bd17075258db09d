package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) VerifyKey(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.keySvc.Validate(c.Request.Context(), token)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) UseKey(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.keySvc.Consume(c.Request.Context(), token)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type renewRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

// RenewSubscription is an operational escape hatch for support staff
// when the provider misses a renewal delivery.
func (s *Server) RenewSubscription(c *gin.Context) {
	var req renewRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.SubscriptionID) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	renewed, err := s.renewals.Renew(c.Request.Context(), strings.TrimSpace(req.SubscriptionID))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !renewed {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"renewed": true})
}

func (s *Server) RevokeKey(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.keySvc.Revoke(c.Request.Context(), token); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": true})
}
