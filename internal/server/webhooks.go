package server

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

type webhookResponse struct {
	Status string `json:"status"`
	Token  string `json:"token,omitempty"`
}

// HandleBillingWebhook ingests a payment provider delivery. Every
// accepted delivery answers 200 so the provider stops retrying,
// including replays and events we deliberately ignore.
func (s *Server) HandleBillingWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.Webhook.Timeout)
	defer cancel()

	signatureHeader := c.GetHeader(s.cfg.Webhook.SignatureHeader)
	result, err := s.webhookSvc.Ingest(ctx, payload, signatureHeader, c.ClientIP())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := webhookResponse{Status: string(result.Outcome)}
	if result.Key != nil {
		resp.Token = result.Key.Token
	}
	c.JSON(http.StatusOK, resp)
}
