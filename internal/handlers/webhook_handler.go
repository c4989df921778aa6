package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/MedLarabi/compucar-sub005/internal/webhook"
)

// WebhookAcceptor is the ingestion gateway.
type WebhookAcceptor interface {
	Accept(ctx context.Context, carrierName string, header http.Header, body []byte) (int, error)
	Challenge(carrierName string, subscribe bool, crcToken string) (string, error)
}

const defaultMaxWebhookBytes = 1 << 20

// RegisterWebhookRoutes registers the carrier webhook endpoints.
func RegisterWebhookRoutes(r gin.IRouter, cfg HandlerConfig) {
	limit := cfg.MaxWebhookBytes
	if limit <= 0 {
		limit = defaultMaxWebhookBytes
	}
	h := &webhookHandler{
		gateway: cfg.Webhooks,
		limit:   limit,
		log:     cfg.Log.With().Str("component", "webhook_http").Logger(),
	}
	r.POST("/webhooks/:carrier", h.receive)
	r.GET("/webhooks/:carrier", h.challenge)
}

type webhookHandler struct {
	gateway WebhookAcceptor
	limit   int64
	log     zerolog.Logger
}

// receive acknowledges once events are queued; processing happens later.
func (h *webhookHandler) receive(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_body"})
		return
	}

	n, err := h.gateway.Accept(c.Request.Context(), c.Param("carrier"), c.Request.Header, body)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"ok": true, "accepted": n})
	case errors.Is(err, webhook.ErrUnknownCarrier):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_carrier"})
	case errors.Is(err, webhook.ErrMissingSignature), errors.Is(err, webhook.ErrBadSignature):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
	case errors.Is(err, webhook.ErrMalformed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_payload", "msg": err.Error()})
	case errors.Is(err, webhook.ErrQueueFull), errors.Is(err, webhook.ErrQueueClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "try_again"})
	default:
		h.log.Error().Err(err).Str("carrier", c.Param("carrier")).Msg("webhook intake failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}

func (h *webhookHandler) challenge(c *gin.Context) {
	_, subscribe := c.GetQuery("subscribe")
	token, err := h.gateway.Challenge(c.Param("carrier"), subscribe, c.Query("crc_token"))
	switch {
	case err == nil:
		c.String(http.StatusOK, token)
	case errors.Is(err, webhook.ErrUnknownCarrier):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_carrier"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_challenge"})
	}
}
