package server

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"africorex-crm/internal/infrastructure/payment"
	"africorex-crm/internal/service"
)

// Providers can send large junk; cap what we read.
const maxCallbackBody = 1 << 20

// mpesaCallbackHandler receives Daraja STK callbacks. Daraja's contract is
// "always 200": any non-200 answer triggers provider-side retries, so every
// outcome, including discards, is acknowledged with the ack body and the
// real disposition lives in the logs.
func (s *Server) mpesaCallbackHandler(c *gin.Context) {
	if s.cfg.MpesaCallbackSecret == "" ||
		subtle.ConstantTimeCompare([]byte(c.Param("token")), []byte(s.cfg.MpesaCallbackSecret)) != 1 {
		s.log.Warn("unauthenticated mpesa callback discarded",
			zap.String("remote", c.ClientIP()))
		c.JSON(http.StatusOK, payment.MpesaAckRejected("unauthenticated"))
		return
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		c.JSON(http.StatusOK, payment.MpesaAckRejected("unreadable body"))
		return
	}

	cb, err := payment.ParseMpesaCallback(raw)
	if err != nil {
		s.log.Warn("malformed mpesa callback discarded", zap.Error(err))
		c.JSON(http.StatusOK, payment.MpesaAckRejected("invalid callback format"))
		return
	}

	if err := s.ingestor.Ingest(c.Request.Context(), cb); err != nil {
		if errors.Is(err, service.ErrUnknownAttempt) {
			c.JSON(http.StatusOK, payment.MpesaAckRejected("unknown transaction"))
			return
		}
		// Ledger write failed. Still 200 per contract; Daraja's own retry
		// plus the sweep recover the outcome.
		s.log.Error("mpesa callback ingestion failed", zap.Error(err))
		c.JSON(http.StatusOK, payment.MpesaAckRejected("internal error"))
		return
	}

	c.JSON(http.StatusOK, payment.MpesaAckOK())
}

// flutterwaveWebhookHandler receives v3 webhooks. Unlike Daraja, Flutterwave
// honors conventional status codes, so failures return 4xx/5xx and the
// provider redelivers.
func (s *Server) flutterwaveWebhookHandler(c *gin.Context) {
	if !s.flutterwave.VerifyWebhookSignature(c.GetHeader("verif-hash")) {
		s.log.Warn("unauthenticated flutterwave webhook discarded",
			zap.String("remote", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "Invalid signature"})
		return
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Unreadable body"})
		return
	}

	cb, err := payment.ParseFlutterwaveWebhook(raw)
	if errors.Is(err, payment.ErrEventIgnored) {
		c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Event not handled"})
		return
	}
	if err != nil {
		s.log.Warn("malformed flutterwave webhook discarded", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Malformed payload"})
		return
	}

	if err := s.ingestor.Ingest(c.Request.Context(), cb); err != nil {
		if errors.Is(err, service.ErrUnknownAttempt) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Transaction not found"})
			return
		}
		s.log.Error("flutterwave webhook ingestion failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Webhook processed successfully"})
}
