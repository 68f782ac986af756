package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"africorex-crm/internal/infrastructure/payment"
	"africorex-crm/internal/repo"
	"africorex-crm/internal/service"
)

type mpesaInitiateRequest struct {
	InvoiceID   uuid.UUID       `json:"invoiceId" binding:"required"`
	PhoneNumber string          `json:"phoneNumber" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
}

func (s *Server) mpesaInitiateHandler(c *gin.Context) {
	var req mpesaInitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Phone number, amount, and invoice ID are required."})
		return
	}

	result, err := s.initiations.InitiateMpesa(c.Request.Context(), currentCaller(c), req.InvoiceID, req.PhoneNumber, req.Amount)
	if err != nil {
		s.renderInitiateError(c, err, "Invalid amount or phone number format (e.g., 2547XXXXXXXX).")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "STK Push initiated successfully. Please check your phone.",
		"correlationRef": result.CorrelationRef,
		"customerMsg":    result.CustomerMessage,
	})
}

type flutterwaveInitiateRequest struct {
	InvoiceID   uuid.UUID       `json:"invoiceId" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Email       string          `json:"email" binding:"required,email"`
	Name        string          `json:"name" binding:"required"`
	PhoneNumber string          `json:"phoneNumber"`
}

func (s *Server) flutterwaveInitiateHandler(c *gin.Context) {
	var req flutterwaveInitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invoice ID, amount, customer email, and name are required."})
		return
	}

	result, err := s.initiations.InitiateFlutterwave(c.Request.Context(), currentCaller(c), req.InvoiceID, req.Amount, payment.Customer{
		Email:       req.Email,
		Name:        req.Name,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		s.renderInitiateError(c, err, "Invalid amount.")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "Payment initiated successfully.",
		"correlationRef": result.CorrelationRef,
		"link":           result.PaymentLink,
	})
}

func (s *Server) renderInitiateError(c *gin.Context, err error, invalidMsg string) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Invoice not found."})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"message": "Forbidden: You can only pay for your own invoices."})
	case errors.Is(err, service.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"message": invalidMsg})
	case errors.Is(err, service.ErrGatewayRejected):
		c.JSON(http.StatusBadGateway, gin.H{"message": "Payment gateway rejected the request. Please try again."})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error."})
	}
}

func (s *Server) reconcileHandler(c *gin.Context) {
	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid invoice id."})
		return
	}

	if err := s.reconciler.Reconcile(c.Request.Context(), invoiceID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "Invoice not found."})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Reconciliation failed."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Reconciliation complete."})
}
