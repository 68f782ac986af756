package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"africorex-crm/internal/domain"
	"africorex-crm/internal/repo"
	"africorex-crm/internal/service"
)

type invoiceResponse struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"userId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	IssueDate     time.Time       `json:"issueDate"`
	DueDate       time.Time       `json:"dueDate"`
}

func toInvoiceResponse(inv domain.Invoice) invoiceResponse {
	return invoiceResponse{
		ID:            inv.ID,
		UserID:        inv.UserID,
		InvoiceNumber: inv.InvoiceNumber,
		TotalAmount:   inv.TotalAmount,
		Currency:      inv.Currency,
		Status:        string(inv.Status),
		IssueDate:     inv.IssueDate,
		DueDate:       inv.DueDate,
	}
}

func (s *Server) listInvoicesHandler(c *gin.Context) {
	invoices, err := s.invoices.List(c.Request.Context(), currentCaller(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error."})
		return
	}

	out := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, toInvoiceResponse(inv))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getInvoiceHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid invoice id."})
		return
	}

	invoice, err := s.invoices.Get(c.Request.Context(), currentCaller(c), id)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Invoice not found."})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"message": "Forbidden"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error."})
	default:
		c.JSON(http.StatusOK, toInvoiceResponse(*invoice))
	}
}

type createInvoiceRequest struct {
	UserID      uuid.UUID       `json:"userId" binding:"required"`
	TotalAmount decimal.Decimal `json:"totalAmount" binding:"required"`
	Currency    string          `json:"currency"`
	IssueDate   time.Time       `json:"issueDate" binding:"required"`
	DueDate     time.Time       `json:"dueDate"`
}

func (s *Server) createInvoiceHandler(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Missing required fields."})
		return
	}

	invoice, err := s.invoices.Create(c.Request.Context(), currentCaller(c), req.UserID, req.TotalAmount, req.Currency, req.IssueDate, req.DueDate)
	switch {
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"message": "Forbidden: Admins only"})
	case errors.Is(err, service.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid invoice amount."})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error."})
	default:
		c.JSON(http.StatusCreated, toInvoiceResponse(*invoice))
	}
}
