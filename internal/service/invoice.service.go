package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"africorex-crm/internal/domain"
	"africorex-crm/internal/repo"
)

// InvoiceService is the thin CRUD surface over invoices that the payment
// flow needs end to end. Creation is admin-only; listing is scoped to the
// caller unless the caller is an admin.
type InvoiceService struct {
	invoiceRepo repo.InvoiceRepo
}

func NewInvoiceService(invoiceRepo repo.InvoiceRepo) *InvoiceService {
	return &InvoiceService{invoiceRepo: invoiceRepo}
}

func (s *InvoiceService) Create(ctx context.Context, caller domain.Caller, ownerID uuid.UUID, totalAmount decimal.Decimal, currency string, issueDate, dueDate time.Time) (*domain.Invoice, error) {
	if !caller.IsAdmin() {
		return nil, ErrForbidden
	}
	if totalAmount.IsNegative() {
		return nil, ErrInvalidRequest
	}
	if currency == "" {
		currency = "KES"
	}

	now := time.Now().UTC()
	invoice := &domain.Invoice{
		ID:            uuid.New(),
		UserID:        ownerID,
		InvoiceNumber: "INV-" + strings.ToUpper(uuid.NewString()[:8]),
		TotalAmount:   totalAmount,
		Currency:      currency,
		Status:        domain.InvoiceDraft,
		IssueDate:     issueDate,
		DueDate:       dueDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.invoiceRepo.Create(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *InvoiceService) Get(ctx context.Context, caller domain.Caller, id uuid.UUID) (*domain.Invoice, error) {
	invoice, err := s.invoiceRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccessInvoice(invoice.UserID) {
		return nil, ErrForbidden
	}
	return invoice, nil
}

func (s *InvoiceService) List(ctx context.Context, caller domain.Caller) ([]domain.Invoice, error) {
	if caller.IsAdmin() {
		return s.invoiceRepo.ListAll(ctx)
	}
	return s.invoiceRepo.ListByOwner(ctx, caller.UserID)
}
