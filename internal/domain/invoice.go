package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "draft"
	InvoiceSent          InvoiceStatus = "sent"
	InvoicePartiallyPaid InvoiceStatus = "partially_paid"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceOverdue       InvoiceStatus = "overdue"
)

type Invoice struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	InvoiceNumber string
	TotalAmount   decimal.Decimal
	Currency      string
	Status        InvoiceStatus
	IssueDate     time.Time
	DueDate       time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SettlementStatus derives the invoice status implied by the amount collected
// so far. A zero paid sum keeps the current status so a manually set
// sent/overdue is never downgraded by reconciliation.
func (inv *Invoice) SettlementStatus(paid decimal.Decimal) InvoiceStatus {
	switch {
	case paid.LessThanOrEqual(decimal.Zero):
		return inv.Status
	case paid.LessThan(inv.TotalAmount):
		return InvoicePartiallyPaid
	default:
		return InvoicePaid
	}
}
