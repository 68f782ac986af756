package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"africorex-crm/internal/domain"
	"africorex-crm/internal/infrastructure/payment"
	"africorex-crm/internal/repo"
)

// InitiateError is the payment initiation error class.
var InitiateError = errs.Class("initiate")

var (
	// ErrForbidden means the caller is neither the invoice owner nor an admin.
	ErrForbidden = errs.New("forbidden")
	// ErrInvalidRequest covers bad amounts and malformed payer contacts.
	ErrInvalidRequest = errs.New("invalid request")
	// ErrGatewayRejected means the provider refused or was unreachable; no
	// ledger row was written.
	ErrGatewayRejected = errs.New("gateway rejected")
)

// Safaricom MSISDN, international format without the plus.
var mpesaPhonePattern = regexp.MustCompile(`^2547\d{8}$`)

// MpesaInitiation is what the caller gets back after a successful STK push:
// a device-side prompt is on its way.
type MpesaInitiation struct {
	CorrelationRef  string
	CustomerMessage string
}

// FlutterwaveInitiation carries the hosted payment page the caller must be
// redirected to.
type FlutterwaveInitiation struct {
	CorrelationRef string
	PaymentLink    string
}

// InitiateService validates a caller's request to pay an invoice, calls the
// right gateway adapter, and records the pending ledger row. The gateway call
// happens before the ledger write: an accepted charge with no local row is
// recovered by the sweep, a local row with no charge would linger forever.
type InitiateService struct {
	log         *zap.Logger
	invoiceRepo repo.InvoiceRepo
	attemptRepo repo.AttemptRepo
	mpesa       *payment.MpesaClient
	flutterwave *payment.FlutterwaveClient
	redirectURL string
}

func NewInitiateService(
	log *zap.Logger,
	invoiceRepo repo.InvoiceRepo,
	attemptRepo repo.AttemptRepo,
	mpesa *payment.MpesaClient,
	flutterwave *payment.FlutterwaveClient,
	redirectURL string,
) *InitiateService {
	return &InitiateService{
		log:         log,
		invoiceRepo: invoiceRepo,
		attemptRepo: attemptRepo,
		mpesa:       mpesa,
		flutterwave: flutterwave,
		redirectURL: redirectURL,
	}
}

// InitiateMpesa starts an STK push against the invoice. The correlation
// reference is Daraja's CheckoutRequestID, issued synchronously at accept
// time, so the pending row can only exist for a charge the provider knows.
func (s *InitiateService) InitiateMpesa(ctx context.Context, caller domain.Caller, invoiceID uuid.UUID, phoneNumber string, amount decimal.Decimal) (*MpesaInitiation, error) {
	if !mpesaPhonePattern.MatchString(phoneNumber) {
		return nil, ErrInvalidRequest
	}
	invoice, err := s.loadAuthorized(ctx, caller, invoiceID, amount)
	if err != nil {
		return nil, err
	}

	resp, err := s.mpesa.STKPush(ctx, phoneNumber, amount, invoiceID.String())
	if err != nil {
		s.log.Warn("stk push failed", zap.Stringer("invoice_id", invoiceID), zap.Error(err))
		return nil, ErrGatewayRejected
	}

	metadata, _ := json.Marshal(resp)
	if err := s.recordPending(ctx, domain.GatewayMpesa, invoice, caller, amount, resp.CheckoutRequestID, metadata); err != nil {
		return nil, err
	}

	return &MpesaInitiation{
		CorrelationRef:  resp.CheckoutRequestID,
		CustomerMessage: resp.CustomerMessage,
	}, nil
}

// InitiateFlutterwave creates a hosted payment page for the invoice. The
// correlation reference is merchant-generated and guaranteed fresh by the
// nanosecond suffix.
func (s *InitiateService) InitiateFlutterwave(ctx context.Context, caller domain.Caller, invoiceID uuid.UUID, amount decimal.Decimal, customer payment.Customer) (*FlutterwaveInitiation, error) {
	if customer.Email == "" || customer.Name == "" {
		return nil, ErrInvalidRequest
	}
	invoice, err := s.loadAuthorized(ctx, caller, invoiceID, amount)
	if err != nil {
		return nil, err
	}

	txRef := fmt.Sprintf("AFRICOREX_INV_%s_%d", invoiceID, time.Now().UnixNano())

	link, err := s.flutterwave.InitiatePayment(ctx, payment.InitiateRequest{
		TxRef:       txRef,
		Amount:      amount,
		Currency:    invoice.Currency,
		RedirectURL: fmt.Sprintf("%s/client/invoices/%s?payment_status=success", s.redirectURL, invoiceID),
		Customer:    customer,
		Meta: map[string]string{
			"invoice_id": invoiceID.String(),
			"user_id":    caller.UserID.String(),
		},
	})
	if err != nil {
		s.log.Warn("flutterwave initiation failed", zap.Stringer("invoice_id", invoiceID), zap.Error(err))
		return nil, ErrGatewayRejected
	}

	if err := s.recordPending(ctx, domain.GatewayFlutterwave, invoice, caller, amount, txRef, nil); err != nil {
		return nil, err
	}

	return &FlutterwaveInitiation{CorrelationRef: txRef, PaymentLink: link}, nil
}

func (s *InitiateService) loadAuthorized(ctx context.Context, caller domain.Caller, invoiceID uuid.UUID, amount decimal.Decimal) (*domain.Invoice, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidRequest
	}

	invoice, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccessInvoice(invoice.UserID) {
		return nil, ErrForbidden
	}
	return invoice, nil
}

func (s *InitiateService) recordPending(ctx context.Context, gateway domain.Gateway, invoice *domain.Invoice, caller domain.Caller, amount decimal.Decimal, correlationRef string, metadata json.RawMessage) error {
	now := time.Now().UTC()
	attempt := &domain.PaymentAttempt{
		ID:             uuid.New(),
		Gateway:        gateway,
		InvoiceID:      invoice.ID,
		PayerID:        caller.UserID,
		Amount:         amount,
		Currency:       invoice.Currency,
		CorrelationRef: correlationRef,
		Metadata:       metadata,
		Status:         domain.AttemptPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.attemptRepo.CreatePending(ctx, attempt); err != nil {
		// The charge exists provider-side at this point. Log everything
		// needed to re-create the row by hand from provider statements.
		s.log.Error("pending ledger write failed after gateway accept",
			zap.String("gateway", string(gateway)),
			zap.String("correlation_ref", correlationRef),
			zap.Error(err))
		return InitiateError.Wrap(err)
	}
	return nil
}
