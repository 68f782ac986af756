package service_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"africorex-crm/internal/domain"
	"africorex-crm/internal/infrastructure/payment"
	"africorex-crm/internal/repo"
	"africorex-crm/internal/service"
)

type fakeInvoices struct {
	invoices map[uuid.UUID]*domain.Invoice
}

func newFakeInvoices(invoices ...*domain.Invoice) *fakeInvoices {
	f := &fakeInvoices{invoices: make(map[uuid.UUID]*domain.Invoice)}
	for _, inv := range invoices {
		f.invoices[inv.ID] = inv
	}
	return f
}

func (f *fakeInvoices) FindByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	inv, ok := f.invoices[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return inv, nil
}

func (f *fakeInvoices) FindByIDForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Invoice, error) {
	return f.FindByID(ctx, id)
}

func (f *fakeInvoices) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Invoice, error) {
	var out []domain.Invoice
	for _, inv := range f.invoices {
		if inv.UserID == ownerID {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (f *fakeInvoices) ListAll(ctx context.Context) ([]domain.Invoice, error) {
	var out []domain.Invoice
	for _, inv := range f.invoices {
		out = append(out, *inv)
	}
	return out, nil
}

func (f *fakeInvoices) Create(ctx context.Context, invoice *domain.Invoice) error {
	f.invoices[invoice.ID] = invoice
	return nil
}

func (f *fakeInvoices) UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.InvoiceStatus) error {
	inv, ok := f.invoices[id]
	if !ok {
		return repo.ErrNotFound
	}
	inv.Status = status
	return nil
}

func testInvoice(owner uuid.UUID, total string) *domain.Invoice {
	return &domain.Invoice{
		ID:            uuid.New(),
		UserID:        owner,
		InvoiceNumber: "INV-TEST0001",
		TotalAmount:   decimal.RequireFromString(total),
		Currency:      "KES",
		Status:        domain.InvoiceSent,
		IssueDate:     time.Now(),
	}
}

// darajaStub fakes the two Daraja endpoints initiation touches.
func darajaStub(t *testing.T, responseCode string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "test-token", "expires_in": "3599"})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"MerchantRequestID":   "29115-34620561-1",
			"CheckoutRequestID":   "ws_CO_stub_1",
			"ResponseCode":        responseCode,
			"ResponseDescription": "Accepted for processing",
			"CustomerMessage":     "Success. Request accepted for processing",
		})
	})
	return httptest.NewServer(mux)
}

func newInitiateService(t *testing.T, ledger *fakeLedger, invoices *fakeInvoices, mpesaURL, flwURL string) *service.InitiateService {
	log := zaptest.NewLogger(t)
	mpesa := payment.NewMpesaClient(log, payment.MpesaConfig{
		BaseURL:        mpesaURL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		Passkey:        "passkey",
		Shortcode:      "174379",
		CallbackURL:    "https://crm.example.com/api/payments/mpesa/callback/tok",
	})
	flutterwave := payment.NewFlutterwaveClient(log, payment.FlutterwaveConfig{
		BaseURL:    flwURL,
		SecretKey:  "FLWSECK_TEST",
		SecretHash: "hash",
	})
	return service.NewInitiateService(log, invoices, ledger, mpesa, flutterwave, "https://crm.example.com")
}

func TestInitiateMpesa_RecordsPendingAttempt(t *testing.T) {
	ctx := context.Background()
	daraja := darajaStub(t, "0")
	defer daraja.Close()

	owner := uuid.New()
	invoice := testInvoice(owner, "1000.00")
	ledger := newFakeLedger()
	svc := newInitiateService(t, ledger, newFakeInvoices(invoice), daraja.URL, "")

	result, err := svc.InitiateMpesa(ctx, domain.Caller{UserID: owner, Role: domain.RoleClient},
		invoice.ID, "254712345678", decimal.RequireFromString("400.00"))
	require.NoError(t, err)
	require.Equal(t, "ws_CO_stub_1", result.CorrelationRef)

	stored, err := ledger.FindByCorrelation(ctx, domain.GatewayMpesa, "ws_CO_stub_1")
	require.NoError(t, err)
	require.Equal(t, domain.AttemptPending, stored.Status)
	require.Equal(t, invoice.ID, stored.InvoiceID)
	require.True(t, stored.Amount.Equal(decimal.RequireFromString("400.00")))
}

func TestInitiateMpesa_InvalidPhone(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	invoice := testInvoice(uuid.New(), "1000.00")
	svc := newInitiateService(t, ledger, newFakeInvoices(invoice), "http://unused.invalid", "")

	for _, phone := range []string{"", "0712345678", "25471234567", "2547123456789", "+254712345678"} {
		_, err := svc.InitiateMpesa(ctx, domain.Caller{UserID: invoice.UserID, Role: domain.RoleClient},
			invoice.ID, phone, decimal.NewFromInt(10))
		require.ErrorIs(t, err, service.ErrInvalidRequest, "phone: %q", phone)
	}
	require.Empty(t, ledger.attempts)
}

func TestInitiateMpesa_NonPositiveAmount(t *testing.T) {
	ctx := context.Background()
	invoice := testInvoice(uuid.New(), "1000.00")
	svc := newInitiateService(t, newFakeLedger(), newFakeInvoices(invoice), "http://unused.invalid", "")

	_, err := svc.InitiateMpesa(ctx, domain.Caller{UserID: invoice.UserID, Role: domain.RoleClient},
		invoice.ID, "254712345678", decimal.Zero)
	require.ErrorIs(t, err, service.ErrInvalidRequest)
}

func TestInitiateMpesa_ForbiddenForStranger(t *testing.T) {
	ctx := context.Background()
	invoice := testInvoice(uuid.New(), "1000.00")
	ledger := newFakeLedger()
	svc := newInitiateService(t, ledger, newFakeInvoices(invoice), "http://unused.invalid", "")

	_, err := svc.InitiateMpesa(ctx, domain.Caller{UserID: uuid.New(), Role: domain.RoleClient},
		invoice.ID, "254712345678", decimal.NewFromInt(10))
	require.ErrorIs(t, err, service.ErrForbidden)
	require.Empty(t, ledger.attempts)
}

func TestInitiateMpesa_AdminMayPayAnyInvoice(t *testing.T) {
	ctx := context.Background()
	daraja := darajaStub(t, "0")
	defer daraja.Close()

	invoice := testInvoice(uuid.New(), "1000.00")
	svc := newInitiateService(t, newFakeLedger(), newFakeInvoices(invoice), daraja.URL, "")

	_, err := svc.InitiateMpesa(ctx, domain.Caller{UserID: uuid.New(), Role: domain.RoleAdmin},
		invoice.ID, "254712345678", decimal.NewFromInt(10))
	require.NoError(t, err)
}

func TestInitiateMpesa_GatewayRejectWritesNoRow(t *testing.T) {
	ctx := context.Background()
	daraja := darajaStub(t, "1")
	defer daraja.Close()

	invoice := testInvoice(uuid.New(), "1000.00")
	ledger := newFakeLedger()
	svc := newInitiateService(t, ledger, newFakeInvoices(invoice), daraja.URL, "")

	_, err := svc.InitiateMpesa(ctx, domain.Caller{UserID: invoice.UserID, Role: domain.RoleClient},
		invoice.ID, "254712345678", decimal.NewFromInt(10))
	require.ErrorIs(t, err, service.ErrGatewayRejected)
	require.Empty(t, ledger.attempts)
}

func TestInitiateFlutterwave_ReturnsHostedLink(t *testing.T) {
	ctx := context.Background()

	flw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payments", r.URL.Path)
		require.Equal(t, "Bearer FLWSECK_TEST", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req["tx_ref"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "success",
			"message": "Hosted Link",
			"data":    map[string]string{"link": "https://checkout.flutterwave.com/v3/hosted/pay/abc"},
		})
	}))
	defer flw.Close()

	owner := uuid.New()
	invoice := testInvoice(owner, "1000.00")
	ledger := newFakeLedger()
	svc := newInitiateService(t, ledger, newFakeInvoices(invoice), "", flw.URL)

	result, err := svc.InitiateFlutterwave(ctx, domain.Caller{UserID: owner, Role: domain.RoleClient},
		invoice.ID, decimal.RequireFromString("600.00"), payment.Customer{Email: "client@example.com", Name: "Client"})
	require.NoError(t, err)
	require.Equal(t, "https://checkout.flutterwave.com/v3/hosted/pay/abc", result.PaymentLink)
	require.Contains(t, result.CorrelationRef, "AFRICOREX_INV_"+invoice.ID.String())

	stored, err := ledger.FindByCorrelation(ctx, domain.GatewayFlutterwave, result.CorrelationRef)
	require.NoError(t, err)
	require.Equal(t, domain.AttemptPending, stored.Status)
}

func TestInitiateFlutterwave_MissingCustomer(t *testing.T) {
	ctx := context.Background()
	invoice := testInvoice(uuid.New(), "1000.00")
	svc := newInitiateService(t, newFakeLedger(), newFakeInvoices(invoice), "", "http://unused.invalid")

	_, err := svc.InitiateFlutterwave(ctx, domain.Caller{UserID: invoice.UserID, Role: domain.RoleClient},
		invoice.ID, decimal.NewFromInt(10), payment.Customer{})
	require.ErrorIs(t, err, service.ErrInvalidRequest)
}
