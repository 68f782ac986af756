package payment

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"africorex-crm/internal/domain"
)

// ErrEventIgnored marks webhook events other than charge.completed; they are
// acknowledged but never reach the ledger.
var ErrEventIgnored = errs.New("event not handled")

// FlutterwaveConfig carries the v3 API credentials. SecretHash is the value
// Flutterwave echoes back in the verif-hash webhook header.
type FlutterwaveConfig struct {
	BaseURL    string
	SecretKey  string
	SecretHash string
	Timeout    time.Duration
}

// FlutterwaveClient talks to the Flutterwave v3 hosted-payment API.
type FlutterwaveClient struct {
	log    *zap.Logger
	cfg    FlutterwaveConfig
	client *http.Client
}

func NewFlutterwaveClient(log *zap.Logger, cfg FlutterwaveConfig) *FlutterwaveClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &FlutterwaveClient{
		log:    log,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// InitiateRequest is the hosted-payment-page request. TxRef is the merchant
// correlation reference.
type InitiateRequest struct {
	TxRef       string            `json:"tx_ref"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	RedirectURL string            `json:"redirect_url"`
	Customer    Customer          `json:"customer"`
	Meta        map[string]string `json:"meta,omitempty"`
}

type Customer struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phonenumber,omitempty"`
	Name        string `json:"name"`
}

type initiateResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Link string `json:"link"`
	} `json:"data"`
}

// InitiatePayment creates a hosted payment page and returns its link.
func (c *FlutterwaveClient) InitiatePayment(ctx context.Context, req InitiateRequest) (string, error) {
	var out initiateResponse
	if err := c.do(ctx, http.MethodPost, "/payments", req, &out); err != nil {
		return "", err
	}
	if out.Status != "success" || out.Data.Link == "" {
		return "", Error.New("payment initiation rejected: %s", out.Message)
	}
	return out.Data.Link, nil
}

type verifyResponse struct {
	Status string `json:"status"`
	Data   struct {
		TxRef  string `json:"tx_ref"`
		FlwRef string `json:"flw_ref"`
		Status string `json:"status"`
	} `json:"data"`
}

// CheckStatus verifies a transaction by its tx_ref, for attempts whose
// webhook never arrived.
func (c *FlutterwaveClient) CheckStatus(ctx context.Context, correlationRef string) (domain.AttemptStatus, string, error) {
	path := "/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(correlationRef)

	var out verifyResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return domain.AttemptPending, "", err
	}

	switch out.Data.Status {
	case "successful":
		return domain.AttemptSuccessful, out.Data.FlwRef, nil
	case "failed":
		return domain.AttemptFailed, out.Data.FlwRef, nil
	default:
		return domain.AttemptPending, out.Data.FlwRef, nil
	}
}

func (c *FlutterwaveClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Error.Wrap(err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return Error.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return Error.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Warn("flutterwave request failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody))
		return Error.New("flutterwave %s failed: %d", path, resp.StatusCode)
	}

	return Error.Wrap(json.NewDecoder(resp.Body).Decode(out))
}

// VerifyWebhookSignature checks the verif-hash header against the configured
// secret hash. Constant-time; an empty configured hash never verifies.
func (c *FlutterwaveClient) VerifyWebhookSignature(header string) bool {
	if c.cfg.SecretHash == "" || header == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header), []byte(c.cfg.SecretHash)) == 1
}

type flutterwaveWebhookEnvelope struct {
	Event string `json:"event"`
	Data  struct {
		TxRef    string          `json:"tx_ref"`
		FlwRef   string          `json:"flw_ref"`
		Status   string          `json:"status"`
		Amount   json.Number     `json:"amount"`
		Currency string          `json:"currency"`
		Meta     json.RawMessage `json:"meta"`
	} `json:"data"`
}

// ParseFlutterwaveWebhook decodes a v3 webhook into the normalized form.
// Events other than charge.completed return ErrEventIgnored.
func ParseFlutterwaveWebhook(raw []byte) (Callback, error) {
	var env flutterwaveWebhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Callback{}, ErrMalformedCallback
	}

	if env.Event != "charge.completed" {
		return Callback{}, ErrEventIgnored
	}
	if env.Data.TxRef == "" {
		return Callback{}, ErrMalformedCallback
	}

	outcome := domain.AttemptFailed
	if env.Data.Status == "successful" {
		outcome = domain.AttemptSuccessful
	}

	out := Callback{
		Gateway:        domain.GatewayFlutterwave,
		CorrelationRef: env.Data.TxRef,
		Outcome:        outcome,
		ProviderRef:    env.Data.FlwRef,
		Raw:            json.RawMessage(raw),
	}

	if s := env.Data.Amount.String(); s != "" {
		if amount, err := decimal.NewFromString(s); err == nil {
			out.Amount = amount
		}
	}
	return out, nil
}

var _ StatusChecker = (*FlutterwaveClient)(nil)
