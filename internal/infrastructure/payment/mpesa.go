package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"africorex-crm/internal/domain"
)

// MpesaConfig carries the Daraja API credentials. Sandbox base URL is
// https://sandbox.safaricom.co.ke, production https://api.safaricom.co.ke.
type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Passkey        string
	Shortcode      string
	CallbackURL    string
	Timeout        time.Duration
}

// MpesaClient talks to the Daraja STK push API.
type MpesaClient struct {
	log    *zap.Logger
	cfg    MpesaConfig
	client *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewMpesaClient(log *zap.Logger, cfg MpesaConfig) *MpesaClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &MpesaClient{
		log:    log,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type mpesaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (c *MpesaClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", Error.Wrap(err)
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+auth)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", Error.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", Error.New("token request failed: %d - %s", resp.StatusCode, body)
	}

	var tok mpesaTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", Error.Wrap(err)
	}

	c.token = tok.AccessToken
	// Daraja tokens last an hour; refresh a bit early.
	c.tokenExpiry = time.Now().Add(50 * time.Minute)
	return c.token, nil
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// STKPushResponse is Daraja's synchronous accept/reject answer. The
// CheckoutRequestID is the correlation reference for the eventual callback.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// STKPush asks Daraja to prompt the phone for payment against the invoice.
func (c *MpesaClient) STKPush(ctx context.Context, phoneNumber string, amount decimal.Decimal, invoiceID string) (*STKPushResponse, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(c.cfg.Shortcode + c.cfg.Passkey + timestamp))

	payload := stkPushRequest{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount.String(),
		PartyA:            phoneNumber,
		PartyB:            c.cfg.Shortcode,
		PhoneNumber:       phoneNumber,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  invoiceID,
		TransactionDesc:   "Payment for Invoice " + invoiceID,
	}

	var out STKPushResponse
	if err := c.post(ctx, token, "/mpesa/stkpush/v1/processrequest", payload, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" {
		return nil, Error.New("stk push rejected: %s - %s", out.ResponseCode, out.ResponseDescription)
	}
	return &out, nil
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode      string `json:"ResponseCode"`
	ResultCode        string `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// CheckStatus queries Daraja for the state of a push that never called back.
func (c *MpesaClient) CheckStatus(ctx context.Context, correlationRef string) (domain.AttemptStatus, string, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return domain.AttemptPending, "", err
	}

	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(c.cfg.Shortcode + c.cfg.Passkey + timestamp))

	payload := stkQueryRequest{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: correlationRef,
	}

	var out stkQueryResponse
	if err := c.post(ctx, token, "/mpesa/stkpushquery/v1/query", payload, &out); err != nil {
		return domain.AttemptPending, "", err
	}

	switch out.ResultCode {
	case "0":
		return domain.AttemptSuccessful, "", nil
	case "":
		// Transaction still being processed.
		return domain.AttemptPending, "", nil
	default:
		return domain.AttemptFailed, "", nil
	}
}

func (c *MpesaClient) post(ctx context.Context, token, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return Error.Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return Error.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return Error.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Warn("daraja request failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody))
		return Error.New("daraja %s failed: %d", path, resp.StatusCode)
	}

	return Error.Wrap(json.NewDecoder(resp.Body).Decode(out))
}

// mpesaCallbackEnvelope mirrors the Daraja STK callback shape.
type mpesaCallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string      `json:"MerchantRequestID"`
			CheckoutRequestID string      `json:"CheckoutRequestID"`
			ResultCode        json.Number `json:"ResultCode"`
			ResultDesc        string      `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseMpesaCallback decodes a Daraja STK callback into the normalized form.
// ResultCode 0 is success; the receipt number and amount ride in the
// CallbackMetadata items.
func ParseMpesaCallback(raw []byte) (Callback, error) {
	var env mpesaCallbackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Callback{}, ErrMalformedCallback
	}

	cb := env.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return Callback{}, ErrMalformedCallback
	}

	out := Callback{
		Gateway:        domain.GatewayMpesa,
		CorrelationRef: cb.CheckoutRequestID,
		Outcome:        domain.AttemptFailed,
		Raw:            json.RawMessage(raw),
	}

	if cb.ResultCode.String() != "0" {
		return out, nil
	}

	out.Outcome = domain.AttemptSuccessful
	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			var receipt string
			if err := json.Unmarshal(item.Value, &receipt); err == nil {
				out.ProviderRef = receipt
			}
		case "Amount":
			// Daraja sends the amount as a bare number.
			amount, err := decimal.NewFromString(strings.TrimSpace(string(item.Value)))
			if err == nil {
				out.Amount = amount
			}
		}
	}
	return out, nil
}

var _ StatusChecker = (*MpesaClient)(nil)

// MpesaAck is the acknowledgment body Daraja expects. The contract is
// "always 200": a non-200 answer makes Daraja retry and can amplify.
type MpesaAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func MpesaAckOK() MpesaAck {
	return MpesaAck{ResultCode: 0, ResultDesc: "Callback received successfully"}
}

func MpesaAckRejected(desc string) MpesaAck {
	return MpesaAck{ResultCode: 1, ResultDesc: fmt.Sprintf("Rejected: %s", desc)}
}
