package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"africorex-crm/internal/infrastructure/payment"
	"africorex-crm/internal/server"
	"africorex-crm/internal/service"
)

type recordingIngestor struct {
	calls []payment.Callback
	err   error
}

func (r *recordingIngestor) Ingest(ctx context.Context, cb payment.Callback) error {
	r.calls = append(r.calls, cb)
	return r.err
}

const callbackToken = "cb-secret"

func newWebhookTestServer(t *testing.T, ingestor service.Ingestor) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zaptest.NewLogger(t)
	flutterwave := payment.NewFlutterwaveClient(log, payment.FlutterwaveConfig{
		BaseURL:    "http://unused.invalid",
		SecretKey:  "sk",
		SecretHash: "flw-secret-hash",
	})

	srv := server.New(log, server.Config{
		Addr:                ":0",
		AllowedOrigins:      []string{"http://localhost"},
		MpesaCallbackSecret: callbackToken,
	}, nil, server.NewHMACVerifier("session-secret"), nil, nil, ingestor, nil, flutterwave)

	return srv.Routes()
}

func postJSON(engine *gin.Engine, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

const mpesaCallbackBody = `{
	"Body": {"stkCallback": {
		"MerchantRequestID": "1",
		"CheckoutRequestID": "ws_CO_handler",
		"ResultCode": 0,
		"ResultDesc": "ok",
		"CallbackMetadata": {"Item": [
			{"Name": "Amount", "Value": 100.00},
			{"Name": "MpesaReceiptNumber", "Value": "RCPT"}
		]}
	}}
}`

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) payment.MpesaAck {
	t.Helper()
	var ack payment.MpesaAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	return ack
}

func TestMpesaCallback_OK(t *testing.T) {
	ingestor := &recordingIngestor{}
	engine := newWebhookTestServer(t, ingestor)

	rec := postJSON(engine, "/api/payments/mpesa/callback/"+callbackToken, mpesaCallbackBody, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, decodeAck(t, rec).ResultCode)

	require.Len(t, ingestor.calls, 1)
	require.Equal(t, "ws_CO_handler", ingestor.calls[0].CorrelationRef)
}

func TestMpesaCallback_BadTokenStillAnswers200(t *testing.T) {
	ingestor := &recordingIngestor{}
	engine := newWebhookTestServer(t, ingestor)

	rec := postJSON(engine, "/api/payments/mpesa/callback/wrong", mpesaCallbackBody, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, decodeAck(t, rec).ResultCode)
	require.Empty(t, ingestor.calls, "unauthenticated callback must never reach the ledger")
}

func TestMpesaCallback_MalformedStillAnswers200(t *testing.T) {
	ingestor := &recordingIngestor{}
	engine := newWebhookTestServer(t, ingestor)

	rec := postJSON(engine, "/api/payments/mpesa/callback/"+callbackToken, `{"Body":{}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, decodeAck(t, rec).ResultCode)
	require.Empty(t, ingestor.calls)
}

func TestMpesaCallback_UnknownAttemptStillAnswers200(t *testing.T) {
	ingestor := &recordingIngestor{err: service.ErrUnknownAttempt}
	engine := newWebhookTestServer(t, ingestor)

	rec := postJSON(engine, "/api/payments/mpesa/callback/"+callbackToken, mpesaCallbackBody, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, decodeAck(t, rec).ResultCode)
}

const flwWebhookBody = `{
	"event": "charge.completed",
	"data": {"tx_ref": "ref-handler", "flw_ref": "flw-1", "status": "successful", "amount": 100, "currency": "KES"}
}`

func TestFlutterwaveWebhook_OK(t *testing.T) {
	ingestor := &recordingIngestor{}
	engine := newWebhookTestServer(t, ingestor)

	rec := postJSON(engine, "/api/payments/flutterwave/webhook", flwWebhookBody,
		map[string]string{"verif-hash": "flw-secret-hash"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ingestor.calls, 1)
	require.Equal(t, "ref-handler", ingestor.calls[0].CorrelationRef)
}

func TestFlutterwaveWebhook_BadSignatureRejected(t *testing.T) {
	ingestor := &recordingIngestor{}
	engine := newWebhookTestServer(t, ingestor)

	for _, hash := range []string{"", "wrong-hash"} {
		rec := postJSON(engine, "/api/payments/flutterwave/webhook", flwWebhookBody,
			map[string]string{"verif-hash": hash})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	require.Empty(t, ingestor.calls, "unauthenticated webhook must never reach the ledger")
}

func TestFlutterwaveWebhook_IgnoredEvent(t *testing.T) {
	ingestor := &recordingIngestor{}
	engine := newWebhookTestServer(t, ingestor)

	body := `{"event":"transfer.completed","data":{"tx_ref":"x"}}`
	rec := postJSON(engine, "/api/payments/flutterwave/webhook", body,
		map[string]string{"verif-hash": "flw-secret-hash"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, ingestor.calls)
}

func TestFlutterwaveWebhook_MalformedRejectedForRetry(t *testing.T) {
	ingestor := &recordingIngestor{}
	engine := newWebhookTestServer(t, ingestor)

	rec := postJSON(engine, "/api/payments/flutterwave/webhook", `{"event":"charge.completed","data":{}}`,
		map[string]string{"verif-hash": "flw-secret-hash"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, ingestor.calls)
}

func TestFlutterwaveWebhook_UnknownAttempt(t *testing.T) {
	ingestor := &recordingIngestor{err: service.ErrUnknownAttempt}
	engine := newWebhookTestServer(t, ingestor)

	rec := postJSON(engine, "/api/payments/flutterwave/webhook", flwWebhookBody,
		map[string]string{"verif-hash": "flw-secret-hash"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFlutterwaveWebhook_IngestErrorTriggersRetry(t *testing.T) {
	ingestor := &recordingIngestor{err: service.IngestError.New("db down")}
	engine := newWebhookTestServer(t, ingestor)

	rec := postJSON(engine, "/api/payments/flutterwave/webhook", flwWebhookBody,
		map[string]string{"verif-hash": "flw-secret-hash"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
