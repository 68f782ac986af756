package payment_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"africorex-crm/internal/domain"
	"africorex-crm/internal/infrastructure/payment"
)

const mpesaSuccessCallback = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "ws_CO_191220191020363925",
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"CallbackMetadata": {
				"Item": [
					{"Name": "Amount", "Value": 400.00},
					{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
					{"Name": "TransactionDate", "Value": 20191219102115},
					{"Name": "PhoneNumber", "Value": 254708374149}
				]
			}
		}
	}
}`

const mpesaFailedCallback = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "ws_CO_191220191020363925",
			"ResultCode": 1032,
			"ResultDesc": "Request cancelled by user."
		}
	}
}`

func TestParseMpesaCallback_Success(t *testing.T) {
	cb, err := payment.ParseMpesaCallback([]byte(mpesaSuccessCallback))
	require.NoError(t, err)

	require.Equal(t, domain.GatewayMpesa, cb.Gateway)
	require.Equal(t, "ws_CO_191220191020363925", cb.CorrelationRef)
	require.Equal(t, domain.AttemptSuccessful, cb.Outcome)
	require.Equal(t, "NLJ7RT61SV", cb.ProviderRef)
	require.True(t, cb.Amount.Equal(decimal.RequireFromString("400.00")))
	require.JSONEq(t, mpesaSuccessCallback, string(cb.Raw))
}

func TestParseMpesaCallback_Failed(t *testing.T) {
	cb, err := payment.ParseMpesaCallback([]byte(mpesaFailedCallback))
	require.NoError(t, err)

	require.Equal(t, domain.AttemptFailed, cb.Outcome)
	require.Empty(t, cb.ProviderRef)
}

func TestParseMpesaCallback_Malformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{}`,
		`{"Body": {"stkCallback": {"ResultCode": 0}}}`,
	} {
		_, err := payment.ParseMpesaCallback([]byte(raw))
		require.ErrorIs(t, err, payment.ErrMalformedCallback, "payload: %s", raw)
	}
}

const flutterwaveSuccessWebhook = `{
	"event": "charge.completed",
	"data": {
		"id": 285959875,
		"tx_ref": "AFRICOREX_INV_abc_1700000000000000000",
		"flw_ref": "PeterEkene/FLW270177170",
		"amount": 600,
		"currency": "KES",
		"status": "successful",
		"meta": {"invoice_id": "abc"}
	}
}`

func TestParseFlutterwaveWebhook_Success(t *testing.T) {
	cb, err := payment.ParseFlutterwaveWebhook([]byte(flutterwaveSuccessWebhook))
	require.NoError(t, err)

	require.Equal(t, domain.GatewayFlutterwave, cb.Gateway)
	require.Equal(t, "AFRICOREX_INV_abc_1700000000000000000", cb.CorrelationRef)
	require.Equal(t, domain.AttemptSuccessful, cb.Outcome)
	require.Equal(t, "PeterEkene/FLW270177170", cb.ProviderRef)
	require.True(t, cb.Amount.Equal(decimal.NewFromInt(600)))
}

func TestParseFlutterwaveWebhook_FailedCharge(t *testing.T) {
	raw := `{"event":"charge.completed","data":{"tx_ref":"ref-1","flw_ref":"flw-1","status":"failed","amount":100,"currency":"KES"}}`
	cb, err := payment.ParseFlutterwaveWebhook([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, domain.AttemptFailed, cb.Outcome)
}

func TestParseFlutterwaveWebhook_IgnoredEvent(t *testing.T) {
	raw := `{"event":"transfer.completed","data":{"tx_ref":"ref-1"}}`
	_, err := payment.ParseFlutterwaveWebhook([]byte(raw))
	require.ErrorIs(t, err, payment.ErrEventIgnored)
}

func TestParseFlutterwaveWebhook_Malformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"event":"charge.completed","data":{}}`,
	} {
		_, err := payment.ParseFlutterwaveWebhook([]byte(raw))
		require.ErrorIs(t, err, payment.ErrMalformedCallback, "payload: %s", raw)
	}
}
