package flutterwave

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/food-bundles/food-bundles-bn-sub001/payments"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, SecretKey: "FLWSECK_TEST-abc", Timeout: 2 * time.Second})
}

func TestInitiateMobileMoney(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/charges", r.URL.Path)
		assert.Equal(t, "mobile_money_rwanda", r.URL.Query().Get("type"))
		assert.Equal(t, "Bearer FLWSECK_TEST-abc", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"success","message":"Charge initiated","data":{"id":4410,"tx_ref":"ORD_1","flw_ref":"FLW-MOCK-1","status":"pending"},"meta":{"authorization":{"mode":"redirect","redirect":"https://checkout.example/momo"}}}`))
	})

	resp, err := c.InitiateMobileMoney(context.Background(), payments.MobileMoneyRequest{
		Reference: "ORD_1",
		Amount:    decimal.NewFromInt(2500),
		Currency:  "RWF",
		Phone:     "0788123456",
		Network:   payments.NetworkMTN,
	})
	require.NoError(t, err)
	assert.Equal(t, payments.StatusPending, resp.Status)
	assert.Equal(t, "FLW-MOCK-1", resp.ProviderReference)
	assert.Equal(t, "4410", resp.TransactionID)
	assert.Equal(t, "https://checkout.example/momo", resp.RedirectURL)
	assert.Equal(t, "ORD_1", got["tx_ref"])
	assert.Equal(t, "0788123456", got["phone_number"])
}

func TestChargeCardAuthModes(t *testing.T) {
	cases := []struct {
		mode string
		want payments.AuthMode
	}{
		{"redirect", payments.Auth3DSecure},
		{"otp", payments.AuthOTP},
		{"pin", payments.AuthPIN},
		{"", payments.AuthDirect},
	}
	for _, tc := range cases {
		t.Run(string(tc.want), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var body map[string]any
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "09", body["expiry_month"])
				assert.Equal(t, "32", body["expiry_year"])
				assert.Equal(t, "5531886652142950", body["card_number"])
				_ = json.NewEncoder(w).Encode(map[string]any{
					"status": "success",
					"data":   map[string]any{"id": 1, "flw_ref": "FLW-CARD", "status": "pending"},
					"meta":   map[string]any{"authorization": map[string]any{"mode": tc.mode, "redirect": "https://3ds.example"}},
				})
			})
			resp, err := c.ChargeCard(context.Background(), payments.CardRequest{
				Reference: "ORD_2",
				Amount:    decimal.NewFromInt(100),
				Card:      payments.CardInput{Number: "5531 8866 5214 2950", Expiry: "09/2032", CVV: "564"},
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.AuthMode)
		})
	}
}

func TestChargeCardRejectsBadExpiry(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:0"})
	_, err := c.ChargeCard(context.Background(), payments.CardRequest{Card: payments.CardInput{Number: "4242", Expiry: "2032"}})
	assert.Error(t, err)
}

func TestInitiateBankTransfer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bank_transfer", r.URL.Query().Get("type"))
		_, _ = w.Write([]byte(`{"status":"success","message":"Charge initiated","meta":{"authorization":{"transfer_reference":"MockFLWRef","transfer_account":"0067100155","transfer_bank":"Mock Bank","account_expiration":"2025-10-15 10:30:00","transfer_note":"Mock note","mode":"banktransfer"}}}`))
	})

	resp, err := c.InitiateBankTransfer(context.Background(), payments.BankTransferRequest{
		Reference: "ORD_3",
		Amount:    decimal.NewFromInt(2500),
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Account)
	assert.Equal(t, "0067100155", resp.Account.AccountNumber)
	assert.Equal(t, "Mock Bank", resp.Account.BankName)
	assert.Equal(t, 2025, resp.Account.ExpiresAt.Year())
}

func TestChargeErrorIsReturned(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","message":"Invalid phone number"}`))
	})
	_, err := c.InitiateMobileMoney(context.Background(), payments.MobileMoneyRequest{Reference: "ORD_4", Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid phone number")
}

func TestVerifyTransaction(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transactions/4410/verify":
		case "/transactions/verify_by_reference":
			assert.Equal(t, "ORD_1", r.URL.Query().Get("tx_ref"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"success","message":"Transaction fetched","data":{"id":4410,"tx_ref":"ORD_1","flw_ref":"FLW-MOCK-1","status":"successful","amount":2500,"currency":"RWF"}}`))
	})

	for _, id := range []string{"4410", "ORD_1"} {
		v, err := c.VerifyTransaction(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, payments.StatusSuccessful, v.Status)
		assert.Equal(t, "ORD_1", v.Reference)
		assert.True(t, v.Amount.Equal(decimal.NewFromInt(2500)))
	}
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, payments.StatusSuccessful, NormalizeStatus("SUCCESSFUL"))
	assert.Equal(t, payments.StatusFailed, NormalizeStatus("cancelled"))
	assert.Equal(t, payments.StatusPending, NormalizeStatus("pending"))
	assert.Equal(t, payments.StatusPending, NormalizeStatus(""))
}
