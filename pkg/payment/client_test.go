package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/e-lglioui/giao-long-api/pkg/errors"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(ClientConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: "whsec_test",
		BaseURL:       server.URL,
		Timeout:       2 * time.Second,
	})
	return client, server
}

func TestClientCreateIntent(t *testing.T) {
	var gotAuth, gotAmount, gotCurrency, gotSchool string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/payment_intents", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotAuth = r.Header.Get("Authorization")
		gotAmount = r.PostForm.Get("amount")
		gotCurrency = r.PostForm.Get("currency")
		gotSchool = r.PostForm.Get("metadata[school_id]")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"pi_1","client_secret":"pi_1_secret","status":"requires_confirmation"}`))
	}))

	intent, err := client.CreateIntent(context.Background(), IntentRequest{
		Amount:     50,
		Currency:   "EUR",
		CustomerID: "cus_1",
		Metadata:   Metadata{UserID: "u1", SchoolID: "sch1", EnrollmentType: "course"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", intent.ID)
	assert.Equal(t, "pi_1_secret", intent.ClientSecret)
	assert.Equal(t, "Bearer sk_test_123", gotAuth)
	assert.Equal(t, "5000", gotAmount)
	assert.Equal(t, "eur", gotCurrency)
	assert.Equal(t, "sch1", gotSchool)
}

func TestClientCreateIntentValidation(t *testing.T) {
	client := NewClient(ClientConfig{SecretKey: "sk", BaseURL: "http://localhost:0"})

	_, err := client.CreateIntent(context.Background(), IntentRequest{Amount: 0, Currency: "eur"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))

	_, err = client.CreateIntent(context.Background(), IntentRequest{Amount: 10, Currency: "euro"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
}

func TestClientConfirmIntentResolvesReceipt(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/payment_intents/pi_1/confirm":
			require.Equal(t, http.MethodPost, r.Method)
			w.Write([]byte(`{"id":"pi_1","status":"succeeded"}`))
		case "/charges":
			require.Equal(t, "pi_1", r.URL.Query().Get("payment_intent"))
			w.Write([]byte(`{"data":[{"id":"ch_1","receipt_url":"https://pay.example/r/ch_1"}]}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	confirmation, err := client.ConfirmIntent(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, "pi_1", confirmation.IntentID)
	assert.Equal(t, "ch_1", confirmation.ChargeID)
	assert.Equal(t, "https://pay.example/r/ch_1", confirmation.ReceiptURL)
}

func TestClientRejectedMapsToProviderRejected(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"message":"Your card was declined.","code":"card_declined"}}`))
	}))

	_, err := client.ConfirmIntent(context.Background(), "pi_1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrProviderRejected))
	assert.Contains(t, err.Error(), "card was declined")
}

func TestClientServerErrorMapsToProviderUnavailable(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.CreateCustomer(context.Background(), "user@example.com", "User")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrProviderUnavailable))
}

func TestClientTimeoutMapsToProviderUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{SecretKey: "sk", BaseURL: server.URL, Timeout: 20 * time.Millisecond})
	_, err := client.CreateCustomer(context.Background(), "user@example.com", "User")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrProviderUnavailable))
}
