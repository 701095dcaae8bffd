package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appErrors "github.com/e-lglioui/giao-long-api/pkg/errors"
)

// ClientConfig configures the provider HTTP client.
type ClientConfig struct {
	SecretKey        string
	WebhookSecret    string
	BaseURL          string
	Timeout          time.Duration
	WebhookTolerance time.Duration
}

// Client talks to a Stripe-style payment provider over its REST API.
type Client struct {
	secretKey        string
	webhookSecret    string
	baseURL          string
	webhookTolerance time.Duration
	http             *http.Client
}

// NewClient constructs a provider client with a bounded request timeout.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Client{
		secretKey:        cfg.SecretKey,
		webhookSecret:    cfg.WebhookSecret,
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		webhookTolerance: tolerance,
		http:             &http.Client{Timeout: timeout},
	}
}

// CreateCustomer registers a customer with the provider and returns its reference.
func (c *Client) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("name", name)

	var out struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/customers", form, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// CreateIntent opens a payment intent for the given amount and customer.
func (c *Client) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if req.Amount <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "intent amount must be positive")
	}
	if len(req.Currency) != 3 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "currency must be a 3-letter code")
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(toMinorUnits(req.Amount), 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("customer", req.CustomerID)
	form.Add("payment_method_types[]", "card")
	form.Set("setup_future_usage", "off_session")
	form.Set("metadata[user_id]", req.Metadata.UserID)
	form.Set("metadata[school_id]", req.Metadata.SchoolID)
	form.Set("metadata[enrollment_type]", req.Metadata.EnrollmentType)
	if len(req.Metadata.ClassIDs) > 0 {
		form.Set("metadata[class_ids]", strings.Join(req.Metadata.ClassIDs, ","))
	}

	var out struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
		Status       string `json:"status"`
	}
	if err := c.post(ctx, "/payment_intents", form, &out); err != nil {
		return nil, err
	}
	return &Intent{ID: out.ID, ClientSecret: out.ClientSecret, Status: out.Status}, nil
}

// ConfirmIntent confirms the intent and resolves the resulting charge receipt.
func (c *Client) ConfirmIntent(ctx context.Context, intentID string) (*Confirmation, error) {
	var confirmed struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := c.post(ctx, "/payment_intents/"+intentID+"/confirm", url.Values{}, &confirmed); err != nil {
		return nil, err
	}

	var charges struct {
		Data []struct {
			ID         string `json:"id"`
			ReceiptURL string `json:"receipt_url"`
		} `json:"data"`
	}
	query := url.Values{}
	query.Set("payment_intent", intentID)
	if err := c.get(ctx, "/charges", query, &charges); err != nil {
		return nil, err
	}

	confirmation := &Confirmation{IntentID: confirmed.ID}
	if len(charges.Data) > 0 {
		confirmation.ChargeID = charges.Data[0].ID
		confirmation.ReceiptURL = charges.Data[0].ReceiptURL
	}
	return confirmation, nil
}

// Refund reverses a confirmed intent and returns the refund reference.
func (c *Client) Refund(ctx context.Context, intentID, reason string) (string, error) {
	form := url.Values{}
	form.Set("payment_intent", intentID)
	if reason != "" {
		form.Set("reason", reason)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/refunds", form, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "build provider request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "build provider request")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return appErrors.Wrap(err, appErrors.ErrProviderUnavailable.Code, appErrors.ErrProviderUnavailable.Status, "provider request timed out")
		}
		return appErrors.Wrap(err, appErrors.ErrProviderUnavailable.Code, appErrors.ErrProviderUnavailable.Status, "provider unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrProviderUnavailable.Code, appErrors.ErrProviderUnavailable.Status, "read provider response")
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return appErrors.Clone(appErrors.ErrProviderUnavailable, fmt.Sprintf("provider returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return appErrors.Clone(appErrors.ErrProviderRejected, providerErrorMessage(body))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return appErrors.Wrap(err, appErrors.ErrProviderUnavailable.Code, appErrors.ErrProviderUnavailable.Status, "decode provider response")
	}
	return nil
}

func providerErrorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return "payment provider rejected the request"
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
