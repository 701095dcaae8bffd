package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	appErrors "github.com/e-lglioui/giao-long-api/pkg/errors"
)

// VerifyWebhookSignature checks the provider signature header against the raw
// payload and returns the decoded event. The header carries a unix timestamp
// and an HMAC-SHA256 of "<timestamp>.<payload>" keyed with the webhook secret:
//
//	t=1712000000,v1=5257a869e7...
//
// Unverifiable payloads are rejected with SignatureInvalid and no event is
// produced.
func (c *Client) VerifyWebhookSignature(payload []byte, signatureHeader string) (*Event, error) {
	ts, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return nil, err
	}

	if c.webhookTolerance > 0 {
		issued := time.Unix(ts, 0)
		if d := time.Since(issued); d > c.webhookTolerance || d < -c.webhookTolerance {
			return nil, appErrors.Clone(appErrors.ErrSignatureInvalid, "webhook timestamp outside tolerance")
		}
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	valid := false
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			valid = true
			break
		}
	}
	if !valid {
		return nil, appErrors.Clone(appErrors.ErrSignatureInvalid, "webhook signature mismatch")
	}

	return decodeEvent(payload)
}

func parseSignatureHeader(header string) (int64, []string, error) {
	if header == "" {
		return 0, nil, appErrors.Clone(appErrors.ErrSignatureInvalid, "missing signature header")
	}

	var ts int64
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, nil, appErrors.Clone(appErrors.ErrSignatureInvalid, "malformed signature timestamp")
			}
			ts = parsed
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if ts == 0 || len(signatures) == 0 {
		return 0, nil, appErrors.Clone(appErrors.ErrSignatureInvalid, "malformed signature header")
	}
	return ts, signatures, nil
}

func decodeEvent(payload []byte) (*Event, error) {
	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID       string            `json:"id"`
				Metadata map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrSignatureInvalid.Code, appErrors.ErrSignatureInvalid.Status, "malformed webhook payload")
	}

	return &Event{
		ID:       raw.ID,
		Type:     raw.Type,
		IntentID: raw.Data.Object.ID,
		Metadata: raw.Data.Object.Metadata,
	}, nil
}

// SignPayload produces a valid signature header for the payload. Intended for
// tests and local webhook replay tooling.
func SignPayload(secret string, issuedAt time.Time, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", issuedAt.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", issuedAt.Unix(), hex.EncodeToString(mac.Sum(nil)))
}
