package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"wasmscan/internal/models"
)

// Delivery dispatches one value-change notification for a subscription.
// Implementations must not mutate the payload.
type Delivery interface {
	Deliver(ctx context.Context, sub *models.WebhookSubscription, payload map[string]interface{}) error
}

// DirectDelivery POSTs the payload straight to the subscription URL,
// signed with the subscription secret: the signature is the hex HMAC-SHA256
// of "<timestamp>.<body>" and travels in X-Wasmscan-Signature next to
// X-Wasmscan-Timestamp.
type DirectDelivery struct {
	client *http.Client
}

var _ Delivery = (*DirectDelivery)(nil)

func NewDirectDelivery() *DirectDelivery {
	return &DirectDelivery{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func signPayload(secret string, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (d *DirectDelivery) Deliver(ctx context.Context, sub *models.WebhookSubscription, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Wasmscan-Timestamp", timestamp)
	req.Header.Set("X-Wasmscan-Signature", signPayload(sub.Secret, timestamp, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// NoopDelivery logs instead of delivering. Used when webhooks are enabled
// without a reachable backend, mainly in tests and local setups.
type NoopDelivery struct{}

var _ Delivery = (*NoopDelivery)(nil)

func (NoopDelivery) Deliver(_ context.Context, sub *models.WebhookSubscription, _ map[string]interface{}) error {
	log.Printf("[webhooks/noop] deliver: sub=%s url=%s", sub.ID, sub.URL)
	return nil
}
