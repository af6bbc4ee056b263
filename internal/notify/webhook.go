package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Webhook POSTs a JSON Message to URL.
type Webhook struct {
	URL    string
	Secret string
	Client *http.Client
	Now    func() time.Time
}

func NewWebhook(url, secret string, timeout time.Duration) *Webhook {
	return &Webhook{URL: url, Secret: secret, Client: &http.Client{Timeout: timeout}, Now: time.Now}
}

func (w *Webhook) Notify(ctx context.Context, approverID, requestID string) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	data, err := json.Marshal(newMessage(approverID, requestID, now()))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signoff-Event", messageType)
	req.Header.Set("X-Signoff-Delivery", uuid.NewString())
	if strings.TrimSpace(w.Secret) != "" {
		req.Header.Set("X-Signoff-Secret", w.Secret)
	}
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("webhook status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
