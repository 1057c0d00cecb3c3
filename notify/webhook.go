package notify

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
)

// WebhookSink posts results to an incoming chat webhook (Teams style
// payload: a single "text" field).
type WebhookSink struct {
	URL    string
	Client *http.Client
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(url string, client *http.Client) *WebhookSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookSink{URL: url, Client: client}
}

func (s *WebhookSink) Send(msg Message) error {
	body, err := json.Marshal(map[string]string{"text": msg.Text()})
	if err != nil {
		return errors.Wrap(err, "encode webhook payload")
	}
	resp, err := s.Client.Post(s.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "post webhook")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
