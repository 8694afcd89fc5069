package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rajchinnag/Death-Switch/internal/model"
)

// WebhookChannel posts a JSON envelope per recipient to a fixed URL. The
// recipient is identified by email.
type WebhookChannel struct {
	url    string
	client *resty.Client
}

func NewWebhookChannel(url string, timeout time.Duration) (*WebhookChannel, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: webhook channel: empty url", model.ErrConfiguration)
	}
	return &WebhookChannel{url: url, client: newRESTClient("", timeout)}, nil
}

func (w *WebhookChannel) Name() string         { return "webhook" }
func (w *WebhookChannel) Medium() model.Medium { return model.MediumEmail }

func (w *WebhookChannel) Send(ctx context.Context, to string, msg Message) error {
	return postJSON(ctx, w.client.R(), w.url, newEnvelope(to, msg))
}
