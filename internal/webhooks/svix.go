package webhooks

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	svix "github.com/svix/svix-webhooks/go"
	svixmodels "github.com/svix/svix-webhooks/go/models"

	"wasmscan/internal/models"
)

// SvixDelivery routes notifications through Svix for retries, signing and
// delivery logs. One Svix application per account (UID = account id), one
// endpoint per subscription. Endpoint ids are not persisted, so each
// process run registers a subscription's endpoint at most once.
type SvixDelivery struct {
	client *svix.Svix

	mu      sync.Mutex
	ensured map[string]bool // subscription id -> endpoint registered
}

var _ Delivery = (*SvixDelivery)(nil)

// NewSvixDelivery connects to Svix. With an empty serverURL the default
// cloud endpoint is used.
func NewSvixDelivery(authToken, serverURL string) (*SvixDelivery, error) {
	var opts *svix.SvixOptions
	if serverURL != "" {
		u, err := url.Parse(serverURL)
		if err != nil {
			return nil, fmt.Errorf("parse svix server url: %w", err)
		}
		opts = &svix.SvixOptions{ServerUrl: u}
	}

	client, err := svix.New(authToken, opts)
	if err != nil {
		return nil, fmt.Errorf("create svix client: %w", err)
	}
	return &SvixDelivery{client: client, ensured: make(map[string]bool)}, nil
}

func (d *SvixDelivery) ensureEndpoint(ctx context.Context, sub *models.WebhookSubscription) error {
	d.mu.Lock()
	done := d.ensured[sub.ID]
	d.mu.Unlock()
	if done {
		return nil
	}

	uid := sub.AccountID
	app, err := d.client.Application.GetOrCreate(ctx, svixmodels.ApplicationIn{
		Name: sub.AccountID,
		Uid:  &uid,
	}, nil)
	if err != nil {
		return fmt.Errorf("svix application: %w", err)
	}
	if _, err := d.client.Endpoint.Create(ctx, app.Id, svixmodels.EndpointIn{
		Url: sub.URL,
	}, nil); err != nil {
		return fmt.Errorf("svix endpoint: %w", err)
	}

	d.mu.Lock()
	d.ensured[sub.ID] = true
	d.mu.Unlock()
	return nil
}

func (d *SvixDelivery) Deliver(ctx context.Context, sub *models.WebhookSubscription, payload map[string]interface{}) error {
	if err := d.ensureEndpoint(ctx, sub); err != nil {
		return err
	}
	if _, err := d.client.Message.Create(ctx, sub.AccountID, svixmodels.MessageIn{
		EventType: "computation.changed",
		Payload:   payload,
	}, nil); err != nil {
		return fmt.Errorf("svix message: %w", err)
	}
	return nil
}
