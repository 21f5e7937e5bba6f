package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"wasmscan/internal/compute"
	"wasmscan/internal/eventbus"
	"wasmscan/internal/models"
)

// Store is the compute surface the monitor evaluates against.
type Store interface {
	compute.EventStore
	compute.ComputationStore
}

// SubscriptionStore is the subscription state the monitor reads and
// advances.
type SubscriptionStore interface {
	ListActiveWebhookSubscriptions(ctx context.Context) ([]*models.WebhookSubscription, error)
	UpdateWebhookSubscriptionValue(ctx context.Context, id string, output []byte, blockHeight uint64) error
	LogWebhookDelivery(ctx context.Context, d *models.WebhookDeliveryRecord) error
}

// Notifier fans a value change out to connected websocket clients.
type Notifier interface {
	BroadcastComputationChange(payload interface{})
}

// Monitor re-checks every active subscription when the chain tip
// advances. Each check first tries to extend the subscription's stored
// computation to the new tip; only when a dependency changed does it
// recompute, persist the fresh result and deliver the new value.
type Monitor struct {
	store    Store
	subs     SubscriptionStore
	registry *compute.Registry
	delivery Delivery
	notifier Notifier

	codeIDSets            compute.CodeIDSets
	bankHistoryCodeIDKeys []string
}

func NewMonitor(store Store, subs SubscriptionStore, registry *compute.Registry, delivery Delivery,
	notifier Notifier, codeIDSets compute.CodeIDSets, bankHistoryCodeIDKeys []string) *Monitor {
	if delivery == nil {
		delivery = NoopDelivery{}
	}
	return &Monitor{
		store:                 store,
		subs:                  subs,
		registry:              registry,
		delivery:              delivery,
		notifier:              notifier,
		codeIDSets:            codeIDSets,
		bankHistoryCodeIDKeys: bankHistoryCodeIDKeys,
	}
}

// Run consumes block-advance events until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			state, valid := evt.Data.(*models.State)
			if !valid {
				continue
			}
			m.sweep(ctx, state)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context, state *models.State) {
	subs, err := m.subs.ListActiveWebhookSubscriptions(ctx)
	if err != nil {
		log.Printf("[webhooks] list subscriptions: %v", err)
		return
	}
	for _, sub := range subs {
		if err := m.check(ctx, sub, state); err != nil {
			log.Printf("[webhooks] subscription %s: %v", sub.ID, err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// check brings one subscription up to the tip and delivers its output if
// it differs from the last delivered value.
func (m *Monitor) check(ctx context.Context, sub *models.WebhookSubscription, state *models.State) error {
	typ, name, ok := strings.Cut(sub.Formula, "/")
	if !ok {
		return fmt.Errorf("malformed formula %q", sub.Formula)
	}
	formula, err := m.registry.Get(compute.FormulaType(typ), name)
	if err != nil {
		return err
	}

	var args map[string]string
	if sub.Args != "" && sub.Args != "{}" {
		if err := json.Unmarshal([]byte(sub.Args), &args); err != nil {
			return fmt.Errorf("decode args: %w", err)
		}
	}

	o := &compute.Options{
		Store:                 m.store,
		Formula:               formula,
		ChainID:               state.ChainID,
		TargetAddress:         sub.TargetAddress,
		Args:                  args,
		LatestBlockHeight:     state.LatestBlockHeight,
		CodeIDSets:            m.codeIDSets,
		BankHistoryCodeIDKeys: m.bankHistoryCodeIDKeys,
		// Monitor results are persisted, so dates must come from the block.
		UseBlockDate: true,
	}

	tip := state.LatestBlock()
	output, block, err := m.currentOutput(ctx, o, tip)
	if err != nil {
		return err
	}

	if bytes.Equal(normalizeOutput(sub.LastOutput), normalizeOutput(output)) {
		return nil
	}
	return m.deliver(ctx, sub, block, output)
}

// currentOutput returns the subscription's output at the tip, reusing the
// stored computation whenever its validity interval still covers it.
func (m *Monitor) currentOutput(ctx context.Context, o *compute.Options, tip models.Block) (json.RawMessage, models.Block, error) {
	c, err := m.store.GetComputation(ctx, o.TargetAddress, o.Formula.ID(), compute.CanonicalArgs(o.Args), tip.Height)
	if err != nil {
		return nil, models.Block{}, err
	}
	if c != nil {
		if _, err := compute.UpdateValidityUpToBlockHeight(ctx, m.store, m.store, c, tip.Height); err != nil {
			return nil, models.Block{}, err
		}
		if c.LatestBlockHeightValid >= tip.Height {
			return c.Output, c.Block(), nil
		}
	}

	out, err := compute.Compute(ctx, o, tip)
	if err != nil {
		return nil, models.Block{}, err
	}
	fresh, err := out.Computation(o.TargetAddress, o.Formula.ID(), compute.CanonicalArgs(o.Args))
	if err != nil {
		return nil, models.Block{}, err
	}
	if _, err := m.store.UpsertComputation(ctx, fresh); err != nil {
		return nil, models.Block{}, err
	}
	return fresh.Output, fresh.Block(), nil
}

func normalizeOutput(b []byte) []byte {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return b
}

func (m *Monitor) deliver(ctx context.Context, sub *models.WebhookSubscription, block models.Block, output json.RawMessage) error {
	payload := map[string]interface{}{
		"subscription_id": sub.ID,
		"target_address":  sub.TargetAddress,
		"formula":         sub.Formula,
		"block":           block,
		"value":           safeOutput(output),
	}

	deliverErr := m.delivery.Deliver(ctx, sub, payload)

	record := &models.WebhookDeliveryRecord{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		BlockHeight:    block.Height,
		Output:         safeOutput(output),
		Succeeded:      deliverErr == nil,
	}
	if deliverErr != nil {
		record.Error = deliverErr.Error()
	}
	if err := m.subs.LogWebhookDelivery(ctx, record); err != nil {
		log.Printf("[webhooks] log delivery for %s: %v", sub.ID, err)
	}

	if deliverErr != nil {
		return deliverErr
	}

	if err := m.subs.UpdateWebhookSubscriptionValue(ctx, sub.ID, output, block.Height); err != nil {
		return err
	}
	sub.LastOutput = output
	sub.LastBlockHeight = block.Height

	if m.notifier != nil {
		m.notifier.BroadcastComputationChange(payload)
	}
	return nil
}

func safeOutput(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage(`null`)
	}
	return b
}
