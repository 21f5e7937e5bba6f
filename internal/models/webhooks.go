package models

import (
	"encoding/json"
	"time"
)

// WebhookSubscription asks the monitor to watch one formula evaluation
// and deliver its output whenever the value changes at the chain tip.
// LastOutput and LastBlockHeight track the most recently delivered value
// so unchanged re-evaluations are not re-sent.
type WebhookSubscription struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"account_id"`
	FormulaType     string          `json:"formula_type"`
	TargetAddress   string          `json:"target_address"`
	Formula         string          `json:"formula"`
	Args            string          `json:"args"`
	URL             string          `json:"url"`
	Secret          string          `json:"-"`
	Active          bool            `json:"active"`
	LastOutput      json.RawMessage `json:"last_output,omitempty"`
	LastBlockHeight uint64          `json:"last_block_height"`
	CreatedAt       time.Time       `json:"created_at"`
}

// WebhookDeliveryRecord logs one delivery attempt for a subscription.
type WebhookDeliveryRecord struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	BlockHeight    uint64          `json:"block_height"`
	Output         json.RawMessage `json:"output"`
	Succeeded      bool            `json:"succeeded"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
