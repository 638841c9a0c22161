// Package events publishes committed ledger events for downstream consumers.
// Publication happens after the store commit and is best effort: the store is
// the source of truth.
package events

import (
	"context"
	"time"
)

const (
	TypePurchaseRecorded   = "ledger.purchase_recorded"
	TypeWasteRecorded      = "ledger.waste_recorded"
	TypeProductionExecuted = "ledger.production_executed"
	TypeSaleRecorded       = "ledger.sale_recorded"
)

type Event struct {
	ID         string    `json:"event_id"`
	Type       string    `json:"event_type"`
	Key        string    `json:"key"`
	DateKey    string    `json:"date_key"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
