package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"kitchenledger/internal/domain"
	"kitchenledger/internal/events"
)

const (
	kindPurchase   = "purchase"
	kindWaste      = "waste"
	kindProduction = "production"
	kindSale       = "sale"
)

// RecordPurchase adds stock and moves the item's cost to the purchase price.
func (s *Service) RecordPurchase(ctx context.Context, req domain.PurchaseRequest) (domain.PurchaseRecord, bool, error) {
	ctx, span := tracer.Start(ctx, "service.RecordPurchase")
	defer span.End()
	span.SetAttributes(attribute.String("inventory_item.id", req.InventoryItemID))

	itemID := strings.TrimSpace(req.InventoryItemID)
	if err := firstError(
		required("inventory_item_id", itemID),
		positive("quantity", req.Quantity),
		nonNegative("unit_cost", req.UnitCost),
	); err != nil {
		s.failed(ctx, span, kindPurchase, err)
		return domain.PurchaseRecord{}, false, err
	}

	now := s.now()
	cmd := domain.PurchaseCommand{
		Record: domain.PurchaseRecord{
			ID:              s.newID(),
			InventoryItemID: itemID,
			Quantity:        req.Quantity,
			UnitCost:        req.UnitCost,
			TotalCost:       req.Quantity.Mul(req.UnitCost),
			PurchaseDate:    now,
		},
		Commit: s.commit(now, req.IdempotencyKey),
	}

	var (
		record   domain.PurchaseRecord
		replayed bool
	)
	err := s.withRetry(ctx, kindPurchase, cmd.Commit.IdempotencyKey != "", func(ctx context.Context) error {
		var err error
		record, replayed, err = s.store.RecordPurchase(ctx, cmd)
		return err
	})
	if err != nil {
		s.failed(ctx, span, kindPurchase, err)
		return domain.PurchaseRecord{}, false, err
	}

	s.afterCommit(ctx, kindPurchase, replayed, s.event(events.TypePurchaseRecorded, record.InventoryItemID, now, cmd.Commit, record))
	return record, replayed, nil
}

// RecordWaste removes stock, never below zero, and books the loss on the
// current local day. The entry keeps the requested quantity even when the
// stock was clamped.
func (s *Service) RecordWaste(ctx context.Context, req domain.WasteRequest) (domain.WasteEntry, bool, error) {
	ctx, span := tracer.Start(ctx, "service.RecordWaste")
	defer span.End()
	span.SetAttributes(attribute.String("inventory_item.id", req.InventoryItemID))

	itemID := strings.TrimSpace(req.InventoryItemID)
	if err := firstError(
		required("inventory_item_id", itemID),
		positive("quantity", req.Quantity),
		nonNegative("unit_cost", req.UnitCost),
	); err != nil {
		s.failed(ctx, span, kindWaste, err)
		return domain.WasteEntry{}, false, err
	}

	now := s.now()
	totalCost := req.Quantity.Mul(req.UnitCost)
	cmd := domain.WasteCommand{
		Entry: domain.WasteEntry{
			ID:              s.newID(),
			InventoryItemID: itemID,
			Quantity:        req.Quantity,
			Reason:          strings.TrimSpace(req.Reason),
			UnitCost:        req.UnitCost,
			TotalCost:       totalCost,
			WasteDate:       now,
		},
		Delta:  domain.MetricsDelta{WastageLoss: totalCost},
		Commit: s.commit(now, req.IdempotencyKey),
	}

	var (
		entry    domain.WasteEntry
		replayed bool
	)
	err := s.withRetry(ctx, kindWaste, cmd.Commit.IdempotencyKey != "", func(ctx context.Context) error {
		var err error
		entry, replayed, err = s.store.RecordWaste(ctx, cmd)
		return err
	})
	if err != nil {
		s.failed(ctx, span, kindWaste, err)
		return domain.WasteEntry{}, false, err
	}

	s.afterCommit(ctx, kindWaste, replayed, s.event(events.TypeWasteRecorded, entry.InventoryItemID, now, cmd.Commit, entry))
	return entry, replayed, nil
}

// RecordSale books one order from the point of sale into the current local
// day: revenue, the order count, an optional dine-in table and one sales
// bucket per line.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResult, error) {
	ctx, span := tracer.Start(ctx, "service.RecordSale")
	defer span.End()

	if len(req.Items) == 0 {
		err := domain.NewValidationError("items", "at least one line is required")
		s.failed(ctx, span, kindSale, err)
		return domain.SaleResult{}, err
	}

	delta := domain.MetricsDelta{Orders: 1}
	if req.DineIn {
		delta.DineInTables = 1
	}
	revenue := decimal.Zero
	for _, line := range req.Items {
		name := strings.TrimSpace(line.Name)
		if err := firstError(
			required("items.name", name),
			positive("items.qty", line.Qty),
			nonNegative("items.unit_price", line.UnitPrice),
		); err != nil {
			s.failed(ctx, span, kindSale, err)
			return domain.SaleResult{}, err
		}
		lineRevenue := line.Qty.Mul(line.UnitPrice)
		revenue = revenue.Add(lineRevenue)
		delta.Items = append(delta.Items, domain.ItemSalesDelta{Name: name, Qty: line.Qty, Revenue: lineRevenue})
	}
	delta.Sales = revenue

	now := s.now()
	cmd := domain.SaleCommand{ID: s.newID(), Delta: delta, Commit: s.commit(now, req.IdempotencyKey)}

	var (
		saleID   string
		replayed bool
	)
	err := s.withRetry(ctx, kindSale, cmd.Commit.IdempotencyKey != "", func(ctx context.Context) error {
		var err error
		saleID, replayed, err = s.store.RecordSale(ctx, cmd)
		return err
	})
	if err != nil {
		s.failed(ctx, span, kindSale, err)
		return domain.SaleResult{}, err
	}

	result := domain.SaleResult{ID: saleID, DateKey: cmd.Commit.DateKey, Revenue: revenue, Replayed: replayed, At: now}
	if !replayed {
		s.metrics.AddRevenue(revenue.InexactFloat64())
	}
	s.afterCommit(ctx, kindSale, replayed, s.event(events.TypeSaleRecorded, saleID, now, cmd.Commit, delta))
	return result, nil
}

func required(field, value string) error {
	if value == "" {
		return domain.NewValidationError(field, "is required")
	}
	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
