package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"kitchenledger/internal/bom"
	"kitchenledger/internal/domain"
	"kitchenledger/internal/events"
)

// PreviewProduction scales a recipe against the current inventory list. The
// answer can be stale by the time a run is executed.
func (s *Service) PreviewProduction(ctx context.Context, recipeID string, target decimal.Decimal) (domain.BOMResult, error) {
	ctx, span := tracer.Start(ctx, "service.PreviewProduction")
	defer span.End()

	var (
		recipe    *domain.Recipe
		inventory []domain.InventoryItem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		recipe, err = s.store.GetRecipe(gctx, recipeID)
		return err
	})
	g.Go(func() error {
		var err error
		inventory, err = s.store.ListInventory(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return domain.BOMResult{}, err
	}
	return bom.Calculate(*recipe, target, inventory)
}

// ExecuteProduction runs a recipe for target output. The store locks every
// ingredient row, the bill of materials is recomputed against the locked rows
// and the run is rejected without writes if any item is short. Otherwise stock
// is deducted, the usage log is stored and COGS is booked, all in one commit.
func (s *Service) ExecuteProduction(ctx context.Context, req domain.ProductionRequest) (domain.UsageLog, bool, error) {
	ctx, span := tracer.Start(ctx, "service.ExecuteProduction")
	defer span.End()
	span.SetAttributes(
		attribute.String("recipe.id", req.RecipeID),
		attribute.String("production.target", req.TargetQuantity.String()),
	)

	recipeID := strings.TrimSpace(req.RecipeID)
	if err := firstError(
		required("recipe_id", recipeID),
		positive("target_quantity", req.TargetQuantity),
	); err != nil {
		s.failed(ctx, span, kindProduction, err)
		return domain.UsageLog{}, false, err
	}

	recipe, err := s.store.GetRecipe(ctx, recipeID)
	if err != nil {
		s.failed(ctx, span, kindProduction, err)
		return domain.UsageLog{}, false, err
	}
	if !recipe.OutputQuantity.IsPositive() {
		s.failed(ctx, span, kindProduction, domain.ErrInvalidRecipe)
		return domain.UsageLog{}, false, domain.ErrInvalidRecipe
	}

	now := s.now()
	logID := s.newID()
	plan := func(locked []domain.InventoryItem) (domain.UsageLog, domain.MetricsDelta, error) {
		result, err := bom.Calculate(*recipe, req.TargetQuantity, locked)
		if err != nil {
			return domain.UsageLog{}, domain.MetricsDelta{}, err
		}
		if shortages := bom.Shortages(result, locked); len(shortages) > 0 {
			return domain.UsageLog{}, domain.MetricsDelta{}, &domain.InsufficientStockError{Shortages: shortages}
		}
		log := domain.UsageLog{
			ID:             logID,
			RecipeID:       recipe.ID,
			RecipeName:     recipe.Name,
			TargetQuantity: result.TargetQuantity,
			OutputUnit:     result.OutputUnit,
			Multiplier:     result.Multiplier,
			Ingredients:    bom.Usage(result),
			TotalCost:      result.TotalCost,
			Timestamp:      now,
		}
		return log, domain.MetricsDelta{COGS: result.TotalCost}, nil
	}

	cmd := domain.ProductionCommand{
		ID:      logID,
		ItemIDs: bom.ItemIDs(*recipe),
		Plan:    plan,
		Commit:  s.commit(now, req.IdempotencyKey),
	}

	var (
		log      domain.UsageLog
		replayed bool
	)
	err = s.withRetry(ctx, kindProduction, cmd.Commit.IdempotencyKey != "", func(ctx context.Context) error {
		var err error
		log, replayed, err = s.store.ExecuteProduction(ctx, cmd)
		return err
	})
	if err != nil {
		if isShortage(err) {
			s.metrics.ObserveShortage()
		}
		s.failed(ctx, span, kindProduction, err)
		return domain.UsageLog{}, false, err
	}

	s.afterCommit(ctx, kindProduction, replayed, s.event(events.TypeProductionExecuted, log.RecipeID, now, cmd.Commit, log))
	return log, replayed, nil
}
