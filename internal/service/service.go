package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kitchenledger/internal/dailymetrics"
	"kitchenledger/internal/domain"
	"kitchenledger/internal/events"
	"kitchenledger/internal/logger"
	"kitchenledger/internal/telemetry"
)

var tracer = otel.Tracer("kitchenledger/service")

// ReportCache stores computed reports between ledger writes. Get reports the
// cache generation it read; Set only stores a value under that generation if
// no invalidation happened in between.
type ReportCache interface {
	Get(ctx context.Context, key string, dst any) (gen int64, hit bool, err error)
	Set(ctx context.Context, gen int64, key string, value any) error
	Invalidate(ctx context.Context) error
}

type Options struct {
	Metrics   *telemetry.Metrics
	Publisher events.Publisher
	Cache     ReportCache
	// Location decides the local date a business event is filed under.
	Location     *time.Location
	Clock        func() time.Time
	NewID        func() string
	MaxAttempts  int
	RetryBackoff time.Duration
}

type Service struct {
	store       Store
	metrics     *telemetry.Metrics
	publisher   events.Publisher
	cache       ReportCache
	loc         *time.Location
	now         func() time.Time
	newID       func() string
	maxAttempts int
	backoff     time.Duration
}

func New(store Store, opts Options) *Service {
	s := &Service{
		store:       store,
		metrics:     opts.Metrics,
		publisher:   opts.Publisher,
		cache:       opts.Cache,
		loc:         opts.Location,
		now:         opts.Clock,
		newID:       opts.NewID,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.RetryBackoff,
	}
	if s.metrics == nil {
		s.metrics = telemetry.New(prometheus.NewRegistry())
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 3
	}
	if s.backoff <= 0 {
		s.backoff = 25 * time.Millisecond
	}
	return s
}

// Inventory

func (s *Service) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	return s.store.ListInventory(ctx)
}

func (s *Service) GetInventoryItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	return s.store.GetInventoryItem(ctx, id)
}

func (s *Service) CreateInventoryItem(ctx context.Context, input domain.InventoryItemInput) (domain.InventoryItem, error) {
	item := domain.InventoryItem{
		ID:           s.newID(),
		Name:         strings.TrimSpace(input.Name),
		Unit:         strings.TrimSpace(input.Unit),
		CurrentStock: input.CurrentStock,
		CostPerUnit:  input.CostPerUnit,
		ReorderLevel: input.ReorderLevel,
		Category:     strings.TrimSpace(input.Category),
	}
	if err := validateItem(item); err != nil {
		return domain.InventoryItem{}, err
	}
	created, err := s.store.CreateInventoryItem(ctx, item)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	s.invalidateReports(ctx)
	return created, nil
}

func (s *Service) UpdateInventoryItem(ctx context.Context, id string, patch domain.InventoryItemPatch) (*domain.InventoryItem, error) {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, domain.NewValidationError("name", "must not be empty")
		}
		patch.Name = &name
	}
	if patch.Unit != nil {
		unit := strings.TrimSpace(*patch.Unit)
		patch.Unit = &unit
	}
	if patch.Category != nil {
		category := strings.TrimSpace(*patch.Category)
		patch.Category = &category
	}
	if patch.CostPerUnit != nil && patch.CostPerUnit.IsNegative() {
		return nil, domain.NewValidationError("cost_per_unit", "must not be negative")
	}
	if patch.ReorderLevel != nil && patch.ReorderLevel.IsNegative() {
		return nil, domain.NewValidationError("reorder_level", "must not be negative")
	}
	item, err := s.store.UpdateInventoryItem(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.invalidateReports(ctx)
	return item, nil
}

func (s *Service) DeleteInventoryItem(ctx context.Context, id string) error {
	if err := s.store.DeleteInventoryItem(ctx, id); err != nil {
		return err
	}
	s.invalidateReports(ctx)
	return nil
}

// ImportInventory upserts rows by case-insensitive name. Imported stock
// replaces the current stock, as after a stocktake.
func (s *Service) ImportInventory(ctx context.Context, rows []domain.InventoryImportRow) (int, int, error) {
	if len(rows) == 0 {
		return 0, 0, domain.NewValidationError("rows", "import file has no data rows")
	}
	items := make([]domain.InventoryItem, 0, len(rows))
	for _, row := range rows {
		item := domain.InventoryItem{
			ID:           s.newID(),
			Name:         strings.TrimSpace(row.Name),
			Unit:         strings.TrimSpace(row.Unit),
			Category:     strings.TrimSpace(row.Category),
			CurrentStock: row.CurrentStock,
			CostPerUnit:  row.CostPerUnit,
			ReorderLevel: row.ReorderLevel,
		}
		if err := validateItem(item); err != nil {
			return 0, 0, err
		}
		items = append(items, item)
	}
	created, updated, err := s.store.UpsertInventoryItems(ctx, items)
	if err != nil {
		return 0, 0, err
	}
	s.invalidateReports(ctx)
	logger.Info(ctx).Int("created", created).Int("updated", updated).Msg("inventory imported")
	return created, updated, nil
}

func (s *Service) SubscribeInventory(ctx context.Context, onChange func([]domain.InventoryItem)) error {
	return s.store.SubscribeInventory(ctx, onChange)
}

// Recipes

func (s *Service) ListRecipes(ctx context.Context) ([]domain.Recipe, error) {
	return s.store.ListRecipes(ctx)
}

func (s *Service) GetRecipe(ctx context.Context, id string) (*domain.Recipe, error) {
	return s.store.GetRecipe(ctx, id)
}

func (s *Service) CreateRecipe(ctx context.Context, input domain.RecipeInput) (domain.Recipe, error) {
	recipe := domain.Recipe{
		ID:             s.newID(),
		Name:           strings.TrimSpace(input.Name),
		OutputQuantity: input.OutputQuantity,
		OutputUnit:     strings.TrimSpace(input.OutputUnit),
	}
	if input.LinkedMenuItemID != nil {
		if linked := strings.TrimSpace(*input.LinkedMenuItemID); linked != "" {
			recipe.LinkedMenuItemID = &linked
		}
	}
	if recipe.Name == "" {
		return domain.Recipe{}, domain.NewValidationError("name", "must not be empty")
	}
	if !recipe.OutputQuantity.IsPositive() {
		return domain.Recipe{}, domain.NewValidationError("output_quantity", "must be greater than 0")
	}
	ingredients, err := s.normalizeIngredients(ctx, input.Ingredients)
	if err != nil {
		return domain.Recipe{}, err
	}
	recipe.Ingredients = ingredients
	return s.store.CreateRecipe(ctx, recipe)
}

func (s *Service) UpdateRecipe(ctx context.Context, id string, patch domain.RecipePatch) (*domain.Recipe, error) {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, domain.NewValidationError("name", "must not be empty")
		}
		patch.Name = &name
	}
	if patch.OutputQuantity != nil && !patch.OutputQuantity.IsPositive() {
		return nil, domain.NewValidationError("output_quantity", "must be greater than 0")
	}
	if patch.Ingredients != nil {
		ingredients, err := s.normalizeIngredients(ctx, *patch.Ingredients)
		if err != nil {
			return nil, err
		}
		patch.Ingredients = &ingredients
	}
	return s.store.UpdateRecipe(ctx, id, patch)
}

func (s *Service) DeleteRecipe(ctx context.Context, id string) error {
	return s.store.DeleteRecipe(ctx, id)
}

func (s *Service) SubscribeRecipes(ctx context.Context, onChange func([]domain.Recipe)) error {
	return s.store.SubscribeRecipes(ctx, onChange)
}

// normalizeIngredients fills blank names and units from the inventory. An
// ingredient pointing at an unknown item is kept: production treats it as out
// of stock.
func (s *Service) normalizeIngredients(ctx context.Context, ingredients []domain.RecipeIngredient) ([]domain.RecipeIngredient, error) {
	out := make([]domain.RecipeIngredient, 0, len(ingredients))
	for i, ingredient := range ingredients {
		ingredient.InventoryItemID = strings.TrimSpace(ingredient.InventoryItemID)
		ingredient.Name = strings.TrimSpace(ingredient.Name)
		ingredient.Unit = strings.TrimSpace(ingredient.Unit)
		if ingredient.InventoryItemID == "" {
			return nil, domain.NewValidationError("ingredients", "inventory_item_id is required at position "+strconv.Itoa(i))
		}
		if !ingredient.Quantity.IsPositive() {
			return nil, domain.NewValidationError("ingredients", "quantity must be greater than 0 at position "+strconv.Itoa(i))
		}
		if ingredient.Name == "" || ingredient.Unit == "" {
			item, err := s.store.GetInventoryItem(ctx, ingredient.InventoryItemID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
			if item != nil {
				if ingredient.Name == "" {
					ingredient.Name = item.Name
				}
				if ingredient.Unit == "" {
					ingredient.Unit = item.Unit
				}
			}
		}
		out = append(out, ingredient)
	}
	return out, nil
}

func validateItem(item domain.InventoryItem) error {
	switch {
	case item.Name == "":
		return domain.NewValidationError("name", "must not be empty")
	case item.CurrentStock.IsNegative():
		return domain.NewValidationError("current_stock", "must not be negative")
	case item.CostPerUnit.IsNegative():
		return domain.NewValidationError("cost_per_unit", "must not be negative")
	case item.ReorderLevel.IsNegative():
		return domain.NewValidationError("reorder_level", "must not be negative")
	}
	return nil
}

func (s *Service) commit(at time.Time, idempotencyKey string) domain.Commit {
	return domain.Commit{
		DateKey:        dailymetrics.DateKey(at, s.loc),
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
	}
}

// afterCommit runs the side effects of a committed event. A replay has no new
// effects to announce.
func (s *Service) afterCommit(ctx context.Context, kind string, replayed bool, event events.Event) {
	if replayed {
		s.metrics.ObserveEvent(kind, telemetry.OutcomeReplayed)
		logger.Info(ctx).Str("event", kind).Str("id", event.Key).Msg("idempotent replay")
		return
	}
	s.metrics.ObserveEvent(kind, telemetry.OutcomeOK)
	s.invalidateReports(ctx)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.metrics.ObservePublishFailure()
		logger.Error(ctx).Err(err).Str("event_id", event.ID).Str("event_type", event.Type).Msg("publish ledger event")
	}
}

func (s *Service) failed(ctx context.Context, span trace.Span, kind string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	outcome := telemetry.OutcomeFailed
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrInvalidRecipe) {
		outcome = telemetry.OutcomeRejected
	}
	s.metrics.ObserveEvent(kind, outcome)
	event := logger.Warn(ctx)
	if outcome == telemetry.OutcomeFailed {
		event = logger.Error(ctx)
	}
	event.Err(err).Str("event", kind).Msg("ledger event not applied")
}

func (s *Service) invalidateReports(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		logger.Warn(ctx).Err(err).Msg("invalidate report cache")
	}
}

func (s *Service) event(eventType, key string, at time.Time, commit domain.Commit, payload any) events.Event {
	return events.Event{
		ID:         s.newID(),
		Type:       eventType,
		Key:        key,
		DateKey:    commit.DateKey,
		OccurredAt: at,
		Payload:    payload,
	}
}

func positive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return domain.NewValidationError(field, "must be greater than 0")
	}
	return nil
}

func nonNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return domain.NewValidationError(field, "must not be negative")
	}
	return nil
}
