package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"kitchenledger/internal/domain"
)

const recipeColumns = `
	id,
	name,
	output_quantity,
	output_unit,
	ingredients,
	linked_menu_item_id,
	created_at,
	updated_at
`

func scanRecipe(row pgx.Row) (domain.Recipe, error) {
	var (
		recipe      domain.Recipe
		ingredients []byte
	)
	if err := row.Scan(
		&recipe.ID,
		&recipe.Name,
		&recipe.OutputQuantity,
		&recipe.OutputUnit,
		&ingredients,
		&recipe.LinkedMenuItemID,
		&recipe.CreatedAt,
		&recipe.UpdatedAt,
	); err != nil {
		return domain.Recipe{}, err
	}
	recipe.Ingredients = make([]domain.RecipeIngredient, 0)
	if len(ingredients) > 0 {
		if err := json.Unmarshal(ingredients, &recipe.Ingredients); err != nil {
			return domain.Recipe{}, fmt.Errorf("decode ingredients of recipe %s: %w", recipe.ID, err)
		}
	}
	return recipe, nil
}

func encodeIngredients(ingredients []domain.RecipeIngredient) ([]byte, error) {
	if ingredients == nil {
		ingredients = []domain.RecipeIngredient{}
	}
	body, err := json.Marshal(ingredients)
	if err != nil {
		return nil, fmt.Errorf("encode ingredients: %w", err)
	}
	return body, nil
}

func (r *Repository) ListRecipes(ctx context.Context) ([]domain.Recipe, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+recipeColumns+" FROM recipes ORDER BY name ASC, id ASC")
	if err != nil {
		return nil, storeError("list recipes", err)
	}
	defer rows.Close()

	recipes := make([]domain.Recipe, 0)
	for rows.Next() {
		recipe, err := scanRecipe(rows)
		if err != nil {
			return nil, storeError("list recipes", err)
		}
		recipes = append(recipes, recipe)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list recipes", err)
	}
	return recipes, nil
}

func (r *Repository) GetRecipe(ctx context.Context, id string) (*domain.Recipe, error) {
	recipe, err := scanRecipe(r.pool.QueryRow(ctx, "SELECT "+recipeColumns+" FROM recipes WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "recipe", ID: id}
		}
		return nil, storeError("get recipe", err)
	}
	return &recipe, nil
}

func (r *Repository) CreateRecipe(ctx context.Context, recipe domain.Recipe) (domain.Recipe, error) {
	ingredients, err := encodeIngredients(recipe.Ingredients)
	if err != nil {
		return domain.Recipe{}, err
	}
	created, err := scanRecipe(r.pool.QueryRow(ctx, `
		INSERT INTO recipes (
			id,
			name,
			output_quantity,
			output_unit,
			ingredients,
			linked_menu_item_id
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+recipeColumns,
		recipe.ID,
		recipe.Name,
		recipe.OutputQuantity,
		recipe.OutputUnit,
		ingredients,
		recipe.LinkedMenuItemID,
	))
	if err != nil {
		return domain.Recipe{}, storeError("create recipe", err)
	}
	return created, nil
}

// UpdateRecipe applies patch under a row lock. An empty linked menu item id
// clears the link.
func (r *Repository) UpdateRecipe(ctx context.Context, id string, patch domain.RecipePatch) (*domain.Recipe, error) {
	var updated domain.Recipe
	err := r.inTx(ctx, "update recipe", func(tx pgx.Tx) error {
		current, err := scanRecipe(tx.QueryRow(ctx, "SELECT "+recipeColumns+" FROM recipes WHERE id = $1 FOR UPDATE", id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &domain.NotFoundError{Entity: "recipe", ID: id}
			}
			return fmt.Errorf("lock recipe: %w", err)
		}

		if patch.Name != nil {
			current.Name = *patch.Name
		}
		if patch.OutputQuantity != nil {
			current.OutputQuantity = *patch.OutputQuantity
		}
		if patch.OutputUnit != nil {
			current.OutputUnit = *patch.OutputUnit
		}
		if patch.Ingredients != nil {
			current.Ingredients = *patch.Ingredients
		}
		if patch.LinkedMenuItemID != nil {
			if *patch.LinkedMenuItemID == "" {
				current.LinkedMenuItemID = nil
			} else {
				linked := *patch.LinkedMenuItemID
				current.LinkedMenuItemID = &linked
			}
		}

		ingredients, err := encodeIngredients(current.Ingredients)
		if err != nil {
			return err
		}
		updated, err = scanRecipe(tx.QueryRow(ctx, `
			UPDATE recipes
			SET
				name = $2,
				output_quantity = $3,
				output_unit = $4,
				ingredients = $5,
				linked_menu_item_id = $6,
				updated_at = NOW()
			WHERE id = $1
			RETURNING `+recipeColumns,
			id,
			current.Name,
			current.OutputQuantity,
			current.OutputUnit,
			ingredients,
			current.LinkedMenuItemID,
		))
		if err != nil {
			return fmt.Errorf("update recipe: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *Repository) DeleteRecipe(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM recipes WHERE id = $1", id)
	if err != nil {
		return storeError("delete recipe", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Entity: "recipe", ID: id}
	}
	return nil
}

func (r *Repository) SubscribeRecipes(ctx context.Context, onChange func([]domain.Recipe)) error {
	return r.recipeFeed.Run(ctx, func(ctx context.Context) error {
		recipes, err := r.ListRecipes(ctx)
		if err != nil {
			return err
		}
		onChange(recipes)
		return nil
	})
}
