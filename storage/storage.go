package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cookbook-connect/domain"
)

// Storage provides read access to the durable relational store. The fan-out
// engine only consumes these narrow queries; the schema and all writes
// belong to the services that own the entities.
type Storage struct {
	pool *pgxpool.Pool
}

// Connect opens a pgx pool for the given DSN.
func Connect(ctx context.Context, dsn string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	return &Storage{pool: pool}, nil
}

func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ready reports whether the database answers queries.
func (s *Storage) Ready(ctx context.Context) error {
	var one int
	return s.pool.QueryRow(ctx, "select 1").Scan(&one)
}

// GetActorSummary returns the feed snapshot for a user, or
// domain.ErrNotFound.
func (s *Storage) GetActorSummary(ctx context.Context, userID string) (domain.FeedUser, error) {
	var u domain.FeedUser
	var first, last, avatar *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, first_name, last_name, avatar FROM users WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.Username, &first, &last, &avatar)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FeedUser{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.FeedUser{}, fmt.Errorf("query user %s: %w", userID, err)
	}
	u.FirstName = deref(first)
	u.LastName = deref(last)
	u.Avatar = deref(avatar)
	return u, nil
}

// GetRecipeSummary returns the feed snapshot for a recipe, or
// domain.ErrNotFound.
func (s *Storage) GetRecipeSummary(ctx context.Context, recipeID string) (domain.FeedRecipe, error) {
	var r domain.FeedRecipe
	var cuisine, imageURL *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, cuisine, image_url FROM recipes WHERE id = $1`,
		recipeID,
	).Scan(&r.ID, &r.Title, &cuisine, &imageURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FeedRecipe{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.FeedRecipe{}, fmt.Errorf("query recipe %s: %w", recipeID, err)
	}
	r.Cuisine = deref(cuisine)
	r.ImageURL = deref(imageURL)
	return r, nil
}

// ListFollowerIDs returns the ids of every user following userID.
func (s *Storage) ListFollowerIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT follower_id FROM follows WHERE following_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query followers of %s: %w", userID, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan follower id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListRecentRecipes returns up to limit of the user's recipes, newest
// first.
func (s *Storage) ListRecentRecipes(ctx context.Context, userID string, limit int) ([]domain.FeedRecipe, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, cuisine, image_url FROM recipes
		 WHERE author_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent recipes of %s: %w", userID, err)
	}
	defer rows.Close()
	var recipes []domain.FeedRecipe
	for rows.Next() {
		var r domain.FeedRecipe
		var cuisine, imageURL *string
		if err := rows.Scan(&r.ID, &r.Title, &cuisine, &imageURL); err != nil {
			return nil, fmt.Errorf("scan recipe: %w", err)
		}
		r.Cuisine = deref(cuisine)
		r.ImageURL = deref(imageURL)
		recipes = append(recipes, r)
	}
	return recipes, rows.Err()
}

// FindSimilarRaters returns ids of users who rated recipes in the given
// cuisine or sharing one of the ingredient names at minRating or above.
func (s *Storage) FindSimilarRaters(ctx context.Context, cuisine string, ingredients []string, minRating, limit int) ([]string, error) {
	if ingredients == nil {
		ingredients = []string{}
	}
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT rt.user_id
		 FROM ratings rt
		 JOIN recipes r ON r.id = rt.recipe_id
		 WHERE rt.value >= $1
		   AND (($2 <> '' AND r.cuisine = $2)
		     OR EXISTS (
		       SELECT 1 FROM ingredients i
		       WHERE i.recipe_id = r.id AND i.name = ANY($3)))
		 LIMIT $4`,
		minRating, cuisine, ingredients, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query similar raters: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan rater id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TasteProfile collects the cuisines and ingredient names of the user's
// most recent ratings at minRating or above, deduplicated.
func (s *Storage) TasteProfile(ctx context.Context, userID string, minRating, ratingsLimit int) (cuisines, ingredients []string, err error) {
	rows, err := s.pool.Query(ctx,
		`WITH rated AS (
		   SELECT r.id, r.cuisine
		   FROM ratings rt
		   JOIN recipes r ON r.id = rt.recipe_id
		   WHERE rt.user_id = $1 AND rt.value >= $2
		   ORDER BY rt.created_at DESC
		   LIMIT $3)
		 SELECT COALESCE(rated.cuisine, ''), COALESCE(i.name, '')
		 FROM rated
		 LEFT JOIN ingredients i ON i.recipe_id = rated.id`,
		userID, minRating, ratingsLimit,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("query taste profile of %s: %w", userID, err)
	}
	defer rows.Close()
	var rawCuisines, rawIngredients []string
	for rows.Next() {
		var cuisine, ingredient string
		if err := rows.Scan(&cuisine, &ingredient); err != nil {
			return nil, nil, fmt.Errorf("scan taste profile: %w", err)
		}
		rawCuisines = append(rawCuisines, cuisine)
		rawIngredients = append(rawIngredients, ingredient)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return dedupeNonEmpty(rawCuisines), dedupeNonEmpty(rawIngredients), nil
}

// FindCandidateRecipes returns up to limit recipes matching the given
// cuisines or ingredient names, excluding recipes the user authored or
// already rated. Each candidate carries the author snapshot, ingredient
// names, and aggregate counts.
func (s *Storage) FindCandidateRecipes(ctx context.Context, excludeUserID string, cuisines, ingredients []string, limit int) ([]domain.RecommendedRecipe, error) {
	if cuisines == nil {
		cuisines = []string{}
	}
	if ingredients == nil {
		ingredients = []string{}
	}
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.title, r.cuisine, r.image_url,
		        u.id, u.username, u.first_name, u.last_name, u.avatar,
		        (SELECT count(*) FROM ratings WHERE recipe_id = r.id),
		        (SELECT count(*) FROM comments WHERE recipe_id = r.id),
		        COALESCE((SELECT array_agg(name) FROM ingredients WHERE recipe_id = r.id), '{}'::text[])
		 FROM recipes r
		 JOIN users u ON u.id = r.author_id
		 WHERE r.author_id <> $1
		   AND NOT EXISTS (
		     SELECT 1 FROM ratings WHERE recipe_id = r.id AND user_id = $1)
		   AND (r.cuisine = ANY($2)
		     OR EXISTS (
		       SELECT 1 FROM ingredients i
		       WHERE i.recipe_id = r.id AND i.name = ANY($3)))
		 LIMIT $4`,
		excludeUserID, cuisines, ingredients, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query candidate recipes: %w", err)
	}
	defer rows.Close()
	var recipes []domain.RecommendedRecipe
	for rows.Next() {
		var r domain.RecommendedRecipe
		var cuisine, imageURL, first, last, avatar *string
		if err := rows.Scan(
			&r.ID, &r.Title, &cuisine, &imageURL,
			&r.Author.ID, &r.Author.Username, &first, &last, &avatar,
			&r.RatingsCount, &r.CommentsCount, &r.Ingredients,
		); err != nil {
			return nil, fmt.Errorf("scan candidate recipe: %w", err)
		}
		r.Cuisine = deref(cuisine)
		r.ImageURL = deref(imageURL)
		r.Author.FirstName = deref(first)
		r.Author.LastName = deref(last)
		r.Author.Avatar = deref(avatar)
		recipes = append(recipes, r)
	}
	return recipes, rows.Err()
}

func dedupeNonEmpty(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
