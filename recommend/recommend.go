package recommend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"cookbook-connect/broker"
	"cookbook-connect/domain"
	"cookbook-connect/internal/consts"
)

// Catalog is the durable-store read contract for similarity queries.
type Catalog interface {
	GetActorSummary(ctx context.Context, userID string) (domain.FeedUser, error)
	FindSimilarRaters(ctx context.Context, cuisine string, ingredients []string, minRating, limit int) ([]string, error)
	TasteProfile(ctx context.Context, userID string, minRating, ratingsLimit int) (cuisines, ingredients []string, err error)
	FindCandidateRecipes(ctx context.Context, excludeUserID string, cuisines, ingredients []string, limit int) ([]domain.RecommendedRecipe, error)
}

// Cache is the single-value TTL store holding each user's current
// recommendation set.
type Cache interface {
	SetWithTTL(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Publish(ctx context.Context, channel string, data []byte) error
}

// Tuning of the two policies. The asymmetry between them (OR-overlap with
// up to 100 raters on recipe creation, profile-driven with up to 10
// candidates on rating) is deliberate product behavior carried over from
// the two trigger sites, kept as distinct policies.
const (
	minTasteRating      = 4
	similarRatersLimit  = 100
	profileRatingsLimit = 10
	candidateLimit      = 10
)

const (
	tastePreferencesReason = "Based on your taste preferences"
	recentRatingsReason    = "Based on your recent ratings"
)

// Refresher recomputes and publishes per-user recommendation sets. All of
// its work is advisory: failures are logged and empty candidate sets
// produce no event at all.
type Refresher struct {
	catalog Catalog
	cache   Cache
	broker  *broker.Broker
}

func New(catalog Catalog, cache Cache, b *broker.Broker) *Refresher {
	return &Refresher{catalog: catalog, cache: cache, broker: b}
}

// RecipeCreated runs the taste-preferences policy: users who rated recipes
// in the same cuisine or sharing an ingredient at 4+ stars each get a
// single-recipe recommendation for the new recipe.
func (r *Refresher) RecipeCreated(ctx context.Context, recipe domain.RecipeDetail, authorID string) {
	raters, err := r.catalog.FindSimilarRaters(ctx, recipe.Cuisine, recipe.Ingredients, minTasteRating, similarRatersLimit)
	if err != nil {
		log.Errorf("find similar raters for recipe %s: %v", recipe.ID, err)
		return
	}
	if len(raters) == 0 {
		return
	}
	author, err := r.catalog.GetActorSummary(ctx, authorID)
	if err != nil {
		log.Errorf("resolve author %s: %v", authorID, err)
		return
	}
	rec := domain.RecommendedRecipe{
		FeedRecipe:  recipe.FeedRecipe,
		Author:      author,
		Ingredients: recipe.Ingredients,
	}
	for _, userID := range raters {
		r.publish(ctx, userID, []domain.RecommendedRecipe{rec}, tastePreferencesReason)
	}
}

// UserRated runs the recent-ratings policy: candidate recipes matching the
// cuisines and ingredients the user rated 4+ stars, excluding the user's
// own and already-rated recipes.
func (r *Refresher) UserRated(ctx context.Context, userID string) {
	cuisines, ingredients, err := r.catalog.TasteProfile(ctx, userID, minTasteRating, profileRatingsLimit)
	if err != nil {
		log.Errorf("taste profile of %s: %v", userID, err)
		return
	}
	if len(cuisines) == 0 && len(ingredients) == 0 {
		return
	}
	candidates, err := r.catalog.FindCandidateRecipes(ctx, userID, cuisines, ingredients, candidateLimit)
	if err != nil {
		log.Errorf("candidate recipes for %s: %v", userID, err)
		return
	}
	if len(candidates) == 0 {
		return
	}
	r.publish(ctx, userID, candidates, recentRatingsReason)
}

// Current returns the cached recommendation set for the user, if one is
// still live.
func (r *Refresher) Current(ctx context.Context, userID string) (*domain.RecommendationEvent, error) {
	data, ok, err := r.cache.Get(ctx, consts.RecommendationsKeyPrefix+userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var ev domain.RecommendationEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warnf("dropping malformed recommendation cache for %s: %v", userID, err)
		return nil, nil
	}
	return &ev, nil
}

// publish overwrites the user's cached set and broadcasts it. A new
// publish supersedes the previous one via the fixed cache key.
func (r *Refresher) publish(ctx context.Context, userID string, recipes []domain.RecommendedRecipe, reason string) {
	ev := domain.RecommendationEvent{
		ID:        uuid.NewString(),
		Kind:      domain.RecommendationUpdated,
		UserID:    userID,
		Recipes:   recipes,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Errorf("marshal recommendation for %s: %v", userID, err)
		return
	}
	if err := r.cache.SetWithTTL(ctx, consts.RecommendationsKeyPrefix+userID, data, consts.RecommendationTTL); err != nil {
		log.Errorf("cache recommendation for %s: %v", userID, err)
	}
	topic := consts.RecommendationTopicPrefix + userID
	r.broker.Publish(topic, data)
	if err := r.cache.Publish(ctx, topic, data); err != nil {
		log.Debugf("mirror recommendation to %s: %v", topic, err)
	}
}
