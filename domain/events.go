package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// Kind identifies one of the closed set of domain event kinds.
type Kind string

const (
	RecipeCreated         Kind = "RECIPE_CREATED"
	RecipeUpdated         Kind = "RECIPE_UPDATED"
	RecipeRated           Kind = "RECIPE_RATED"
	RecipeCommented       Kind = "RECIPE_COMMENTED"
	UserFollowed          Kind = "USER_FOLLOWED"
	RecommendationUpdated Kind = "RECOMMENDATION_UPDATED"
)

// ErrNotFound is returned by durable-store lookups when the entity does
// not exist.
var ErrNotFound = errors.New("not found")

// FeedUser is a snapshot of the acting user taken at publish time. Once
// embedded in an event it is never re-resolved against the live record.
type FeedUser struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
}

// DisplayName prefers the real name over the username when one is set.
func (u FeedUser) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName + " " + u.LastName
	}
	return u.Username
}

// FeedRecipe is the recipe snapshot embedded in events.
type FeedRecipe struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Cuisine  string `json:"cuisine,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// RecipeDetail is what reaction handlers receive for a freshly created
// recipe. Ingredient names feed the recommendation policies.
type RecipeDetail struct {
	FeedRecipe
	Ingredients []string `json:"ingredients,omitempty"`
}

// NotificationEvent is a recipient-scoped event stored in the recipient's
// bounded notification list.
type NotificationEvent struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	UserID    string          `json:"userId"`
	ActorID   string          `json:"actorId,omitempty"`
	Actor     *FeedUser       `json:"actor,omitempty"`
	RecipeID  string          `json:"recipeId,omitempty"`
	Recipe    *FeedRecipe     `json:"recipe,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ActivityFeedEvent is fanned out to every follower's feed and to the
// global feed. The message is rendered once at publish time.
type ActivityFeedEvent struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Message   string          `json:"message"`
	Actor     FeedUser        `json:"actor"`
	Recipe    *FeedRecipe     `json:"recipe,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RecommendedRecipe is the richer snapshot carried by recommendation
// events: the plain feed snapshot plus author and aggregate counts.
type RecommendedRecipe struct {
	FeedRecipe
	Author        FeedUser `json:"author"`
	Ingredients   []string `json:"ingredients,omitempty"`
	RatingsCount  int      `json:"ratingsCount"`
	CommentsCount int      `json:"commentsCount"`
}

// RecommendationEvent is the current recommendation set for one user. A
// new publish supersedes the previous one.
type RecommendationEvent struct {
	ID        string              `json:"id"`
	Kind      Kind                `json:"kind"`
	UserID    string              `json:"userId"`
	Recipes   []RecommendedRecipe `json:"recommendedRecipes"`
	Reason    string              `json:"reason"`
	CreatedAt time.Time           `json:"createdAt"`
}

// ActivityMessage renders the human-readable feed line for an event. The
// recipe may be nil when the referenced recipe no longer resolves.
func ActivityMessage(kind Kind, actor FeedUser, recipe *FeedRecipe) string {
	name := actor.DisplayName()
	title := ""
	if recipe != nil {
		title = recipe.Title
	}
	switch kind {
	case RecipeCreated:
		return name + " shared a new recipe: " + title
	case RecipeRated:
		return name + " rated " + title
	case RecipeCommented:
		return name + " commented on " + title
	default:
		return name + " performed an action"
	}
}
