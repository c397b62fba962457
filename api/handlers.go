package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"cookbook-connect/broker"
	"cookbook-connect/domain"
)

// Feed is the engine surface consumed by the transport layer.
type Feed interface {
	GetUserNotifications(ctx context.Context, userID string, limit int) ([]domain.NotificationEvent, error)
	GetUserActivityFeed(ctx context.Context, userID string, limit int) ([]domain.ActivityFeedEvent, error)
	GetGlobalActivityFeed(ctx context.Context, limit int) ([]domain.ActivityFeedEvent, error)
	SubscribeToNotifications(userID string) *broker.Subscription
	SubscribeToActivityFeed(userID string) *broker.Subscription
	SubscribeToGlobalActivityFeed() *broker.Subscription
	SubscribeToRecommendations(userID string) *broker.Subscription
	OnRecipeCreated(ctx context.Context, recipe domain.RecipeDetail, authorID string)
	OnRecipeRated(ctx context.Context, recipeID string, rating int, raterID, authorID string)
	OnRecipeCommented(ctx context.Context, recipeID, comment, commenterID, authorID string)
	OnUserFollowed(ctx context.Context, followerID, followingID string)
}

// Recommendations exposes the cached recommendation set.
type Recommendations interface {
	Current(ctx context.Context, userID string) (*domain.RecommendationEvent, error)
}

// Register wires the feed endpoints on the given Echo instance.
func Register(e *echo.Echo, feed Feed, recs Recommendations) {
	e.GET("/api/users/:id/notifications", getNotifications(feed))
	e.GET("/api/users/:id/feed", getUserFeed(feed))
	e.GET("/api/feed", getGlobalFeed(feed))
	e.GET("/api/users/:id/recommendations", getRecommendations(recs))

	e.GET("/api/stream/notifications/:id", stream(func(c echo.Context) *broker.Subscription {
		return feed.SubscribeToNotifications(c.Param("id"))
	}))
	e.GET("/api/stream/feed/:id", stream(func(c echo.Context) *broker.Subscription {
		return feed.SubscribeToActivityFeed(c.Param("id"))
	}))
	e.GET("/api/stream/feed", stream(func(echo.Context) *broker.Subscription {
		return feed.SubscribeToGlobalActivityFeed()
	}))
	e.GET("/api/stream/recommendations/:id", stream(func(c echo.Context) *broker.Subscription {
		return feed.SubscribeToRecommendations(c.Param("id"))
	}))

	e.POST("/api/hooks/recipe-created", recipeCreatedHook(feed))
	e.POST("/api/hooks/recipe-rated", recipeRatedHook(feed))
	e.POST("/api/hooks/recipe-commented", recipeCommentedHook(feed))
	e.POST("/api/hooks/user-followed", userFollowedHook(feed))
}

func limitParam(c echo.Context) int {
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func getNotifications(feed Feed) echo.HandlerFunc {
	return func(c echo.Context) error {
		notifications, err := feed.GetUserNotifications(c.Request().Context(), c.Param("id"), limitParam(c))
		if err != nil {
			c.Logger().Error(err)
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.JSON(http.StatusOK, notifications)
	}
}

func getUserFeed(feed Feed) echo.HandlerFunc {
	return func(c echo.Context) error {
		entries, err := feed.GetUserActivityFeed(c.Request().Context(), c.Param("id"), limitParam(c))
		if err != nil {
			c.Logger().Error(err)
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.JSON(http.StatusOK, entries)
	}
}

func getGlobalFeed(feed Feed) echo.HandlerFunc {
	return func(c echo.Context) error {
		entries, err := feed.GetGlobalActivityFeed(c.Request().Context(), limitParam(c))
		if err != nil {
			c.Logger().Error(err)
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.JSON(http.StatusOK, entries)
	}
}

func getRecommendations(recs Recommendations) echo.HandlerFunc {
	return func(c echo.Context) error {
		current, err := recs.Current(c.Request().Context(), c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.NoContent(http.StatusServiceUnavailable)
		}
		if current == nil {
			return c.NoContent(http.StatusNoContent)
		}
		return c.JSON(http.StatusOK, current)
	}
}
