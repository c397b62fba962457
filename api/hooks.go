package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"cookbook-connect/domain"
)

// Hooks are the fire-and-forget entry points the CRUD services call after
// their own transaction commits. The response only acknowledges receipt;
// delivery is best-effort by design.

type recipeCreatedBody struct {
	Recipe   domain.RecipeDetail `json:"recipe"`
	AuthorID string              `json:"authorId"`
}

func recipeCreatedHook(feed Feed) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body recipeCreatedBody
		if err := c.Bind(&body); err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		if body.Recipe.ID == "" || body.AuthorID == "" {
			return c.NoContent(http.StatusBadRequest)
		}
		feed.OnRecipeCreated(c.Request().Context(), body.Recipe, body.AuthorID)
		return c.NoContent(http.StatusAccepted)
	}
}

type recipeRatedBody struct {
	RecipeID string `json:"recipeId"`
	Rating   int    `json:"rating"`
	RaterID  string `json:"raterId"`
	AuthorID string `json:"authorId"`
}

func recipeRatedHook(feed Feed) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body recipeRatedBody
		if err := c.Bind(&body); err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		if body.RecipeID == "" || body.RaterID == "" || body.AuthorID == "" {
			return c.NoContent(http.StatusBadRequest)
		}
		feed.OnRecipeRated(c.Request().Context(), body.RecipeID, body.Rating, body.RaterID, body.AuthorID)
		return c.NoContent(http.StatusAccepted)
	}
}

type recipeCommentedBody struct {
	RecipeID    string `json:"recipeId"`
	Comment     string `json:"comment"`
	CommenterID string `json:"commenterId"`
	AuthorID    string `json:"authorId"`
}

func recipeCommentedHook(feed Feed) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body recipeCommentedBody
		if err := c.Bind(&body); err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		if body.RecipeID == "" || body.CommenterID == "" || body.AuthorID == "" {
			return c.NoContent(http.StatusBadRequest)
		}
		feed.OnRecipeCommented(c.Request().Context(), body.RecipeID, body.Comment, body.CommenterID, body.AuthorID)
		return c.NoContent(http.StatusAccepted)
	}
}

type userFollowedBody struct {
	FollowerID  string `json:"followerId"`
	FollowingID string `json:"followingId"`
}

func userFollowedHook(feed Feed) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body userFollowedBody
		if err := c.Bind(&body); err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		if body.FollowerID == "" || body.FollowingID == "" {
			return c.NoContent(http.StatusBadRequest)
		}
		feed.OnUserFollowed(c.Request().Context(), body.FollowerID, body.FollowingID)
		return c.NoContent(http.StatusAccepted)
	}
}
