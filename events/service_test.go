package events

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"cookbook-connect/broker"
	"cookbook-connect/domain"
	"cookbook-connect/feedstore"
	"cookbook-connect/internal/consts"
)

type stubDirectory struct {
	getActorFn      func(ctx context.Context, userID string) (domain.FeedUser, error)
	getRecipeFn     func(ctx context.Context, recipeID string) (domain.FeedRecipe, error)
	listFollowersFn func(ctx context.Context, userID string) ([]string, error)
	listRecentFn    func(ctx context.Context, userID string, limit int) ([]domain.FeedRecipe, error)
}

func (s *stubDirectory) GetActorSummary(ctx context.Context, userID string) (domain.FeedUser, error) {
	if s.getActorFn == nil {
		return domain.FeedUser{}, domain.ErrNotFound
	}
	return s.getActorFn(ctx, userID)
}

func (s *stubDirectory) GetRecipeSummary(ctx context.Context, recipeID string) (domain.FeedRecipe, error) {
	if s.getRecipeFn == nil {
		return domain.FeedRecipe{}, domain.ErrNotFound
	}
	return s.getRecipeFn(ctx, recipeID)
}

func (s *stubDirectory) ListFollowerIDs(ctx context.Context, userID string) ([]string, error) {
	if s.listFollowersFn == nil {
		return nil, nil
	}
	return s.listFollowersFn(ctx, userID)
}

func (s *stubDirectory) ListRecentRecipes(ctx context.Context, userID string, limit int) ([]domain.FeedRecipe, error) {
	if s.listRecentFn == nil {
		return nil, nil
	}
	return s.listRecentFn(ctx, userID, limit)
}

type stubRecommender struct {
	created []string
	rated   []string
}

func (s *stubRecommender) RecipeCreated(ctx context.Context, recipe domain.RecipeDetail, authorID string) {
	s.created = append(s.created, recipe.ID)
}

func (s *stubRecommender) UserRated(ctx context.Context, userID string) {
	s.rated = append(s.rated, userID)
}

func newTestService(t *testing.T, dir Directory, rec Recommender) (*Service, *miniredis.Miniredis, *broker.Broker) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	b := broker.New()
	return New(feedstore.New(rc), dir, b, rec), mr, b
}

func receive(t *testing.T, sub *broker.Subscription) []byte {
	t.Helper()
	select {
	case data := <-sub.C:
		return data
	case <-time.After(time.Second):
		t.Fatal("no live event received")
		return nil
	}
}

func assertSilent(t *testing.T, sub *broker.Subscription) {
	t.Helper()
	select {
	case data := <-sub.C:
		t.Fatalf("unexpected live event: %s", data)
	default:
	}
}

func TestPublishNotificationStoresAndBroadcasts(t *testing.T) {
	svc, mr, _ := newTestService(t, &stubDirectory{}, nil)
	sub := svc.SubscribeToNotifications("author")
	defer sub.Cancel()

	ev, err := svc.PublishNotification(context.Background(), domain.NotificationEvent{
		Kind:    domain.RecipeRated,
		Title:   "New Rating!",
		Message: "chef42 rated your recipe \"Pad Thai\" 5 stars",
		UserID:  "author",
		ActorID: "chef42",
	})
	if err != nil {
		t.Fatalf("publish notification: %v", err)
	}
	if ev == nil || ev.ID == "" || ev.CreatedAt.IsZero() {
		t.Fatalf("expected populated event, got %#v", ev)
	}

	items, err := mr.List(consts.NotificationsKeyPrefix + "author")
	if err != nil {
		t.Fatalf("read list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 stored notification, got %d", len(items))
	}

	var live domain.NotificationEvent
	if err := json.Unmarshal(receive(t, sub), &live); err != nil {
		t.Fatalf("decode live event: %v", err)
	}
	if live.ID != ev.ID {
		t.Fatalf("live event id %s does not match stored %s", live.ID, ev.ID)
	}
}

func TestPublishNotificationRejectsSelfNotification(t *testing.T) {
	svc, mr, _ := newTestService(t, &stubDirectory{}, nil)
	sub := svc.SubscribeToNotifications("chef42")
	defer sub.Cancel()

	ev, err := svc.PublishNotification(context.Background(), domain.NotificationEvent{
		Kind:    domain.RecipeRated,
		UserID:  "chef42",
		ActorID: "chef42",
	})
	if err != nil {
		t.Fatalf("publish notification: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected self notification to be skipped, got %#v", ev)
	}
	if mr.Exists(consts.NotificationsKeyPrefix + "chef42") {
		t.Fatal("expected no stored notification")
	}
	assertSilent(t, sub)
}

func TestNotificationListCapped(t *testing.T) {
	svc, mr, _ := newTestService(t, &stubDirectory{}, nil)
	ctx := context.Background()

	for i := 0; i < consts.NotificationsCap+20; i++ {
		if _, err := svc.PublishNotification(ctx, domain.NotificationEvent{
			Kind:    domain.UserFollowed,
			Message: fmt.Sprintf("follower %d", i),
			UserID:  "popular",
		}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	items, err := mr.List(consts.NotificationsKeyPrefix + "popular")
	if err != nil {
		t.Fatalf("read list: %v", err)
	}
	if len(items) != consts.NotificationsCap {
		t.Fatalf("expected cap %d, got %d", consts.NotificationsCap, len(items))
	}
}

func TestPublishActivityFansOutToFollowersAndGlobal(t *testing.T) {
	followers := []string{"f1", "f2", "f3"}
	dir := &stubDirectory{
		getActorFn: func(ctx context.Context, userID string) (domain.FeedUser, error) {
			return domain.FeedUser{ID: userID, Username: "chef42"}, nil
		},
		getRecipeFn: func(ctx context.Context, recipeID string) (domain.FeedRecipe, error) {
			return domain.FeedRecipe{ID: recipeID, Title: "Pad Thai"}, nil
		},
		listFollowersFn: func(ctx context.Context, userID string) ([]string, error) {
			return followers, nil
		},
	}
	svc, mr, _ := newTestService(t, dir, nil)

	subs := make([]*broker.Subscription, 0, len(followers))
	for _, f := range followers {
		sub := svc.SubscribeToActivityFeed(f)
		defer sub.Cancel()
		subs = append(subs, sub)
	}
	globalSub := svc.SubscribeToGlobalActivityFeed()
	defer globalSub.Cancel()

	ev, err := svc.PublishActivity(context.Background(), "chef42", domain.RecipeCreated, "r1", nil)
	if err != nil {
		t.Fatalf("publish activity: %v", err)
	}
	if ev == nil {
		t.Fatal("expected event")
	}
	if ev.Message != "chef42 shared a new recipe: Pad Thai" {
		t.Fatalf("unexpected message %q", ev.Message)
	}

	for _, f := range followers {
		items, err := mr.List(consts.ActivityFeedKeyPrefix + f)
		if err != nil {
			t.Fatalf("read list of %s: %v", f, err)
		}
		if len(items) != 1 {
			t.Fatalf("expected 1 entry for %s, got %d", f, len(items))
		}
	}
	globalItems, err := mr.List(consts.GlobalActivityFeedKey)
	if err != nil {
		t.Fatalf("read global list: %v", err)
	}
	if len(globalItems) != 1 {
		t.Fatalf("expected 1 global entry, got %d", len(globalItems))
	}

	for _, sub := range subs {
		receive(t, sub)
	}
	receive(t, globalSub)
}

func TestPublishActivityUnknownActorIsSilentNoop(t *testing.T) {
	svc, mr, _ := newTestService(t, &stubDirectory{}, nil)
	globalSub := svc.SubscribeToGlobalActivityFeed()
	defer globalSub.Cancel()

	ev, err := svc.PublishActivity(context.Background(), "ghost", domain.RecipeCreated, "r1", nil)
	if err != nil {
		t.Fatalf("publish activity: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected nil event, got %#v", ev)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected no writes, got keys %v", keys)
	}
	assertSilent(t, globalSub)
}

func TestPublishActivityMissingRecipeDegrades(t *testing.T) {
	dir := &stubDirectory{
		getActorFn: func(ctx context.Context, userID string) (domain.FeedUser, error) {
			return domain.FeedUser{ID: userID, Username: "chef42"}, nil
		},
	}
	svc, mr, _ := newTestService(t, dir, nil)

	ev, err := svc.PublishActivity(context.Background(), "chef42", domain.RecipeRated, "deleted", domain.RatingPayload{Rating: 4})
	if err != nil {
		t.Fatalf("publish activity: %v", err)
	}
	if ev == nil {
		t.Fatal("expected event")
	}
	if ev.Recipe != nil {
		t.Fatalf("expected recipe unset, got %#v", ev.Recipe)
	}
	if !mr.Exists(consts.GlobalActivityFeedKey) {
		t.Fatal("expected global feed entry")
	}
}

func TestGetUserActivityFeedMostRecentFirst(t *testing.T) {
	svc, _, _ := newTestService(t, &stubDirectory{}, nil)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		ev := domain.ActivityFeedEvent{
			ID:    fmt.Sprintf("e%d", i),
			Kind:  domain.RecipeCreated,
			Actor: domain.FeedUser{ID: "a", Username: "a"},
		}
		data, _ := json.Marshal(ev)
		if err := svc.store.PushTrim(ctx, consts.ActivityFeedKeyPrefix+"u1", data, consts.UserFeedCap); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	feed, err := svc.GetUserActivityFeed(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}
	if len(feed) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(feed))
	}
	for i, want := range []string{"e5", "e4", "e3"} {
		if feed[i].ID != want {
			t.Fatalf("entry %d: expected %s, got %s", i, want, feed[i].ID)
		}
	}
}

func TestFeedReadSkipsMalformedEntries(t *testing.T) {
	svc, _, _ := newTestService(t, &stubDirectory{}, nil)
	ctx := context.Background()

	valid, _ := json.Marshal(domain.ActivityFeedEvent{ID: "ok", Kind: domain.RecipeCreated, Actor: domain.FeedUser{ID: "a"}})
	if err := svc.store.PushTrim(ctx, consts.GlobalActivityFeedKey, valid, consts.GlobalFeedCap); err != nil {
		t.Fatalf("push valid: %v", err)
	}
	if err := svc.store.PushTrim(ctx, consts.GlobalActivityFeedKey, []byte("{corrupt"), consts.GlobalFeedCap); err != nil {
		t.Fatalf("push corrupt: %v", err)
	}

	feed, err := svc.GetGlobalActivityFeed(ctx, 10)
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}
	if len(feed) != 1 || feed[0].ID != "ok" {
		t.Fatalf("expected single valid entry, got %#v", feed)
	}
}

func TestGetUserNotificationsEnriches(t *testing.T) {
	dir := &stubDirectory{
		getActorFn: func(ctx context.Context, userID string) (domain.FeedUser, error) {
			return domain.FeedUser{ID: userID, Username: "chef42"}, nil
		},
		getRecipeFn: func(ctx context.Context, recipeID string) (domain.FeedRecipe, error) {
			return domain.FeedRecipe{ID: recipeID, Title: "Pad Thai"}, nil
		},
	}
	svc, _, _ := newTestService(t, dir, nil)
	ctx := context.Background()

	if _, err := svc.PublishNotification(ctx, domain.NotificationEvent{
		Kind:     domain.RecipeRated,
		UserID:   "author",
		ActorID:  "chef42",
		RecipeID: "r1",
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	notifications, err := svc.GetUserNotifications(ctx, "author", 10)
	if err != nil {
		t.Fatalf("read notifications: %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifications))
	}
	n := notifications[0]
	if n.Actor == nil || n.Actor.Username != "chef42" {
		t.Fatalf("expected enriched actor, got %#v", n.Actor)
	}
	if n.Recipe == nil || n.Recipe.Title != "Pad Thai" {
		t.Fatalf("expected enriched recipe, got %#v", n.Recipe)
	}
}

func TestOnRecipeRatedNotifiesAuthorAndRefreshes(t *testing.T) {
	dir := &stubDirectory{
		getActorFn: func(ctx context.Context, userID string) (domain.FeedUser, error) {
			return domain.FeedUser{ID: userID, Username: "rater"}, nil
		},
		getRecipeFn: func(ctx context.Context, recipeID string) (domain.FeedRecipe, error) {
			return domain.FeedRecipe{ID: recipeID, Title: "Pad Thai"}, nil
		},
		listFollowersFn: func(ctx context.Context, userID string) ([]string, error) {
			return []string{"fan"}, nil
		},
	}
	rec := &stubRecommender{}
	svc, mr, _ := newTestService(t, dir, rec)
	ctx := context.Background()

	svc.OnRecipeRated(ctx, "r1", 5, "rater", "author")

	items, err := mr.List(consts.NotificationsKeyPrefix + "author")
	if err != nil {
		t.Fatalf("read notifications: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(items))
	}
	var n domain.NotificationEvent
	if err := json.Unmarshal([]byte(items[0]), &n); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if n.Kind != domain.RecipeRated {
		t.Fatalf("unexpected kind %s", n.Kind)
	}
	if n.Message != `rater rated your recipe "Pad Thai" 5 stars` {
		t.Fatalf("unexpected message %q", n.Message)
	}
	payload, err := domain.UnmarshalPayload(n.Kind, n.Data)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if rating, ok := payload.(domain.RatingPayload); !ok || rating.Rating != 5 {
		t.Fatalf("unexpected payload %#v", payload)
	}

	fanItems, err := mr.List(consts.ActivityFeedKeyPrefix + "fan")
	if err != nil {
		t.Fatalf("read fan feed: %v", err)
	}
	if len(fanItems) != 1 {
		t.Fatalf("expected 1 activity entry for follower, got %d", len(fanItems))
	}

	if len(rec.rated) != 1 || rec.rated[0] != "rater" {
		t.Fatalf("expected recommendation refresh for rater, got %v", rec.rated)
	}
}

func TestOnRecipeRatedOwnRecipeSkipsNotification(t *testing.T) {
	dir := &stubDirectory{
		getActorFn: func(ctx context.Context, userID string) (domain.FeedUser, error) {
			return domain.FeedUser{ID: userID, Username: "author"}, nil
		},
		getRecipeFn: func(ctx context.Context, recipeID string) (domain.FeedRecipe, error) {
			return domain.FeedRecipe{ID: recipeID, Title: "Pad Thai"}, nil
		},
	}
	svc, mr, _ := newTestService(t, dir, nil)

	svc.OnRecipeRated(context.Background(), "r1", 5, "author", "author")

	if mr.Exists(consts.NotificationsKeyPrefix + "author") {
		t.Fatal("expected no self notification")
	}
	if !mr.Exists(consts.GlobalActivityFeedKey) {
		t.Fatal("expected activity still published")
	}
}

func TestOnRecipeRatedMissingRecipeStillNotifiesAuthor(t *testing.T) {
	dir := &stubDirectory{
		getActorFn: func(ctx context.Context, userID string) (domain.FeedUser, error) {
			return domain.FeedUser{ID: userID, Username: "rater"}, nil
		},
	}
	svc, mr, _ := newTestService(t, dir, nil)

	svc.OnRecipeRated(context.Background(), "deleted", 5, "rater", "author")

	items, err := mr.List(consts.NotificationsKeyPrefix + "author")
	if err != nil {
		t.Fatalf("read notifications: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 notification despite missing recipe, got %d", len(items))
	}
	var n domain.NotificationEvent
	if err := json.Unmarshal([]byte(items[0]), &n); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if n.Kind != domain.RecipeRated || n.RecipeID != "deleted" {
		t.Fatalf("unexpected notification %#v", n)
	}
	if n.Message != `rater rated your recipe "" 5 stars` {
		t.Fatalf("unexpected message %q", n.Message)
	}
}

func TestOnUserFollowedNotifiesAndBackfills(t *testing.T) {
	// Followed user has 6 recipes; only the 5 most recent are replayed.
	recent := []domain.FeedRecipe{
		{ID: "r6", Title: "Recipe 6"},
		{ID: "r5", Title: "Recipe 5"},
		{ID: "r4", Title: "Recipe 4"},
		{ID: "r3", Title: "Recipe 3"},
		{ID: "r2", Title: "Recipe 2"},
	}
	dir := &stubDirectory{
		getActorFn: func(ctx context.Context, userID string) (domain.FeedUser, error) {
			return domain.FeedUser{ID: userID, Username: userID}, nil
		},
		getRecipeFn: func(ctx context.Context, recipeID string) (domain.FeedRecipe, error) {
			for _, r := range recent {
				if r.ID == recipeID {
					return r, nil
				}
			}
			return domain.FeedRecipe{}, domain.ErrNotFound
		},
		listFollowersFn: func(ctx context.Context, userID string) ([]string, error) {
			return []string{"newFollower"}, nil
		},
		listRecentFn: func(ctx context.Context, userID string, limit int) ([]domain.FeedRecipe, error) {
			if limit != consts.FollowBackfillLimit {
				t.Fatalf("expected backfill limit %d, got %d", consts.FollowBackfillLimit, limit)
			}
			return recent, nil
		},
	}
	svc, mr, _ := newTestService(t, dir, nil)
	ctx := context.Background()

	svc.OnUserFollowed(ctx, "newFollower", "chef42")

	notifications, err := mr.List(consts.NotificationsKeyPrefix + "chef42")
	if err != nil {
		t.Fatalf("read notifications: %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("expected 1 follow notification, got %d", len(notifications))
	}
	var n domain.NotificationEvent
	if err := json.Unmarshal([]byte(notifications[0]), &n); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if n.Kind != domain.UserFollowed || n.Message != "newFollower started following you" {
		t.Fatalf("unexpected notification %#v", n)
	}

	feed, err := svc.GetUserActivityFeed(ctx, "newFollower", 10)
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}
	if len(feed) != consts.FollowBackfillLimit {
		t.Fatalf("expected %d backfilled entries, got %d", consts.FollowBackfillLimit, len(feed))
	}
	for i, want := range []string{"r6", "r5", "r4", "r3", "r2"} {
		if feed[i].Recipe == nil || feed[i].Recipe.ID != want {
			t.Fatalf("entry %d: expected recipe %s, got %#v", i, want, feed[i].Recipe)
		}
	}
}

func TestOnRecipeCreatedTriggersRecommendationRefresh(t *testing.T) {
	dir := &stubDirectory{
		getActorFn: func(ctx context.Context, userID string) (domain.FeedUser, error) {
			return domain.FeedUser{ID: userID, Username: "chef42"}, nil
		},
		getRecipeFn: func(ctx context.Context, recipeID string) (domain.FeedRecipe, error) {
			return domain.FeedRecipe{ID: recipeID, Title: "Pad Thai"}, nil
		},
	}
	rec := &stubRecommender{}
	svc, mr, _ := newTestService(t, dir, rec)

	recipe := domain.RecipeDetail{
		FeedRecipe:  domain.FeedRecipe{ID: "r1", Title: "Pad Thai", Cuisine: "thai"},
		Ingredients: []string{"rice noodles", "peanuts"},
	}
	svc.OnRecipeCreated(context.Background(), recipe, "chef42")

	if !mr.Exists(consts.GlobalActivityFeedKey) {
		t.Fatal("expected global activity entry")
	}
	if len(rec.created) != 1 || rec.created[0] != "r1" {
		t.Fatalf("expected recommendation refresh for r1, got %v", rec.created)
	}
}

func TestStoreOutageDoesNotFailDomainAction(t *testing.T) {
	dir := &stubDirectory{
		getActorFn: func(ctx context.Context, userID string) (domain.FeedUser, error) {
			return domain.FeedUser{ID: userID, Username: "chef42"}, nil
		},
	}
	svc, mr, _ := newTestService(t, dir, nil)
	sub := svc.SubscribeToGlobalActivityFeed()
	defer sub.Cancel()
	mr.Close()

	ev, err := svc.PublishActivity(context.Background(), "chef42", domain.RecipeCreated, "", nil)
	if err != nil {
		t.Fatalf("expected best-effort success, got %v", err)
	}
	if ev == nil {
		t.Fatal("expected event despite store outage")
	}
	// Live delivery is independent of the store.
	receive(t, sub)
}
