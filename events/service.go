package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"cookbook-connect/broker"
	"cookbook-connect/domain"
	"cookbook-connect/internal/consts"
)

// fanoutWorkers bounds concurrent follower writes. Follower list keys are
// disjoint, so the writes themselves need no coordination beyond the
// wait-all barrier.
const fanoutWorkers = 8

const (
	defaultNotificationsLimit = 20
	defaultUserFeedLimit      = 20
	defaultGlobalFeedLimit    = 50
)

// Directory is the narrow durable-store read contract the dispatcher
// consumes for enrichment and audience queries.
type Directory interface {
	GetActorSummary(ctx context.Context, userID string) (domain.FeedUser, error)
	GetRecipeSummary(ctx context.Context, recipeID string) (domain.FeedRecipe, error)
	ListFollowerIDs(ctx context.Context, userID string) ([]string, error)
	ListRecentRecipes(ctx context.Context, userID string, limit int) ([]domain.FeedRecipe, error)
}

// FeedStore is the bounded-list contract backing notification and activity
// feeds.
type FeedStore interface {
	PushTrim(ctx context.Context, key string, data []byte, max int) error
	Range(ctx context.Context, key string, start, end int64) ([][]byte, error)
	Publish(ctx context.Context, channel string, data []byte) error
}

// Recommender is notified after domain reactions that may change a user's
// recommendation set.
type Recommender interface {
	RecipeCreated(ctx context.Context, recipe domain.RecipeDetail, authorID string)
	UserRated(ctx context.Context, userID string)
}

// Service turns domain actions into durable bounded-list entries and live
// broadcasts. All delivery is best-effort relative to the triggering
// action: store failures are logged, never propagated.
type Service struct {
	store  FeedStore
	dir    Directory
	broker *broker.Broker
	rec    Recommender
}

// New wires the dispatcher. rec may be nil when recommendation refresh is
// disabled.
func New(store FeedStore, dir Directory, b *broker.Broker, rec Recommender) *Service {
	return &Service{store: store, dir: dir, broker: b, rec: rec}
}

// PublishNotification creates, stores, and broadcasts one notification
// scoped to its recipient. The self-notification guard lives here: an
// actor never receives a notification about their own action, no matter
// what the caller passed.
func (s *Service) PublishNotification(ctx context.Context, n domain.NotificationEvent) (*domain.NotificationEvent, error) {
	if n.ActorID != "" && n.ActorID == n.UserID {
		log.Debugf("skipping self notification for user %s", n.UserID)
		return nil, nil
	}
	n.ID = uuid.NewString()
	n.CreatedAt = time.Now().UTC()
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.store.PushTrim(ctx, consts.NotificationsKeyPrefix+n.UserID, data, consts.NotificationsCap); err != nil {
		log.Errorf("store notification for %s: %v", n.UserID, err)
	}
	s.publish(ctx, consts.NotificationTopicPrefix+n.UserID, data)
	return &n, nil
}

// PublishActivity enriches and fans one activity event out to every
// follower's feed and to the global feed. A missing actor aborts silently;
// a missing recipe degrades the event. Follower writes run concurrently
// over a snapshot of the follower ids taken once up front.
func (s *Service) PublishActivity(ctx context.Context, actorID string, kind domain.Kind, recipeID string, payload domain.Payload) (*domain.ActivityFeedEvent, error) {
	actor, err := s.dir.GetActorSummary(ctx, actorID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Errorf("resolve actor %s: %v", actorID, err)
		}
		return nil, nil
	}
	var recipe *domain.FeedRecipe
	if recipeID != "" {
		r, err := s.dir.GetRecipeSummary(ctx, recipeID)
		switch {
		case err == nil:
			recipe = &r
		case errors.Is(err, domain.ErrNotFound):
			// Deleted recipe: publish without the snapshot.
		default:
			log.Errorf("resolve recipe %s: %v", recipeID, err)
		}
	}

	ev := domain.ActivityFeedEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		Message:   domain.ActivityMessage(kind, actor, recipe),
		Actor:     actor,
		Recipe:    recipe,
		CreatedAt: time.Now().UTC(),
	}
	if payload != nil {
		if payload.PayloadKind() != kind {
			log.Warnf("dropping %s payload on %s event", payload.PayloadKind(), kind)
		} else {
			ev.Data = domain.MarshalPayload(payload)
		}
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal activity event: %w", err)
	}

	followers, err := s.dir.ListFollowerIDs(ctx, actorID)
	if err != nil {
		log.Errorf("list followers of %s: %v", actorID, err)
		followers = nil
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, fanoutWorkers)
	for _, followerID := range followers {
		wg.Add(1)
		sem <- struct{}{}
		go func(userID string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.store.PushTrim(ctx, consts.ActivityFeedKeyPrefix+userID, data, consts.UserFeedCap); err != nil {
				log.Errorf("store activity for %s: %v", userID, err)
			}
			s.publish(ctx, consts.ActivityTopicPrefix+userID, data)
		}(followerID)
	}
	wg.Wait()

	if err := s.store.PushTrim(ctx, consts.GlobalActivityFeedKey, data, consts.GlobalFeedCap); err != nil {
		log.Errorf("store global activity: %v", err)
	}
	s.publish(ctx, consts.GlobalActivityTopic, data)

	return &ev, nil
}

// publish broadcasts to live in-process subscribers and mirrors the event
// on the Redis channel of the same name for sibling processes.
func (s *Service) publish(ctx context.Context, topic string, data []byte) {
	s.broker.Publish(topic, data)
	if err := s.store.Publish(ctx, topic, data); err != nil {
		log.Debugf("mirror to %s: %v", topic, err)
	}
}

// ---- Domain reaction handlers ----

// OnRecipeCreated reacts to a newly created recipe: feed activity plus a
// recommendation push to users with matching taste.
func (s *Service) OnRecipeCreated(ctx context.Context, recipe domain.RecipeDetail, authorID string) {
	if _, err := s.PublishActivity(ctx, authorID, domain.RecipeCreated, recipe.ID, nil); err != nil {
		log.Errorf("publish recipe-created activity: %v", err)
	}
	if s.rec != nil {
		s.rec.RecipeCreated(ctx, recipe, authorID)
	}
}

// OnRecipeRated notifies the recipe author (unless rating their own
// recipe), records the rater's activity, and refreshes the rater's
// recommendations.
func (s *Service) OnRecipeRated(ctx context.Context, recipeID string, rating int, raterID, authorID string) {
	if raterID != authorID {
		s.notifyAboutRecipe(ctx, domain.RecipeRated, "New Rating!", raterID, authorID, recipeID,
			func(actor domain.FeedUser, recipe domain.FeedRecipe) string {
				return fmt.Sprintf("%s rated your recipe %q %d stars", actor.Username, recipe.Title, rating)
			},
			domain.RatingPayload{Rating: rating})
	}
	if _, err := s.PublishActivity(ctx, raterID, domain.RecipeRated, recipeID, domain.RatingPayload{Rating: rating}); err != nil {
		log.Errorf("publish recipe-rated activity: %v", err)
	}
	if s.rec != nil {
		s.rec.UserRated(ctx, raterID)
	}
}

// OnRecipeCommented notifies the recipe author (unless commenting on their
// own recipe) and records the commenter's activity.
func (s *Service) OnRecipeCommented(ctx context.Context, recipeID, comment, commenterID, authorID string) {
	if commenterID != authorID {
		s.notifyAboutRecipe(ctx, domain.RecipeCommented, "New Comment!", commenterID, authorID, recipeID,
			func(actor domain.FeedUser, recipe domain.FeedRecipe) string {
				return fmt.Sprintf("%s commented on your recipe %q", actor.Username, recipe.Title)
			},
			domain.CommentPayload{Comment: comment})
	}
	if _, err := s.PublishActivity(ctx, commenterID, domain.RecipeCommented, recipeID, domain.CommentPayload{Comment: comment}); err != nil {
		log.Errorf("publish recipe-commented activity: %v", err)
	}
}

// OnUserFollowed notifies the followed user and backfills the new
// follower's feed with the followed user's most recent recipes.
func (s *Service) OnUserFollowed(ctx context.Context, followerID, followingID string) {
	follower, err := s.dir.GetActorSummary(ctx, followerID)
	if err != nil {
		log.Errorf("resolve follower %s: %v", followerID, err)
		return
	}
	if _, err := s.PublishNotification(ctx, domain.NotificationEvent{
		Kind:    domain.UserFollowed,
		Title:   "New Follower!",
		Message: follower.Username + " started following you",
		UserID:  followingID,
		ActorID: followerID,
	}); err != nil {
		log.Errorf("publish follow notification: %v", err)
	}

	recent, err := s.dir.ListRecentRecipes(ctx, followingID, consts.FollowBackfillLimit)
	if err != nil {
		log.Errorf("list recent recipes of %s: %v", followingID, err)
		return
	}
	// Replay oldest first so the feed stays most-recent-first.
	for i := len(recent) - 1; i >= 0; i-- {
		if _, err := s.PublishActivity(ctx, followingID, domain.RecipeCreated, recent[i].ID, nil); err != nil {
			log.Errorf("backfill recipe %s: %v", recent[i].ID, err)
		}
	}
}

func (s *Service) notifyAboutRecipe(ctx context.Context, kind domain.Kind, title, actorID, recipientID, recipeID string, message func(domain.FeedUser, domain.FeedRecipe) string, payload domain.Payload) {
	actor, err := s.dir.GetActorSummary(ctx, actorID)
	if err != nil {
		log.Errorf("resolve actor %s: %v", actorID, err)
		return
	}
	recipe, err := s.dir.GetRecipeSummary(ctx, recipeID)
	if err != nil {
		// Deleted recipe: notify anyway with what resolves.
		if !errors.Is(err, domain.ErrNotFound) {
			log.Errorf("resolve recipe %s: %v", recipeID, err)
		}
		recipe = domain.FeedRecipe{}
	}
	if _, err := s.PublishNotification(ctx, domain.NotificationEvent{
		Kind:     kind,
		Title:    title,
		Message:  message(actor, recipe),
		UserID:   recipientID,
		ActorID:  actorID,
		RecipeID: recipeID,
		Data:     domain.MarshalPayload(payload),
	}); err != nil {
		log.Errorf("publish %s notification: %v", kind, err)
	}
}

// ---- Feed reads ----

// GetUserNotifications returns up to limit stored notifications, newest
// first, with actor and recipe snapshots re-resolved against the durable
// store. Entries that no longer parse are skipped.
func (s *Service) GetUserNotifications(ctx context.Context, userID string, limit int) ([]domain.NotificationEvent, error) {
	if limit <= 0 {
		limit = defaultNotificationsLimit
	}
	raw, err := s.store.Range(ctx, consts.NotificationsKeyPrefix+userID, 0, int64(limit-1))
	if err != nil {
		return nil, err
	}
	out := make([]domain.NotificationEvent, 0, len(raw))
	for _, item := range raw {
		var n domain.NotificationEvent
		if err := json.Unmarshal(item, &n); err != nil {
			log.Warnf("skipping malformed notification for %s: %v", userID, err)
			continue
		}
		s.enrichNotification(ctx, &n)
		out = append(out, n)
	}
	return out, nil
}

// GetUserActivityFeed returns up to limit of the user's feed entries,
// newest first.
func (s *Service) GetUserActivityFeed(ctx context.Context, userID string, limit int) ([]domain.ActivityFeedEvent, error) {
	if limit <= 0 {
		limit = defaultUserFeedLimit
	}
	return s.readActivity(ctx, consts.ActivityFeedKeyPrefix+userID, limit)
}

// GetGlobalActivityFeed returns up to limit entries of the global feed,
// newest first.
func (s *Service) GetGlobalActivityFeed(ctx context.Context, limit int) ([]domain.ActivityFeedEvent, error) {
	if limit <= 0 {
		limit = defaultGlobalFeedLimit
	}
	return s.readActivity(ctx, consts.GlobalActivityFeedKey, limit)
}

func (s *Service) readActivity(ctx context.Context, key string, limit int) ([]domain.ActivityFeedEvent, error) {
	raw, err := s.store.Range(ctx, key, 0, int64(limit-1))
	if err != nil {
		return nil, err
	}
	out := make([]domain.ActivityFeedEvent, 0, len(raw))
	for _, item := range raw {
		var ev domain.ActivityFeedEvent
		if err := json.Unmarshal(item, &ev); err != nil {
			log.Warnf("skipping malformed entry in %s: %v", key, err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Service) enrichNotification(ctx context.Context, n *domain.NotificationEvent) {
	if n.ActorID != "" {
		if actor, err := s.dir.GetActorSummary(ctx, n.ActorID); err == nil {
			n.Actor = &actor
		}
	}
	if n.RecipeID != "" {
		if recipe, err := s.dir.GetRecipeSummary(ctx, n.RecipeID); err == nil {
			n.Recipe = &recipe
		}
	}
}

// ---- Live subscriptions ----

func (s *Service) SubscribeToNotifications(userID string) *broker.Subscription {
	return s.broker.Subscribe(consts.NotificationTopicPrefix + userID)
}

func (s *Service) SubscribeToActivityFeed(userID string) *broker.Subscription {
	return s.broker.Subscribe(consts.ActivityTopicPrefix + userID)
}

func (s *Service) SubscribeToGlobalActivityFeed() *broker.Subscription {
	return s.broker.Subscribe(consts.GlobalActivityTopic)
}

func (s *Service) SubscribeToRecommendations(userID string) *broker.Subscription {
	return s.broker.Subscribe(consts.RecommendationTopicPrefix + userID)
}
