package consts

import "time"

// Bounded list keys. Each key addresses one capped, most-recent-first list
// in the feed store.
const (
	NotificationsKeyPrefix   = "notifications:"
	ActivityFeedKeyPrefix    = "activity_feed:"
	GlobalActivityFeedKey    = "activity_feed:global"
	RecommendationsKeyPrefix = "recommendations:"
)

// Live broadcast topics. The same names double as Redis pub/sub channels
// when events are mirrored for sibling processes.
const (
	NotificationTopicPrefix   = "notification:"
	ActivityTopicPrefix       = "activity:"
	GlobalActivityTopic       = "activity:global"
	RecommendationTopicPrefix = "recommendation:"
)

// List caps, enforced immediately after every insert.
const (
	NotificationsCap = 100
	UserFeedCap      = 50
	GlobalFeedCap    = 100
)

// RecommendationTTL is how long a cached recommendation set stays current.
const RecommendationTTL = time.Hour

// FollowBackfillLimit is how many of the followed user's recent recipes are
// replayed into a new follower's feed.
const FollowBackfillLimit = 5

const SSEDataPrefix = "data: "
