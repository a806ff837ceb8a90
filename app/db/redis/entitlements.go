package redis

import (
	"context"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// Entitlement caches are advisory read-through mirrors of the ledger.
// They gate UI affordances only; servers re-check mongo before any
// entitlement-gated action.

const entitlementCacheTTL = 30 * time.Second

func UserCreditsKey(user string) string {
	return user + ":credits"
}

func UserTrialKey(user string) string {
	return user + ":trial"
}

func UserTotalSpendKey(user string) string {
	return user + ":total_spend_cents"
}

func CacheCredits(user string, credits int64) {
	RedisClient.Set(context.Background(), UserCreditsKey(user), credits, entitlementCacheTTL)
}

func GetCachedCredits(user string) (int64, bool) {
	value, err := RedisClient.Get(context.Background(), UserCreditsKey(user)).Result()
	if err != nil {
		return 0, false
	}
	credits, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return credits, true
}

// EvictUser drops every cached entitlement for the user. Called after any
// ledger mutation so stale trial timers or balances never outlive a
// settlement.
func EvictUser(user string) {
	cmd := RedisClient.Del(context.Background(), UserCreditsKey(user), UserTrialKey(user))
	if cmd.Err() != nil {
		log.Warnf("EvictUser: failed to evict cache for %s: %s", user, cmd.Err())
	}
}

func IsUserBanned(user string) bool {
	banned, err := RedisClient.Get(context.Background(), user+":banned").Result()
	if err != nil {
		return false
	}
	return banned == "true"
}
