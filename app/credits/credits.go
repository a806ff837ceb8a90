package credits

import (
	"context"
	"fmt"

	"amoura/m/v2/app/config"
	"amoura/m/v2/app/db/mongo"
	"amoura/m/v2/app/db/redis"
	"amoura/m/v2/app/models"

	log "github.com/sirupsen/logrus"
)

// Fixed credit costs per gated action.
const (
	CostTextMessage     int64 = 1
	CostAudioMessage    int64 = 1
	CostVoiceCallMinute int64 = 5
)

// Consume atomically spends credits. ok=false is the normal
// insufficient-balance outcome, not an error: the UI answers it with an
// upsell, not a failure screen.
func Consume(ctx context.Context, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("%w: consume amount must be positive", models.ErrValidation)
	}
	ok, err := mongo.MongoDBClient.ConsumeCredits(ctx, amount)
	if err != nil {
		return false, err
	}

	user := ctx.Value(models.UserContext{}).(string)
	outcome := "insufficient"
	if ok {
		outcome = "ok"
		redis.EvictUser(user)
		redis.RedisClient.IncrBy(ctx, "system_totals:credits_consumed", amount)
	}
	config.CONFIG.DataDogClient.Incr("credits.consume", []string{"outcome:" + outcome}, 1)
	return ok, nil
}

// Refund compensates a consumption whose downstream action failed (an AI
// call that errored after the credit was spent). Keyed by the charge id,
// so redelivery or a client retry cannot double-refund.
func Refund(ctx context.Context, chargeID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: refund amount must be positive", models.ErrValidation)
	}
	err := mongo.MongoDBClient.RefundCredits(ctx, chargeID, amount)
	if err != nil {
		return err
	}
	user := ctx.Value(models.UserContext{}).(string)
	redis.EvictUser(user)
	config.CONFIG.DataDogClient.Incr("credits.refund", nil, 1)
	log.Infof("Refunded %d credits to %s for charge %s", amount, user, chargeID)
	return nil
}

// Balance reads through the redis cache; the cached value is advisory
// and only short-circuits the mongo read for UI gating.
func Balance(ctx context.Context) (int64, error) {
	user := ctx.Value(models.UserContext{}).(string)
	if cached, ok := redis.GetCachedCredits(user); ok {
		return cached, nil
	}
	balance, err := mongo.MongoDBClient.GetCredits(ctx)
	if err != nil {
		return 0, err
	}
	redis.CacheCredits(user, balance)
	return balance, nil
}
