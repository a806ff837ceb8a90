// Run regularly to deactivate trials whose window has passed
package trialsweep

import (
	"context"
	"time"

	"amoura/m/v2/app/config"
	"amoura/m/v2/app/db/mongo"
	"amoura/m/v2/app/db/redis"
	"amoura/m/v2/app/workers"

	log "github.com/sirupsen/logrus"
)

var WORKER *workers.Worker

func Run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	swept, err := mongo.MongoDBClient.DeactivateExpiredTrials(ctx, time.Now())
	if err != nil {
		log.Errorf("[trialsweep] failed to deactivate expired trials: %s", err)
		return
	}
	config.CONFIG.DataDogClient.Gauge("trial_sweep_worker.deactivated", float64(swept), nil, 1)
	if swept == 0 {
		log.Debug("[trialsweep] no expired trials")
		return
	}

	// cached trial flags may still say active, drop them wholesale
	clearByWildcard(redis.UserTrialKey("*"))
	log.Infof("[trialsweep] deactivated %d expired trial(s)", swept)
}

func clearByWildcard(wildcard string) {
	keys := redis.RedisClient.Keys(context.Background(), wildcard)
	if len(keys.Val()) == 0 {
		return
	}
	cmd := redis.RedisClient.Del(context.Background(), keys.Val()...)
	if cmd.Err() != nil {
		log.Errorf("[trialsweep] failed to clear %s: %s", wildcard, cmd.Err())
		return
	}
	count, _ := cmd.Result()
	log.Infof("[trialsweep] cleared %d cached trial key(s)", count)
}
