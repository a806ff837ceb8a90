// Run regularly to check status of the system and persist it to the redis
package status

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"amoura/m/v2/app/config"
	"amoura/m/v2/app/db/mongo"
	"amoura/m/v2/app/db/redis"
	"amoura/m/v2/app/models"
	"amoura/m/v2/app/workers"
)

var WORKER *workers.Worker

type SystemStatus struct {
	MongoDBAvailable     bool  `json:"mongoDbAvailable"`
	RedisAvailable       bool  `json:"redisAvailable"`
	TotalUsers           int64 `json:"totalUsers"`
	TotalLoveUsers       int64 `json:"totalLoveUsers"`
	TotalPassionUsers    int64 `json:"totalPassionUsers"`
	TotalCreditsConsumed int64 `json:"totalCreditsConsumed"`
}

func Run() {
	systemStatus, err := redis.WrapInCache(redis.RedisClient, "system-status", WORKER.Interval*10, FetchStatus)()
	if err != nil {
		log.Errorf("failed to fetch system status: %s", err)
		return
	}
	log.Debugf("system status: %s", systemStatus)
}

func FetchStatus() (string, error) {
	w := WORKER
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	systemStatus := SystemStatus{
		MongoDBAvailable: mongo.MongoDBClient.Ping(ctx, readpref.Primary()) == nil,
		RedisAvailable:   redis.RedisClient.Ping(ctx).Err() == nil,
	}
	if systemStatus.MongoDBAvailable {
		systemStatus.TotalUsers, _ = mongo.MongoDBClient.GetUsersCount(ctx)
		systemStatus.TotalLoveUsers, _ = mongo.MongoDBClient.GetUsersCountForPlan(ctx, string(models.LovePlanName))
		systemStatus.TotalPassionUsers, _ = mongo.MongoDBClient.GetUsersCountForPlan(ctx, string(models.PassionPlanName))
	}
	if systemStatus.RedisAvailable {
		systemStatus.TotalCreditsConsumed, _ = redis.RedisClient.Get(ctx, "system_totals:credits_consumed").Int64()
	}

	config.CONFIG.DataDogClient.Gauge("status_worker.mongo_db_available", boolToFloat64(systemStatus.MongoDBAvailable), nil, 1)
	config.CONFIG.DataDogClient.Gauge("status_worker.redis_available", boolToFloat64(systemStatus.RedisAvailable), nil, 1)
	config.CONFIG.DataDogClient.Gauge("status_worker.total_users", float64(systemStatus.TotalUsers), nil, 1)
	config.CONFIG.DataDogClient.Gauge("status_worker.total_love_users", float64(systemStatus.TotalLoveUsers), nil, 1)
	config.CONFIG.DataDogClient.Gauge("status_worker.total_passion_users", float64(systemStatus.TotalPassionUsers), nil, 1)
	config.CONFIG.DataDogClient.Gauge("status_worker.total_credits_consumed", float64(systemStatus.TotalCreditsConsumed), nil, 1)

	if !systemStatus.MongoDBAvailable {
		reportUnavailableStatus(w.TelegramSystemBot, w.SystemTelegramChatID, w.AppName, "MongoDB")
	}
	if !systemStatus.RedisAvailable {
		reportUnavailableStatus(w.TelegramSystemBot, w.SystemTelegramChatID, w.AppName, "Redis")
	}
	statusBytes, _ := json.Marshal(systemStatus)
	return string(statusBytes), nil
}

func reportUnavailableStatus(bot *telego.Bot, chatID telego.ChatID, appName string, systemName string) {
	if bot == nil {
		log.Error("Telegram System bot is not initialized")
		return
	}
	message := "🔥 " + appName + ": " + systemName + " is down 🔥"
	log.Error(message)
	_, err := bot.SendMessage(tu.Message(chatID, message))
	if err != nil {
		log.Errorf("Failed to send message to telegram: %s", err)
	}
}

func boolToFloat64(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
