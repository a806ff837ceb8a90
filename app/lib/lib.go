package lib

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"amoura/m/v2/app/config"
	"amoura/m/v2/app/db/mongo"
	"amoura/m/v2/app/db/redis"
	"amoura/m/v2/app/models"
)

var (
	TIMEOUT       = 30 * time.Second
	ErrUserBanned = fmt.Errorf("user is banned")
)

type ClientName string

const (
	WebClientName     ClientName = "web"
	WebhookClientName ClientName = "webhook"
	WorkerClientName  ClientName = "worker"
)

// SetupUserAndContext loads (or lazily creates) the ledger profile and
// builds the request context every downstream component expects: user id,
// client name and current plan.
func SetupUserAndContext(userId string, client ClientName) (user *models.MongoUser, currentContext context.Context, cancelContext context.CancelFunc, err error) {
	if redis.IsUserBanned(userId) {
		return nil, nil, nil, ErrUserBanned
	}

	currentContext = context.WithValue(context.Background(), models.UserContext{}, userId)
	currentContext = context.WithValue(currentContext, models.ClientContext{}, string(client))
	currentContext, cancelContext = context.WithTimeout(currentContext, TIMEOUT)

	user, err = mongo.MongoDBClient.EnsureUser(currentContext)
	if err != nil {
		cancelContext()
		return nil, nil, nil, fmt.Errorf("SetupUserAndContext: %w", err)
	}
	if user.CreatedAt.After(time.Now().Add(-time.Second)) {
		config.CONFIG.DataDogClient.Incr("new_user", []string{"client:" + string(client)}, 1)
	}

	currentContext = context.WithValue(currentContext, models.PlanContext{}, user.PlanName)
	log.Debugf("User %s plan: %s (active: %t)", userId, user.PlanName, user.PlanActive)
	return user, currentContext, cancelContext, nil
}

// SettlementContext builds the background context used when a webhook
// event is applied on behalf of a user.
func SettlementContext(userId string) context.Context {
	ctx := context.WithValue(context.Background(), models.UserContext{}, userId)
	return context.WithValue(ctx, models.ClientContext{}, string(WebhookClientName))
}
