package trial

import (
	"context"
	"log"
	"testing"
	"time"

	"amoura/m/v2/app/config"
	"amoura/m/v2/app/db/mongo"
	"amoura/m/v2/app/db/redis"
	"amoura/m/v2/app/models"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	testClient, err := statsd.New("127.0.0.1:8125", statsd.WithNamespace("tests."))
	if err != nil {
		log.Fatalf("error creating test DataDog client: %v", err)
	}
	config.CONFIG = &config.Config{
		DataDogClient: testClient,
	}
}

func userCtx(userId string) context.Context {
	ctx := context.WithValue(context.Background(), models.UserContext{}, userId)
	return context.WithValue(ctx, models.ClientContext{}, "web")
}

func TestEffectivePrecedence(t *testing.T) {
	now := time.Now()
	activeTrial := &models.MongoTrial{
		UserID:      "123",
		TrialStart:  now.Add(-time.Hour),
		TrialEnd:    now.Add(71 * time.Hour),
		TrialActive: true,
	}

	freeUser := &models.MongoUser{ID: "123", PlanName: models.FreePlanName}
	paidUser := &models.MongoUser{ID: "123", PlanName: models.LovePlanName, PlanActive: true}
	lapsedPaidUser := &models.MongoUser{ID: "123", PlanName: models.LovePlanName, PlanActive: false}

	assert.True(t, Effective(freeUser, activeTrial, now))
	assert.True(t, Effective(nil, activeTrial, now))

	// a paid plan always wins over the trial window
	assert.False(t, Effective(paidUser, activeTrial, now))

	// an inactive paid plan does not suppress the trial
	assert.True(t, Effective(lapsedPaidUser, activeTrial, now))

	// window closed or row deactivated
	assert.False(t, Effective(freeUser, &models.MongoTrial{TrialEnd: now.Add(-time.Minute), TrialActive: true}, now))
	assert.False(t, Effective(freeUser, &models.MongoTrial{TrialEnd: now.Add(time.Hour), TrialActive: false}, now))
	assert.False(t, Effective(freeUser, nil, now))
}

func TestStartTrialOncePerUser(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient(models.MongoUser{ID: "123"})
	mongo.MongoDBClient = mock
	ctx := userCtx("123")

	row, err := Start(ctx)
	require.NoError(t, err)
	assert.True(t, row.TrialActive)
	assert.WithinDuration(t, time.Now().Add(DefaultTrialDuration), row.TrialEnd, time.Minute)

	_, err = Start(ctx)
	assert.ErrorIs(t, err, models.ErrTrialExists)
}

func TestGetStatusDuringTrial(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient(models.MongoUser{ID: "123"})
	mongo.MongoDBClient = mock
	ctx := userCtx("123")

	_, err := Start(ctx)
	require.NoError(t, err)

	status, err := GetStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.False(t, status.HasPaidPlan)
	assert.InDelta(t, 72, status.HoursRemaining, 0.1)
}

func TestGetStatusPaidPlanWins(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient(models.MongoUser{
		ID:         "123",
		PlanName:   models.PassionPlanName,
		PlanActive: true,
	})
	mongo.MongoDBClient = mock
	ctx := userCtx("123")

	_, err := Start(ctx)
	require.NoError(t, err)

	status, err := GetStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.Active, "a paid plan suppresses the trial uniformly")
	assert.True(t, status.HasPaidPlan)

	// the trial row survives: cancel the plan and the remaining window counts again
	mock.Users["123"].PlanActive = false
	mock.Users["123"].PlanName = models.FreePlanName
	status, err = GetStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Active)
}

func TestGetStatusLazilyDeactivatesExpiredTrial(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient(models.MongoUser{ID: "123"})
	mongo.MongoDBClient = mock
	ctx := userCtx("123")

	mock.Trials["123"] = &models.MongoTrial{
		UserID:      "123",
		TrialStart:  time.Now().Add(-80 * time.Hour),
		TrialEnd:    time.Now().Add(-8 * time.Hour),
		TrialActive: true,
	}

	status, err := GetStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.Active)
	assert.False(t, mock.Trials["123"].TrialActive, "expired trial row is deactivated on read")
}

func TestDeactivateExpiredTrialsSweep(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient()
	mongo.MongoDBClient = mock

	now := time.Now()
	mock.Trials["expired"] = &models.MongoTrial{UserID: "expired", TrialEnd: now.Add(-time.Hour), TrialActive: true}
	mock.Trials["running"] = &models.MongoTrial{UserID: "running", TrialEnd: now.Add(time.Hour), TrialActive: true}
	mock.Trials["done"] = &models.MongoTrial{UserID: "done", TrialEnd: now.Add(-time.Hour), TrialActive: false}

	swept, err := mock.DeactivateExpiredTrials(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)
	assert.False(t, mock.Trials["expired"].TrialActive)
	assert.True(t, mock.Trials["running"].TrialActive)
}
