package credits

import (
	"context"
	"log"
	"sync"
	"testing"

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

func TestConsume(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient(models.MongoUser{ID: "123", Credits: 10})
	mongo.MongoDBClient = mock
	ctx := userCtx("123")

	ok, err := Consume(ctx, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(7), mock.Users["123"].Credits)

	// spending more than the balance is a normal negative outcome
	ok, err = Consume(ctx, 8)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(7), mock.Users["123"].Credits)
}

func TestConsumeRejectsNonPositiveAmounts(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mongo.MongoDBClient = mongo.NewMockMongoDBClient(models.MongoUser{ID: "123", Credits: 10})
	ctx := userCtx("123")

	for _, amount := range []int64{0, -1} {
		_, err := Consume(ctx, amount)
		assert.ErrorIs(t, err, models.ErrValidation)
	}
}

func TestConsumeNeverGoesNegative(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient(models.MongoUser{ID: "123", Credits: 5})
	mongo.MongoDBClient = mock
	ctx := userCtx("123")

	var wg sync.WaitGroup
	var granted int64
	var mu sync.Mutex
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := Consume(ctx, 1)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), granted, "exactly the available balance may be spent")
	assert.Equal(t, int64(0), mock.Users["123"].Credits)
}

func TestRefundIsIdempotent(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient(models.MongoUser{ID: "123", Credits: 0})
	mongo.MongoDBClient = mock
	ctx := userCtx("123")

	require.NoError(t, Refund(ctx, "charge_1", 3))
	require.NoError(t, Refund(ctx, "charge_1", 3))
	assert.Equal(t, int64(3), mock.Users["123"].Credits, "replayed refund must not re-credit")

	require.NoError(t, Refund(ctx, "charge_2", 2))
	assert.Equal(t, int64(5), mock.Users["123"].Credits)
}

func TestBalanceReadsThroughCache(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient(models.MongoUser{ID: "123", Credits: 42})
	mongo.MongoDBClient = mock
	ctx := userCtx("123")

	balance, err := Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance)

	// cached value answers the next read, the ledger stays authoritative
	mock.Users["123"].Credits = 41
	balance, err = Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance)

	// any mutation evicts
	ok, err := Consume(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	balance, err = Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)
}
