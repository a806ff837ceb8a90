package payments

import (
	"context"
	"log"
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
		DataDogClient:        testClient,
		AsaasWebhookToken:    "asaas-test-token",
		PicpaySellerToken:    "picpay-test-token",
		SlackSecurityChannel: "#test-security",
	}
}

func creditEvent(paymentID, userID string) *models.SettlementEvent {
	return &models.SettlementEvent{
		Provider:  models.AsaasProviderName,
		PaymentID: paymentID,
		Kind:      models.SettlementPaid,
		Reference: EncodeReference(Reference{
			UserID:       userID,
			PurchaseType: models.CreditPurchase,
			ItemID:       "pack_50",
		}),
		AmountCents: 990,
	}
}

func TestReconcileCreditPurchase(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient(models.MongoUser{ID: "123"})
	mongo.MongoDBClient = mock

	err := Reconcile(context.Background(), creditEvent("pay_1", "123"))
	require.NoError(t, err)
	assert.Equal(t, int64(50), mock.Users["123"].Credits)
}

func TestReconcileIsIdempotent(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient(models.MongoUser{ID: "123"})
	mongo.MongoDBClient = mock

	// webhook delivery plus poll fallback plus a provider redelivery
	for i := 0; i < 3; i++ {
		err := Reconcile(context.Background(), creditEvent("pay_1", "123"))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(50), mock.Users["123"].Credits, "duplicate settlements must not add credits twice")

	// a different payment id is a separate purchase
	err := Reconcile(context.Background(), creditEvent("pay_2", "123"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), mock.Users["123"].Credits)
}

func TestReconcileSubscriptionLifecycle(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient(models.MongoUser{ID: "123"})
	mongo.MongoDBClient = mock

	ref := EncodeReference(Reference{
		UserID:       "123",
		PurchaseType: models.SubscriptionPurchase,
		ItemID:       "plan_love",
	})

	err := Reconcile(context.Background(), &models.SettlementEvent{
		Provider:  models.PaypalProviderName,
		PaymentID: "sub_activated:I-1",
		Kind:      models.SettlementPaid,
		Reference: ref,
	})
	require.NoError(t, err)
	assert.True(t, mock.Users["123"].PlanActive)
	assert.Equal(t, models.LovePlanName, mock.Users["123"].PlanName)

	err = Reconcile(context.Background(), &models.SettlementEvent{
		Provider:  models.PaypalProviderName,
		PaymentID: "sub_cancelled:I-1",
		Kind:      models.SettlementCancelled,
		Reference: ref,
	})
	require.NoError(t, err)
	assert.False(t, mock.Users["123"].PlanActive)
	assert.Equal(t, models.FreePlanName, mock.Users["123"].PlanName)
}

func TestReconcileGift(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient(models.MongoUser{ID: "123"})
	mongo.MongoDBClient = mock

	event := &models.SettlementEvent{
		Provider:  models.StripeProviderName,
		PaymentID: "cs_1",
		Kind:      models.SettlementPaid,
		Reference: EncodeReference(Reference{
			UserID:       "123",
			PurchaseType: models.GiftPurchase,
			ItemID:       "gift_teddy",
		}),
		AmountCents: 990,
	}

	require.NoError(t, Reconcile(context.Background(), event))
	require.NoError(t, Reconcile(context.Background(), event))
	require.Len(t, mock.Gifts, 1, "gift must be recorded exactly once")
	assert.Equal(t, "gift_teddy", mock.Gifts[0].GiftID)
}

func TestReconcileMalformedReference(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient(models.MongoUser{ID: "123"})
	mongo.MongoDBClient = mock

	err := Reconcile(context.Background(), &models.SettlementEvent{
		Provider:  models.AsaasProviderName,
		PaymentID: "pay_bad",
		Kind:      models.SettlementPaid,
		Reference: "not-a-reference",
	})
	assert.ErrorIs(t, err, models.ErrMalformedReference)
	assert.Equal(t, int64(0), mock.Users["123"].Credits)
	assert.Empty(t, mock.Processed)
}

func TestReconcileUnknownItemIsMalformed(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient(models.MongoUser{ID: "123"})
	mongo.MongoDBClient = mock

	err := Reconcile(context.Background(), &models.SettlementEvent{
		Provider:  models.AsaasProviderName,
		PaymentID: "pay_unknown",
		Kind:      models.SettlementPaid,
		Reference: EncodeReference(Reference{
			UserID:       "123",
			PurchaseType: models.CreditPurchase,
			ItemID:       "pack_9999",
		}),
	})
	assert.ErrorIs(t, err, models.ErrMalformedReference)
	assert.Equal(t, int64(0), mock.Users["123"].Credits)
}

func TestReconcilePersistenceFailure(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	mock := mongo.NewMockMongoDBClient(models.MongoUser{ID: "123"})
	mock.FailPersistence = true
	mongo.MongoDBClient = mock

	err := Reconcile(context.Background(), creditEvent("pay_1", "123"))
	assert.ErrorIs(t, err, models.ErrPersistence)

	// retry after the outage succeeds
	mock.FailPersistence = false
	require.NoError(t, Reconcile(context.Background(), creditEvent("pay_1", "123")))
	assert.Equal(t, int64(50), mock.Users["123"].Credits)
}
