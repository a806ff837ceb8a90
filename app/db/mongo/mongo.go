package mongo

import (
	"context"
	"fmt"
	"time"

	"amoura/m/v2/app/config"
	"amoura/m/v2/app/models"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Client is a mongo client
type Client struct {
	*mongo.Client
}

// MongoClient is the ledger store. All plan/credit/trial mutations go
// through here; webhook handlers and API handlers never write state
// anywhere else.
type MongoClient interface {
	Disconnect(ctx context.Context) error
	Ping(ctx context.Context, rp *readpref.ReadPref) error
	EnsureIndexes(ctx context.Context) error

	GetUser(ctx context.Context) (*models.MongoUser, error)
	EnsureUser(ctx context.Context) (*models.MongoUser, error)
	GetUsersCount(ctx context.Context) (int64, error)
	GetUsersCountForPlan(ctx context.Context, plan string) (int64, error)
	UpdateUserContacts(ctx context.Context, fullName, phone, cpf string) error
	UpdateUserAvatar(ctx context.Context, avatarURL string) error
	UpdateUserStripeCustomerId(ctx context.Context, stripeCustomerId string) error

	AddCredits(ctx context.Context, marker models.MongoProcessedSettlement, amount int64) error
	RefundCredits(ctx context.Context, chargeID string, amount int64) error
	ConsumeCredits(ctx context.Context, amount int64) (bool, error)
	GetCredits(ctx context.Context) (int64, error)

	ApplySubscriptionSettlement(ctx context.Context, marker models.MongoProcessedSettlement, sub models.MongoSubscription) error
	GetSubscription(ctx context.Context, provider models.ProviderName) (*models.MongoSubscription, error)
	RecordGift(ctx context.Context, marker models.MongoProcessedSettlement, gift models.MongoGift) error

	StartTrial(ctx context.Context, duration time.Duration) (*models.MongoTrial, error)
	GetTrial(ctx context.Context) (*models.MongoTrial, error)
	DeactivateTrial(ctx context.Context) error
	DeactivateExpiredTrials(ctx context.Context, now time.Time) (int64, error)
}

var MongoDBClient MongoClient

// NewClient creates a new mongo client
func NewClient(connection string) *Client {
	return &Client{
		Client: mustConnect(connection),
	}
}

// mustConnect connects to mongo and panics on error
func mustConnect(connection string) *mongo.Client {
	client, err := mongo.NewClient(options.Client().ApplyURI(connection).SetMaxConnecting(25))
	if err != nil {
		logrus.WithError(err).Panic("failed to create mongo client")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = client.Connect(ctx)
	if err != nil {
		logrus.WithError(err).Panic("failed to connect to mongo")
	}

	return client
}

func (c *Client) users() *mongo.Collection {
	return c.Database(config.CONFIG.MongoDBName).Collection("users")
}

func (c *Client) subscriptions() *mongo.Collection {
	return c.Database(config.CONFIG.MongoDBName).Collection("subscriptions")
}

func (c *Client) trials() *mongo.Collection {
	return c.Database(config.CONFIG.MongoDBName).Collection("trials")
}

func (c *Client) processedSettlements() *mongo.Collection {
	return c.Database(config.CONFIG.MongoDBName).Collection("processed_settlements")
}

func (c *Client) gifts() *mongo.Collection {
	return c.Database(config.CONFIG.MongoDBName).Collection("gifts")
}

// EnsureIndexes creates the indexes reconciliation correctness depends on.
// processed_settlements keys on _id ("provider:paymentId") which is unique
// by construction, subscriptions get a user+provider lookup index.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	_, err := c.subscriptions().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "provider", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("EnsureIndexes: subscriptions: %w", err)
	}
	_, err = c.gifts().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("EnsureIndexes: gifts: %w", err)
	}
	return nil
}

func userIdFromContext(ctx context.Context) string {
	return ctx.Value(models.UserContext{}).(string)
}

func (c *Client) GetUser(ctx context.Context) (*models.MongoUser, error) {
	filter := bson.M{"_id": userIdFromContext(ctx)}
	var user models.MongoUser
	err := c.users().FindOne(ctx, filter).Decode(&user)
	if err != nil {
		return nil, fmt.Errorf("GetUser: failed to find user: %w", err)
	}
	return &user, nil
}

// EnsureUser returns the user profile, creating a zero-credit free
// profile on first contact.
func (c *Client) EnsureUser(ctx context.Context) (*models.MongoUser, error) {
	userId := userIdFromContext(ctx)
	filter := bson.M{"_id": userId}
	update := bson.M{
		"$setOnInsert": bson.M{
			"plan_name":   models.FreePlanName,
			"plan_active": false,
			"credits":     int64(0),
			"created_at":  time.Now(),
		},
		"$set": bson.M{"last_used_at": time.Now()},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var user models.MongoUser
	err := c.users().FindOneAndUpdate(ctx, filter, update, opts).Decode(&user)
	if err != nil {
		return nil, fmt.Errorf("EnsureUser: %w", err)
	}
	return &user, nil
}

func (c *Client) GetUsersCount(ctx context.Context) (int64, error) {
	count, err := c.users().CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("GetUsersCount: failed to get users count: %w", err)
	}
	return count, nil
}

func (c *Client) GetUsersCountForPlan(ctx context.Context, plan string) (int64, error) {
	count, err := c.users().CountDocuments(ctx, bson.M{"plan_name": plan, "plan_active": true})
	if err != nil {
		return 0, fmt.Errorf("GetUsersCountForPlan: failed to get users count: %w", err)
	}
	return count, nil
}

func (c *Client) UpdateUserContacts(ctx context.Context, fullName, phone, cpf string) error {
	filter := bson.M{"_id": userIdFromContext(ctx)}
	update := bson.M{
		"$set": bson.M{
			"full_name": fullName,
			"phone":     phone,
			"cpf":       cpf,
		},
	}
	opts := options.Update().SetUpsert(true)
	_, err := c.users().UpdateOne(ctx, filter, update, opts)
	return err
}

func (c *Client) UpdateUserAvatar(ctx context.Context, avatarURL string) error {
	filter := bson.M{"_id": userIdFromContext(ctx)}
	update := bson.M{"$set": bson.M{"avatar_url": avatarURL}}
	opts := options.Update().SetUpsert(true)
	_, err := c.users().UpdateOne(ctx, filter, update, opts)
	return err
}

func (c *Client) UpdateUserStripeCustomerId(ctx context.Context, stripeCustomerId string) error {
	filter := bson.M{"_id": userIdFromContext(ctx)}
	update := bson.M{"$set": bson.M{"stripe_customer_id": stripeCustomerId}}
	opts := options.Update().SetUpsert(true)
	_, err := c.users().UpdateOne(ctx, filter, update, opts)
	return err
}

// withSettlementMarker inserts the idempotency marker and runs the ledger
// mutation in a single transaction. A duplicate marker means the event was
// already applied and the whole call is a no-op returning
// models.ErrAlreadyProcessed.
func (c *Client) withSettlementMarker(ctx context.Context, marker models.MongoProcessedSettlement, mutate func(sc mongo.SessionContext) error) error {
	session, err := c.StartSession()
	if err != nil {
		return fmt.Errorf("withSettlementMarker: start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		marker.ProcessedAt = time.Now()
		_, err := c.processedSettlements().InsertOne(sc, marker)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, models.ErrAlreadyProcessed
			}
			return nil, fmt.Errorf("insert settlement marker: %w", err)
		}
		return nil, mutate(sc)
	})
	return err
}

func (c *Client) AddCredits(ctx context.Context, marker models.MongoProcessedSettlement, amount int64) error {
	userId := marker.UserID
	return c.withSettlementMarker(ctx, marker, func(sc mongo.SessionContext) error {
		filter := bson.M{"_id": userId}
		update := bson.M{"$inc": bson.M{"credits": amount}}
		opts := options.Update().SetUpsert(true)
		_, err := c.users().UpdateOne(sc, filter, update, opts)
		if err != nil {
			return fmt.Errorf("AddCredits: %w", err)
		}
		return nil
	})
}

// RefundCredits re-credits a previously consumed amount after a downstream
// failure. Keyed by the original charge id so a retried refund stays a
// no-op.
func (c *Client) RefundCredits(ctx context.Context, chargeID string, amount int64) error {
	userId := userIdFromContext(ctx)
	marker := models.MongoProcessedSettlement{
		ID:        "refund:" + chargeID,
		PaymentID: chargeID,
		Kind:      "refund",
		UserID:    userId,
	}
	err := c.withSettlementMarker(ctx, marker, func(sc mongo.SessionContext) error {
		filter := bson.M{"_id": userId}
		update := bson.M{"$inc": bson.M{"credits": amount}}
		_, err := c.users().UpdateOne(sc, filter, update)
		if err != nil {
			return fmt.Errorf("RefundCredits: %w", err)
		}
		return nil
	})
	if err == models.ErrAlreadyProcessed {
		return nil
	}
	return err
}

// ConsumeCredits is the single atomic conditional decrement. The filter
// requires a sufficient balance, so the balance can never go negative and
// two concurrent calls cannot both spend the same credit.
func (c *Client) ConsumeCredits(ctx context.Context, amount int64) (bool, error) {
	filter := bson.M{
		"_id":     userIdFromContext(ctx),
		"credits": bson.M{"$gte": amount},
	}
	update := bson.M{"$inc": bson.M{"credits": -amount}}
	result := c.users().FindOneAndUpdate(ctx, filter, update)
	if result.Err() != nil {
		if result.Err() == mongo.ErrNoDocuments {
			return false, nil
		}
		return false, fmt.Errorf("ConsumeCredits: %w", result.Err())
	}
	return true, nil
}

func (c *Client) GetCredits(ctx context.Context) (int64, error) {
	user, err := c.GetUser(ctx)
	if err != nil {
		return 0, err
	}
	return user.Credits, nil
}

// ApplySubscriptionSettlement upserts the subscription row and flips the
// profile plan flags in one transaction with the idempotency marker.
// planActive is forced true for active settlements and false for
// cancellation/suspension.
func (c *Client) ApplySubscriptionSettlement(ctx context.Context, marker models.MongoProcessedSettlement, sub models.MongoSubscription) error {
	return c.withSettlementMarker(ctx, marker, func(sc mongo.SessionContext) error {
		filter := bson.M{"user_id": sub.UserID, "provider": sub.Provider, "plan_id": sub.PlanID}
		update := bson.M{
			"$set": bson.M{
				"plan_name": sub.PlanName,
				"status":    sub.Status,
				"end_date":  sub.EndDate,
			},
			"$setOnInsert": bson.M{
				"_id":        sub.ID,
				"start_date": sub.StartDate,
			},
		}
		opts := options.Update().SetUpsert(true)
		_, err := c.subscriptions().UpdateOne(sc, filter, update, opts)
		if err != nil {
			return fmt.Errorf("ApplySubscriptionSettlement: subscription: %w", err)
		}

		planActive := sub.Status == models.SubscriptionActive
		planName := sub.PlanName
		if !planActive {
			planName = models.FreePlanName
		}
		userUpdate := bson.M{
			"$set": bson.M{
				"plan_name":   planName,
				"plan_active": planActive,
			},
		}
		userOpts := options.Update().SetUpsert(true)
		_, err = c.users().UpdateOne(sc, bson.M{"_id": sub.UserID}, userUpdate, userOpts)
		if err != nil {
			return fmt.Errorf("ApplySubscriptionSettlement: user: %w", err)
		}
		return nil
	})
}

func (c *Client) GetSubscription(ctx context.Context, provider models.ProviderName) (*models.MongoSubscription, error) {
	filter := bson.M{"user_id": userIdFromContext(ctx), "provider": provider}
	var sub models.MongoSubscription
	err := c.subscriptions().FindOne(ctx, filter).Decode(&sub)
	if err != nil {
		return nil, fmt.Errorf("GetSubscription: %w", err)
	}
	return &sub, nil
}

func (c *Client) RecordGift(ctx context.Context, marker models.MongoProcessedSettlement, gift models.MongoGift) error {
	return c.withSettlementMarker(ctx, marker, func(sc mongo.SessionContext) error {
		gift.CreatedAt = time.Now()
		_, err := c.gifts().InsertOne(sc, gift)
		if err != nil {
			return fmt.Errorf("RecordGift: %w", err)
		}
		return nil
	})
}

// StartTrial creates the one-and-only trial row for the user. A second
// call returns models.ErrTrialExists.
func (c *Client) StartTrial(ctx context.Context, duration time.Duration) (*models.MongoTrial, error) {
	now := time.Now()
	trial := models.MongoTrial{
		UserID:      userIdFromContext(ctx),
		TrialStart:  now,
		TrialEnd:    now.Add(duration),
		TrialActive: true,
	}
	_, err := c.trials().InsertOne(ctx, trial)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, models.ErrTrialExists
		}
		return nil, fmt.Errorf("StartTrial: %w", err)
	}
	return &trial, nil
}

func (c *Client) GetTrial(ctx context.Context) (*models.MongoTrial, error) {
	filter := bson.M{"_id": userIdFromContext(ctx)}
	var trial models.MongoTrial
	err := c.trials().FindOne(ctx, filter).Decode(&trial)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("GetTrial: %w", err)
	}
	return &trial, nil
}

func (c *Client) DeactivateTrial(ctx context.Context) error {
	filter := bson.M{"_id": userIdFromContext(ctx)}
	update := bson.M{"$set": bson.M{"trial_active": false}}
	_, err := c.trials().UpdateOne(ctx, filter, update)
	return err
}

// DeactivateExpiredTrials is the sweeper behind the lazy per-read
// deactivation, so analytics see expired trials even for users who never
// come back.
func (c *Client) DeactivateExpiredTrials(ctx context.Context, now time.Time) (int64, error) {
	filter := bson.M{"trial_active": true, "trial_end": bson.M{"$lt": now}}
	update := bson.M{"$set": bson.M{"trial_active": false}}
	result, err := c.trials().UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("DeactivateExpiredTrials: %w", err)
	}
	return result.ModifiedCount, nil
}
