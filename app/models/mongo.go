package models

import "time"

// MongoUser is the authoritative ledger record for a single user.
// Credits and plan state are only ever mutated through the mongo package,
// never computed client-side.
type MongoUser struct {
	ID               string    `bson:"_id"`
	Email            string    `bson:"email"`
	FullName         string    `bson:"full_name"`
	Phone            string    `bson:"phone"`
	CPF              string    `bson:"cpf"`
	AvatarURL        string    `bson:"avatar_url"`
	PlanName         PlanName  `bson:"plan_name"`
	PlanActive       bool      `bson:"plan_active"`
	Credits          int64     `bson:"credits"`
	StripeCustomerId string    `bson:"stripe_customer_id"`
	CreatedAt        time.Time `bson:"created_at"`
	LastUsedAt       time.Time `bson:"last_used_at"`
}

type MongoSubscriptionStatus string

const (
	SubscriptionActive    MongoSubscriptionStatus = "active"
	SubscriptionCancelled MongoSubscriptionStatus = "cancelled"
	SubscriptionSuspended MongoSubscriptionStatus = "suspended"
)

// MongoSubscription rows are never hard-deleted, status transitions only.
type MongoSubscription struct {
	ID        string                  `bson:"_id"`
	UserID    string                  `bson:"user_id"`
	PlanID    string                  `bson:"plan_id"`
	PlanName  PlanName                `bson:"plan_name"`
	Provider  ProviderName            `bson:"provider"`
	Status    MongoSubscriptionStatus `bson:"status"`
	StartDate time.Time               `bson:"start_date"`
	EndDate   *time.Time              `bson:"end_date,omitempty"`
}

// MongoTrial keys on user id, one trial per user ever.
type MongoTrial struct {
	UserID      string    `bson:"_id"`
	TrialStart  time.Time `bson:"trial_start"`
	TrialEnd    time.Time `bson:"trial_end"`
	TrialActive bool      `bson:"trial_active"`
}

// MongoProcessedSettlement is the idempotency marker for reconciliation.
// The _id is "{provider}:{providerPaymentId}", inserted in the same
// transaction as the ledger mutation.
type MongoProcessedSettlement struct {
	ID          string       `bson:"_id"`
	Provider    ProviderName `bson:"provider"`
	PaymentID   string       `bson:"payment_id"`
	Kind        string       `bson:"kind"`
	UserID      string       `bson:"user_id"`
	ProcessedAt time.Time    `bson:"processed_at"`
}

type MongoGift struct {
	ID         string       `bson:"_id"`
	UserID     string       `bson:"user_id"`
	GiftID     string       `bson:"gift_id"`
	Provider   ProviderName `bson:"provider"`
	PaymentID  string       `bson:"payment_id"`
	AmountCent int64        `bson:"amount_cents"`
	CreatedAt  time.Time    `bson:"created_at"`
}
