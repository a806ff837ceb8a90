package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"amoura/m/v2/app/config"
	"amoura/m/v2/app/db/mongo"
	"amoura/m/v2/app/db/redis"
	"amoura/m/v2/app/lib"
	"amoura/m/v2/app/models"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/slack-go/slack"

	log "github.com/sirupsen/logrus"
)

var (
	// SystemBot pages ops on reconciliation trouble, SecuritySlackClient
	// logs webhook auth failures to the security channel. Both are nil-safe
	// for tests and dev.
	SystemBot           *telego.Bot
	SystemChatID        telego.ChatID
	SecuritySlackClient *slack.Client
)

var SendSecurityAlert = func(provider, remoteIP string, err error) {
	if SecuritySlackClient == nil {
		return
	}
	message := fmt.Sprintf("🚨 webhook auth failure: provider=%s remote_ip=%s error=%v", provider, remoteIP, err)
	_, _, postErr := SecuritySlackClient.PostMessage(config.CONFIG.SlackSecurityChannel, slack.MsgOptionText(message, false))
	if postErr != nil {
		log.Errorf("SendSecurityAlert: failed to post to slack: %v", postErr)
	}
}

var SendOpsAlert = func(message string) {
	if SystemBot == nil {
		return
	}
	_, err := SystemBot.SendMessage(tu.Message(SystemChatID, message))
	if err != nil {
		log.Errorf("SendOpsAlert: %v", err)
	}
}

// Reconcile is the single authority translating a settlement event into a
// ledger mutation. Applying the same (provider, paymentId) twice is a
// no-op: the ledger store inserts the idempotency marker in the same
// transaction as the mutation.
func Reconcile(ctx context.Context, event *models.SettlementEvent) error {
	ref, err := ParseReference(event.Reference)
	if err != nil {
		config.CONFIG.DataDogClient.Incr("reconcile.malformed_reference", []string{"provider:" + string(event.Provider)}, 1)
		return err
	}

	userCtx := lib.SettlementContext(ref.UserID)
	marker := models.MongoProcessedSettlement{
		ID:        string(event.Provider) + ":" + event.PaymentID,
		Provider:  event.Provider,
		PaymentID: event.PaymentID,
		Kind:      string(event.Kind),
		UserID:    ref.UserID,
	}

	switch ref.PurchaseType {
	case models.CreditPurchase:
		err = reconcileCredits(userCtx, event, ref, marker)
	case models.SubscriptionPurchase:
		err = reconcileSubscription(userCtx, event, ref, marker)
	case models.GiftPurchase:
		err = reconcileGift(userCtx, event, ref, marker)
	default:
		// unreachable, ParseReference rejects unknown types
		return fmt.Errorf("%w: %s", models.ErrMalformedReference, ref.PurchaseType)
	}

	if errors.Is(err, models.ErrAlreadyProcessed) {
		log.Infof("Settlement %s already applied, skipping", marker.ID)
		config.CONFIG.DataDogClient.Incr("reconcile.duplicate", []string{"provider:" + string(event.Provider)}, 1)
		return nil
	}
	if errors.Is(err, models.ErrMalformedReference) {
		// unknown catalog item, terminal: redelivery can never succeed
		config.CONFIG.DataDogClient.Incr("reconcile.malformed_reference", []string{"provider:" + string(event.Provider)}, 1)
		return err
	}
	if err != nil {
		config.CONFIG.DataDogClient.Incr("reconcile.failure", []string{"provider:" + string(event.Provider)}, 1)
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	redis.EvictUser(ref.UserID)
	redis.RedisClient.IncrBy(ctx, "system_totals:settled_cents", event.AmountCents)
	config.CONFIG.DataDogClient.Incr("reconcile.applied", []string{
		"provider:" + string(event.Provider),
		"purchase_type:" + string(ref.PurchaseType),
	}, 1)
	log.Infof("Applied settlement %s for user %s (%s %s)", marker.ID, ref.UserID, ref.PurchaseType, ref.ItemID)
	return nil
}

func reconcileCredits(ctx context.Context, event *models.SettlementEvent, ref Reference, marker models.MongoProcessedSettlement) error {
	if event.Kind != models.SettlementPaid {
		log.Infof("Ignoring %s settlement for credit purchase %s", event.Kind, event.PaymentID)
		return nil
	}
	pack, ok := models.CreditPackages[ref.ItemID]
	if !ok {
		return fmt.Errorf("%w: unknown credit package %q", models.ErrMalformedReference, ref.ItemID)
	}
	return mongo.MongoDBClient.AddCredits(ctx, marker, pack.CreditsAmount)
}

func reconcileSubscription(ctx context.Context, event *models.SettlementEvent, ref Reference, marker models.MongoProcessedSettlement) error {
	plan, ok := models.PlanByID(ref.ItemID)
	if !ok {
		return fmt.Errorf("%w: unknown plan %q", models.ErrMalformedReference, ref.ItemID)
	}

	status := models.SubscriptionActive
	var endDate *time.Time
	switch event.Kind {
	case models.SettlementPaid:
		status = models.SubscriptionActive
	case models.SettlementCancelled:
		status = models.SubscriptionCancelled
		now := time.Now()
		endDate = &now
	case models.SettlementSuspended:
		status = models.SubscriptionSuspended
		now := time.Now()
		endDate = &now
	default:
		log.Warnf("Dropping subscription settlement %s with unknown kind %s", event.PaymentID, event.Kind)
		return nil
	}

	sub := models.MongoSubscription{
		ID:        uuid.NewString(),
		UserID:    ref.UserID,
		PlanID:    plan.ID,
		PlanName:  plan.Name,
		Provider:  event.Provider,
		Status:    status,
		StartDate: time.Now(),
		EndDate:   endDate,
	}
	return mongo.MongoDBClient.ApplySubscriptionSettlement(ctx, marker, sub)
}

func reconcileGift(ctx context.Context, event *models.SettlementEvent, ref Reference, marker models.MongoProcessedSettlement) error {
	if event.Kind != models.SettlementPaid {
		return nil
	}
	gift, ok := models.GiftCatalog[ref.ItemID]
	if !ok {
		return fmt.Errorf("%w: unknown gift %q", models.ErrMalformedReference, ref.ItemID)
	}
	return mongo.MongoDBClient.RecordGift(ctx, marker, models.MongoGift{
		ID:         uuid.NewString(),
		UserID:     ref.UserID,
		GiftID:     gift.ID,
		Provider:   event.Provider,
		PaymentID:  event.PaymentID,
		AmountCent: event.AmountCents,
	})
}
