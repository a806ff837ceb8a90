// Run on start
package onstart

import (
	"context"
	"time"

	"amoura/m/v2/app/db/mongo"
	"amoura/m/v2/app/models"

	log "github.com/sirupsen/logrus"
)

func Run() {
	ensureIndexes()
	checkCatalogs()
}

// ensureIndexes creates the ledger indexes, most importantly the unique
// processed_settlements key that enforces exactly-once reconciliation.
func ensureIndexes() {
	log.Info("[onstart] ensuring mongo indexes..")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := mongo.MongoDBClient.EnsureIndexes(ctx); err != nil {
		log.Fatalf("[onstart] failed to ensure mongo indexes: %s", err)
	}
	log.Info("[onstart] finished ensuring mongo indexes")
}

// checkCatalogs hard-fails on a broken catalog so a bad deploy cannot
// sell unpriced items.
func checkCatalogs() {
	for name, plan := range models.Plans {
		if name == models.FreePlanName {
			continue
		}
		if plan.PriceCents <= 0 || plan.StripePriceId == "" || plan.PaypalPlanId == "" {
			log.Fatalf("[onstart] plan %s is missing price or provider ids", name)
		}
	}
	for id, pack := range models.CreditPackages {
		if pack.CreditsAmount <= 0 || pack.PriceCents <= 0 {
			log.Fatalf("[onstart] credit package %s is not sellable", id)
		}
	}
	for id, gift := range models.GiftCatalog {
		if gift.PriceCents <= 0 || gift.Name == "" {
			log.Fatalf("[onstart] gift %s is not sellable", id)
		}
	}
	log.Info("[onstart] catalogs are sane")
}
