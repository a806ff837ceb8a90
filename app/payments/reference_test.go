package payments

import (
	"testing"

	"amoura/m/v2/app/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceRoundTrip(t *testing.T) {
	refs := []Reference{
		{UserID: "user-1", PurchaseType: models.SubscriptionPurchase, ItemID: "plan_love"},
		{UserID: "user-2", PurchaseType: models.CreditPurchase, ItemID: "pack_150"},
		{UserID: "user-3", PurchaseType: models.GiftPurchase, ItemID: "gift_rose"},
	}

	for _, ref := range refs {
		parsed, err := ParseReference(EncodeReference(ref))
		require.NoError(t, err)
		assert.Equal(t, ref, parsed)
	}
}

func TestParseReferenceRejectsMalformed(t *testing.T) {
	malformed := []string{
		"",
		"garbage",
		"v1|user-1|subscription",
		"v2|user-1|subscription|plan_love",
		"v1|user-1|timeshare|plan_love",
		"v1||credit|pack_50",
		"v1|user-1|credit|",
	}

	for _, raw := range malformed {
		_, err := ParseReference(raw)
		assert.ErrorIs(t, err, models.ErrMalformedReference, "expected %q to be rejected", raw)
	}
}
