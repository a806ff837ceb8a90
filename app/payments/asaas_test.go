package payments

import (
	"context"
	"testing"

	"amoura/m/v2/app/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsaasSettlementAmountIsRounded(t *testing.T) {
	// 9.90 has no exact float representation, 9.9*100 truncates to 989
	event, err := NewAsaasProvider().ParseSettlement([]byte(asaasPaidBody("pay_9", "123")))
	require.NoError(t, err)
	assert.Equal(t, models.SettlementPaid, event.Kind)
	assert.Equal(t, int64(990), event.AmountCents)
}

func TestAsaasCheckoutRequiresBuyerInfo(t *testing.T) {
	provider := NewAsaasProvider()
	ref := Reference{UserID: "123", PurchaseType: models.CreditPurchase, ItemID: "pack_50"}

	// rejected before any provider call is made
	for _, user := range []*models.MongoUser{
		{ID: "123"},
		{ID: "123", FullName: "Ana Silva"},
		{ID: "123", FullName: "Ana Silva", CPF: "123"},
	} {
		_, err := provider.CreateCheckout(context.Background(), user, ref)
		assert.ErrorIs(t, err, models.ErrMissingBuyerInfo)
	}
}
