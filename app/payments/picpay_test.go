package payments

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"amoura/m/v2/app/config"
	"amoura/m/v2/app/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPicpayCheckoutRequiresBuyerInfo(t *testing.T) {
	provider := NewPicpayProvider()
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

func TestPicpayStatusLookupEscapesReference(t *testing.T) {
	ref := EncodeReference(Reference{
		UserID:       "123",
		PurchaseType: models.CreditPurchase,
		ItemID:       "pack_50",
	})
	referenceId := ref + "|d3adb33f"

	var requestedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.EscapedPath()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"paid"}`)
	}))
	defer server.Close()

	originalBaseURL := config.CONFIG.PicpayBaseURL
	config.CONFIG.PicpayBaseURL = server.URL
	defer func() { config.CONFIG.PicpayBaseURL = originalBaseURL }()

	body := fmt.Sprintf(`{"referenceId":%q,"authorizationId":"auth_1"}`, referenceId)
	event, err := NewPicpayProvider().ParseSettlement([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, models.SettlementPaid, event.Kind)
	assert.Equal(t, ref, event.Reference, "the uniqueness suffix is stripped before reconciliation")
	assert.Equal(t, "/ecommerce/public/payments/"+url.PathEscape(referenceId)+"/status", requestedPath)
}
