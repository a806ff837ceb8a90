package models

type ProviderName string

const (
	StripeProviderName ProviderName = "stripe"
	PaypalProviderName ProviderName = "paypal"
	AsaasProviderName  ProviderName = "asaas"
	PicpayProviderName ProviderName = "picpay"
)

type PurchaseType string

const (
	SubscriptionPurchase PurchaseType = "subscription"
	CreditPurchase       PurchaseType = "credit"
	GiftPurchase         PurchaseType = "gift"
)

type SettlementKind string

const (
	SettlementPaid      SettlementKind = "paid"
	SettlementCancelled SettlementKind = "cancelled"
	SettlementSuspended SettlementKind = "suspended"
	SettlementIgnored   SettlementKind = "ignored"
)

// SettlementEvent is the normalized form of a provider notification,
// produced by a settlement listener after authentication and consumed by
// the reconciler.
type SettlementEvent struct {
	Provider    ProviderName
	PaymentID   string
	Kind        SettlementKind
	Reference   string
	AmountCents int64
}

type PlanName string

const (
	FreePlanName    PlanName = "free"
	LovePlanName    PlanName = "love"
	PassionPlanName PlanName = "passion"
)

type Plan struct {
	ID            string
	Name          PlanName
	PriceCents    int64
	StripePriceId string
	PaypalPlanId  string
}

var Plans = map[PlanName]Plan{
	FreePlanName: {
		ID:   "plan_free",
		Name: FreePlanName,
	},
	LovePlanName: {
		ID:            "plan_love",
		Name:          LovePlanName,
		PriceCents:    1990,
		StripePriceId: "price_1PqLoveAmouraMonthly",
		PaypalPlanId:  "P-AMOURA-LOVE-M",
	},
	PassionPlanName: {
		ID:            "plan_passion",
		Name:          PassionPlanName,
		PriceCents:    3990,
		StripePriceId: "price_1PqPassionAmouraMonthly",
		PaypalPlanId:  "P-AMOURA-PASSION-M",
	},
}

func PlanByID(id string) (Plan, bool) {
	for _, plan := range Plans {
		if plan.ID == id {
			return plan, true
		}
	}
	return Plan{}, false
}

type CreditPackage struct {
	ID            string
	CreditsAmount int64
	PriceCents    int64
	StripePriceId string
}

var CreditPackages = map[string]CreditPackage{
	"pack_50": {
		ID:            "pack_50",
		CreditsAmount: 50,
		PriceCents:    990,
		StripePriceId: "price_1PqPack50Amoura",
	},
	"pack_150": {
		ID:            "pack_150",
		CreditsAmount: 150,
		PriceCents:    2490,
		StripePriceId: "price_1PqPack150Amoura",
	},
	"pack_500": {
		ID:            "pack_500",
		CreditsAmount: 500,
		PriceCents:    6990,
		StripePriceId: "price_1PqPack500Amoura",
	},
}

type GiftCatalogEntry struct {
	ID         string
	Name       string
	PriceCents int64
}

var GiftCatalog = map[string]GiftCatalogEntry{
	"gift_rose":      {ID: "gift_rose", Name: "Rose", PriceCents: 490},
	"gift_teddy":     {ID: "gift_teddy", Name: "Teddy Bear", PriceCents: 990},
	"gift_champagne": {ID: "gift_champagne", Name: "Champagne", PriceCents: 1990},
}

// CheckoutResponse is what a checkout initiator returns to the client:
// either a redirect URL or a PIX QR payload.
type CheckoutResponse struct {
	URL           string `json:"url,omitempty"`
	QRCodeImage   string `json:"qrCodeImage,omitempty"`
	CopyPasteCode string `json:"copyPasteCode,omitempty"`
	PaymentID     string `json:"paymentId,omitempty"`
}
