package payments

import (
	"fmt"
	"strings"

	"amoura/m/v2/app/models"
)

// Reference is the tuple round-tripped through a provider's metadata
// (external_reference, custom_id, referenceId). It is the only thing a
// settlement listener needs to identify who bought what.
type Reference struct {
	UserID       string
	PurchaseType models.PurchaseType
	ItemID       string
}

const referenceVersion = "v1"

// EncodeReference packs the tuple into a provider-opaque string.
// User ids are auth identities (uuids) and item ids are catalog keys,
// neither contains '|'.
func EncodeReference(ref Reference) string {
	return strings.Join([]string{referenceVersion, ref.UserID, string(ref.PurchaseType), ref.ItemID}, "|")
}

// ParseReference is the inverse of EncodeReference. Anything that does
// not round-trip is rejected with models.ErrMalformedReference: such
// events are acked and dropped, never retried.
func ParseReference(raw string) (Reference, error) {
	parts := strings.Split(raw, "|")
	if len(parts) != 4 || parts[0] != referenceVersion {
		return Reference{}, fmt.Errorf("%w: %q", models.ErrMalformedReference, raw)
	}
	ref := Reference{
		UserID:       parts[1],
		PurchaseType: models.PurchaseType(parts[2]),
		ItemID:       parts[3],
	}
	if ref.UserID == "" || ref.ItemID == "" {
		return Reference{}, fmt.Errorf("%w: empty field in %q", models.ErrMalformedReference, raw)
	}
	switch ref.PurchaseType {
	case models.SubscriptionPurchase, models.CreditPurchase, models.GiftPurchase:
		return ref, nil
	}
	return Reference{}, fmt.Errorf("%w: unknown purchase type %q", models.ErrMalformedReference, parts[2])
}
