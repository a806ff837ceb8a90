package api

import (
	"net/http"

	"amoura/m/v2/app/models"

	"github.com/valyala/fasthttp"
)

// Catalog endpoints are read-only views over the static catalogs.

func GetPlans(ctx *fasthttp.RequestCtx) {
	plans := make([]models.Plan, 0, len(models.Plans))
	for _, plan := range models.Plans {
		plans = append(plans, plan)
	}
	writeJSON(ctx, http.StatusOK, plans)
}

func GetCreditPackages(ctx *fasthttp.RequestCtx) {
	packs := make([]models.CreditPackage, 0, len(models.CreditPackages))
	for _, pack := range models.CreditPackages {
		packs = append(packs, pack)
	}
	writeJSON(ctx, http.StatusOK, packs)
}

func GetGifts(ctx *fasthttp.RequestCtx) {
	gifts := make([]models.GiftCatalogEntry, 0, len(models.GiftCatalog))
	for _, gift := range models.GiftCatalog {
		gifts = append(gifts, gift)
	}
	writeJSON(ctx, http.StatusOK, gifts)
}
