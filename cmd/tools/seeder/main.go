package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-promo/internal/app"
	"github.com/noah-isme/backend-promo/internal/config"
	"github.com/noah-isme/backend-promo/internal/discount"
	"github.com/noah-isme/backend-promo/internal/obs"
)

func main() {
	logger := obs.NewLogger("console", "info").With().Str("component", "seeder").Logger()
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := app.NewPool(ctx, cfg, "promo-seeder")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	store := discount.NewStore(pool)
	if _, total, err := store.ListRules(ctx, 1, 0); err != nil {
		logger.Fatal().Err(err).Msg("count discounts")
	} else if total > 0 {
		logger.Info().Int64("existing", total).Msg("discounts already present, skipping seed")
		return
	}
	for _, rule := range sampleRules(time.Now().UTC()) {
		if err := discount.ValidateRule(rule); err != nil {
			logger.Fatal().Err(err).Str("name", rule.Name).Msg("invalid sample rule")
		}
		created, err := store.CreateRule(ctx, rule)
		if errors.Is(err, discount.ErrDuplicateVoucher) {
			logger.Info().Str("name", rule.Name).Msg("voucher already seeded")
			continue
		}
		if err != nil {
			logger.Fatal().Err(err).Str("name", rule.Name).Msg("seed discount")
		}
		logger.Info().Str("id", created.ID.String()).Str("name", created.Name).Msg("seeded discount")
	}
	logger.Info().Msg("seeding completed")
}

func sampleRules(now time.Time) []discount.Rule {
	end := now.AddDate(0, 1, 0)
	floor := decimal.NewFromInt(250000)
	welcome := "WELCOME10"
	limit := int32(500)

	return []discount.Rule{
		{
			Name:      "Storewide 5%",
			Type:      discount.TypeAllProducts,
			ValueType: discount.ValuePercentage,
			Value:     decimal.NewFromInt(5),
			Scope:     discount.ScopePerProduct,
			IsActive:  true,
		},
		{
			Name:          "Big basket 20k off",
			Type:          discount.TypeAllProducts,
			ValueType:     discount.ValueFixedAmount,
			Value:         decimal.NewFromInt(20000),
			Scope:         discount.ScopeOrderTotal,
			MinOrderValue: &floor,
			EndDate:       &end,
			IsActive:      true,
		},
		{
			Name:          "Welcome voucher",
			Type:          discount.TypeAllProducts,
			ValueType:     discount.ValuePercentage,
			Value:         decimal.NewFromInt(10),
			Scope:         discount.ScopeOrderTotal,
			VoucherCode:   &welcome,
			MaxUsageCount: &limit,
			IsActive:      true,
		},
		{
			Name:        "Featured category",
			Type:        discount.TypeSelectedCategories,
			ValueType:   discount.ValuePercentage,
			Value:       decimal.NewFromInt(15),
			Scope:       discount.ScopePerProduct,
			CategoryIDs: []uuid.UUID{uuid.MustParse("6f1c2d8e-4b7a-4c1e-9a35-0d2f8b6e7c10")},
			StartDate:   &now,
			EndDate:     &end,
			IsActive:    true,
		},
	}
}
