package strategy_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketops/repricer/internal/domain"
	"github.com/marketops/repricer/internal/logger"
	"github.com/marketops/repricer/internal/strategy"
)

type stubMarket struct {
	avg decimal.Decimal
	err error
}

func (s *stubMarket) AverageMarketPrice(_ context.Context, _ *domain.Listing) (decimal.Decimal, error) {
	return s.avg, s.err
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testListing(current, minimum string) *domain.Listing {
	return &domain.Listing{
		CurrentPrice: dec(current),
		MinimumPrice: dec(minimum),
		Status:       domain.ListingStatusActive,
	}
}

func percentageStrategy(value string) *domain.Strategy {
	return &domain.Strategy{Type: domain.StrategyPercentage, ReductionValue: dec(value)}
}

func TestEngine_ComputeNextPrice_Percentage(t *testing.T) {
	engine := strategy.NewEngine(nil, logger.NewNopLogger())
	now := time.Now()

	t.Run("five percent off fifty", func(t *testing.T) {
		res, err := engine.ComputeNextPrice(context.Background(),
			testListing("50.00", "10.00"), percentageStrategy("5"), now)
		require.NoError(t, err)
		assert.False(t, res.Skipped)
		assert.True(t, res.NewPrice.Equal(dec("47.50")), "got %s", res.NewPrice)
		assert.True(t, res.ReductionApplied.Equal(dec("2.50")), "got %s", res.ReductionApplied)
	})

	t.Run("clamped to minimum", func(t *testing.T) {
		// 10% of 26.00 is 23.40, below the 25.00 floor
		res, err := engine.ComputeNextPrice(context.Background(),
			testListing("26.00", "25.00"), percentageStrategy("10"), now)
		require.NoError(t, err)
		assert.False(t, res.Skipped)
		assert.True(t, res.NewPrice.Equal(dec("25.00")), "got %s", res.NewPrice)
		assert.True(t, res.ReductionApplied.Equal(dec("1.00")), "got %s", res.ReductionApplied)
	})

	t.Run("at minimum is skipped", func(t *testing.T) {
		res, err := engine.ComputeNextPrice(context.Background(),
			testListing("25.00", "25.00"), percentageStrategy("10"), now)
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Equal(t, strategy.ReasonAtMinimum, res.Reason)
		assert.True(t, res.NewPrice.Equal(dec("25.00")))
	})

	t.Run("rounds to cents", func(t *testing.T) {
		// 3% of 19.99 leaves 19.3903
		res, err := engine.ComputeNextPrice(context.Background(),
			testListing("19.99", "5.00"), percentageStrategy("3"), now)
		require.NoError(t, err)
		assert.True(t, res.NewPrice.Equal(dec("19.39")), "got %s", res.NewPrice)
	})
}

func TestEngine_ComputeNextPrice_Dollar(t *testing.T) {
	engine := strategy.NewEngine(nil, logger.NewNopLogger())
	now := time.Now()

	res, err := engine.ComputeNextPrice(context.Background(),
		testListing("50.00", "10.00"),
		&domain.Strategy{Type: domain.StrategyDollar, ReductionValue: dec("2.00")}, now)
	require.NoError(t, err)
	assert.True(t, res.NewPrice.Equal(dec("48.00")), "got %s", res.NewPrice)
}

func TestEngine_ComputeNextPrice_TimeBased(t *testing.T) {
	engine := strategy.NewEngine(nil, logger.NewNopLogger())
	now := time.Now()
	strat := &domain.Strategy{Type: domain.StrategyTimeBased, ReductionValue: dec("5")}

	t.Run("fresh listing uses base rate", func(t *testing.T) {
		l := testListing("100.00", "10.00")
		l.ListedAt = now
		res, err := engine.ComputeNextPrice(context.Background(), l, strat, now)
		require.NoError(t, err)
		assert.True(t, res.NewPrice.Equal(dec("95.00")), "got %s", res.NewPrice)
	})

	t.Run("thirty days doubles the rate", func(t *testing.T) {
		l := testListing("100.00", "10.00")
		l.ListedAt = now.AddDate(0, 0, -30)
		res, err := engine.ComputeNextPrice(context.Background(), l, strat, now)
		require.NoError(t, err)
		assert.True(t, res.NewPrice.Equal(dec("90.00")), "got %s", res.NewPrice)
	})

	t.Run("multiplier caps at two", func(t *testing.T) {
		l := testListing("100.00", "10.00")
		l.ListedAt = now.AddDate(0, 0, -365)
		res, err := engine.ComputeNextPrice(context.Background(), l, strat, now)
		require.NoError(t, err)
		assert.True(t, res.NewPrice.Equal(dec("90.00")), "got %s", res.NewPrice)
	})
}

func TestEngine_ComputeNextPrice_MarketBased(t *testing.T) {
	now := time.Now()
	strat := &domain.Strategy{Type: domain.StrategyMarketBased, ReductionValue: dec("5")}

	t.Run("undercuts market average", func(t *testing.T) {
		// 95% of 40.00 market average is 38.00, below the 47.50 percentage
		// candidate
		engine := strategy.NewEngine(&stubMarket{avg: dec("40.00")}, logger.NewNopLogger())
		res, err := engine.ComputeNextPrice(context.Background(),
			testListing("50.00", "10.00"), strat, now)
		require.NoError(t, err)
		assert.True(t, res.NewPrice.Equal(dec("38.00")), "got %s", res.NewPrice)
	})

	t.Run("percentage candidate wins when market is higher", func(t *testing.T) {
		engine := strategy.NewEngine(&stubMarket{avg: dec("100.00")}, logger.NewNopLogger())
		res, err := engine.ComputeNextPrice(context.Background(),
			testListing("50.00", "10.00"), strat, now)
		require.NoError(t, err)
		assert.True(t, res.NewPrice.Equal(dec("47.50")), "got %s", res.NewPrice)
	})

	t.Run("provider error falls back to percentage", func(t *testing.T) {
		engine := strategy.NewEngine(&stubMarket{err: assert.AnError}, logger.NewNopLogger())
		res, err := engine.ComputeNextPrice(context.Background(),
			testListing("50.00", "10.00"), strat, now)
		require.NoError(t, err)
		assert.True(t, res.NewPrice.Equal(dec("47.50")), "got %s", res.NewPrice)
	})

	t.Run("nil provider falls back to percentage", func(t *testing.T) {
		engine := strategy.NewEngine(nil, logger.NewNopLogger())
		res, err := engine.ComputeNextPrice(context.Background(),
			testListing("50.00", "10.00"), strat, now)
		require.NoError(t, err)
		assert.True(t, res.NewPrice.Equal(dec("47.50")), "got %s", res.NewPrice)
	})
}

func TestEngine_ComputeNextPrice_Validation(t *testing.T) {
	engine := strategy.NewEngine(nil, logger.NewNopLogger())
	now := time.Now()

	tests := []struct {
		name  string
		strat *domain.Strategy
	}{
		{"nil strategy", nil},
		{"zero percentage", percentageStrategy("0")},
		{"hundred percent", percentageStrategy("100")},
		{"negative dollar", &domain.Strategy{Type: domain.StrategyDollar, ReductionValue: dec("-1")}},
		{"unknown type", &domain.Strategy{Type: "clearance", ReductionValue: dec("5")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.ComputeNextPrice(context.Background(),
				testListing("50.00", "10.00"), tt.strat, now)
			require.Error(t, err)
			assert.True(t, domain.IsKind(err, domain.KindValidation))
		})
	}
}

func TestEngine_ComputeNextPrice_SafetyFloor(t *testing.T) {
	engine := strategy.NewEngine(nil, logger.NewNopLogger())
	now := time.Now()

	// Missing minimum price falls back to the 5.00 safety floor
	l := testListing("6.00", "0.00")
	res, err := engine.ComputeNextPrice(context.Background(), l, percentageStrategy("50"), now)
	require.NoError(t, err)
	assert.True(t, res.NewPrice.Equal(dec("5.00")), "got %s", res.NewPrice)
}

func TestEngine_ComputeNextPrice_StrategyFloorRaisesMinimum(t *testing.T) {
	engine := strategy.NewEngine(nil, logger.NewNopLogger())
	now := time.Now()

	floor := dec("45.00")
	strat := &domain.Strategy{
		Type:           domain.StrategyPercentage,
		ReductionValue: dec("20"),
		FloorPrice:     &floor,
	}

	res, err := engine.ComputeNextPrice(context.Background(),
		testListing("50.00", "10.00"), strat, now)
	require.NoError(t, err)
	assert.True(t, res.NewPrice.Equal(dec("45.00")), "got %s", res.NewPrice)
}

func TestEngine_ComputeNextPrice_NoReductionSkips(t *testing.T) {
	engine := strategy.NewEngine(&stubMarket{avg: dec("200.00")}, logger.NewNopLogger())
	now := time.Now()

	// A market undercut above current price must not raise it
	strat := &domain.Strategy{Type: domain.StrategyMarketBased, ReductionValue: dec("0.5")}
	l := testListing("50.00", "10.00")

	res, err := engine.ComputeNextPrice(context.Background(), l, strat, now)
	require.NoError(t, err)
	if res.Skipped {
		assert.True(t, res.NewPrice.Equal(dec("50.00")))
	} else {
		assert.True(t, res.NewPrice.LessThan(dec("50.00")))
	}
}
