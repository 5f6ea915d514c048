package promotion

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantField string
	}{
		{name: "zero config is valid", cfg: Config{}},
		{
			name: "increasing tiers",
			cfg: Config{
				BaseShippingFee: decimal.NewFromInt(120),
				GiftTiers:       []GiftTier{{15, 1}, {20, 2}, {30, 3}},
			},
		},
		{name: "negative fee", cfg: Config{BaseShippingFee: decimal.NewFromInt(-1)}, wantField: "baseShippingFee"},
		{name: "negative free shipping threshold", cfg: Config{FreeShipping: FreeShipping{Enabled: true, ThresholdUnits: -5}}, wantField: "freeShipping.thresholdUnits"},
		{name: "zero threshold tier", cfg: Config{GiftTiers: []GiftTier{{0, 1}}}, wantField: "giftTiers[0].thresholdUnits"},
		{name: "zero gift quantity", cfg: Config{GiftTiers: []GiftTier{{10, 0}}}, wantField: "giftTiers[0].giftQuantity"},
		{name: "duplicate threshold", cfg: Config{GiftTiers: []GiftTier{{10, 1}, {10, 2}}}, wantField: "giftTiers[1].thresholdUnits"},
		{name: "free shipping threshold too large", cfg: Config{FreeShipping: FreeShipping{Enabled: true, ThresholdUnits: MaxUnits + 1}}, wantField: "freeShipping.thresholdUnits"},
		{name: "tier threshold too large", cfg: Config{GiftTiers: []GiftTier{{MaxUnits + 1, 1}}}, wantField: "giftTiers[0].thresholdUnits"},
		{name: "gift quantity too large", cfg: Config{GiftTiers: []GiftTier{{10, MaxUnits + 1}}}, wantField: "giftTiers[0].giftQuantity"},
		{name: "largest threshold", cfg: Config{GiftTiers: []GiftTier{{MaxUnits, 1}}}},
		{name: "decreasing thresholds", cfg: Config{GiftTiers: []GiftTier{{20, 1}, {10, 2}}}, wantField: "giftTiers[1].thresholdUnits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}
			var cErr *ConfigError
			require.ErrorAs(t, err, &cErr)
			assert.Equal(t, tt.wantField, cErr.Field)
		})
	}
}

func TestConfig_NormalizeThenValidate(t *testing.T) {
	cfg := Config{GiftTiers: []GiftTier{{30, 3}, {15, 1}, {20, 2}}}
	cfg.Normalize()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, []GiftTier{{15, 1}, {20, 2}, {30, 3}}, cfg.GiftTiers)
}

func TestConfig_Clone(t *testing.T) {
	cfg := &Config{GiftTiers: []GiftTier{{15, 1}}}
	cp := cfg.Clone()
	cp.GiftTiers[0].GiftQuantity = 9

	assert.Equal(t, 1, cfg.GiftTiers[0].GiftQuantity)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.BaseShippingFee.Equal(decimal.NewFromInt(120)))

	cfg.GiftTiers[0].GiftQuantity = 99
	assert.Equal(t, 1, Default().GiftTiers[0].GiftQuantity)
}
