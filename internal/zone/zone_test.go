package zone

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AngelCh415/creative-ops/internal/models"
)

func ptr(f float64) *float64 { return &f }

var standard = models.ZoneThresholds{Article: "A1", Green: ptr(5), Gold: ptr(10), Pink: ptr(20), Red: ptr(40)}

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		value float64
		want  string
	}{
		{0.01, models.TierGreen},
		{4.99, models.TierGreen},
		{5.00, models.TierGold},
		{9.99, models.TierGold},
		{10, models.TierPink},
		{19.99, models.TierPink},
		{20, models.TierRed},
		{39.99, models.TierRed},
		{40, models.TierRed},
		{100, models.TierRed},
	}
	for _, tc := range cases {
		got, ok := ClassifyThresholds(standard, tc.value)
		assert.True(t, ok, "%v", tc.value)
		assert.Equal(t, tc.want, got.Name, "%v", tc.value)
	}
}

func TestClassifyRejectsBadInput(t *testing.T) {
	for _, v := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, ok := ClassifyThresholds(standard, v)
		assert.False(t, ok, "%v", v)
	}
	_, ok := ClassifyThresholds(models.ZoneThresholds{Article: "empty"}, 3)
	assert.False(t, ok)
	_, ok = Classify([]models.Tier{{Name: models.TierGold, Price: math.NaN()}, {Name: models.TierRed, Price: 0}}, 3)
	assert.False(t, ok)
}

func TestClassifySkipsAbsentTiers(t *testing.T) {
	z := models.ZoneThresholds{Gold: ptr(10), Red: ptr(30)}
	got, _ := ClassifyThresholds(z, 2)
	assert.Equal(t, models.TierGold, got.Name)
	got, _ = ClassifyThresholds(z, 12)
	assert.Equal(t, models.TierRed, got.Name)
	got, _ = ClassifyThresholds(z, 31)
	assert.Equal(t, models.TierRed, got.Name)
}

func TestClassifyUnsortedInputAndTies(t *testing.T) {
	tiers := []models.Tier{
		{Name: models.TierRed, Price: 10},
		{Name: models.TierGold, Price: 10},
		{Name: models.TierGreen, Price: 5},
	}
	got, ok := Classify(tiers, 7)
	assert.True(t, ok)
	assert.Equal(t, models.TierGold, got.Name, "cheaper tier wins the tie")
	got, _ = Classify(tiers, 50)
	assert.Equal(t, models.TierGold, got.Name)
	assert.Equal(t, 10.0, got.Price)
}

func TestClassifySingleTierClamps(t *testing.T) {
	z := models.ZoneThresholds{Pink: ptr(8)}
	got, _ := ClassifyThresholds(z, 1)
	assert.Equal(t, models.TierPink, got.Name)
	got, _ = ClassifyThresholds(z, 80)
	assert.Equal(t, models.TierPink, got.Name)
}
