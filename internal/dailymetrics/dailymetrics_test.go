package dailymetrics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitchenledger/internal/domain"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"Goat Leg!":    "Goat_Leg_",
		"Goat Leg?":    "Goat_Leg_",
		"Chai 2.0":     "Chai_2_0",
		"plain":        "plain",
		"Crème brûlée": "Cr_me_br_l_e",
		"":             "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), "sanitize %q", in)
	}
}

func TestDateKeyUsesLocation(t *testing.T) {
	kolkata := time.FixedZone("IST", 5*3600+1800)
	at := time.Date(2026, 3, 31, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-04-01", DateKey(at, kolkata))
	assert.Equal(t, "2026-03-31", DateKey(at, nil))
}

func TestItemsFoldsCollidingNames(t *testing.T) {
	items := Items(domain.MetricsDelta{Items: []domain.ItemSalesDelta{
		{Name: "Goat Leg!", Qty: dec("2"), Revenue: dec("900")},
		{Name: "Tea", Qty: dec("1"), Revenue: dec("20")},
		{Name: "Goat Leg?", Qty: dec("1"), Revenue: dec("450")},
		{Name: "", Qty: dec("1"), Revenue: dec("1")},
	}})

	require.Len(t, items, 2)
	assert.Equal(t, "Goat_Leg_", items[0].Key)
	assert.Equal(t, "Goat Leg?", items[0].Name)
	assert.True(t, dec("3").Equal(items[0].Qty))
	assert.True(t, dec("1350").Equal(items[0].Revenue))
	assert.Equal(t, "Tea", items[1].Key)
}

func TestMergeAddsCounters(t *testing.T) {
	merged := Merge(
		domain.MetricsDelta{Sales: dec("10"), Orders: 1, COGS: dec("4")},
		domain.MetricsDelta{Sales: dec("5"), DineInTables: 1, WastageLoss: dec("2")},
	)
	assert.True(t, dec("15").Equal(merged.Sales))
	assert.Equal(t, int64(1), merged.Orders)
	assert.Equal(t, int64(1), merged.DineInTables)
	assert.True(t, dec("4").Equal(merged.COGS))
	assert.True(t, dec("2").Equal(merged.WastageLoss))
}

func TestItemSalesReadsBothShapes(t *testing.T) {
	nested := domain.MetricsDoc{
		"itemSales": map[string]any{
			"Tea": map[string]any{"name": "Tea", "qty": float64(3), "revenue": "60"},
		},
	}
	flat := domain.MetricsDoc{
		"itemSales.Tea.name":    "Tea",
		"itemSales.Tea.qty":     json.Number("2"),
		"itemSales.Tea.revenue": 40,
		"itemSales.broken":      5,
	}
	both := domain.MetricsDoc{
		"itemSales": map[string]any{
			"Tea": map[string]any{"name": "Tea", "qty": 1, "revenue": 20},
		},
		"itemSales.Tea.qty":     1,
		"itemSales.Tea.revenue": 20,
	}

	got := ItemSales(nested)
	require.Contains(t, got, "Tea")
	assert.True(t, dec("3").Equal(got["Tea"].Qty))
	assert.True(t, dec("60").Equal(got["Tea"].Revenue))

	got = ItemSales(flat)
	require.Len(t, got, 1)
	assert.Equal(t, "Tea", got["Tea"].Name)
	assert.True(t, dec("2").Equal(got["Tea"].Qty))
	assert.True(t, dec("40").Equal(got["Tea"].Revenue))

	got = ItemSales(both)
	assert.True(t, dec("2").Equal(got["Tea"].Qty))
	assert.True(t, dec("40").Equal(got["Tea"].Revenue))
}

func TestRecordApplyAndDocRoundTrip(t *testing.T) {
	var record Record
	record.Date = "2026-10-16"
	record.Apply(domain.MetricsDelta{
		Sales:  dec("120"),
		Orders: 1,
		Items:  []domain.ItemSalesDelta{{Name: "Nihari Plate", Qty: dec("2"), Revenue: dec("120")}},
	})
	record.Apply(domain.MetricsDelta{COGS: dec("45.5")})
	record.Apply(domain.MetricsDelta{WastageLoss: dec("12"), DineInTables: 1})

	parsed := ParseDoc(record.Doc())
	assert.Equal(t, "2026-10-16", parsed.Date)
	assert.True(t, dec("120").Equal(parsed.Counters.Sales))
	assert.Equal(t, int64(1), parsed.Counters.Orders)
	assert.Equal(t, int64(1), parsed.Counters.DineInTables)
	assert.True(t, dec("45.5").Equal(parsed.Counters.COGS))
	assert.True(t, dec("12").Equal(parsed.Counters.WastageLoss))
	assert.Equal(t, "Nihari Plate", parsed.ItemSales["Nihari_Plate"].Name)
}

func TestToDecimal(t *testing.T) {
	for _, v := range []any{float64(1.5), "1.5", json.Number("1.5"), dec("1.5")} {
		got, ok := ToDecimal(v)
		require.True(t, ok, "%T", v)
		assert.True(t, dec("1.5").Equal(got), "%T", v)
	}
	_, ok := ToDecimal(struct{}{})
	assert.False(t, ok)
	_, ok = ToDecimal("abc")
	assert.False(t, ok)
}
