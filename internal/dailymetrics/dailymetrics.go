// Package dailymetrics holds the pieces of the per-day aggregate that do not
// depend on a store: key sanitizing, delta normalization and the document
// shapes a DailyMetrics record can take.
package dailymetrics

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kitchenledger/internal/domain"
)

const DateLayout = "2006-01-02"

const itemSalesPrefix = domain.MetricsFieldItemSales + "."

// Sanitize maps a free-text item name to the key of its per-item bucket:
// every rune outside [A-Za-z0-9] becomes '_'. Distinct names can collide.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// DateKey is the local calendar date of t in loc.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// KeyedItem is one item increment addressed by its sanitized key.
type KeyedItem struct {
	Key     string
	Name    string
	Qty     decimal.Decimal
	Revenue decimal.Decimal
}

// Items folds the item increments of d by sanitized key. Quantities and
// revenue add up; the name of the last increment for a key wins. Items with
// an empty key are dropped.
func Items(d domain.MetricsDelta) []KeyedItem {
	index := make(map[string]int)
	out := make([]KeyedItem, 0, len(d.Items))
	for _, item := range d.Items {
		key := Sanitize(item.Name)
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			out[i].Name = item.Name
			out[i].Qty = out[i].Qty.Add(item.Qty)
			out[i].Revenue = out[i].Revenue.Add(item.Revenue)
			continue
		}
		index[key] = len(out)
		out = append(out, KeyedItem{Key: key, Name: item.Name, Qty: item.Qty, Revenue: item.Revenue})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Merge adds b's increments to a. Merge is commutative for every counter;
// for item names it keeps b's, matching the last-write rule.
func Merge(a, b domain.MetricsDelta) domain.MetricsDelta {
	items := make([]domain.ItemSalesDelta, 0, len(a.Items)+len(b.Items))
	items = append(items, a.Items...)
	items = append(items, b.Items...)
	return domain.MetricsDelta{
		Sales:        a.Sales.Add(b.Sales),
		Orders:       a.Orders + b.Orders,
		DineInTables: a.DineInTables + b.DineInTables,
		COGS:         a.COGS.Add(b.COGS),
		WastageLoss:  a.WastageLoss.Add(b.WastageLoss),
		Items:        items,
	}
}

// Counters are the top-level numeric fields of a DailyMetrics record.
type Counters struct {
	Sales        decimal.Decimal
	Orders       int64
	DineInTables int64
	COGS         decimal.Decimal
	WastageLoss  decimal.Decimal
}

type Bucket struct {
	Name    string
	Qty     decimal.Decimal
	Revenue decimal.Decimal
}

// Record is a DailyMetrics record in typed form.
type Record struct {
	Date      string
	Counters  Counters
	ItemSales map[string]Bucket
}

// Doc renders r in the nested document shape.
func (r Record) Doc() domain.MetricsDoc {
	items := make(map[string]any, len(r.ItemSales))
	for key, bucket := range r.ItemSales {
		items[key] = map[string]any{
			"name":    bucket.Name,
			"qty":     bucket.Qty,
			"revenue": bucket.Revenue,
		}
	}
	return domain.MetricsDoc{
		domain.MetricsFieldDate:        r.Date,
		domain.MetricsFieldSales:       r.Counters.Sales,
		domain.MetricsFieldOrders:      r.Counters.Orders,
		domain.MetricsFieldDineIn:      r.Counters.DineInTables,
		domain.MetricsFieldCOGS:        r.Counters.COGS,
		domain.MetricsFieldWastageLoss: r.Counters.WastageLoss,
		domain.MetricsFieldItemSales:   items,
	}
}

// Apply adds d to r in memory. It is the reference semantics that the stores
// reproduce with per-field increments.
func (r *Record) Apply(d domain.MetricsDelta) {
	r.Counters.Sales = r.Counters.Sales.Add(d.Sales)
	r.Counters.Orders += d.Orders
	r.Counters.DineInTables += d.DineInTables
	r.Counters.COGS = r.Counters.COGS.Add(d.COGS)
	r.Counters.WastageLoss = r.Counters.WastageLoss.Add(d.WastageLoss)
	if r.ItemSales == nil {
		r.ItemSales = make(map[string]Bucket)
	}
	for _, item := range Items(d) {
		bucket := r.ItemSales[item.Key]
		bucket.Name = item.Name
		bucket.Qty = bucket.Qty.Add(item.Qty)
		bucket.Revenue = bucket.Revenue.Add(item.Revenue)
		r.ItemSales[item.Key] = bucket
	}
}

// ParseDoc reads a document in either item-sales shape.
func ParseDoc(doc domain.MetricsDoc) Record {
	record := Record{ItemSales: ItemSales(doc)}
	if date, ok := doc[domain.MetricsFieldDate].(string); ok {
		record.Date = date
	}
	record.Counters.Sales, _ = ToDecimal(doc[domain.MetricsFieldSales])
	record.Counters.COGS, _ = ToDecimal(doc[domain.MetricsFieldCOGS])
	record.Counters.WastageLoss, _ = ToDecimal(doc[domain.MetricsFieldWastageLoss])
	orders, _ := ToDecimal(doc[domain.MetricsFieldOrders])
	record.Counters.Orders = orders.IntPart()
	dineIn, _ := ToDecimal(doc[domain.MetricsFieldDineIn])
	record.Counters.DineInTables = dineIn.IntPart()
	return record
}

// ItemSales extracts the per-item buckets of doc. Both the nested
// {"itemSales": {key: {...}}} shape and flattened "itemSales.<key>.<field>"
// keys are read; when a key shows up in both, the amounts are summed.
func ItemSales(doc domain.MetricsDoc) map[string]Bucket {
	buckets := make(map[string]Bucket)

	if nested, ok := asMap(doc[domain.MetricsFieldItemSales]); ok {
		keys := sortedKeys(nested)
		for _, key := range keys {
			fields, ok := asMap(nested[key])
			if !ok {
				continue
			}
			bucket := buckets[key]
			for _, field := range sortedKeys(fields) {
				setField(&bucket, field, fields[field])
			}
			buckets[key] = bucket
		}
	}

	for _, raw := range sortedKeys(doc) {
		if !strings.HasPrefix(raw, itemSalesPrefix) {
			continue
		}
		key, field, ok := strings.Cut(strings.TrimPrefix(raw, itemSalesPrefix), ".")
		if !ok || key == "" {
			continue
		}
		bucket := buckets[key]
		setField(&bucket, field, doc[raw])
		buckets[key] = bucket
	}

	return buckets
}

func setField(bucket *Bucket, field string, value any) {
	switch field {
	case "name":
		if name, ok := value.(string); ok {
			bucket.Name = name
		}
	case "qty":
		if v, ok := ToDecimal(value); ok {
			bucket.Qty = bucket.Qty.Add(v)
		}
	case "revenue":
		if v, ok := ToDecimal(value); ok {
			bucket.Revenue = bucket.Revenue.Add(v)
		}
	}
}

// ToDecimal converts the numeric representations a document can carry.
func ToDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return v, true
	case *decimal.Decimal:
		if v == nil {
			return decimal.Zero, false
		}
		return *v, true
	case float64:
		return decimal.NewFromFloat(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt32(v), true
	case int64:
		return decimal.NewFromInt(v), true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			f, ferr := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if ferr != nil {
				return decimal.Zero, false
			}
			return decimal.NewFromFloat(f), true
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

func asMap(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case domain.MetricsDoc:
		return map[string]any(v), true
	default:
		return nil, false
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
