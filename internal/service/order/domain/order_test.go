package domain

import (
	"testing"
	"time"

	"tableside/internal/pkg/apperr"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func twoItems() []OrderItem {
	return []OrderItem{
		{MenuID: "m1", Name: "Noodles", UnitPrice: dec("7.50"), Quantity: 2},
		{MenuID: "m2", Name: "Tea", UnitPrice: dec("5.00"), Quantity: 1},
	}
}

func tiers() []DeliveryRateTier {
	return []DeliveryRateTier{
		{ID: "t5", DistanceKm: dec("5"), Price: dec("4.00")},
		{ID: "t2", DistanceKm: dec("2"), Price: dec("2.00")},
		{ID: "t10", DistanceKm: dec("10"), Price: dec("7.50")},
	}
}

func requireValidation(t *testing.T, err error, field string) {
	t.Helper()
	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	assert.Equal(t, field, ve.Field)
}

func TestNewOrderDineInTotals(t *testing.T) {
	o, err := NewOrder("o1", OrderSpec{
		RestaurantID: "r1",
		ServiceType:  ServiceDineIn,
		TableNo:      "5",
		Items:        twoItems(),
	}, Restaurant{ID: "r1"}, nil, t0)
	require.NoError(t, err)

	assert.True(t, dec("20.00").Equal(o.Subtotal))
	assert.True(t, o.DeliveryFee.IsZero())
	assert.True(t, o.Tax.IsZero())
	assert.True(t, dec("20.00").Equal(o.TotalPrice))
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentUnpaid, o.PaymentStatus)
	assert.Equal(t, t0, o.CreatedAt)
	assert.Nil(t, o.CompletedAt)
}

func TestNewOrderTotalIncludesTaxAndFee(t *testing.T) {
	o, err := NewOrder("o1", OrderSpec{
		RestaurantID:  "r1",
		ServiceType:   ServiceDelivery,
		CustomerName:  "Ana",
		CustomerPhone: "0812",
		Address:       "Jl. Melati 3",
		Items:         twoItems(),
		Tax:           dec("2.20"),
	}, Restaurant{ID: "r1", Origin: &Geocoordinate{Lat: 1, Lng: 2}, Tiers: tiers()}, &DeliveryQuote{
		Address: "Jl. Melati 3", IsWithinRange: true, TierID: "t5", Fee: dec("4.00"), DistanceKm: dec("3.42"),
	}, t0)
	require.NoError(t, err)

	assert.True(t, dec("4.00").Equal(o.DeliveryFee))
	assert.True(t, o.TotalPrice.Equal(o.Subtotal.Add(o.DeliveryFee).Add(o.Tax)))
	assert.True(t, dec("26.20").Equal(o.TotalPrice))
}

func TestNewOrderRequiredFields(t *testing.T) {
	cases := []struct {
		name  string
		spec  OrderSpec
		field string
	}{
		{"unknown type", OrderSpec{ServiceType: "drive_thru"}, "service_type"},
		{"dine in without table", OrderSpec{ServiceType: ServiceDineIn}, "table_no"},
		{"pickup without name", OrderSpec{ServiceType: ServicePickup, CustomerPhone: "1"}, "customer_name"},
		{"pickup without phone", OrderSpec{ServiceType: ServicePickup, CustomerName: "A"}, "customer_phone"},
		{"delivery without address", OrderSpec{ServiceType: ServiceDelivery, CustomerName: "A", CustomerPhone: "1"}, "address"},
		{"no items", OrderSpec{ServiceType: ServiceDineIn, TableNo: "1"}, "items"},
		{"zero quantity", OrderSpec{ServiceType: ServiceDineIn, TableNo: "1", Items: []OrderItem{{MenuID: "m", UnitPrice: dec("1")}}}, "items[0].quantity"},
		{"negative price", OrderSpec{ServiceType: ServiceDineIn, TableNo: "1", Items: []OrderItem{{MenuID: "m", UnitPrice: dec("-1"), Quantity: 1}}}, "items[0].unit_price"},
		{"negative tax", OrderSpec{ServiceType: ServiceDineIn, TableNo: "1", Items: twoItems(), Tax: dec("-0.01")}, "tax"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.spec.RestaurantID = "r1"
			o, err := NewOrder("o1", tc.spec, Restaurant{ID: "r1"}, nil, t0)
			assert.Nil(t, o)
			requireValidation(t, err, tc.field)
		})
	}
}

func deliverySpec() OrderSpec {
	return OrderSpec{
		RestaurantID:  "r1",
		ServiceType:   ServiceDelivery,
		CustomerName:  "Ana",
		CustomerPhone: "0812",
		Address:       "Jl. Melati 3",
		Items:         twoItems(),
	}
}

func TestNewOrderDeliveryOutOfRange(t *testing.T) {
	r := Restaurant{ID: "r1", Origin: &Geocoordinate{}, Tiers: tiers()}
	o, err := NewOrder("o1", deliverySpec(), r, &DeliveryQuote{Address: "Jl. Melati 3", IsWithinRange: false}, t0)
	assert.Nil(t, o)
	requireValidation(t, err, "address")
}

func TestNewOrderDeliveryQuoteForOtherAddress(t *testing.T) {
	r := Restaurant{ID: "r1", Origin: &Geocoordinate{}, Tiers: tiers()}
	_, err := NewOrder("o1", deliverySpec(), r, &DeliveryQuote{Address: "elsewhere", IsWithinRange: true, Fee: dec("2")}, t0)
	requireValidation(t, err, "address")
}

func TestNewOrderDeliveryNeedsQuoteOrManualTier(t *testing.T) {
	r := Restaurant{ID: "r1", Origin: &Geocoordinate{}, Tiers: tiers()}
	_, err := NewOrder("o1", deliverySpec(), r, nil, t0)
	requireValidation(t, err, "address")

	// 没有解析结果时手动档位不算数
	spec := deliverySpec()
	spec.ManualTierID = "t2"
	_, err = NewOrder("o1", spec, r, nil, t0)
	requireValidation(t, err, "address")

	unresolved := &DeliveryQuote{Address: "Jl. Melati 3", Unresolved: true}
	_, err = NewOrder("o1", deliverySpec(), r, unresolved, t0)
	requireValidation(t, err, "manual_tier_id")

	spec.ManualTierID = "t10"
	o, err := NewOrder("o1", spec, r, unresolved, t0)
	require.NoError(t, err)
	assert.True(t, dec("7.50").Equal(o.DeliveryFee))
}

func TestNewOrderResolvedQuoteOverridesManualTier(t *testing.T) {
	r := Restaurant{ID: "r1", Origin: &Geocoordinate{}, Tiers: tiers()}
	spec := deliverySpec()
	spec.ManualTierID = "t2"

	o, err := NewOrder("o1", spec, r, &DeliveryQuote{
		Address: "Jl. Melati 3", IsWithinRange: true, TierID: "t5", Fee: dec("4.00"),
	}, t0)
	require.NoError(t, err)
	assert.True(t, dec("4.00").Equal(o.DeliveryFee))

	o, err = NewOrder("o1", spec, r, &DeliveryQuote{Address: "Jl. Melati 3", IsWithinRange: false}, t0)
	assert.Nil(t, o)
	requireValidation(t, err, "address")
}

func TestNewOrderManualTierWithoutGeocoordinate(t *testing.T) {
	r := Restaurant{ID: "r1", Tiers: tiers()}

	_, err := NewOrder("o1", deliverySpec(), r, nil, t0)
	requireValidation(t, err, "manual_tier_id")

	spec := deliverySpec()
	spec.ManualTierID = "nope"
	_, err = NewOrder("o1", spec, r, nil, t0)
	requireValidation(t, err, "manual_tier_id")

	spec.ManualTierID = "t2"
	o, err := NewOrder("o1", spec, r, nil, t0)
	require.NoError(t, err)
	assert.True(t, dec("2.00").Equal(o.DeliveryFee))
}

func TestNewOrderNonDeliveryIgnoresFee(t *testing.T) {
	r := Restaurant{ID: "r1", Origin: &Geocoordinate{}, Tiers: tiers()}
	o, err := NewOrder("o1", OrderSpec{
		RestaurantID: "r1", ServiceType: ServicePickup, CustomerName: "A", CustomerPhone: "1", Items: twoItems(),
	}, r, &DeliveryQuote{Address: "x", IsWithinRange: true, Fee: dec("9")}, t0)
	require.NoError(t, err)
	assert.True(t, o.DeliveryFee.IsZero())
}

func TestNewOrderDeliveryWithoutTiersIsFree(t *testing.T) {
	o, err := NewOrder("o1", deliverySpec(), Restaurant{ID: "r1"}, nil, t0)
	require.NoError(t, err)
	assert.True(t, o.DeliveryFee.IsZero())
}

func TestSelectTier(t *testing.T) {
	cases := []struct {
		km     float64
		tierID string
		ok     bool
	}{
		{0.4, "t2", true},
		{2.0, "t2", true},
		{2.009, "t2", true}, // 截断到 2.00，不是四舍五入到 2.01
		{2.01, "t5", true},
		{9.999, "t10", true},
		{10.0, "t10", true},
		{10.01, "", false},
	}
	for _, tc := range cases {
		tier, ok := SelectTier(TruncateKm(tc.km), tiers())
		assert.Equal(t, tc.ok, ok, "km=%v", tc.km)
		assert.Equal(t, tc.tierID, tier.ID, "km=%v", tc.km)
	}
}

func TestSortTiersDoesNotMutateInput(t *testing.T) {
	in := tiers()
	out := SortTiers(in)
	assert.Equal(t, "t5", in[0].ID)
	assert.Equal(t, []string{"t2", "t5", "t10"}, []string{out[0].ID, out[1].ID, out[2].ID})
}
