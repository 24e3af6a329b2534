package realtime

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orderdomain "tableside/internal/service/order/domain"
)

func TestEncodeDecodeOrderEvent(t *testing.T) {
	ev := NewOrderEvent(OpInsert, orderAt("o1", orderdomain.StatusPending, base), base)
	raw, err := Encode(ev)
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, EntityOrder, got.EntityType)
	require.NotNil(t, got.Order)
	assert.Equal(t, "o1", got.Order.ID)
	assert.True(t, got.UpdatedAt.Equal(base))
}

func TestDecodeRejectsMalformedEvents(t *testing.T) {
	cases := map[string]string{
		"not json":         `{`,
		"unknown entity":   `{"entity_type":"menu","operation":"insert","entity_id":"x","restaurant_id":"r1","updated_at":"2025-03-01T18:00:00Z"}`,
		"unknown op":       `{"entity_type":"order","operation":"upsert","entity_id":"x","restaurant_id":"r1","updated_at":"2025-03-01T18:00:00Z"}`,
		"missing time":     `{"entity_type":"order","operation":"delete","entity_id":"x","restaurant_id":"r1"}`,
		"missing payload":  `{"entity_type":"order","operation":"update","entity_id":"x","restaurant_id":"r1","updated_at":"2025-03-01T18:00:00Z"}`,
		"foreign payload":  `{"entity_type":"service_request","operation":"delete","entity_id":"x","restaurant_id":"r1","updated_at":"2025-03-01T18:00:00Z","order":{"id":"x"}}`,
		"mismatched id":    `{"entity_type":"order","operation":"update","entity_id":"x","restaurant_id":"r1","updated_at":"2025-03-01T18:00:00Z","order":{"id":"y","restaurant_id":"r1","status":"pending","updated_at":"2025-03-01T18:00:00Z"}}`,
		"bad order status": `{"entity_type":"order","operation":"update","entity_id":"x","restaurant_id":"r1","updated_at":"2025-03-01T18:00:00Z","order":{"id":"x","restaurant_id":"r1","status":"eaten","updated_at":"2025-03-01T18:00:00Z"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.True(t, errors.Is(err, ErrInvalidEvent), "got %v", err)
		})
	}
}

func TestDeleteWithoutPayloadIsValid(t *testing.T) {
	ev := ChangeEvent{EntityType: EntityOrder, Operation: OpDelete, EntityID: "o1", RestaurantID: "r1", UpdatedAt: base}
	assert.NoError(t, ev.Validate())
}

func TestNowUsesStoragePrecision(t *testing.T) {
	for i := 0; i < 100; i++ {
		now := Now()
		assert.Equal(t, time.UTC, now.Location())
		assert.Zero(t, now.Nanosecond()%int(time.Microsecond))
	}
}

func TestFilterForRoles(t *testing.T) {
	order := NewOrderEvent(OpInsert, orderAt("o1", orderdomain.StatusPending, base), base)
	req := NewRequestEvent(OpInsert, requestAt("q1", "pending", base), base)
	settings := NewSettingsEvent(orderdomain.RestaurantSettings{RestaurantID: "r1", UpdatedAt: base}, base)
	foreign := order
	foreign.RestaurantID = "r2"

	kitchen := FilterFor(orderdomain.RoleKitchen, "r1")
	assert.True(t, kitchen.Allows(order))
	assert.False(t, kitchen.Allows(req))
	assert.False(t, kitchen.Allows(settings))
	assert.False(t, kitchen.Allows(foreign))

	staff := FilterFor(orderdomain.RoleStaff, "r1")
	assert.True(t, staff.Allows(order))
	assert.True(t, staff.Allows(req))
	assert.False(t, staff.Allows(settings))

	cashier := FilterFor(orderdomain.RoleCashier, "r1")
	assert.False(t, cashier.Allows(order))
	assert.True(t, cashier.Allows(settings))
	assert.False(t, cashier.Wants(EntityOrder))

	assert.True(t, FilterFor(orderdomain.RoleOwner, "r1").Allows(settings))
}
