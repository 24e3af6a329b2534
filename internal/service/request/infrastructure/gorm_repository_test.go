package infrastructure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableside/internal/service/request/domain"
)

func TestRequestModelRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC)
	req, err := domain.NewServiceRequest("q1", "r1", "12", domain.TypeRequestWater, "two glasses", now)
	require.NoError(t, err)
	ack, err := req.Transition(domain.StatusAcknowledged, "staff-1", now.Add(time.Minute))
	require.NoError(t, err)

	back := toDomain(fromDomain(&ack))
	assert.Equal(t, ack.ID, back.ID)
	assert.Equal(t, domain.StatusAcknowledged, back.Status)
	assert.Equal(t, "staff-1", back.AcknowledgedBy)
	require.NotNil(t, back.AcknowledgedAt)
	assert.True(t, ack.AcknowledgedAt.Equal(*back.AcknowledgedAt))
	assert.Nil(t, back.CompletedAt)
}

func TestTransitionColumnsLeaveIdentityAlone(t *testing.T) {
	cols := transitionColumns(&domain.ServiceRequest{Status: domain.StatusCompleted})
	for _, c := range []string{"id", "restaurant_id", "table_no", "request_type", "created_at"} {
		_, ok := cols[c]
		assert.False(t, ok, c)
	}
	assert.Equal(t, "completed", cols["status"])
}
