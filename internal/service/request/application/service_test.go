package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"tableside/internal/pkg/apperr"
	"tableside/internal/service/realtime"
	"tableside/internal/service/request/domain"
)

type memRepo struct {
	mu   sync.Mutex
	rows map[string]domain.ServiceRequest
	// beforeUpdate 模拟另一个终端抢先写入
	beforeUpdate func(id string)
}

func newMemRepo() *memRepo { return &memRepo{rows: map[string]domain.ServiceRequest{}} }

func (m *memRepo) Create(_ context.Context, r *domain.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[r.ID] = *r
	return nil
}

func (m *memRepo) FindByID(_ context.Context, id string) (*domain.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, errors.Wrap(apperr.ErrNotFound, id)
	}
	return &r, nil
}

func (m *memRepo) ListActive(_ context.Context, restaurantID string) ([]*domain.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ServiceRequest
	for _, r := range m.rows {
		r := r
		if r.RestaurantID == restaurantID && !r.Status.IsTerminal() {
			out = append(out, &r)
		}
	}
	return out, nil
}

func (m *memRepo) UpdateStatus(_ context.Context, r *domain.ServiceRequest, expected domain.Status) error {
	if m.beforeUpdate != nil {
		m.beforeUpdate(r.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows[r.ID].Status != expected {
		return domain.ErrStaleStatus
	}
	m.rows[r.ID] = *r
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.ChangeEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev realtime.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func newService(repo domain.Repository, pub realtime.Publisher) *RequestApplicationService {
	s := NewRequestApplicationService(repo, pub, noop.NewTracerProvider().Tracer("test"))
	clock := time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestCallWaiterCompletedDirectly(t *testing.T) {
	repo, pub := newMemRepo(), &recordingPublisher{}
	s := newService(repo, pub)
	ctx := context.Background()

	req, err := s.Create(ctx, CreateServiceRequest{RestaurantID: "r1", TableNo: "12", RequestType: domain.TypeCallWaiter})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, req.Status)

	done, err := s.SetStatus(ctx, "staff-3", req.ID, domain.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, "staff-3", done.CompletedBy)

	active, err := s.ListActive(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, active)

	require.Len(t, pub.events, 2)
	assert.Equal(t, realtime.OpInsert, pub.events[0].Operation)
	assert.Equal(t, realtime.OpUpdate, pub.events[1].Operation)
	assert.True(t, pub.events[1].IsTerminal())
	assert.True(t, pub.events[1].UpdatedAt.After(pub.events[0].UpdatedAt))
}

func TestCreateRejectsInvalidRequest(t *testing.T) {
	repo, pub := newMemRepo(), &recordingPublisher{}
	s := newService(repo, pub)

	_, err := s.Create(context.Background(), CreateServiceRequest{RestaurantID: "r1", RequestType: domain.TypeCallWaiter})
	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "table_no", ve.Field)
	assert.Empty(t, repo.rows)
	assert.Empty(t, pub.events)
}

func TestConcurrentResolutionSurfacesCurrentStatus(t *testing.T) {
	repo, pub := newMemRepo(), &recordingPublisher{}
	s := newService(repo, pub)
	ctx := context.Background()
	req, err := s.Create(ctx, CreateServiceRequest{RestaurantID: "r1", TableNo: "3", RequestType: domain.TypeRequestBill})
	require.NoError(t, err)

	repo.beforeUpdate = func(id string) {
		repo.mu.Lock()
		r := repo.rows[id]
		r.Status = domain.StatusCompleted
		repo.rows[id] = r
		repo.mu.Unlock()
	}

	_, err = s.SetStatus(ctx, "staff-1", req.ID, domain.StatusAcknowledged)
	var it *apperr.InvalidTransition
	require.True(t, errors.As(err, &it))
	assert.Equal(t, "completed", it.From)
	assert.Len(t, pub.events, 1)
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	repo := newMemRepo()
	s := newService(repo, &recordingPublisher{err: errors.New("broker down")})

	req, err := s.Create(context.Background(), CreateServiceRequest{RestaurantID: "r1", TableNo: "1", RequestType: domain.TypeRequestSauce})
	require.NoError(t, err)
	assert.Contains(t, repo.rows, req.ID)
}
