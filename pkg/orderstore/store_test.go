package orderstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/posedge/pkg/kv"
	"github.com/carverauto/posedge/pkg/logger"
	"github.com/carverauto/posedge/pkg/models"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, cfg *Config) (*Store, *time.Time) {
	t.Helper()

	now := base
	s := New(kv.NewMemoryStore(), cfg, logger.NewTestLogger())
	s.now = func() time.Time { return now }

	return s, &now
}

func order(id string, status models.OrderStatus, created time.Time) *models.Order {
	return &models.Order{
		ID:        id,
		Reference: "R-" + id,
		Status:    status,
		CreatedAt: created,
		Items:     []models.OrderItem{{Name: "Margherita", Quantity: 1, PriceCents: 950}},
	}
}

func TestSaveOrderIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil)

	inserted, err := s.SaveOrder(ctx, order("a/1", models.OrderPending, base))
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := order("a/1", models.OrderCancelled, base)
	inserted, err = s.SaveOrder(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, found, err := s.GetOrder(ctx, "a/1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.OrderPending, got.Status, "second save must not overwrite")
	assert.Equal(t, base, got.StatusChangedAt, "status clock starts at creation")
}

func TestSaveOrderRejectsEmptyID(t *testing.T) {
	s, _ := newTestStore(t, nil)

	_, err := s.SaveOrder(context.Background(), &models.Order{})
	assert.ErrorIs(t, err, errEmptyOrderID)
}

func TestListOrdersOldestFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil)

	for _, o := range []*models.Order{
		order("c", models.OrderPending, base.Add(2*time.Minute)),
		order("a", models.OrderPending, base),
		order("b", models.OrderPending, base.Add(time.Minute)),
	} {
		_, err := s.SaveOrder(ctx, o)
		require.NoError(t, err)
	}

	orders, err := s.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{orders[0].ID, orders[1].ID, orders[2].ID})
}

func TestAutomaticTransitions(t *testing.T) {
	ctx := context.Background()
	s, now := newTestStore(t, &Config{Rules: []Rule{
		{From: models.OrderPreparing, To: models.OrderReady, After: models.Duration(10 * time.Minute)},
		{From: models.OrderReady, To: models.OrderCompleted, After: models.Duration(10 * time.Minute)},
	}})

	for _, o := range []*models.Order{
		order("old-preparing", models.OrderPreparing, base.Add(-15*time.Minute)),
		order("new-preparing", models.OrderPreparing, base.Add(-5*time.Minute)),
		order("old-ready", models.OrderReady, base.Add(-11*time.Minute)),
		order("pending", models.OrderPending, base.Add(-time.Hour)),
	} {
		_, err := s.SaveOrder(ctx, o)
		require.NoError(t, err)
	}

	n, err := s.ProcessAutomaticStatusTransitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, _, _ := s.GetOrder(ctx, "old-preparing")
	assert.Equal(t, models.OrderReady, got.Status)
	assert.Equal(t, base, got.StatusChangedAt)

	got, _, _ = s.GetOrder(ctx, "old-ready")
	assert.Equal(t, models.OrderCompleted, got.Status)

	got, _, _ = s.GetOrder(ctx, "pending")
	assert.Equal(t, models.OrderPending, got.Status)

	// a freshly transitioned order waits out the next rule in full
	n, err = s.ProcessAutomaticStatusTransitions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	*now = base.Add(10 * time.Minute)

	n, err = s.ProcessAutomaticStatusTransitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "old-preparing to completed, new-preparing to ready")
}

func TestPendingCounts(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil)

	for _, o := range []*models.Order{
		order("1", models.OrderPending, base),
		order("2", models.OrderAccepted, base),
		order("3", models.OrderPreparing, base),
		order("4", models.OrderCompleted, base),
		order("5", models.OrderCancelled, base),
	} {
		_, err := s.SaveOrder(ctx, o)
		require.NoError(t, err)
	}

	pending, err := s.PendingOrdersCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	acks, err := s.PendingAcksCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, acks)

	ok, err := s.MarkAcknowledged(ctx, "1")
	require.NoError(t, err)
	assert.True(t, ok)

	acks, err = s.PendingAcksCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, acks)

	waiting, err := s.UnacknowledgedOrders(ctx)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, "2", waiting[0].ID)
	assert.Equal(t, "3", waiting[1].ID)
}

func TestMissingOrderUpdatesAreNotErrors(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil)

	ok, err := s.MarkAcknowledged(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.UpdateStatus(ctx, "nope", models.OrderReady)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateStatusResetsClock(t *testing.T) {
	ctx := context.Background()
	s, now := newTestStore(t, nil)

	_, err := s.SaveOrder(ctx, order("x", models.OrderPending, base.Add(-time.Hour)))
	require.NoError(t, err)

	*now = base.Add(time.Minute)

	ok, err := s.UpdateStatus(ctx, "x", models.OrderAccepted)
	require.NoError(t, err)
	assert.True(t, ok)

	got, _, _ := s.GetOrder(ctx, "x")
	assert.Equal(t, models.OrderAccepted, got.Status)
	assert.Equal(t, base.Add(time.Minute), got.StatusChangedAt)
}

type failingKV struct {
	kv.Store
	failPut bool
}

func (f *failingKV) Put(ctx context.Context, key string, value []byte) error {
	if f.failPut {
		return errors.New("disk full")
	}

	return f.Store.Put(ctx, key, value)
}

func TestSaveOrderPropagatesWriteFailure(t *testing.T) {
	backing := &failingKV{Store: kv.NewMemoryStore(), failPut: true}
	s := New(backing, nil, logger.NewTestLogger())

	inserted, err := s.SaveOrder(context.Background(), order("z", models.OrderPending, base))
	require.Error(t, err)
	assert.False(t, inserted)
	assert.Contains(t, err.Error(), "disk full")
}

// movingKV lets another writer complete an order right after it was listed.
type movingKV struct {
	kv.Store
	key   string
	gets  int
	moved bool
}

func (m *movingKV) Get(ctx context.Context, k string) ([]byte, bool, error) {
	if k == m.key {
		m.gets++
		if m.gets == 2 && !m.moved {
			m.moved = true

			var o models.Order
			if _, err := kv.GetJSON(ctx, m.Store, k, &o); err != nil {
				return nil, false, err
			}

			o.Status = models.OrderCompleted
			if err := kv.PutJSON(ctx, m.Store, k, &o); err != nil {
				return nil, false, err
			}
		}
	}

	return m.Store.Get(ctx, k)
}

func TestTransitionsSkipOrdersChangedSinceListing(t *testing.T) {
	ctx := context.Background()
	backing := &movingKV{Store: kv.NewMemoryStore(), key: key("moved")}

	s := New(backing, nil, logger.NewTestLogger())
	s.now = func() time.Time { return base.Add(time.Hour) }

	_, err := s.SaveOrder(ctx, order("moved", models.OrderPreparing, base))
	require.NoError(t, err)
	_, err = s.SaveOrder(ctx, order("stays", models.OrderPreparing, base))
	require.NoError(t, err)

	backing.gets = 0

	n, err := s.ProcessAutomaticStatusTransitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the order still in preparing counts")

	got, found, err := s.GetOrder(ctx, "moved")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.OrderCompleted, got.Status)
}

func TestMarkAcknowledgedTwiceStillReportsFound(t *testing.T) {
	s, _ := newTestStore(t, nil)
	ctx := context.Background()

	_, err := s.SaveOrder(ctx, order("a", models.OrderPending, base))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		found, err := s.MarkAcknowledged(ctx, "a")
		require.NoError(t, err)
		assert.True(t, found)
	}
}
