package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/posedge/pkg/events"
	"github.com/carverauto/posedge/pkg/kv"
	"github.com/carverauto/posedge/pkg/logger"
	"github.com/carverauto/posedge/pkg/models"
)

var errBoom = errors.New("boom")

func TestCircuitBreakerLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute}, logger.NewTestLogger())
	cb.now = func() time.Time { return now }

	calls := 0
	fail := func(context.Context) error { calls++; return errBoom }
	ok := func(context.Context) error { calls++; return nil }
	ctx := context.Background()

	require.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, BreakerClosed, cb.State())

	require.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, BreakerOpen, cb.State())

	require.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)
	assert.Equal(t, 2, calls, "open circuit must not call through")

	now = now.Add(time.Minute)

	require.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, BreakerOpen, cb.State(), "half-open failure reopens")

	now = now.Add(time.Minute)

	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, BreakerClosed, cb.State())
	assert.Equal(t, "closed", cb.State().String())
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 2}, logger.NewTestLogger())
	ctx := context.Background()

	_ = cb.Execute(ctx, func(context.Context) error { return errBoom })
	_ = cb.Execute(ctx, func(context.Context) error { return nil })
	_ = cb.Execute(ctx, func(context.Context) error { return errBoom })

	assert.Equal(t, BreakerClosed, cb.State())
}

func TestDeviceIDResolverGeneratesOnce(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()

	r := NewDeviceIDResolver(store, logger.NewTestLogger())
	r.hostname = func(context.Context) string { return "till-1" }

	id, err := r.Resolve(ctx)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^till-1-[0-9a-f]{8}$`), id)

	again, err := r.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	raw, found, err := store.Get(ctx, DeviceIDKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, string(raw))

	other := NewDeviceIDResolver(store, logger.NewTestLogger())
	other.hostname = func(context.Context) string { return "different" }

	persisted, err := other.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, persisted, "a stored id wins over generating a new one")
}

func TestDeviceIDResolverCachesAfterFirstRead(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	require.NoError(t, store.Put(ctx, DeviceIDKey, []byte("kitchen-abcdef12")))

	r := NewDeviceIDResolver(store, logger.NewTestLogger())

	id, err := r.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kitchen-abcdef12", id)

	require.NoError(t, store.Put(ctx, DeviceIDKey, []byte("changed")))

	id, err = r.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kitchen-abcdef12", id)
}

func TestHostnameNeverEmpty(t *testing.T) {
	assert.NotEmpty(t, hostname(context.Background()))
}

func TestNewHTTPSenderNotConfigured(t *testing.T) {
	for _, tc := range []struct{ endpoint, key string }{
		{"", "k"},
		{"http://example.test", ""},
		{"example.test", "k"},
	} {
		_, err := NewHTTPSender(tc.endpoint, tc.key, 0, nil, logger.NewTestLogger())
		assert.ErrorIs(t, err, ErrNotConfigured, tc.endpoint)
	}
}

func TestHTTPSender(t *testing.T) {
	var (
		status atomic.Int32
		hits   atomic.Int32
		got    atomic.Value
	)

	status.Store(http.StatusNoContent)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		if r.URL.Path != "/v1/heartbeat" || r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var p models.HeartbeatPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err == nil {
			got.Store(p)
		}

		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(srv.Close)

	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 2, Timeout: time.Hour}, logger.NewTestLogger())

	sender, err := NewHTTPSender(srv.URL+"/v1", "key", time.Second, cb, logger.NewTestLogger())
	require.NoError(t, err)

	printed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := &models.HeartbeatPayload{DeviceID: "till-1", Status: "online", PendingAcksCount: 2, LastPrintAt: &printed}

	require.NoError(t, sender.Send(context.Background(), payload))

	received, ok := got.Load().(models.HeartbeatPayload)
	require.True(t, ok)
	assert.Equal(t, "till-1", received.DeviceID)
	assert.Equal(t, 2, received.PendingAcksCount)
	require.NotNil(t, received.LastPrintAt)
	assert.True(t, printed.Equal(*received.LastPrintAt))

	status.Store(http.StatusServiceUnavailable)

	assert.ErrorIs(t, sender.Send(context.Background(), payload), errUnexpectedStatus)
	assert.ErrorIs(t, sender.Send(context.Background(), payload), errUnexpectedStatus)
	assert.ErrorIs(t, sender.Send(context.Background(), payload), ErrCircuitOpen)
	assert.Equal(t, int32(3), hits.Load(), "open breaker short-circuits the request")
}

type stubIDs struct {
	id  string
	err error
}

func (s stubIDs) Resolve(context.Context) (string, error) { return s.id, s.err }

type stubSender struct {
	err  error
	sent []*models.HeartbeatPayload
}

func (s *stubSender) Send(_ context.Context, p *models.HeartbeatPayload) error {
	s.sent = append(s.sent, p)
	return s.err
}

type stubCounter struct {
	acks, orders int
	err          error
}

func (s stubCounter) PendingAcksCount(context.Context) (int, error) { return s.acks, s.err }
func (s stubCounter) PendingOrdersCount(context.Context) (int, error) { return s.orders, nil }

type stubPrints struct{ at time.Time }

func (s stubPrints) LastPrintAt() (time.Time, bool) { return s.at, !s.at.IsZero() }

func TestBeatSendsSnapshot(t *testing.T) {
	rec := &events.Recorder{}
	sender := &stubSender{}
	printed := time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC)

	svc, err := NewService(nil, stubIDs{id: "till-1"}, sender, stubCounter{acks: 3, orders: 5}, stubPrints{at: printed}, rec, nil, logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, svc.Beat(context.Background()))
	require.Len(t, sender.sent, 1)

	p := sender.sent[0]
	assert.Equal(t, "till-1", p.DeviceID)
	assert.Equal(t, "online", p.Status)
	assert.Equal(t, 3, p.PendingAcksCount)
	assert.Equal(t, 5, p.PendingOrdersCount)
	require.NotNil(t, p.LastPrintAt)
	assert.Equal(t, printed, *p.LastPrintAt)

	sent := rec.OfType(events.TypeHeartbeatSent)
	require.Len(t, sent, 1)
	assert.True(t, sent[0].Data.(events.HeartbeatSent).Success)
}

func TestBeatFailuresAreReported(t *testing.T) {
	tests := []struct {
		name   string
		ids    stubIDs
		sender *stubSender
		sends  int
	}{
		{name: "send failure", ids: stubIDs{id: "till-1"}, sender: &stubSender{err: errBoom}, sends: 1},
		{name: "id failure", ids: stubIDs{err: errBoom}, sender: &stubSender{}, sends: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &events.Recorder{}

			svc, err := NewService(nil, tt.ids, tt.sender, stubCounter{err: errBoom}, stubPrints{}, rec, nil, logger.NewTestLogger())
			require.NoError(t, err)

			require.ErrorIs(t, svc.Beat(context.Background()), errBoom)
			assert.Len(t, tt.sender.sent, tt.sends)

			sent := rec.OfType(events.TypeHeartbeatSent)
			require.Len(t, sent, 1)
			assert.False(t, sent[0].Data.(events.HeartbeatSent).Success)
			assert.Equal(t, "boom", sent[0].Data.(events.HeartbeatSent).Error)
		})
	}
}

func TestStatsToleratesCounterFailure(t *testing.T) {
	svc, err := NewService(nil, stubIDs{id: "x"}, &stubSender{}, stubCounter{acks: 9, orders: 4, err: errBoom}, stubPrints{}, &events.Recorder{}, nil, logger.NewTestLogger())
	require.NoError(t, err)

	st := svc.Stats(context.Background())
	assert.Zero(t, st.PendingAcks)
	assert.Equal(t, 4, st.PendingOrders)
	assert.Nil(t, st.LastPrintAt)
}

func TestStartBeatsImmediately(t *testing.T) {
	sender := &stubSender{}

	svc, err := NewService(&Config{Interval: models.Duration(time.Hour)}, stubIDs{id: "x"}, sender, nil, nil, &events.Recorder{}, nil, logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Stop)

	require.Eventually(t, func() bool { return svc.TaskStats().Runs == 1 }, 2*time.Second, 5*time.Millisecond)
}
