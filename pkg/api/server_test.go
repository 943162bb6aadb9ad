package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/posedge/pkg/events"
	"github.com/carverauto/posedge/pkg/health"
	"github.com/carverauto/posedge/pkg/logger"
	"github.com/carverauto/posedge/pkg/models"
	"github.com/carverauto/posedge/pkg/scheduler"
	"github.com/carverauto/posedge/pkg/transport"
)

type stubTrigger struct {
	name   string
	result scheduler.RunResult
	runs   int
}

func (s *stubTrigger) RunNow(context.Context) scheduler.RunResult {
	s.runs++
	return s.result
}

func (s *stubTrigger) TaskStats() scheduler.Stats { return scheduler.Stats{Name: s.name} }

type stubSync struct {
	stubTrigger
	pauseErr error
	paused   bool
}

func (s *stubSync) Pause() error {
	if s.pauseErr != nil {
		return s.pauseErr
	}

	s.paused = true

	return nil
}

func (s *stubSync) Resume() error {
	s.paused = false
	return nil
}

type stubHealth struct {
	stubTrigger
	states []models.DeviceHealthState
}

func (s *stubHealth) CheckOne(_ context.Context, id string) (health.Result, error) {
	if id != "kitchen" {
		return health.Result{}, fmt.Errorf("%w: %s", models.ErrDeviceNotFound, id)
	}

	return health.Result{DeviceID: id, Previous: models.StateOffline, Current: models.StateOnline, Changed: true}, nil
}

func (s *stubHealth) States() []models.DeviceHealthState { return s.states }

type stubDevices struct{ devices []models.DeviceProfile }

func (s stubDevices) ListDevices(context.Context) ([]models.DeviceProfile, error) {
	return s.devices, nil
}

func (s stubDevices) GetDevice(_ context.Context, id string) (*models.DeviceProfile, error) {
	for i := range s.devices {
		if s.devices[i].ID == id {
			d := s.devices[i]
			return &d, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", models.ErrDeviceNotFound, id)
}

type stubActions struct {
	err    error
	pin    int
	short  bool
	called string
}

func (s *stubActions) OpenDrawer(_ context.Context, _ *models.DeviceProfile, pin int) error {
	s.called, s.pin = "drawer", pin
	return s.err
}

func (s *stubActions) Buzz(_ context.Context, _ *models.DeviceProfile, short bool) error {
	s.called, s.short = "buzz", short
	return s.err
}

func (s *stubActions) TestPrint(context.Context, *models.DeviceProfile) error {
	s.called = "test-print"
	return s.err
}

type stubCoordinator bool

func (c stubCoordinator) Running() bool { return bool(c) }

type fixture struct {
	srv     *httptest.Server
	sync    *stubSync
	sweep   *stubTrigger
	health  *stubHealth
	actions *stubActions
	bus     *events.Bus
}

func newFixture(t *testing.T, mutate func(d *Deps)) *fixture {
	t.Helper()

	f := &fixture{
		sync:    &stubSync{stubTrigger: stubTrigger{name: "sync", result: scheduler.RunResult{Accepted: true}}},
		sweep:   &stubTrigger{name: "sweep", result: scheduler.RunResult{Accepted: true}},
		health:  &stubHealth{stubTrigger: stubTrigger{name: "health"}},
		actions: &stubActions{},
		bus:     events.NewBus(8, logger.NewTestLogger()),
	}
	t.Cleanup(f.bus.Close)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.health.states = []models.DeviceHealthState{{DeviceID: "kitchen", State: models.StateOnline, LastCheckedAt: now}}

	deps := Deps{
		Devices: stubDevices{devices: []models.DeviceProfile{
			{ID: "kitchen", Name: "Kitchen", Enabled: true, HasCashDrawer: true},
			{ID: "bar", Name: "Bar"},
		}},
		Health:      f.health,
		Actions:     f.actions,
		Sync:        f.sync,
		Sweep:       f.sweep,
		Coordinator: stubCoordinator(true),
		Events:      f.bus,
	}

	if mutate != nil {
		mutate(&deps)
	}

	s := NewServer(nil, deps, logger.NewTestLogger())
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fixture) do(t *testing.T, method, path string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, f.srv.URL+path, http.NoBody)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)

	return resp, body
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["order_loops_running"])

	tasks, ok := body["tasks"].([]any)
	require.True(t, ok)
	assert.Len(t, tasks, 3, "heartbeat is not configured")

	build, ok := body["build"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "dev", build["version"])
}

func TestListPrintersMergesHealth(t *testing.T) {
	f := newFixture(t, nil)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, f.srv.URL+"/api/printers", http.NoBody)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	var printers []PrinterView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&printers))
	require.Len(t, printers, 2)

	assert.Equal(t, "kitchen", printers[0].ID)
	require.NotNil(t, printers[0].Health)
	assert.Equal(t, models.StateOnline, printers[0].Health.State)
	assert.Nil(t, printers[1].Health)
}

func TestCheckPrinter(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodPost, "/api/printers/kitchen/check")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["changed"])

	resp, _ = f.do(t, http.MethodPost, "/api/printers/nope/check")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeviceActions(t *testing.T) {
	unreachable := &transport.Error{Op: "send", Addr: "10.0.0.5:9100", Kind: transport.KindHostUnreachable, Err: errors.New("no route")}

	tests := []struct {
		name   string
		path   string
		err    error
		want   int
		called string
	}{
		{name: "drawer", path: "/api/printers/kitchen/drawer?pin=1", want: http.StatusNoContent, called: "drawer"},
		{name: "bad pin", path: "/api/printers/kitchen/drawer?pin=x", want: http.StatusBadRequest},
		{name: "buzz", path: "/api/printers/kitchen/buzz?short=true", want: http.StatusNoContent, called: "buzz"},
		{name: "test print", path: "/api/printers/kitchen/test-print", want: http.StatusNoContent, called: "test-print"},
		{name: "unknown device", path: "/api/printers/nope/buzz", want: http.StatusNotFound},
		{name: "no drawer", path: "/api/printers/kitchen/drawer", err: transport.ErrNoCashDrawer, want: http.StatusConflict, called: "drawer"},
		{name: "disabled", path: "/api/printers/kitchen/test-print", err: transport.ErrDeviceDisabled, want: http.StatusConflict, called: "test-print"},
		{name: "unreachable", path: "/api/printers/kitchen/buzz", err: unreachable, want: http.StatusBadGateway, called: "buzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.actions.err = tt.err

			resp, _ := f.do(t, http.MethodPost, tt.path)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, tt.called, f.actions.called)
		})
	}
}

func TestDrawerAndBuzzArguments(t *testing.T) {
	f := newFixture(t, nil)

	f.do(t, http.MethodPost, "/api/printers/kitchen/drawer?pin=1")
	assert.Equal(t, 1, f.actions.pin)

	f.do(t, http.MethodPost, "/api/printers/kitchen/buzz?short=true")
	assert.True(t, f.actions.short)
}

func TestRunTriggers(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodPost, "/api/sync/run")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["accepted"])
	assert.Equal(t, 1, f.sync.runs)

	f.sweep.result = scheduler.RunResult{Reason: scheduler.ErrTickInFlight}

	resp, body = f.do(t, http.MethodPost, "/api/sweep/run")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, scheduler.ErrTickInFlight.Error(), body["message"])

	resp, _ = f.do(t, http.MethodPost, "/api/heartbeat/run")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	f.sync.result = scheduler.RunResult{Accepted: true, Err: errors.New("fetch failed")}

	resp, body = f.do(t, http.MethodPost, "/api/sync/run")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fetch failed", body["error"])
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.do(t, http.MethodPost, "/api/sync/pause")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, f.sync.paused)

	resp, _ = f.do(t, http.MethodPost, "/api/sync/resume")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, f.sync.paused)

	f.sync.pauseErr = scheduler.ErrNotRunning

	resp, _ = f.do(t, http.MethodPost, "/api/sync/pause")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSyncNotConfigured(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Sync = nil
		d.Coordinator = nil
	})

	resp, _ := f.do(t, http.MethodPost, "/api/sync/run")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/sync/pause")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, body := f.do(t, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["order_loops_running"])
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, nil)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/events?types=order.new"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()
	defer func() { _ = conn.Close() }()

	var (
		mu  sync.Mutex
		got []StreamMessage
	)

	go func() {
		for {
			var msg StreamMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}

			mu.Lock()
			got = append(got, msg)
			mu.Unlock()
		}
	}()

	// the subscription is registered after the upgrade completes
	require.Eventually(t, func() bool {
		f.bus.Publish(events.New(events.TypeSyncStatus, "sync", events.SyncStatus{State: events.SyncReady}))
		f.bus.Publish(events.New(events.TypeOrderNew, "sync", events.OrderNew{Order: models.Order{ID: "o-1"}}))

		mu.Lock()
		defer mu.Unlock()

		return len(got) > 0
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	for _, msg := range got {
		assert.Equal(t, "event", msg.Type)
		require.NotNil(t, msg.Event)
		assert.Equal(t, events.TypeOrderNew, msg.Event.Type, "filtered to order.new only")
	}
}

func TestEventStreamRejectsForeignOrigin(t *testing.T) {
	f := newFixture(t, nil)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/events"
	header := http.Header{"Origin": []string{"http://evil.example"}}

	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestConfigValidateDefaults(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:8088", cfg.ListenAddr)
	assert.Equal(t, 64, cfg.MaxConnections)
}
