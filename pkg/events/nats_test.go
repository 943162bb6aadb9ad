package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/posedge/pkg/logger"
	"github.com/carverauto/posedge/pkg/models"
)

func runJetStreamServer(t *testing.T) *server.Server {
	t.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	srv, err := server.NewServer(opts)
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}

	require.Eventually(t, func() bool {
		return srv.JetStreamEnabled()
	}, 5*time.Second, 50*time.Millisecond, "embedded NATS server not ready for JetStream")

	t.Cleanup(srv.Shutdown)

	return srv
}

func TestForwarderPublishesCloudEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	srv := runJetStreamServer(t)

	fwd, err := ConnectForwarder(ctx, &ForwarderConfig{URL: srv.ClientURL()}, logger.NewTestLogger())
	require.NoError(t, err)
	defer fwd.Close()

	e := New(TypePrinterStatus, "health", PrinterStatus{
		DeviceID: "kitchen",
		Previous: models.StateOnline,
		Current:  models.StateOffline,
	})
	require.NoError(t, fwd.Forward(ctx, e))

	stream, err := fwd.js.Stream(ctx, defaultStream)
	require.NoError(t, err)

	msg, err := stream.GetMsg(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "posedge.events.printer.status", msg.Subject)

	var ce struct {
		SpecVersion string `json:"specversion"`
		ID          string `json:"id"`
		Type        string `json:"type"`
		Source      string `json:"source"`
		Data        struct {
			DeviceID string `json:"device_id"`
			Current  string `json:"current"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &ce))

	assert.Equal(t, "1.0", ce.SpecVersion)
	assert.Equal(t, e.ID, ce.ID)
	assert.Equal(t, "com.carverauto.posedge.printer.status", ce.Type)
	assert.Equal(t, "posedge/health", ce.Source)
	assert.Equal(t, "kitchen", ce.Data.DeviceID)
	assert.Equal(t, "offline", ce.Data.Current)
}

func TestForwarderAttachedToBus(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	srv := runJetStreamServer(t)

	fwd, err := ConnectForwarder(ctx, &ForwarderConfig{URL: srv.ClientURL(), Stream: "TEST_EVENTS", SubjectPrefix: "pos.test"}, logger.NewTestLogger())
	require.NoError(t, err)

	bus := NewBus(8, logger.NewTestLogger())
	fwd.Attach(bus)

	bus.Publish(New(TypeHeartbeatSent, "heartbeat", HeartbeatSent{DeviceID: "till-1", Success: true}))
	bus.Publish(New(TypeSyncStatus, "coordinator", SyncStatus{State: SyncReady}))

	stream, err := fwd.js.Stream(ctx, "TEST_EVENTS")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, infoErr := stream.Info(ctx)
		return infoErr == nil && info.State.Msgs == 2
	}, 5*time.Second, 20*time.Millisecond)

	fwd.Close()
	bus.Close()
}

func TestEnsureStreamIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	srv := runJetStreamServer(t)

	fwd, err := ConnectForwarder(ctx, &ForwarderConfig{URL: srv.ClientURL()}, logger.NewTestLogger())
	require.NoError(t, err)
	defer fwd.Close()

	require.NoError(t, fwd.EnsureStream(ctx))

	stream, err := fwd.js.Stream(ctx, defaultStream)
	require.NoError(t, err)

	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"posedge.events.>"}, info.Config.Subjects)
}

func TestEnsureSubjectList(t *testing.T) {
	tests := []struct {
		name     string
		subjects []string
		subject  string
		want     []string
	}{
		{"adds subject when list empty", nil, "posedge.events.>", []string{"posedge.events.>"}},
		{"keeps list when greater wildcard matches", []string{"posedge.>"}, "posedge.events.>", []string{"posedge.>"}},
		{"keeps identical subject", []string{"posedge.events.>"}, "posedge.events.>", []string{"posedge.events.>"}},
		{"appends when unmatched", []string{"logs.syslog.*"}, "posedge.events.>", []string{"logs.syslog.*", "posedge.events.>"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ensureSubjectList(append([]string(nil), tc.subjects...), tc.subject))
		})
	}
}

func TestMatchesSubject(t *testing.T) {
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{"posedge.events.order.new", "posedge.events.order.new", true},
		{"posedge.*.order.new", "posedge.events.order.new", true},
		{"posedge.events.>", "posedge.events.order.new", true},
		{"posedge.events.>", "posedge.events", false},
		{"posedge.events.*", "posedge.events.order.new", false},
		{"other.>", "posedge.events.order.new", false},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, matchesSubject(tc.pattern, tc.subject), "%s vs %s", tc.pattern, tc.subject)
	}
}
