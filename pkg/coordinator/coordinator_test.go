package coordinator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/posedge/pkg/cloudapi"
	"github.com/carverauto/posedge/pkg/events"
	"github.com/carverauto/posedge/pkg/logger"
)

type stubAPI struct{ err error }

func (s stubAPI) Initialize(context.Context) error { return s.err }

type stubLoop struct {
	startErr error
	starts   int
	stops    int
}

func (l *stubLoop) Start(context.Context) error {
	l.starts++
	return l.startErr
}

func (l *stubLoop) Stop() { l.stops++ }

func lastStatus(t *testing.T, rec *events.Recorder) events.SyncStatus {
	t.Helper()

	got := rec.OfType(events.TypeSyncStatus)
	require.NotEmpty(t, got)

	return got[len(got)-1].Data.(events.SyncStatus)
}

func TestStartReady(t *testing.T) {
	rec := &events.Recorder{}
	syncLoop, sweepLoop := &stubLoop{}, &stubLoop{}
	c := New(stubAPI{}, syncLoop, sweepLoop, rec, logger.NewTestLogger())

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Running())
	assert.Equal(t, 1, syncLoop.starts)
	assert.Equal(t, 1, sweepLoop.starts)
	assert.Equal(t, events.SyncReady, lastStatus(t, rec).State)

	assert.ErrorIs(t, c.Start(context.Background()), errAlreadyStarted)

	c.Stop()
	assert.False(t, c.Running())
	assert.Equal(t, 1, syncLoop.stops)
	assert.Equal(t, 1, sweepLoop.stops)
}

func TestStartFailures(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		state events.SyncState
	}{
		{name: "not configured", err: cloudapi.ErrNotConfigured, state: events.SyncNotConfigured},
		{name: "wrapped not configured", err: fmt.Errorf("%w: invalid base url", cloudapi.ErrNotConfigured), state: events.SyncNotConfigured},
		{name: "unreachable", err: errors.New("connection refused"), state: events.SyncError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &events.Recorder{}
			syncLoop, sweepLoop := &stubLoop{}, &stubLoop{}
			c := New(stubAPI{err: tt.err}, syncLoop, sweepLoop, rec, logger.NewTestLogger())

			err := c.Start(context.Background())
			require.ErrorIs(t, err, tt.err)

			assert.False(t, c.Running())
			assert.Zero(t, syncLoop.starts)
			assert.Zero(t, sweepLoop.starts)
			assert.Equal(t, tt.state, lastStatus(t, rec).State)
			assert.Len(t, rec.OfType(events.TypeSyncStatus), 1)
		})
	}
}

func TestStartRollsBackOnLoopFailure(t *testing.T) {
	rec := &events.Recorder{}
	syncLoop := &stubLoop{}
	sweepLoop := &stubLoop{startErr: errors.New("already running")}
	c := New(stubAPI{}, syncLoop, sweepLoop, rec, logger.NewTestLogger())

	require.Error(t, c.Start(context.Background()))
	assert.False(t, c.Running())
	assert.Equal(t, 1, syncLoop.stops, "started loop is stopped again")
	assert.Equal(t, events.SyncError, lastStatus(t, rec).State)
}
