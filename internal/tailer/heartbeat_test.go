package tailer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oicur0t/intelmon/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingSender struct {
	calls atomic.Int32
	err   error
}

func (c *countingSender) SubmitHeartbeat(ctx context.Context, hb models.Heartbeat) error {
	c.calls.Add(1)
	return c.err
}

func TestHeartbeater_SendsImmediatelyAndOnInterval(t *testing.T) {
	sender := &countingSender{}
	var built atomic.Int32
	build := func() models.Heartbeat {
		built.Add(1)
		return models.Heartbeat{ClientID: "client_test"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewHeartbeater(20*time.Millisecond, sender, build, nil, zap.NewNop()).Start(ctx)
	}()

	require.Eventually(t, func() bool { return sender.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, sender.calls.Load(), built.Load())
}

func TestHeartbeater_FailureDoesNotStopLoop(t *testing.T) {
	sender := &countingSender{err: errors.New("collector down")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewHeartbeater(10*time.Millisecond, sender, func() models.Heartbeat { return models.Heartbeat{} }, nil, zap.NewNop()).Start(ctx)

	require.Eventually(t, func() bool { return sender.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestHeartbeater_PrunesLedger(t *testing.T) {
	ledger := NewLedger(time.Millisecond)
	ledger.MarkSeen("old", time.Now().Add(-time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewHeartbeater(10*time.Millisecond, &countingSender{}, func() models.Heartbeat { return models.Heartbeat{} }, ledger, zap.NewNop()).Start(ctx)

	require.Eventually(t, func() bool { return ledger.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}
