package cronsched

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablecron/tablecron/internal/logger"
)

func newTestLogger() logger.Logger { return logger.New("error") }

func TestRegister_UnregisterAndStopLifecycle(t *testing.T) {
	var calls int32
	done := make(chan struct{}, 1)
	s := New(func(ctx context.Context, name string) {
		atomic.AddInt32(&calls, 1)
		select {
		case done <- struct{}{}:
		default:
		}
	}, newTestLogger(), nil)
	s.Start()

	require.NoError(t, s.Register("every-minute", "* * * * *"))
	// The coarsest standard cron grain is a minute; exercise Register/Unregister
	// lifecycle without waiting a full minute for a real fire.
	s.Unregister("every-minute")
	s.Stop(time.Second)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(0))
}

func TestRegister_InvalidCronRejected(t *testing.T) {
	s := New(func(context.Context, string) {}, newTestLogger(), nil)
	err := s.Register("bad", "not a cron")
	assert.Error(t, err)
}

func TestUnregister_Idempotent(t *testing.T) {
	s := New(func(context.Context, string) {}, newTestLogger(), nil)
	require.NoError(t, s.Register("job", "* * * * *"))
	s.Unregister("job")
	assert.NotPanics(t, func() { s.Unregister("job") })
}

func TestFire_CoalescesOverlappingRuns(t *testing.T) {
	var running sync.WaitGroup
	running.Add(1)
	release := make(chan struct{})
	var invocations int32

	s := New(func(ctx context.Context, name string) {
		atomic.AddInt32(&invocations, 1)
		running.Done()
		<-release
	}, newTestLogger(), nil)
	s.Start()

	schedule, err := cron.ParseStandard("* * * * *")
	require.NoError(t, err)

	s.mu.Lock()
	e := &entry{schedule: schedule}
	s.entries["coalesce-me"] = e
	s.mu.Unlock()

	s.fire("coalesce-me")
	running.Wait()

	// A second fire while the first is still running must coalesce, not
	// spawn a concurrent handler invocation.
	s.fire("coalesce-me")
	close(release)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&invocations))
}
