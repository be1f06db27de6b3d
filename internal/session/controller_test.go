package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dshills/termbridge/internal/logging"
	"github.com/dshills/termbridge/internal/metrics"
	"github.com/dshills/termbridge/internal/surface"
)

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)

func newTestController(t *testing.T, opts ...Option) (*Controller, *surface.Null) {
	t.Helper()

	null := surface.NewNull(80, 24)
	opts = append([]Option{
		WithPollTimeout(2 * time.Millisecond),
		WithLogger(logging.Wrap(zaptest.NewLogger(t))),
	}, opts...)
	c := NewController(null, opts...)
	t.Cleanup(func() {
		if c.IsRunning() {
			c.Shutdown()
		}
	})
	return c, null
}

func keyEvent(ch rune) surface.InputEvent {
	return surface.InputEvent{Kind: surface.EventKey, Ch: uint32(ch)}
}

func TestInitShutdown(t *testing.T) {
	c, null := newTestController(t)

	require.NoError(t, c.Init())
	assert.True(t, c.IsRunning())
	assert.True(t, null.Acquired())

	err := c.Init()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, 1, null.Calls("acquire"), "rejected init must not touch the surface")

	require.NoError(t, c.Shutdown())
	assert.False(t, c.IsRunning())
	assert.False(t, null.Acquired())

	assert.ErrorIs(t, c.Shutdown(), ErrNotRunning)

	require.NoError(t, c.Init(), "init after shutdown")
}

func TestShutdownWithoutInit(t *testing.T) {
	c, null := newTestController(t)

	err := c.Shutdown()
	assert.ErrorIs(t, err, ErrNotRunning)

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "shutdown", opErr.Op)
	assert.Equal(t, 0, null.TotalCalls())
}

func TestInitFailedRollsBack(t *testing.T) {
	c, null := newTestController(t)
	boom := errors.New("no tty")
	null.FailAcquire(boom)

	err := c.Init()
	assert.ErrorIs(t, err, ErrInitFailed)
	assert.ErrorIs(t, err, boom)
	assert.False(t, c.IsRunning())

	null.FailAcquire(nil)
	require.NoError(t, c.Init())
}

func TestOperationsRequireRunning(t *testing.T) {
	c, null := newTestController(t)

	ops := map[string]func() error{
		"width":                func() error { _, err := c.Width(); return err },
		"height":               func() error { _, err := c.Height(); return err },
		"clear":                c.Clear,
		"present":              c.Present,
		"set_clear_attributes": func() error { return c.SetClearAttributes(surface.ColorWhite, surface.ColorBlack) },
		"set_cursor":           func() error { return c.SetCursor(1, 2) },
		"change_cell":          func() error { return c.ChangeCell(0, 0, 'x', 0, 0) },
		"select_input_mode":    func() error { _, err := c.SelectInputMode(surface.InputMouse); return err },
		"select_output_mode":   func() error { _, err := c.SelectOutputMode(surface.Output256); return err },
		"start_polling":        func() error { _, err := c.StartPolling(NewMailbox()); return err },
		"stop_polling":         c.StopPolling,
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			err := op()
			assert.ErrorIs(t, err, ErrNotRunning)

			var opErr *OperationError
			require.ErrorAs(t, err, &opErr)
			assert.Equal(t, name, opErr.Op)
		})
	}

	assert.Equal(t, 0, null.TotalCalls(), "no surface primitive may run while not running")
	assert.False(t, c.IsPolling())
}

func TestPassThrough(t *testing.T) {
	c, null := newTestController(t)
	require.NoError(t, c.Init())

	w, err := c.Width()
	require.NoError(t, err)
	h, err := c.Height()
	require.NoError(t, err)
	assert.Equal(t, 80, w)
	assert.Equal(t, 24, h)

	require.NoError(t, c.SetClearAttributes(surface.ColorWhite, surface.ColorBlue))
	require.NoError(t, c.Clear())
	require.NoError(t, c.ChangeCell(3, 4, 'Q', surface.ColorRed|surface.AttrBold, surface.ColorDefault))
	require.NoError(t, c.SetCursor(5, 6))
	require.NoError(t, c.Present())

	assert.Equal(t, surface.Cell{Ch: 'Q', Fg: surface.ColorRed | surface.AttrBold, Bg: surface.ColorDefault}, null.CellAt(3, 4))
	assert.Equal(t, surface.Cell{Ch: ' ', Fg: surface.ColorWhite, Bg: surface.ColorBlue}, null.CellAt(0, 0))
	x, y := null.CursorPosition()
	assert.Equal(t, int32(5), x)
	assert.Equal(t, int32(6), y)
	assert.Equal(t, 1, null.Calls("present"))

	mode, err := c.SelectInputMode(surface.InputEsc | surface.InputMouse)
	require.NoError(t, err)
	assert.Equal(t, surface.InputEsc|surface.InputMouse, mode)

	mode, err = c.SelectOutputMode(surface.Output216)
	require.NoError(t, err)
	assert.Equal(t, surface.Output216, mode)
}

func TestPollingScenario(t *testing.T) {
	c, _ := newTestController(t)
	h := NewMailbox()

	require.NoError(t, c.Init())
	assert.ErrorIs(t, c.Init(), ErrAlreadyRunning)

	tok1, err := c.StartPolling(h)
	require.NoError(t, err)
	assert.NotEmpty(t, tok1)
	assert.True(t, c.IsPolling())

	_, err = c.StartPolling(h)
	assert.ErrorIs(t, err, ErrAlreadyPolling)

	require.NoError(t, c.StopPolling())
	assert.False(t, c.IsPolling())

	tok2, err := c.StartPolling(h)
	require.NoError(t, err, "start after stop must re-arm cleanly")
	assert.NotEqual(t, tok1, tok2)

	require.NoError(t, c.StopPolling())
	assert.ErrorIs(t, c.StopPolling(), ErrNotPolling)
}

func TestStartPollingNilConsumer(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.Init())

	_, err := c.StartPolling(nil)
	assert.ErrorIs(t, err, ErrNilConsumer)
	assert.False(t, c.IsPolling())
}

func TestDeliveryPreservesOrder(t *testing.T) {
	c, null := newTestController(t)
	require.NoError(t, c.Init())

	const n = 200
	for i := 0; i < n; i++ {
		null.Push(keyEvent(rune(i)))
	}

	box := NewMailbox()
	_, err := c.StartPolling(box)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return box.Len() == n }, waitFor, tick)
	require.NoError(t, c.StopPolling())

	for i := 0; i < n; i++ {
		msg, ok := box.TryReceive()
		require.True(t, ok)
		assert.Equal(t, uint32(i), msg.Ch, "message %d out of order", i)
		assert.Equal(t, surface.EventKey, msg.EventKind())
	}
}

func TestNoDeliveryAfterStop(t *testing.T) {
	c, null := newTestController(t)
	require.NoError(t, c.Init())

	var stopped atomic.Bool
	var late atomic.Int32
	consumer := ConsumerFunc(func(Message) error {
		if stopped.Load() {
			late.Add(1)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if null.Pending() < 512 {
				null.Push(keyEvent(rune(i)))
			}
		}
	}()

	_, err := c.StartPolling(consumer)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, c.StopPolling())
	stopped.Store(true)

	time.Sleep(20 * time.Millisecond)
	cancel()
	wg.Wait()

	assert.Zero(t, late.Load(), "events delivered after StopPolling returned")
}

func TestPollErrorEndsSession(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c, null := newTestController(t, WithMetrics(m))
	require.NoError(t, c.Init())

	box := NewMailbox()
	tok, err := c.StartPolling(box)
	require.NoError(t, err)

	null.Push(keyEvent('a'))
	boom := errors.New("read failed")
	null.PushError(boom)

	select {
	case <-box.Stopped():
	case <-time.After(waitFor):
		t.Fatal("consumer not notified of poll error")
	}
	require.Eventually(t, func() bool { return !c.IsPolling() }, waitFor, tick)

	var pollErr *PollError
	require.ErrorAs(t, box.StopReason(), &pollErr)
	assert.Equal(t, tok, pollErr.Token)
	assert.ErrorIs(t, c.LastPollError(), boom)
	assert.Equal(t, 1, box.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Polling))

	assert.ErrorIs(t, c.StopPolling(), ErrNotPolling)

	_, err = c.StartPolling(NewMailbox())
	require.NoError(t, err, "poller must not be stuck after an error")
	require.NoError(t, c.StopPolling())
	assert.NoError(t, c.LastPollError())
}

func TestStopRequestedAfterErrorDoesNotLeak(t *testing.T) {
	c, null := newTestController(t)
	require.NoError(t, c.Init())

	// Error and stop race; whichever wins, the next session must run.
	for i := 0; i < 20; i++ {
		_, err := c.StartPolling(NewMailbox())
		require.NoError(t, err)

		null.PushError(errors.New("flaky"))
		err = c.StopPolling()
		if err != nil {
			assert.ErrorIs(t, err, ErrNotPolling)
		}
		require.Eventually(t, func() bool { return !c.IsPolling() }, waitFor, tick)
	}

	// Errors queued after a stop won the race end their own sessions.
	for null.Pending() > 0 {
		_, err := c.StartPolling(NewMailbox())
		require.NoError(t, err)
		require.Eventually(t, func() bool { return !c.IsPolling() }, waitFor, tick)
	}

	box := NewMailbox()
	_, err := c.StartPolling(box)
	require.NoError(t, err)
	null.Push(keyEvent('k'))
	require.Eventually(t, func() bool { return box.Len() == 1 }, waitFor, tick)
	require.NoError(t, c.StopPolling())
}

func TestDroppedDeliveries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c, null := newTestController(t, WithMetrics(m))
	require.NoError(t, c.Init())

	ch := make(ChanConsumer, 1)
	_, err := c.StartPolling(ch)
	require.NoError(t, err)

	null.Push(keyEvent('a'))
	null.Push(keyEvent('b'))
	null.Push(keyEvent('c'))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.DeliveriesDropped) == 2
	}, waitFor, tick)
	require.NoError(t, c.StopPolling())

	assert.Equal(t, uint32('a'), (<-ch).Ch)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDelivered.WithLabelValues("key")))
}

func TestConsumerPanicRestoresFlags(t *testing.T) {
	c, null := newTestController(t)
	require.NoError(t, c.Init())

	_, err := c.StartPolling(ConsumerFunc(func(Message) error {
		panic("consumer bug")
	}))
	require.NoError(t, err)

	null.Push(keyEvent('x'))
	require.Eventually(t, func() bool { return !c.IsPolling() }, waitFor, tick)

	var pollErr *PollError
	assert.ErrorAs(t, c.LastPollError(), &pollErr)

	_, err = c.StartPolling(NewMailbox())
	require.NoError(t, err)
}

func TestShutdownStopsPoller(t *testing.T) {
	c, null := newTestController(t)
	require.NoError(t, c.Init())

	box := NewMailbox()
	_, err := c.StartPolling(box)
	require.NoError(t, err)

	require.NoError(t, c.Shutdown())
	assert.False(t, c.IsPolling())
	assert.False(t, c.IsRunning())
	assert.False(t, null.Acquired())

	select {
	case <-box.Stopped():
	default:
		t.Fatal("poller should have exited before shutdown returned")
	}
	assert.NoError(t, box.StopReason())
}

// wedgedSurface never returns from PollEvent until released. entered is
// closed the first time PollEvent is called.
type wedgedSurface struct {
	*surface.Null
	release   chan struct{}
	entered   chan struct{}
	enterOnce sync.Once
}

func (w *wedgedSurface) PollEvent(time.Duration) surface.PollOutcome {
	w.enterOnce.Do(func() { close(w.entered) })
	<-w.release
	return surface.NoEvent()
}

func TestStopPollingContextWedged(t *testing.T) {
	w := &wedgedSurface{
		Null:    surface.NewNull(80, 24),
		release: make(chan struct{}),
		entered: make(chan struct{}),
	}
	c := NewController(w)
	require.NoError(t, c.Init())

	_, err := c.StartPolling(NewMailbox())
	require.NoError(t, err)

	select {
	case <-w.entered:
	case <-time.After(waitFor):
		t.Fatal("poller never reached the surface")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = c.StopPollingContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, c.IsPolling(), "poller has not vacated yet")

	close(w.release)
	require.Eventually(t, func() bool { return !c.IsPolling() }, waitFor, tick)

	_, err = c.StartPolling(NewMailbox())
	require.NoError(t, err)
	require.NoError(t, c.StopPolling())
	require.NoError(t, c.Shutdown())
}

func TestRunningReflectsLastLifecycleCall(t *testing.T) {
	c, null := newTestController(t)

	steps := []struct {
		fail bool
		op   func() error
	}{
		{op: c.Init},
		{op: c.Init},
		{op: c.Shutdown},
		{op: c.Shutdown},
		{fail: true, op: c.Init},
		{op: c.Init},
		{op: c.Shutdown},
	}

	running := false
	for i, step := range steps {
		if step.fail {
			null.FailAcquire(errors.New("refused"))
		}
		err := step.op()
		null.FailAcquire(nil)

		switch {
		case err == nil && !running:
			running = true
		case err == nil && running:
			running = false
		}
		assert.Equal(t, running, c.IsRunning(), "step %d", i)
	}
}
