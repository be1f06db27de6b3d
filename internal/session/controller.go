// Package session bridges a terminal surface to an event consumer.
//
// A Controller owns the surface lifecycle and at most one background poller
// that forwards input events, in poll order, to a Consumer. Every operation
// checks the lifecycle flags before touching the surface and returns a
// sentinel error, wrapped in *OperationError, when called out of order.
//
// Liveness: StopPolling waits for the poller to observe the stop request,
// which takes at most one poll timeout unless Surface.PollEvent itself never
// returns. StopPollingContext bounds that wait.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/termbridge/internal/logging"
	"github.com/dshills/termbridge/internal/metrics"
	"github.com/dshills/termbridge/internal/surface"
)

// DefaultPollTimeout is how long one poll waits for input.
const DefaultPollTimeout = 10 * time.Millisecond

// Controller is the public operation surface of the bridge.
type Controller struct {
	surface     surface.Surface
	state       State
	pollTimeout time.Duration
	base        *logging.Logger
	logger      *logging.Logger
	metrics     *metrics.Metrics

	// pollMu serializes the polling sub-lifecycle and guards active.
	pollMu  sync.Mutex
	active  *poller
	lastErr error
}

// Option configures a Controller.
type Option func(*Controller)

// WithPollTimeout sets how long each poll waits for input.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.pollTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.base = l
		}
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// NewController creates a controller for s. Nothing touches the surface
// until Init.
func NewController(s surface.Surface, opts ...Option) *Controller {
	c := &Controller{
		surface:     s,
		pollTimeout: DefaultPollTimeout,
		base:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.base.WithComponent("session")
	return c
}

// Init acquires the surface.
func (c *Controller) Init() error {
	if !c.state.TryStart() {
		return newOpError("init", ErrAlreadyRunning)
	}

	if err := c.surface.Acquire(); err != nil {
		c.state.Stop()
		c.logger.Error("surface acquisition failed", zap.Error(err))
		return newOpError("init", fmt.Errorf("%w: %w", ErrInitFailed, err))
	}

	c.metrics.SetRunning(true)
	c.logger.Debug("session started")
	return nil
}

// Shutdown releases the surface. An active poller is stopped first so it
// never polls a released surface.
func (c *Controller) Shutdown() error {
	if !c.state.IsRunning() {
		return newOpError("shutdown", ErrNotRunning)
	}

	c.pollMu.Lock()
	if c.active != nil {
		if c.state.IsPolling() {
			c.logger.Warn("shutdown while polling; stopping poller")
		}
		c.state.RequestStop()
		<-c.active.done
		c.retire()
	}
	c.pollMu.Unlock()

	c.surface.Release()
	c.state.Stop()

	c.metrics.SetRunning(false)
	c.logger.Debug("session stopped")
	return nil
}

// IsRunning reports whether the surface is acquired.
func (c *Controller) IsRunning() bool {
	return c.state.IsRunning()
}

// IsPolling reports whether a poller is active.
func (c *Controller) IsPolling() bool {
	return c.state.IsPolling()
}

// Width returns the surface width in cells.
func (c *Controller) Width() (int, error) {
	if !c.state.IsRunning() {
		return 0, newOpError("width", ErrNotRunning)
	}
	return c.surface.Width(), nil
}

// Height returns the surface height in cells.
func (c *Controller) Height() (int, error) {
	if !c.state.IsRunning() {
		return 0, newOpError("height", ErrNotRunning)
	}
	return c.surface.Height(), nil
}

// Clear fills the back buffer with the clear attributes.
func (c *Controller) Clear() error {
	if !c.state.IsRunning() {
		return newOpError("clear", ErrNotRunning)
	}
	c.surface.Clear()
	return nil
}

// SetClearAttributes sets the attributes Clear uses.
func (c *Controller) SetClearAttributes(fg, bg uint16) error {
	if !c.state.IsRunning() {
		return newOpError("set_clear_attributes", ErrNotRunning)
	}
	c.surface.SetClearAttributes(fg, bg)
	return nil
}

// Present flushes the back buffer to the terminal.
func (c *Controller) Present() error {
	if !c.state.IsRunning() {
		return newOpError("present", ErrNotRunning)
	}
	c.surface.Present()
	return nil
}

// SetCursor places the cursor; (-1, -1) hides it.
func (c *Controller) SetCursor(x, y int32) error {
	if !c.state.IsRunning() {
		return newOpError("set_cursor", ErrNotRunning)
	}
	c.surface.SetCursor(x, y)
	return nil
}

// ChangeCell writes one back buffer cell.
func (c *Controller) ChangeCell(x, y, ch int32, fg, bg uint16) error {
	if !c.state.IsRunning() {
		return newOpError("change_cell", ErrNotRunning)
	}
	c.surface.ChangeCell(x, y, ch, fg, bg)
	return nil
}

// SelectInputMode sets the input mode and returns the mode now in effect.
func (c *Controller) SelectInputMode(mode int32) (int32, error) {
	if !c.state.IsRunning() {
		return 0, newOpError("select_input_mode", ErrNotRunning)
	}
	return c.surface.SelectInputMode(mode), nil
}

// SelectOutputMode sets the output mode and returns the mode now in effect.
func (c *Controller) SelectOutputMode(mode int32) (int32, error) {
	if !c.state.IsRunning() {
		return 0, newOpError("select_output_mode", ErrNotRunning)
	}
	return c.surface.SelectOutputMode(mode), nil
}

// StartPolling spawns the poller that delivers events to consumer and
// returns the token identifying the new polling session.
func (c *Controller) StartPolling(consumer Consumer) (Token, error) {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	if !c.state.IsRunning() {
		return "", newOpError("start_polling", ErrNotRunning)
	}
	if consumer == nil {
		return "", newOpError("start_polling", ErrNilConsumer)
	}

	// A previous poller that ended on its own has already cleared the
	// flags; wait for its goroutine and keep its error.
	if c.active != nil && !c.state.IsPolling() {
		<-c.active.done
		c.retire()
	}

	if !c.state.TryStartPolling() {
		return "", newOpError("start_polling", ErrAlreadyPolling)
	}

	p := &poller{
		token:    Token(uuid.NewString()),
		state:    &c.state,
		surface:  c.surface,
		consumer: consumer,
		timeout:  c.pollTimeout,
		metrics:  c.metrics,
		done:     make(chan struct{}),
	}
	p.logger = c.base.WithComponent("poller")
	c.active = p

	c.metrics.PollingStarted()
	c.logger.Debug("polling started", zap.String("token", string(p.token)))

	go p.run()
	return p.token, nil
}

// StopPolling asks the poller to exit and blocks until it has. No event is
// delivered after StopPolling returns.
func (c *Controller) StopPolling() error {
	return c.StopPollingContext(context.Background())
}

// StopPollingContext is StopPolling with a bound on the wait. If ctx ends
// first the stop request stays pending and ctx.Err() is returned.
func (c *Controller) StopPollingContext(ctx context.Context) error {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	if !c.state.IsRunning() {
		return newOpError("stop_polling", ErrNotRunning)
	}
	if !c.state.IsPolling() || c.active == nil {
		return newOpError("stop_polling", ErrNotPolling)
	}

	c.state.RequestStop()

	select {
	case <-c.active.done:
	case <-ctx.Done():
		return newOpError("stop_polling", ctx.Err())
	}

	c.retire()
	return nil
}

// LastPollError returns the error that ended the most recent finished
// polling session, or nil if it was stopped on request.
func (c *Controller) LastPollError() error {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	// A poller that cleared polling is about to close done.
	if c.active != nil && !c.state.IsPolling() {
		<-c.active.done
		return c.active.err
	}
	return c.lastErr
}

// retire records the exited poller's result. If the poller exited on an
// error before seeing a stop request, that request is still set; clear it so
// the next session does not stop immediately. pollMu must be held and the
// poller's done channel closed.
func (c *Controller) retire() {
	c.lastErr = c.active.err
	c.active = nil
	c.state.MarkPollingStopped()
}
