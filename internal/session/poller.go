package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/termbridge/internal/logging"
	"github.com/dshills/termbridge/internal/metrics"
	"github.com/dshills/termbridge/internal/surface"
)

// Token identifies one polling session.
type Token string

// poller runs one polling session. It is started by Controller.StartPolling
// and exits when stop is requested or the surface reports an error.
type poller struct {
	token    Token
	state    *State
	surface  surface.Surface
	consumer Consumer
	timeout  time.Duration
	logger   *logging.Logger
	metrics  *metrics.Metrics

	// err is written before done is closed and read only after.
	err  error
	done chan struct{}
}

func (p *poller) run() {
	defer close(p.done)
	defer func() {
		if r := recover(); r != nil {
			p.err = &PollError{Token: p.token, Err: fmt.Errorf("poller panic: %v", r)}
		}
		p.finish()
	}()

	p.err = p.loop()
}

func (p *poller) loop() error {
	for !p.state.StopRequested() {
		out := p.surface.PollEvent(p.timeout)
		switch out.Kind {
		case surface.OutcomeEvent:
			p.deliver(out.Event)
		case surface.OutcomeNoEvent:
		case surface.OutcomeError:
			return &PollError{Token: p.token, Err: out.Err}
		}
	}
	return nil
}

// deliver hands one event to the consumer. A rejected event is counted and
// dropped; it is never retried.
func (p *poller) deliver(ev surface.InputEvent) {
	if err := p.consumer.Deliver(NewMessage(ev)); err != nil {
		p.metrics.DeliveryDropped()
		p.logger.Warn("event dropped",
			zap.String("token", string(p.token)),
			zap.Stringer("kind", ev.Kind),
			zap.Error(err),
		)
		return
	}
	p.metrics.EventDelivered(ev.Kind.String())
}

// finish tells the consumer why the session ended and restores the flags.
// It runs exactly once per session, whatever ended the loop.
func (p *poller) finish() {
	if p.err != nil {
		p.metrics.PollError()
		p.logger.Error("polling ended by error", zap.String("token", string(p.token)), zap.Error(p.err))
	} else {
		p.logger.Debug("polling stopped", zap.String("token", string(p.token)))
	}

	if n, ok := p.consumer.(StopNotifier); ok {
		n.PollingStopped(p.token, p.err)
	}

	p.metrics.PollingStopped()
	p.state.MarkPollingStopped()
}
