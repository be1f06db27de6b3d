package session

import (
	"context"
	"sync"

	"github.com/dshills/termbridge/internal/surface"
)

// Message is the tuple delivered to a consumer for each input event.
type Message struct {
	Kind     uint8
	Mod      uint8
	Key      uint16
	Ch       uint32
	Size     [2]int32 // width, height; resize events only
	Position [2]int32 // x, y; mouse events only
}

// NewMessage builds the delivery tuple for an event.
func NewMessage(ev surface.InputEvent) Message {
	return Message{
		Kind:     uint8(ev.Kind),
		Mod:      ev.Mod,
		Key:      ev.Key,
		Ch:       ev.Ch,
		Size:     [2]int32{ev.Width, ev.Height},
		Position: [2]int32{ev.X, ev.Y},
	}
}

// EventKind returns the message kind as a surface.EventKind.
func (m Message) EventKind() surface.EventKind {
	return surface.EventKind(m.Kind)
}

// Consumer receives events from a poller.
//
// Deliver is called from the poller goroutine, one message at a time in poll
// order. It must not block. A returned error drops the message; it is never
// retried.
type Consumer interface {
	Deliver(msg Message) error
}

// StopNotifier is implemented by consumers that want to know when and why
// their polling session ended. reason is nil when the session was stopped on
// request and a *PollError when the surface failed.
type StopNotifier interface {
	PollingStopped(token Token, reason error)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(msg Message) error

func (f ConsumerFunc) Deliver(msg Message) error {
	return f(msg)
}

// ChanConsumer delivers into a caller-owned channel without blocking.
// A full channel drops the message with ErrConsumerFull.
type ChanConsumer chan Message

func (c ChanConsumer) Deliver(msg Message) error {
	select {
	case c <- msg:
		return nil
	default:
		return ErrConsumerFull
	}
}

// Mailbox is an unbounded FIFO consumer. Deliver never blocks and never
// drops while the mailbox is open.
type Mailbox struct {
	mu       sync.Mutex
	queue    []Message
	notify   chan struct{}
	closed   bool
	reason   error
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		notify: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

func (m *Mailbox) Deliver(msg Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrConsumerClosed
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// PollingStopped records why the session feeding this mailbox ended.
func (m *Mailbox) PollingStopped(_ Token, reason error) {
	m.mu.Lock()
	m.reason = reason
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Stopped is closed once the polling session feeding this mailbox has ended.
func (m *Mailbox) Stopped() <-chan struct{} {
	return m.stopCh
}

// StopReason returns why polling ended. It is nil while polling is active
// and after a requested stop.
func (m *Mailbox) StopReason() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// TryReceive pops the oldest message if there is one.
func (m *Mailbox) TryReceive() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return Message{}, false
	}
	msg := m.queue[0]
	m.queue[0] = Message{}
	m.queue = m.queue[1:]
	return msg, true
}

// Receive waits for the next message. It returns ErrConsumerClosed once the
// mailbox is closed and empty, or ctx.Err() when ctx ends first.
func (m *Mailbox) Receive(ctx context.Context) (Message, error) {
	for {
		if msg, ok := m.TryReceive(); ok {
			return msg, nil
		}

		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return Message{}, ErrConsumerClosed
		}

		select {
		case <-m.notify:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Len returns the number of undelivered messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close rejects further deliveries. Queued messages can still be received.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}
