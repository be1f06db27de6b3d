package surface

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nsf/termbox-go"
)

// termboxQueueSize bounds events read from the terminal but not yet polled.
const termboxQueueSize = 256

// Termbox implements Surface on top of termbox-go.
//
// termbox-go is itself a process-wide singleton, so only one Termbox may be
// acquired at a time.
type Termbox struct {
	mu      sync.Mutex
	clearFg termbox.Attribute
	clearBg termbox.Attribute

	events     chan termbox.Event
	readerDone chan struct{}
	readErr    error
	dropped    atomic.Uint64
}

// NewTermbox creates a termbox surface. Nothing touches the terminal until
// Acquire.
func NewTermbox() *Termbox {
	return &Termbox{}
}

func (t *Termbox) Acquire() error {
	if err := termbox.Init(); err != nil {
		return err
	}

	events := make(chan termbox.Event, termboxQueueSize)
	done := make(chan struct{})

	t.mu.Lock()
	t.events, t.readerDone, t.readErr = events, done, nil
	t.mu.Unlock()

	go t.read(events, done)
	return nil
}

// read moves events from termbox into the queue until interrupted or
// termbox reports an error. It never blocks on the queue, so
// termbox.Interrupt always finds it waiting in PollEvent.
func (t *Termbox) read(events chan<- termbox.Event, done chan<- struct{}) {
	defer close(done)

	for {
		ev := termbox.PollEvent()
		if ev.Type == termbox.EventInterrupt {
			return
		}
		select {
		case events <- ev:
		default:
			t.dropped.Add(1)
		}
		if ev.Type == termbox.EventError {
			// Kept in case the queued copy was dropped.
			t.mu.Lock()
			t.readErr = ev.Err
			t.mu.Unlock()
			return
		}
	}
}

func (t *Termbox) Release() {
	t.mu.Lock()
	done := t.readerDone
	t.events, t.readerDone = nil, nil
	t.mu.Unlock()

	if done != nil {
		select {
		case <-done:
			// reader already exited on an error
		default:
			termbox.Interrupt()
			<-done
		}
	}
	termbox.Close()
}

func (t *Termbox) Width() int {
	w, _ := termbox.Size()
	return w
}

func (t *Termbox) Height() int {
	_, h := termbox.Size()
	return h
}

func (t *Termbox) Clear() {
	t.mu.Lock()
	fg, bg := t.clearFg, t.clearBg
	t.mu.Unlock()

	_ = termbox.Clear(fg, bg) // only fails when not initialized
}

func (t *Termbox) SetClearAttributes(fg, bg uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clearFg = termbox.Attribute(fg)
	t.clearBg = termbox.Attribute(bg)
}

func (t *Termbox) Present() {
	_ = termbox.Flush() // only fails when not initialized
}

func (t *Termbox) SetCursor(x, y int32) {
	if x < 0 || y < 0 {
		termbox.HideCursor()
		return
	}
	termbox.SetCursor(int(x), int(y))
}

func (t *Termbox) ChangeCell(x, y, ch int32, fg, bg uint16) {
	termbox.SetCell(int(x), int(y), rune(ch), termbox.Attribute(fg), termbox.Attribute(bg))
}

func (t *Termbox) SelectInputMode(mode int32) int32 {
	return int32(termbox.SetInputMode(termbox.InputMode(mode)))
}

func (t *Termbox) SelectOutputMode(mode int32) int32 {
	return int32(termbox.SetOutputMode(termbox.OutputMode(mode)))
}

func (t *Termbox) PollEvent(timeout time.Duration) PollOutcome {
	t.mu.Lock()
	events := t.events
	t.mu.Unlock()
	if events == nil {
		return Error(ErrNotAcquired)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case termbox.EventError:
				return Error(ev.Err)
			case termbox.EventKey, termbox.EventResize, termbox.EventMouse:
				return Event(convertTermboxEvent(ev))
			}
			// raw and none events are not forwarded
		case <-timer.C:
			t.mu.Lock()
			err := t.readErr
			t.mu.Unlock()
			if err != nil {
				return Error(err)
			}
			return NoEvent()
		}
	}
}

// Dropped returns how many events were discarded because nobody polled.
func (t *Termbox) Dropped() uint64 {
	return t.dropped.Load()
}

// convertTermboxEvent maps a termbox-go event to an InputEvent.
func convertTermboxEvent(ev termbox.Event) InputEvent {
	out := InputEvent{
		Mod: uint8(ev.Mod),
		Key: uint16(ev.Key),
		Ch:  uint32(ev.Ch),
	}

	switch ev.Type {
	case termbox.EventKey:
		out.Kind = EventKey
	case termbox.EventResize:
		out.Kind = EventResize
		out.Width = int32(ev.Width)
		out.Height = int32(ev.Height)
	case termbox.EventMouse:
		out.Kind = EventMouse
		out.Key = convertTermboxMouseKey(ev.Key)
		out.X = int32(ev.MouseX)
		out.Y = int32(ev.MouseY)
	}
	return out
}

// convertTermboxMouseKey renumbers mouse buttons. termbox-go reserves one
// extra code below the arrow keys, so its mouse keys sit one lower than ours.
func convertTermboxMouseKey(k termbox.Key) uint16 {
	switch k {
	case termbox.MouseLeft:
		return MouseLeft
	case termbox.MouseMiddle:
		return MouseMiddle
	case termbox.MouseRight:
		return MouseRight
	case termbox.MouseRelease:
		return MouseRelease
	case termbox.MouseWheelUp:
		return MouseWheelUp
	case termbox.MouseWheelDown:
		return MouseWheelDown
	default:
		return uint16(k)
	}
}
