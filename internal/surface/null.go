package surface

import (
	"errors"
	"sync"
	"time"
)

// ErrNotAcquired is returned by Null.PollEvent when the surface was released
// or never acquired.
var ErrNotAcquired = errors.New("surface not acquired")

// Null is an in-memory surface for tests and headless runs.
// Events are scripted with Push and PushError.
type Null struct {
	mu sync.Mutex

	width, height int
	cells         [][]Cell
	cursorX       int32
	cursorY       int32
	clearFg       uint16
	clearBg       uint16
	inputMode     int32
	outputMode    int32
	acquired      bool
	acquireErr    error
	calls         map[string]int

	queue chan PollOutcome
}

// Cell is one back buffer cell of a Null surface.
type Cell struct {
	Ch     int32
	Fg, Bg uint16
}

// NewNull creates a null surface with the given dimensions.
func NewNull(width, height int) *Null {
	return &Null{
		width:      width,
		height:     height,
		cursorX:    -1,
		cursorY:    -1,
		inputMode:  InputEsc,
		outputMode: OutputNormal,
		calls:      make(map[string]int),
		queue:      make(chan PollOutcome, 1024),
	}
}

// FailAcquire makes the next Acquire calls return err. nil clears it.
func (n *Null) FailAcquire(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.acquireErr = err
}

func (n *Null) Acquire() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls["acquire"]++
	if n.acquireErr != nil {
		return n.acquireErr
	}
	n.acquired = true
	n.resetCells()
	return nil
}

func (n *Null) Release() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls["release"]++
	n.acquired = false
}

func (n *Null) Width() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls["width"]++
	return n.width
}

func (n *Null) Height() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls["height"]++
	return n.height
}

func (n *Null) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls["clear"]++
	empty := Cell{Ch: ' ', Fg: n.clearFg, Bg: n.clearBg}
	for y := range n.cells {
		for x := range n.cells[y] {
			n.cells[y][x] = empty
		}
	}
}

func (n *Null) SetClearAttributes(fg, bg uint16) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls["set_clear_attributes"]++
	n.clearFg, n.clearBg = fg, bg
}

func (n *Null) Present() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls["present"]++
}

func (n *Null) SetCursor(x, y int32) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls["set_cursor"]++
	n.cursorX, n.cursorY = x, y
}

func (n *Null) ChangeCell(x, y, ch int32, fg, bg uint16) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls["change_cell"]++
	if x >= 0 && int(x) < n.width && y >= 0 && int(y) < n.height && n.cells != nil {
		n.cells[y][x] = Cell{Ch: ch, Fg: fg, Bg: bg}
	}
}

func (n *Null) SelectInputMode(mode int32) int32 {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls["select_input_mode"]++
	if mode == InputCurrent {
		return n.inputMode
	}
	if mode&(InputEsc|InputAlt) == 0 {
		mode |= InputEsc
	}
	n.inputMode = mode
	return n.inputMode
}

func (n *Null) SelectOutputMode(mode int32) int32 {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls["select_output_mode"]++
	if mode != OutputCurrent {
		n.outputMode = mode
	}
	return n.outputMode
}

func (n *Null) PollEvent(timeout time.Duration) PollOutcome {
	n.mu.Lock()
	acquired := n.acquired
	n.mu.Unlock()
	if !acquired {
		return Error(ErrNotAcquired)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-n.queue:
		return out
	case <-timer.C:
		return NoEvent()
	}
}

// Push queues an event for PollEvent.
func (n *Null) Push(ev InputEvent) {
	n.queue <- Event(ev)
}

// PushError queues a poll failure for PollEvent.
func (n *Null) PushError(err error) {
	n.queue <- Error(err)
}

// Pending returns the number of queued outcomes not yet polled.
func (n *Null) Pending() int {
	return len(n.queue)
}

// Resize changes the dimensions and queues a resize event.
func (n *Null) Resize(width, height int) {
	n.mu.Lock()
	n.width, n.height = width, height
	n.resetCells()
	n.mu.Unlock()

	n.Push(InputEvent{Kind: EventResize, Width: int32(width), Height: int32(height)})
}

// Calls returns how many times the named primitive was called.
func (n *Null) Calls(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[name]
}

// TotalCalls returns the number of primitive calls of any kind.
func (n *Null) TotalCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	total := 0
	for _, c := range n.calls {
		total += c
	}
	return total
}

// CellAt returns the back buffer cell at the given position.
func (n *Null) CellAt(x, y int) Cell {
	n.mu.Lock()
	defer n.mu.Unlock()

	if x >= 0 && x < n.width && y >= 0 && y < n.height && n.cells != nil {
		return n.cells[y][x]
	}
	return Cell{}
}

// CursorPosition returns the current cursor position.
func (n *Null) CursorPosition() (x, y int32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cursorX, n.cursorY
}

// Acquired reports whether the surface is held.
func (n *Null) Acquired() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.acquired
}

func (n *Null) resetCells() {
	n.cells = make([][]Cell, n.height)
	for i := range n.cells {
		n.cells[i] = make([]Cell, n.width)
		for j := range n.cells[i] {
			n.cells[i][j] = Cell{Ch: ' ', Fg: n.clearFg, Bg: n.clearBg}
		}
	}
}
