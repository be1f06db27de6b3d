package surface

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
)

// tcellQueueSize bounds events read from the screen but not yet polled.
const tcellQueueSize = 256

// ScreenFactory creates the tcell screen used by one acquisition.
type ScreenFactory func() (tcell.Screen, error)

// Tcell implements Surface using tcell. Events, keys, and attributes are
// converted to termbox numbering.
type Tcell struct {
	newScreen ScreenFactory

	mu          sync.Mutex
	screen      tcell.Screen
	clearStyle  tcell.Style
	inputMode   int32
	outputMode  int32
	lastButtons tcell.ButtonMask

	events     chan tcell.Event
	readerDone chan struct{}
	dropped    atomic.Uint64
}

// NewTcell creates a tcell surface backed by the real terminal.
func NewTcell() *Tcell {
	return NewTcellWithScreen(tcell.NewScreen)
}

// NewTcellWithScreen creates a tcell surface that builds its screen with
// factory on every Acquire, e.g. tcell.NewSimulationScreen in tests.
func NewTcellWithScreen(factory ScreenFactory) *Tcell {
	return &Tcell{
		newScreen:  factory,
		clearStyle: tcell.StyleDefault,
		inputMode:  InputEsc,
		outputMode: OutputNormal,
	}
}

func (t *Tcell) Acquire() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	screen, err := t.newScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	screen.SetStyle(t.clearStyle)
	if t.inputMode&InputMouse != 0 {
		screen.EnableMouse()
	}

	t.screen = screen
	t.events = make(chan tcell.Event, tcellQueueSize)
	t.readerDone = make(chan struct{})
	go t.read(screen, t.events, t.readerDone)
	return nil
}

// read moves events from the screen into the queue. PollEvent returns nil
// once the screen is finalized, which ends the reader.
func (t *Tcell) read(screen tcell.Screen, events chan<- tcell.Event, done chan<- struct{}) {
	defer close(done)

	for {
		ev := screen.PollEvent()
		if ev == nil {
			return
		}
		select {
		case events <- ev:
		default:
			t.dropped.Add(1)
		}
	}
}

func (t *Tcell) Release() {
	t.mu.Lock()
	screen, done := t.screen, t.readerDone
	t.screen, t.readerDone, t.events = nil, nil, nil
	t.mu.Unlock()

	if screen == nil {
		return
	}
	screen.Fini()
	<-done
}

func (t *Tcell) Width() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, _ := t.screen.Size()
	return w
}

func (t *Tcell) Height() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, h := t.screen.Size()
	return h
}

func (t *Tcell) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.screen.SetStyle(t.clearStyle)
	t.screen.Clear()
}

func (t *Tcell) SetClearAttributes(fg, bg uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clearStyle = convertAttributes(fg, bg)
}

func (t *Tcell) Present() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.screen.Show()
}

func (t *Tcell) SetCursor(x, y int32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if x < 0 || y < 0 {
		t.screen.HideCursor()
		return
	}
	t.screen.ShowCursor(int(x), int(y))
}

func (t *Tcell) ChangeCell(x, y, ch int32, fg, bg uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.screen.SetContent(int(x), int(y), rune(ch), nil, convertAttributes(fg, bg))
}

func (t *Tcell) SelectInputMode(mode int32) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if mode == InputCurrent {
		return t.inputMode
	}
	if mode&(InputEsc|InputAlt) == 0 {
		mode |= InputEsc
	}
	if mode&InputMouse != 0 {
		t.screen.EnableMouse()
	} else {
		t.screen.DisableMouse()
	}
	t.inputMode = mode
	return t.inputMode
}

// SelectOutputMode records the mode. tcell picks its color depth from the
// terminal, so the value only affects what is reported back.
func (t *Tcell) SelectOutputMode(mode int32) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if mode != OutputCurrent {
		t.outputMode = mode
	}
	return t.outputMode
}

func (t *Tcell) PollEvent(timeout time.Duration) PollOutcome {
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
			if e, ok := ev.(*tcell.EventError); ok {
				return Error(e)
			}
			if in, ok := t.convertEvent(ev); ok {
				return Event(in)
			}
		case <-timer.C:
			return NoEvent()
		}
	}
}

// Dropped returns how many events were discarded because nobody polled.
func (t *Tcell) Dropped() uint64 {
	return t.dropped.Load()
}

// convertEvent converts tcell events to InputEvent. Events with no termbox
// counterpart (paste, focus, interrupts) are skipped.
func (t *Tcell) convertEvent(ev tcell.Event) (InputEvent, bool) {
	switch e := ev.(type) {
	case *tcell.EventKey:
		in := InputEvent{
			Kind: EventKey,
			Mod:  convertMod(e.Modifiers()),
		}
		if e.Key() == tcell.KeyRune {
			in.Ch = uint32(e.Rune())
			if e.Rune() == ' ' {
				in.Key, in.Ch = KeySpace, 0
			}
		} else {
			in.Key = convertKey(e.Key())
		}
		return in, true

	case *tcell.EventMouse:
		x, y := e.Position()
		buttons := e.Buttons()

		t.mu.Lock()
		motion := buttons != tcell.ButtonNone && buttons == t.lastButtons
		t.lastButtons = buttons
		t.mu.Unlock()

		in := InputEvent{
			Kind: EventMouse,
			Mod:  convertMod(e.Modifiers()),
			Key:  convertMouseButton(buttons),
			X:    int32(x),
			Y:    int32(y),
		}
		if motion {
			in.Mod |= ModMotion
		}
		return in, true

	case *tcell.EventResize:
		w, h := e.Size()
		return InputEvent{
			Kind:   EventResize,
			Width:  int32(w),
			Height: int32(h),
		}, true

	default:
		return InputEvent{}, false
	}
}

// convertAttributes converts a termbox fg/bg attribute pair to a tcell style.
func convertAttributes(fg, bg uint16) tcell.Style {
	style := tcell.StyleDefault.
		Foreground(convertColor(fg)).
		Background(convertColor(bg))

	if fg&AttrBold != 0 {
		style = style.Bold(true)
	}
	if fg&AttrUnderline != 0 {
		style = style.Underline(true)
	}
	if fg&AttrReverse != 0 || bg&AttrReverse != 0 {
		style = style.Reverse(true)
	}
	return style
}

// convertColor maps the color byte of an attribute. Zero is the terminal
// default; anything else is a palette index offset by one.
func convertColor(attr uint16) tcell.Color {
	c := attr & 0xFF
	if c == ColorDefault {
		return tcell.ColorDefault
	}
	return tcell.PaletteColor(int(c) - 1)
}

// convertMod converts tcell modifiers. Only Alt has a termbox counterpart;
// Ctrl is folded into the key code.
func convertMod(m tcell.ModMask) uint8 {
	if m&tcell.ModAlt != 0 {
		return ModAlt
	}
	return 0
}

// convertKey converts tcell special keys to termbox key codes.
func convertKey(k tcell.Key) uint16 {
	switch k {
	case tcell.KeyF1:
		return KeyF1
	case tcell.KeyF2:
		return KeyF2
	case tcell.KeyF3:
		return KeyF3
	case tcell.KeyF4:
		return KeyF4
	case tcell.KeyF5:
		return KeyF5
	case tcell.KeyF6:
		return KeyF6
	case tcell.KeyF7:
		return KeyF7
	case tcell.KeyF8:
		return KeyF8
	case tcell.KeyF9:
		return KeyF9
	case tcell.KeyF10:
		return KeyF10
	case tcell.KeyF11:
		return KeyF11
	case tcell.KeyF12:
		return KeyF12
	case tcell.KeyInsert:
		return KeyInsert
	case tcell.KeyDelete:
		return KeyDelete
	case tcell.KeyHome:
		return KeyHome
	case tcell.KeyEnd:
		return KeyEnd
	case tcell.KeyPgUp:
		return KeyPgup
	case tcell.KeyPgDn:
		return KeyPgdn
	case tcell.KeyUp:
		return KeyArrowUp
	case tcell.KeyDown:
		return KeyArrowDown
	case tcell.KeyLeft:
		return KeyArrowLeft
	case tcell.KeyRight:
		return KeyArrowRight
	case tcell.KeyBacktab:
		return KeyTab
	}

	// tcell numbers Ctrl-@ through Ctrl-_ from KeyCtrlSpace; termbox uses
	// the raw control byte.
	if k >= tcell.KeyCtrlSpace && k <= tcell.KeyCtrlUnderscore {
		return uint16(k - tcell.KeyCtrlSpace)
	}

	// The remaining control keys share ASCII codes in both numberings.
	if k >= 0 && k <= 0x7F {
		return uint16(k)
	}
	return 0
}

// convertMouseButton converts a tcell button mask to a termbox mouse key.
func convertMouseButton(b tcell.ButtonMask) uint16 {
	switch {
	case b&tcell.Button1 != 0:
		return MouseLeft
	case b&tcell.Button3 != 0:
		return MouseMiddle
	case b&tcell.Button2 != 0:
		return MouseRight
	case b&tcell.WheelUp != 0:
		return MouseWheelUp
	case b&tcell.WheelDown != 0:
		return MouseWheelDown
	default:
		return MouseRelease
	}
}
