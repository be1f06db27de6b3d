// Package surface defines the terminal resource the session bridge drives.
//
// A Surface is a process-wide, non-reentrant terminal. Everything except
// Acquire and Release assumes the surface is already acquired; gating that
// is the caller's job. Numbering of event kinds, keys, modes, colors and
// attributes follows termbox so every implementation reports the same values.
package surface

import (
	"fmt"
	"time"
)

// Surface is the terminal-control resource.
//
// PollEvent is the only method the background poller calls. The drawing and
// query methods are called from the foreground and must not be assumed safe
// against each other.
type Surface interface {
	// Acquire takes the terminal. Must be called before any other method.
	Acquire() error

	// Release restores the terminal and frees the resource.
	Release()

	Width() int
	Height() int

	// Clear fills the back buffer with the clear attributes.
	Clear()

	// SetClearAttributes sets the attributes used by Clear.
	SetClearAttributes(fg, bg uint16)

	// Present flushes the back buffer to the terminal.
	Present()

	// SetCursor places the cursor. (-1, -1) hides it.
	SetCursor(x, y int32)

	// ChangeCell writes one cell of the back buffer.
	ChangeCell(x, y, ch int32, fg, bg uint16)

	// SelectInputMode sets the input mode and returns the resulting mode.
	// InputCurrent queries without changing.
	SelectInputMode(mode int32) int32

	// SelectOutputMode sets the output mode and returns the resulting mode.
	// OutputCurrent queries without changing.
	SelectOutputMode(mode int32) int32

	// PollEvent waits at most timeout for the next input event.
	PollEvent(timeout time.Duration) PollOutcome
}

// EventKind identifies the type of an input event.
type EventKind uint8

const (
	EventNone EventKind = iota
	EventKey
	EventResize
	EventMouse
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "none"
	case EventKey:
		return "key"
	case EventResize:
		return "resize"
	case EventMouse:
		return "mouse"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Modifier bits.
const (
	ModAlt    uint8 = 0x01
	ModMotion uint8 = 0x02
)

// Key codes for special keys. Printable input arrives with Key 0 and Ch set.
const (
	KeyF1 uint16 = 0xFFFF - iota
	KeyF2
	KeyF3
	KeyF4
	KeyF5
	KeyF6
	KeyF7
	KeyF8
	KeyF9
	KeyF10
	KeyF11
	KeyF12
	KeyInsert
	KeyDelete
	KeyHome
	KeyEnd
	KeyPgup
	KeyPgdn
	KeyArrowUp
	KeyArrowDown
	KeyArrowLeft
	KeyArrowRight
	MouseLeft
	MouseMiddle
	MouseRight
	MouseRelease
	MouseWheelUp
	MouseWheelDown
)

// Control keys.
const (
	KeyCtrlTilde      uint16 = 0x00
	KeyCtrlA          uint16 = 0x01
	KeyCtrlB          uint16 = 0x02
	KeyCtrlC          uint16 = 0x03
	KeyCtrlD          uint16 = 0x04
	KeyCtrlE          uint16 = 0x05
	KeyCtrlF          uint16 = 0x06
	KeyCtrlG          uint16 = 0x07
	KeyBackspace      uint16 = 0x08
	KeyTab            uint16 = 0x09
	KeyCtrlJ          uint16 = 0x0A
	KeyCtrlK          uint16 = 0x0B
	KeyCtrlL          uint16 = 0x0C
	KeyEnter          uint16 = 0x0D
	KeyCtrlN          uint16 = 0x0E
	KeyCtrlO          uint16 = 0x0F
	KeyCtrlP          uint16 = 0x10
	KeyCtrlQ          uint16 = 0x11
	KeyCtrlR          uint16 = 0x12
	KeyCtrlS          uint16 = 0x13
	KeyCtrlT          uint16 = 0x14
	KeyCtrlU          uint16 = 0x15
	KeyCtrlV          uint16 = 0x16
	KeyCtrlW          uint16 = 0x17
	KeyCtrlX          uint16 = 0x18
	KeyCtrlY          uint16 = 0x19
	KeyCtrlZ          uint16 = 0x1A
	KeyEsc            uint16 = 0x1B
	KeyCtrlBackslash  uint16 = 0x1C
	KeyCtrlRsqBracket uint16 = 0x1D
	KeyCtrl6          uint16 = 0x1E
	KeyCtrlSlash      uint16 = 0x1F
	KeySpace          uint16 = 0x20
	KeyBackspace2     uint16 = 0x7F
)

// Input modes. Esc and Alt are exclusive; Mouse may be or'ed with either.
const (
	InputCurrent int32 = 0
	InputEsc     int32 = 1
	InputAlt     int32 = 2
	InputMouse   int32 = 4
)

// Output modes.
const (
	OutputCurrent int32 = iota
	OutputNormal
	Output256
	Output216
	OutputGrayscale
)

// Colors for the low byte of an attribute in OutputNormal.
const (
	ColorDefault uint16 = iota
	ColorBlack
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorMagenta
	ColorCyan
	ColorWhite
)

// Attribute bits, or'ed with a color.
const (
	AttrBold      uint16 = 0x0100
	AttrUnderline uint16 = 0x0200
	AttrReverse   uint16 = 0x0400
)

// InputEvent describes one terminal input occurrence.
// Width and Height are only meaningful for EventResize, X and Y only for
// EventMouse.
type InputEvent struct {
	Kind   EventKind
	Mod    uint8
	Key    uint16
	Ch     uint32
	Width  int32
	Height int32
	X      int32
	Y      int32
}

// OutcomeKind distinguishes the three poll results.
type OutcomeKind int

const (
	OutcomeNoEvent OutcomeKind = iota
	OutcomeEvent
	OutcomeError
)

// PollOutcome is the result of one PollEvent call.
type PollOutcome struct {
	Kind  OutcomeKind
	Event InputEvent
	Err   error
}

// NoEvent reports a poll that timed out.
func NoEvent() PollOutcome {
	return PollOutcome{Kind: OutcomeNoEvent}
}

// Event reports a received event.
func Event(ev InputEvent) PollOutcome {
	return PollOutcome{Kind: OutcomeEvent, Event: ev}
}

// Error reports a failed poll. The poller treats it as terminal.
func Error(err error) PollOutcome {
	return PollOutcome{Kind: OutcomeError, Err: err}
}
