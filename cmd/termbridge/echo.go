package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/termbridge/internal/session"
	"github.com/dshills/termbridge/internal/surface"
)

// Drawer is the subset of the controller the echo screen draws with.
type Drawer interface {
	Width() (int, error)
	Height() (int, error)
	Clear() error
	SetClearAttributes(fg, bg uint16) error
	ChangeCell(x, y, ch int32, fg, bg uint16) error
	SetCursor(x, y int32) error
	Present() error
}

// echo polls events into a mailbox and redraws the most recent ones until
// the user quits, polling fails or ctx ends.
func echo(ctx context.Context, ctrl *session.Controller) error {
	if _, err := ctrl.SelectInputMode(surface.InputEsc | surface.InputMouse); err != nil {
		return err
	}
	if err := ctrl.SetClearAttributes(surface.ColorDefault, surface.ColorDefault); err != nil {
		return err
	}

	box := session.NewMailbox()
	if _, err := ctrl.StartPolling(box); err != nil {
		return err
	}

	// Wake Receive when the poller ends on its own.
	recvCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-box.Stopped():
			cancel()
		case <-recvCtx.Done():
		}
	}()

	var history []session.Message
	if err := draw(ctrl, history); err != nil {
		return err
	}

	for {
		msg, err := box.Receive(recvCtx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			return err
		}
		if isQuit(msg) {
			break
		}

		h, err := ctrl.Height()
		if err != nil {
			return err
		}
		history = recent(append(history, msg), h-headerRows)
		if err := draw(ctrl, history); err != nil {
			return err
		}
	}

	if err := ctrl.StopPolling(); err != nil && !errors.Is(err, session.ErrNotPolling) {
		return err
	}
	return ctrl.LastPollError()
}

func isQuit(msg session.Message) bool {
	if msg.EventKind() != surface.EventKey {
		return false
	}
	return msg.Ch == 'q' || msg.Key == surface.KeyCtrlC
}

// draw renders a header and the most recent messages that fit.
func draw(d Drawer, history []session.Message) error {
	if err := d.Clear(); err != nil {
		return err
	}
	w, err := d.Width()
	if err != nil {
		return err
	}
	h, err := d.Height()
	if err != nil {
		return err
	}

	header := "termbridge: press keys, click or resize; q quits"
	if err := drawText(d, 0, 0, w, header, surface.ColorYellow|surface.AttrBold); err != nil {
		return err
	}

	for i, msg := range recent(history, h-headerRows) {
		if err := drawText(d, 0, int32(i+headerRows), w, formatMessage(msg), surface.ColorDefault); err != nil {
			return err
		}
	}

	if err := d.SetCursor(-1, -1); err != nil {
		return err
	}
	return d.Present()
}

// headerRows is the header line plus a blank separator.
const headerRows = 2

// recent returns at most the last n messages.
func recent(history []session.Message, n int) []session.Message {
	if n < 0 {
		n = 0
	}
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}

func drawText(d Drawer, x, y int32, width int, text string, fg uint16) error {
	for _, r := range text {
		if int(x) >= width {
			break
		}
		if err := d.ChangeCell(x, y, int32(r), fg, surface.ColorDefault); err != nil {
			return err
		}
		x++
	}
	return nil
}

func formatMessage(m session.Message) string {
	return fmt.Sprintf("%-6s mod=%d key=%#06x ch=%q size=%dx%d pos=(%d,%d)",
		m.EventKind(), m.Mod, m.Key, rune(m.Ch), m.Size[0], m.Size[1], m.Position[0], m.Position[1])
}
