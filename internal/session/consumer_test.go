package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/termbridge/internal/surface"
)

func TestNewMessage(t *testing.T) {
	msg := NewMessage(surface.InputEvent{
		Kind:   surface.EventMouse,
		Mod:    surface.ModMotion,
		Key:    surface.MouseLeft,
		Width:  0,
		Height: 0,
		X:      12,
		Y:      7,
	})

	assert.Equal(t, uint8(3), msg.Kind)
	assert.Equal(t, surface.EventMouse, msg.EventKind())
	assert.Equal(t, surface.ModMotion, msg.Mod)
	assert.Equal(t, surface.MouseLeft, msg.Key)
	assert.Equal(t, [2]int32{12, 7}, msg.Position)
	assert.Equal(t, [2]int32{0, 0}, msg.Size)

	resize := NewMessage(surface.InputEvent{Kind: surface.EventResize, Width: 100, Height: 30})
	assert.Equal(t, [2]int32{100, 30}, resize.Size)
}

func TestMailboxFIFO(t *testing.T) {
	m := NewMailbox()
	for i := 0; i < 10; i++ {
		require.NoError(t, m.Deliver(Message{Ch: uint32('a' + i)}))
	}
	assert.Equal(t, 10, m.Len())

	for i := 0; i < 10; i++ {
		msg, ok := m.TryReceive()
		require.True(t, ok)
		assert.Equal(t, uint32('a'+i), msg.Ch)
	}

	_, ok := m.TryReceive()
	assert.False(t, ok)
}

func TestMailboxReceiveWaits(t *testing.T) {
	m := NewMailbox()

	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Deliver(Message{Ch: 'z'})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, err := m.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32('z'), msg.Ch)
}

func TestMailboxReceiveContext(t *testing.T) {
	m := NewMailbox()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMailboxClose(t *testing.T) {
	m := NewMailbox()
	require.NoError(t, m.Deliver(Message{Ch: 'a'}))
	m.Close()

	assert.ErrorIs(t, m.Deliver(Message{Ch: 'b'}), ErrConsumerClosed)

	msg, err := m.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32('a'), msg.Ch)

	_, err = m.Receive(context.Background())
	assert.ErrorIs(t, err, ErrConsumerClosed)
}

func TestMailboxPollingStopped(t *testing.T) {
	m := NewMailbox()

	select {
	case <-m.Stopped():
		t.Fatal("Stopped closed before PollingStopped")
	default:
	}

	boom := errors.New("tty gone")
	m.PollingStopped("tok", &PollError{Token: "tok", Err: boom})

	select {
	case <-m.Stopped():
	default:
		t.Fatal("Stopped not closed")
	}
	assert.ErrorIs(t, m.StopReason(), boom)

	// A second notification does not panic on the closed channel.
	m.PollingStopped("tok", nil)
	assert.NoError(t, m.StopReason())
}

func TestChanConsumer(t *testing.T) {
	ch := make(ChanConsumer, 1)
	require.NoError(t, ch.Deliver(Message{Ch: 'a'}))
	assert.ErrorIs(t, ch.Deliver(Message{Ch: 'b'}), ErrConsumerFull)
	assert.Equal(t, uint32('a'), (<-ch).Ch)
}

func TestConsumerFunc(t *testing.T) {
	var got []Message
	c := ConsumerFunc(func(msg Message) error {
		got = append(got, msg)
		return nil
	})
	require.NoError(t, c.Deliver(Message{Key: surface.KeyEnter}))
	require.Len(t, got, 1)
	assert.Equal(t, surface.KeyEnter, got[0].Key)
}
