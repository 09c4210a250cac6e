package kernel

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinsong/internal/protocol"
)

func TestHandlePreservesOrderAcrossInitToReadySeam(t *testing.T) {
	h := newHandle(Context{KernelID: uuid.New()}, 0)
	require.True(t, h.IsInit())

	c1 := protocol.Compute{CellID: uuid.New()}
	c2 := protocol.Compute{CellID: uuid.New()}
	h.SendMessage(c1)
	h.SendMessage(c2)

	mb := newMailbox()
	h.SetToReady(mb)
	require.False(t, h.IsInit())

	c3 := protocol.Compute{CellID: uuid.New()}
	h.SendMessage(c3)

	first, ok := mb.recv()
	require.True(t, ok)
	assert.Equal(t, c1, first)

	second, ok := mb.recv()
	require.True(t, ok)
	assert.Equal(t, c2, second)

	third, ok := mb.recv()
	require.True(t, ok)
	assert.Equal(t, c3, third)
}

func TestSetToReadyIsNoOpWhenAlreadyReady(t *testing.T) {
	h := newHandle(Context{KernelID: uuid.New()}, 0)
	firstMailbox := newMailbox()
	h.SetToReady(firstMailbox)

	secondMailbox := newMailbox()
	h.SetToReady(secondMailbox)

	msg := protocol.Compute{CellID: uuid.New()}
	h.SendMessage(msg)

	got, ok := firstMailbox.recv()
	require.True(t, ok)
	assert.Equal(t, msg, got)
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHandle(Context{KernelID: uuid.New()}, 0)
	assert.NotPanics(t, func() {
		h.Stop()
		h.Stop()
	})
	select {
	case <-h.cancelled():
	default:
		t.Fatal("cancelled channel should be closed after Stop")
	}
}
