package kernel

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinsong/internal/protocol"
)

type recordingCallbacks struct {
	mu      sync.Mutex
	ready   []Context
	crashed []string
	fromK   []protocol.FromKernelMessage

	readyCh chan struct{}
}

func newRecordingCallbacks() *recordingCallbacks {
	return &recordingCallbacks{readyCh: make(chan struct{}, 8)}
}

func (r *recordingCallbacks) KernelReady(ctx Context) {
	r.mu.Lock()
	r.ready = append(r.ready, ctx)
	r.mu.Unlock()
	r.readyCh <- struct{}{}
}

func (r *recordingCallbacks) KernelCrashed(ctx Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crashed = append(r.crashed, message)
}

func (r *recordingCallbacks) FromKernel(ctx Context, msg protocol.FromKernelMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fromK = append(r.fromK, msg)
}

func newTestSupervisor(t *testing.T) (*Supervisor, *recordingCallbacks) {
	t.Helper()
	cb := newRecordingCallbacks()
	sup, err := NewSupervisor(cb, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sup.Close() })
	return sup, cb
}

// registerInitHandle simulates what Spawn does, minus actually starting
// a child process, so the listener-loop handshake can be exercised
// without a real interpreter on PATH.
func registerInitHandle(sup *Supervisor, ctx Context) *Handle {
	h := newHandle(ctx, 0)
	sup.mu.Lock()
	sup.handles[ctx.KernelID] = h
	sup.mu.Unlock()
	return h
}

func TestListenerLoopCompletesLoginHandshake(t *testing.T) {
	sup, cb := newTestSupervisor(t)
	kernelID := uuid.New()
	ctx := Context{KernelID: kernelID, NotebookID: 1, RunID: uuid.New()}
	handle := registerInitHandle(sup, ctx)

	conn, err := net.Dial("tcp", sup.listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, protocol.WriteFromKernel(conn, protocol.Login{KernelID: kernelID}))

	select {
	case <-cb.readyCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for KernelReady callback")
	}

	assert.False(t, handle.IsInit())
}

func TestListenerLoopPreservesPendingMessageOrder(t *testing.T) {
	sup, cb := newTestSupervisor(t)
	kernelID := uuid.New()
	ctx := Context{KernelID: kernelID, NotebookID: 1, RunID: uuid.New()}
	handle := registerInitHandle(sup, ctx)

	firstCell := uuid.New()
	secondCell := uuid.New()
	handle.SendMessage(protocol.Compute{CellID: firstCell})
	handle.SendMessage(protocol.Compute{CellID: secondCell})

	conn, err := net.Dial("tcp", sup.listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, protocol.WriteFromKernel(conn, protocol.Login{KernelID: kernelID}))

	select {
	case <-cb.readyCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for KernelReady callback")
	}

	first, err := protocol.ReadToKernel(conn)
	require.NoError(t, err)
	assert.Equal(t, firstCell, first.(protocol.Compute).CellID)

	second, err := protocol.ReadToKernel(conn)
	require.NoError(t, err)
	assert.Equal(t, secondCell, second.(protocol.Compute).CellID)
}

func TestListenerLoopRejectsLoginForUnknownKernel(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	conn, err := net.Dial("tcp", sup.listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, protocol.WriteFromKernel(conn, protocol.Login{KernelID: uuid.New()}))

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, err = conn.Read(buf)
	assert.Error(t, err, "server must close the connection without responding")
}
