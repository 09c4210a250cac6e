package kernel

import (
	"sync"

	"github.com/google/uuid"

	"twinsong/internal/protocol"
)

// Context identifies the kernel, notebook, and run a Handle belongs to.
// It is threaded through every supervisor/reactor callback so handlers
// never need a separate lookup to know which Run a kernel message is
// for.
type Context struct {
	KernelID   uuid.UUID
	NotebookID uint32
	RunID      uuid.UUID
}

// mailboxState is the tagged sum backing Handle: Init while buffering
// messages sent before the kernel has connected, Ready once the mailbox
// to an active connection exists. Modeling this as a sum rather than a
// nullable sender makes draining-on-transition explicit and prevents a
// message from being dropped at the Init/Ready seam.
type mailboxState interface{ isMailboxState() }

type initState struct {
	pending []protocol.ToKernelMessage
}

func (initState) isMailboxState() {}

type readyState struct {
	mailbox *mailbox
}

func (readyState) isMailboxState() {}

// Handle is a per-kernel mailbox with Init/Ready states and
// pending-message buffering. AppState owns all Handles; a Run stores
// only the KernelID, never the Handle itself.
type Handle struct {
	mu     sync.Mutex
	ctx    Context
	state  mailboxState
	cancel chan struct{}
	once   sync.Once
	pid    int
}

// newHandle constructs a Handle in Init state with an empty pending
// queue, as returned by Supervisor.Spawn.
func newHandle(ctx Context, pid int) *Handle {
	return &Handle{
		ctx:    ctx,
		state:  initState{},
		cancel: make(chan struct{}),
		pid:    pid,
	}
}

// Context returns the (kernel, notebook, run) triple this handle was
// created for.
func (h *Handle) Context() Context { return h.ctx }

// Pid returns the spawned child's process id, used by kernel_list.
func (h *Handle) Pid() int { return h.pid }

// IsInit reports whether the handle has not yet completed its Login
// handshake.
func (h *Handle) IsInit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.state.(initState)
	return ok
}

// SendMessage enqueues m for delivery to the kernel. It never blocks and
// never fails observably: if the handle is Init, m is appended to the
// pending queue; if Ready, m is forwarded to the live mailbox. The order
// messages are observed by the kernel always matches call order on this
// method, regardless of when SetToReady runs relative to these calls.
func (h *Handle) SendMessage(m protocol.ToKernelMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch s := h.state.(type) {
	case initState:
		s.pending = append(s.pending, m)
		h.state = s
	case readyState:
		s.mailbox.send(m)
	}
}

// SetToReady drains any pending messages into mb, in insertion order,
// then swaps the handle into Ready. Transitioning Ready back to Init is
// forbidden and SetToReady is a no-op if already Ready.
func (h *Handle) SetToReady(mb *mailbox) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.state.(initState)
	if !ok {
		return
	}
	for _, m := range s.pending {
		mb.send(m)
	}
	h.state = readyState{mailbox: mb}
}

// Stop signals cancellation exactly once; the supervisor's watcher task
// reacts by killing the child process if it hasn't already exited.
func (h *Handle) Stop() {
	h.once.Do(func() { close(h.cancel) })
}

// cancelled is the channel the supervisor watcher races against
// child.Wait().
func (h *Handle) cancelled() <-chan struct{} { return h.cancel }
