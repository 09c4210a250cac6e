package kernel

import (
	"sync"

	"twinsong/internal/protocol"
)

// mailbox is an unbounded single-producer/single-consumer queue of
// outbound messages. Send never blocks and never fails observably to the
// caller, matching the Handle.send_message contract: the supervisor
// independently surfaces a crash when the receiving end is gone.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []protocol.ToKernelMessage
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// send appends msg to the queue and wakes a blocked Recv, if any.
func (m *mailbox) send(msg protocol.ToKernelMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.queue = append(m.queue, msg)
	m.cond.Signal()
}

// recv blocks until a message is available or the mailbox is closed, in
// which case ok is false.
func (m *mailbox) recv() (protocol.ToKernelMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.queue) == 0 && !m.closed {
		m.cond.Wait()
	}
	if len(m.queue) == 0 {
		return nil, false
	}
	msg := m.queue[0]
	m.queue = m.queue[1:]
	return msg, true
}

// close wakes any blocked Recv with ok == false. Further sends are
// silently dropped.
func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
}
