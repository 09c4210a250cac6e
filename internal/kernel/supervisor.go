// Package kernel supervises the lifecycle of external code-execution
// worker processes: spawning them, listening for their inbound
// connection, binding that connection to a Handle, and reacting to
// unexpected exits.
package kernel

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"twinsong/internal/apperr"
	"twinsong/internal/protocol"
)

const (
	// pythonOverrideEnv lets operators pin an exact interpreter instead
	// of relying on PATH search.
	pythonOverrideEnv = "TWINSONG_PYTHON"
	kernelIDEnv       = "KERNEL_ID"
	kernelConnectEnv  = "KERNEL_CONNECT"
)

// Callbacks is the reactor-shaped seam the supervisor calls back into.
// Keeping this as an interface (rather than importing the reactor
// package directly) avoids a supervisor→reactor→kernel import cycle.
type Callbacks interface {
	// KernelCrashed fires when the child exits before normal teardown or
	// fails to spawn. message becomes the Run's Crashed(message).
	KernelCrashed(ctx Context, message string)
	// KernelReady fires once a kernel completes its Login handshake.
	KernelReady(ctx Context)
	// FromKernel fires for every message decoded from a kernel's socket
	// after the initial Login.
	FromKernel(ctx Context, msg protocol.FromKernelMessage)
}

// Supervisor owns the TCP listener kernels dial back into and the
// registry of live Handles.
type Supervisor struct {
	mu        sync.Mutex
	handles   map[uuid.UUID]*Handle
	listener  net.Listener
	port      int
	callbacks Callbacks
	workerArg []string
	log       zerolog.Logger
}

// NewSupervisor binds a TCP listener on 127.0.0.1:0 and starts accepting
// connections in the background. workerArgs are appended after the
// resolved interpreter path when spawning a kernel (e.g. ["-m",
// "twinsong_worker"]).
func NewSupervisor(callbacks Callbacks, workerArgs []string, log zerolog.Logger) (*Supervisor, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to bind kernel listener: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	s := &Supervisor{
		handles:   map[uuid.UUID]*Handle{},
		listener:  listener,
		port:      port,
		callbacks: callbacks,
		workerArg: workerArgs,
		log:       log.With().Str("component", "kernel_supervisor").Logger(),
	}
	go s.acceptLoop()
	return s, nil
}

// Port returns the ephemeral port kernels must dial back into.
func (s *Supervisor) Port() int { return s.port }

// Close stops accepting new kernel connections.
func (s *Supervisor) Close() error { return s.listener.Close() }

// resolveInterpreter finds the worker interpreter: TWINSONG_PYTHON
// override, else a PATH search for python3 then python.
func resolveInterpreter() (string, error) {
	if override := os.Getenv(pythonOverrideEnv); override != "" {
		return override, nil
	}
	if path, err := exec.LookPath("python3"); err == nil {
		return path, nil
	}
	if path, err := exec.LookPath("python"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("no python interpreter found on PATH; set %s to override", pythonOverrideEnv)
}

// Spawn launches a child worker process for ctx and registers its
// Handle. The child receives KERNEL_ID and KERNEL_CONNECT in its
// environment and has its stdout/stderr redirected to files in the OS
// temp directory. The handle carries a kill-on-cancel discipline: a
// background task races the child's exit against Handle.Stop(), killing
// the process if cancellation wins.
func (s *Supervisor) Spawn(ctx Context) (*Handle, error) {
	interpreter, err := resolveInterpreter()
	if err != nil {
		return nil, apperr.SpawnFailure("could not resolve worker interpreter", err)
	}

	stdout, stderr, err := s.openLogFiles(ctx.KernelID)
	if err != nil {
		return nil, apperr.SpawnFailure("could not open kernel log files", err)
	}

	cmd := exec.Command(interpreter, s.workerArg...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", kernelIDEnv, ctx.KernelID.String()),
		fmt.Sprintf("%s=127.0.0.1:%d", kernelConnectEnv, s.port),
	)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, apperr.SpawnFailure("failed to start kernel process", err)
	}

	handle := newHandle(ctx, cmd.Process.Pid)

	s.mu.Lock()
	s.handles[ctx.KernelID] = handle
	s.mu.Unlock()

	go s.watch(handle, cmd, stdout, stderr)

	return handle, nil
}

// watch races the child's exit against the handle's cancellation, and in
// either case removes the handle from the registry once the race
// resolves.
func (s *Supervisor) watch(handle *Handle, cmd *exec.Cmd, stdout, stderr *os.File) {
	defer stdout.Close()
	defer stderr.Close()

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	select {
	case <-handle.cancelled():
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-waitDone
		s.removeHandle(handle.Context().KernelID)
	case <-waitDone:
		s.removeHandle(handle.Context().KernelID)
		s.callbacks.KernelCrashed(handle.Context(), "Process unexpectedly closed")
	}
}

func (s *Supervisor) removeHandle(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, id)
}

func (s *Supervisor) lookupHandle(id uuid.UUID) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	return h, ok
}

// Stop signals the kernel identified by id to stop, if it is still
// registered.
func (s *Supervisor) Stop(id uuid.UUID) {
	if h, ok := s.lookupHandle(id); ok {
		h.Stop()
	}
}

// Snapshot returns every currently live handle, for kernel_list.
func (s *Supervisor) Snapshot() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}

func (s *Supervisor) openLogFiles(kernelID uuid.UUID) (stdout, stderr *os.File, err error) {
	dir := filepath.Join(os.TempDir(), "twinsong-kernels")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, err
	}
	stdout, err = os.Create(filepath.Join(dir, kernelID.String()+".stdout.log"))
	if err != nil {
		return nil, nil, err
	}
	stderr, err = os.Create(filepath.Join(dir, kernelID.String()+".stderr.log"))
	if err != nil {
		stdout.Close()
		return nil, nil, err
	}
	return stdout, stderr, nil
}

// acceptLoop accepts inbound kernel connections until the listener is
// closed.
func (s *Supervisor) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConnection(conn)
	}
}

// handleConnection implements the listener-loop contract from the
// kernel-supervisor design: the first frame must be Login, it must name
// a Handle currently in Init, and from then on a forwarder task (mailbox
// → socket) and a receiver task (socket → reactor) run concurrently,
// whichever fails first tearing down the other.
func (s *Supervisor) handleConnection(conn net.Conn) {
	defer conn.Close()

	first, err := protocol.ReadFromKernel(conn)
	if err != nil {
		s.log.Warn().Err(err).Msg("kernel connection failed before login")
		return
	}
	login, ok := first.(protocol.Login)
	if !ok {
		s.log.Warn().Msg("kernel connection sent a non-Login first frame; closing")
		return
	}

	handle, ok := s.lookupHandle(login.KernelID)
	if !ok || !handle.IsInit() {
		s.log.Warn().Str("kernel_id", login.KernelID.String()).Msg("login for unknown or non-init kernel; closing")
		return
	}

	mb := newMailbox()
	handle.SetToReady(mb)
	s.callbacks.KernelReady(handle.Context())

	// Forwarder: pull from mailbox, frame-encode, write to socket. It
	// runs until the mailbox is closed below or the socket write fails.
	go func() {
		for {
			msg, ok := mb.recv()
			if !ok {
				return
			}
			if err := protocol.WriteToKernel(conn, msg); err != nil {
				conn.Close()
				return
			}
		}
	}()

	// Receiver: read frames, decode, route to the reactor. Runs inline so
	// handleConnection blocks on whichever of forwarder/receiver fails
	// first — a forwarder write failure closes conn, which ends the read
	// below, and a read error here closes the mailbox, which ends the
	// forwarder.
	for {
		msg, err := protocol.ReadFromKernel(conn)
		if err != nil {
			if apperr.Of(err, apperr.KindCodec) {
				s.log.Warn().Err(err).Str("kernel_id", login.KernelID.String()).Msg("malformed frame from kernel; closing")
				handle.Stop()
				s.callbacks.KernelCrashed(handle.Context(), err.Error())
			}
			break
		}
		if _, ok := msg.(protocol.Login); ok {
			s.log.Warn().Str("kernel_id", login.KernelID.String()).Msg("login after handshake; closing")
			break
		}
		s.callbacks.FromKernel(handle.Context(), msg)
	}

	mb.close()
	s.removeHandle(login.KernelID)
}
