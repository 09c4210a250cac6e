package notebook

import (
	"time"

	"github.com/google/uuid"

	"twinsong/internal/scopes"
)

// RunID and KernelID are both 128-bit ids minted at creation time.
type RunID = uuid.UUID
type KernelID = uuid.UUID

// KernelState is the tagged sum describing a Run's relationship to its
// kernel. Transitions into Running are one-way (never back to Init); a
// transition into Crashed always forces QueueDepth to 0.
type KernelState interface{ isKernelState() }

// KernelStateInit is the state between spawning a kernel and it
// completing the Login handshake.
type KernelStateInit struct{ KernelID KernelID }

func (KernelStateInit) isKernelState() {}

// KernelStateRunning is the state once Login has completed; the run may
// still be idle (QueueDepth == 0) or actively computing.
type KernelStateRunning struct{ KernelID KernelID }

func (KernelStateRunning) isKernelState() {}

// KernelStateCrashed is terminal: the child exited or failed to spawn.
type KernelStateCrashed struct{ Message string }

func (KernelStateCrashed) isKernelState() {}

// KernelStateClosed is terminal: the run was closed while healthy (or
// never had a kernel).
type KernelStateClosed struct{}

func (KernelStateClosed) isKernelState() {}

// StateDesc is the client-visible projection of KernelState plus
// QueueDepth, computed by Run.KernelStateDesc.
type StateDesc struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

const (
	descInit    = "init"
	descRunning = "running"
	descReady   = "ready"
	descCrashed = "crashed"
	descClosed  = "closed"
)

// Run is one live or historical execution session against a kernel.
type Run struct {
	ID          RunID
	Title       string
	CreatedAt   time.Time
	Outputs     []*OutputCell
	KernelState KernelState
	QueueDepth  int
	Globals     *scopes.Globals
}

// NewRun constructs a fresh Run in Init state with empty outputs and
// globals, per reactor.StartKernel.
func NewRun(id RunID, title string, kernelID KernelID) *Run {
	return &Run{
		ID:          id,
		Title:       title,
		CreatedAt:   time.Now(),
		Outputs:     nil,
		KernelState: KernelStateInit{KernelID: kernelID},
		QueueDepth:  0,
		Globals:     scopes.NewGlobals("root"),
	}
}

// LiveKernelID returns the KernelID this run currently references and
// whether the run has a live (Init or Running) kernel at all.
func (r *Run) LiveKernelID() (KernelID, bool) {
	switch s := r.KernelState.(type) {
	case KernelStateInit:
		return s.KernelID, true
	case KernelStateRunning:
		return s.KernelID, true
	default:
		return KernelID{}, false
	}
}

// KernelStateDesc projects the internal KernelState and QueueDepth to the
// client-visible enum described in the reactor design: Init while
// initializing, Running while Running with outstanding work, Ready while
// Running and idle, Crashed{message}, or Closed.
func (r *Run) KernelStateDesc() StateDesc {
	switch s := r.KernelState.(type) {
	case KernelStateInit:
		return StateDesc{State: descInit}
	case KernelStateRunning:
		if r.QueueDepth == 0 {
			return StateDesc{State: descReady}
		}
		return StateDesc{State: descRunning}
	case KernelStateCrashed:
		return StateDesc{State: descCrashed, Message: s.Message}
	case KernelStateClosed:
		return StateDesc{State: descClosed}
	default:
		return StateDesc{State: descClosed}
	}
}
