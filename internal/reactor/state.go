// Package reactor is the central synchronous dispatcher: a set of
// handlers, invoked under a single process-wide mutex over AppState,
// that translate client requests and kernel messages into model
// mutations and outbound observer messages.
package reactor

import (
	"sync"

	"github.com/rs/zerolog"

	"twinsong/internal/audit"
	"twinsong/internal/kernel"
	"twinsong/internal/notebook"
)

// AppState owns every Notebook and, via its kernel.Supervisor, every
// live KernelHandle. A Run stores only a KernelID; any lookup for the
// handle itself goes through the supervisor, never through a
// Run-to-Handle back-reference.
type AppState struct {
	mu sync.Mutex

	notebooks      map[notebook.NotebookID]*notebook.Notebook
	nextNotebookID notebook.NotebookID

	supervisor *kernel.Supervisor
	rootDir    string
	audit      *audit.Log
	log        zerolog.Logger
}

// New constructs an AppState with no notebooks loaded. AttachSupervisor
// must be called once before any kernel is started — it is separate
// from New because the supervisor's callbacks are the AppState itself.
func New(rootDir string, auditLog *audit.Log, log zerolog.Logger) *AppState {
	return &AppState{
		notebooks: map[notebook.NotebookID]*notebook.Notebook{},
		rootDir:   rootDir,
		audit:     auditLog,
		log:       log.With().Str("component", "reactor").Logger(),
	}
}

// AttachSupervisor wires the kernel supervisor this AppState dispatches
// through. Exists to break the AppState<->Supervisor construction cycle:
// the supervisor needs AppState as its Callbacks, and AppState needs a
// supervisor to spawn kernels.
func (s *AppState) AttachSupervisor(sup *kernel.Supervisor) {
	s.supervisor = sup
}

// KernelPort returns the TCP port kernels must dial back into.
func (s *AppState) KernelPort() int {
	return s.supervisor.Port()
}

func (s *AppState) findNotebook(id notebook.NotebookID) (*notebook.Notebook, bool) {
	nb, ok := s.notebooks[id]
	return nb, ok
}

func (s *AppState) findNotebookByPath(path string) (*notebook.Notebook, bool) {
	for _, nb := range s.notebooks {
		if nb.Path == path {
			return nb, true
		}
	}
	return nil, false
}

func (s *AppState) mintNotebookID() notebook.NotebookID {
	s.nextNotebookID++
	return s.nextNotebookID
}
