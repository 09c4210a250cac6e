package reactor

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"twinsong/internal/apperr"
	"twinsong/internal/kernel"
	"twinsong/internal/notebook"
	"twinsong/internal/protocol"
	"twinsong/internal/storage"
)

// NewNotebook mints a NotebookID, constructs a Notebook with the default
// editor tree, attaches observer, emits new_notebook, and persists the
// fresh notebook to disk asynchronously.
func (s *AppState) NewNotebook(filename string, observer notebook.Observer) notebook.NotebookID {
	s.mu.Lock()
	id := s.mintNotebookID()
	path := filepath.Join(s.rootDir, filename)
	nb := notebook.New(id, path)
	nb.SetObserver(observer)
	s.notebooks[id] = nb
	s.emit(nb, newNewNotebookMsg(nb))
	snapshot := nb.Snapshot()
	s.mu.Unlock()

	go func() {
		if err := storage.Save(snapshot, path); err != nil {
			s.log.Error().Err(err).Str("path", path).Msg("failed to persist fresh notebook")
		}
	}()

	return id
}

// StartKernel mints a KernelID, creates a Run in Init state, adds it to
// the notebook, and spawns the child. On spawn failure the Run
// transitions straight to Crashed and kernel_crashed is fanned out.
func (s *AppState) StartKernel(notebookID notebook.NotebookID, title string) (notebook.RunID, error) {
	s.mu.Lock()

	nb, ok := s.findNotebook(notebookID)
	if !ok {
		s.mu.Unlock()
		return uuid.UUID{}, notebookNotFound(notebookID)
	}

	kernelID := uuid.New()
	runID := uuid.New()
	run := notebook.NewRun(runID, title, kernelID)
	nb.AddRun(run)

	kctx := kernel.Context{KernelID: kernelID, NotebookID: notebookID, RunID: runID}
	s.mu.Unlock()

	_, err := s.supervisor.Spawn(kctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		run.KernelState = notebook.KernelStateCrashed{Message: err.Error()}
		run.QueueDepth = 0
		s.emit(nb, kernelCrashedMsg{Type: "kernel_crashed", NotebookID: notebookID, RunID: runID, Message: err.Error()})
		return runID, nil
	}
	s.audit.Spawned(kernelID, notebookID, runID)
	return runID, nil
}

// RunCode appends a new Running OutputCell, increments the run's queue
// depth, and — if the run has a live kernel — dispatches Compute to its
// handle.
func (s *AppState) RunCode(notebookID notebook.NotebookID, runID notebook.RunID, cellOutputID uuid.UUID, editorCellID notebook.EditorID, snapshot notebook.EditorNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nb, ok := s.findNotebook(notebookID)
	if !ok {
		return notebookNotFound(notebookID)
	}
	run, err := nb.FindRunByID(runID)
	if err != nil {
		s.emitError(nb, err.Error())
		return err
	}

	notebook.NewOutputCell(run, cellOutputID, editorCellID, snapshot)
	run.QueueDepth++

	kernelID, live := run.LiveKernelID()
	if !live {
		return nil
	}
	handle, ok := s.supervisorHandle(kernelID)
	if !ok {
		return nil
	}
	handle.SendMessage(protocol.Compute{CellID: cellOutputID, Code: notebook.ToCodeNode(snapshot)})
	return nil
}

// SaveNotebook replaces the notebook's editor tree and persists it,
// emitting save_completed on success or failure.
func (s *AppState) SaveNotebook(notebookID notebook.NotebookID, editorRoot *notebook.EditorGroup) {
	s.mu.Lock()
	nb, ok := s.findNotebook(notebookID)
	if !ok {
		s.mu.Unlock()
		return
	}
	nb.EditorRoot = editorRoot
	path := nb.Path
	snapshot := nb.Snapshot()
	s.mu.Unlock()

	err := storage.Save(snapshot, path)

	s.mu.Lock()
	defer s.mu.Unlock()
	nb2, ok := s.findNotebook(notebookID)
	if !ok {
		return
	}
	msg := saveCompletedMsg{Type: "save_completed", NotebookID: notebookID}
	if err != nil {
		msg.Error = err.Error()
	}
	s.emit(nb2, msg)
}

// LoadNotebook attaches observer to an already-loaded notebook at path,
// or loads it from disk, mints a NotebookID, attaches, and emits
// new_notebook.
func (s *AppState) LoadNotebook(path string, observer notebook.Observer) {
	s.mu.Lock()
	if nb, ok := s.findNotebookByPath(path); ok {
		nb.SetObserver(observer)
		s.emit(nb, newNewNotebookMsg(nb))
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	loaded, err := storage.Load(path)
	if err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("failed to load notebook")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if nb, ok := s.findNotebookByPath(path); ok {
		nb.SetObserver(observer)
		s.emit(nb, newNewNotebookMsg(nb))
		return
	}

	id := s.mintNotebookID()
	loaded.ID = id
	loaded.SetObserver(observer)
	s.notebooks[id] = loaded
	s.emit(loaded, newNewNotebookMsg(loaded))
}

// QueryDir enumerates the server's root directory and sends a dir_list
// directly to observer, bypassing any notebook (observer need not be
// attached to one yet).
func (s *AppState) QueryDir(observer notebook.Observer) {
	s.mu.Lock()
	loadedPaths := make(map[string]bool, len(s.notebooks))
	for _, nb := range s.notebooks {
		loadedPaths[nb.Path] = true
	}
	root := s.rootDir
	s.mu.Unlock()
	isLoaded := func(path string) bool { return loadedPaths[path] }

	entries, err := storage.QueryDir(root, isLoaded)
	if err != nil {
		s.sendDirect(observer, errorMsg{Type: "error", Message: err.Error()})
		return
	}
	s.sendDirect(observer, dirListMsg{Type: "dir_list", Entries: entries})
}

// CloseRun removes the run from its notebook and, if it referenced a
// live kernel, stops that kernel.
func (s *AppState) CloseRun(notebookID notebook.NotebookID, runID notebook.RunID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nb, ok := s.findNotebook(notebookID)
	if !ok {
		return notebookNotFound(notebookID)
	}
	run, err := nb.RemoveRunByID(runID)
	if err != nil {
		return err
	}
	if kernelID, live := run.LiveKernelID(); live {
		s.supervisor.Stop(kernelID)
		s.audit.Stopped(kernelID, notebookID, runID)
	}
	return nil
}

// KernelList sends a snapshot of every live kernel's (kernel_id,
// notebook_id, run_id, pid) directly to observer.
func (s *AppState) KernelList(observer notebook.Observer) {
	s.mu.Lock()
	handles := s.supervisor.Snapshot()
	s.mu.Unlock()

	kernels := make([]kernelInfo, 0, len(handles))
	for _, h := range handles {
		ctx := h.Context()
		kernels = append(kernels, kernelInfo{KernelID: ctx.KernelID, NotebookID: ctx.NotebookID, RunID: ctx.RunID, Pid: h.Pid()})
	}
	s.sendDirect(observer, kernelListMsg{Type: "kernel_list", Kernels: kernels})
}

// SaveKernelState asks a run's live kernel to serialize its globals to
// path; the reply (save_state_reply) arrives asynchronously via
// FromKernel. A run with no live kernel is reported as an error rather
// than silently ignored, since there is no SaveStateReply to surface it
// otherwise.
func (s *AppState) SaveKernelState(notebookID notebook.NotebookID, runID notebook.RunID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nb, ok := s.findNotebook(notebookID)
	if !ok {
		return notebookNotFound(notebookID)
	}
	run, err := nb.FindRunByID(runID)
	if err != nil {
		return err
	}
	kernelID, live := run.LiveKernelID()
	if !live {
		return apperr.KernelNotInit(fmt.Sprintf("run %s has no live kernel", runID))
	}
	handle, ok := s.supervisorHandle(kernelID)
	if !ok {
		return apperr.KernelNotInit(fmt.Sprintf("run %s has no live kernel", runID))
	}
	handle.SendMessage(protocol.SaveState{Path: path})
	return nil
}

// LoadKernelState asks a run's live kernel to replace its globals with
// the snapshot at path; the reply (load_state_reply) arrives
// asynchronously via FromKernel and replaces run.Globals wholesale.
func (s *AppState) LoadKernelState(notebookID notebook.NotebookID, runID notebook.RunID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nb, ok := s.findNotebook(notebookID)
	if !ok {
		return notebookNotFound(notebookID)
	}
	run, err := nb.FindRunByID(runID)
	if err != nil {
		return err
	}
	kernelID, live := run.LiveKernelID()
	if !live {
		return apperr.KernelNotInit(fmt.Sprintf("run %s has no live kernel", runID))
	}
	handle, ok := s.supervisorHandle(kernelID)
	if !ok {
		return apperr.KernelNotInit(fmt.Sprintf("run %s has no live kernel", runID))
	}
	handle.SendMessage(protocol.LoadState{Path: path})
	return nil
}

func (s *AppState) supervisorHandle(kernelID uuid.UUID) (*kernel.Handle, bool) {
	for _, h := range s.supervisor.Snapshot() {
		if h.Context().KernelID == kernelID {
			return h, true
		}
	}
	return nil, false
}

// sendDirect marshals msg and hands it straight to observer, independent
// of any notebook — used by handlers whose observer may not be attached
// to a notebook yet (QueryDir, KernelList).
func (s *AppState) sendDirect(observer notebook.Observer, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal outbound message")
		return
	}
	observer.Send(data)
}

func notebookNotFound(id notebook.NotebookID) error {
	return apperr.NotFound(fmt.Sprintf("notebook %d not found", id))
}
