package reactor

import (
	"twinsong/internal/kernel"
	"twinsong/internal/notebook"
	"twinsong/internal/protocol"
	"twinsong/internal/scopes"
)

// KernelCrashed implements kernel.Callbacks. It transitions the run to
// Crashed, zeroes its queue depth (nothing further will ever complete
// it), and fans the transition out to the notebook's observer.
func (s *AppState) KernelCrashed(ctx kernel.Context, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nb, run, ok := s.findRunByContext(ctx)
	if !ok {
		return
	}
	run.KernelState = notebook.KernelStateCrashed{Message: message}
	run.QueueDepth = 0
	s.emit(nb, kernelCrashedMsg{Type: "kernel_crashed", NotebookID: ctx.NotebookID, RunID: ctx.RunID, Message: message})
	s.audit.Crashed(ctx.KernelID, ctx.NotebookID, ctx.RunID, message)
}

// KernelReady implements kernel.Callbacks. It transitions the run from
// Init to Running and fans that out.
func (s *AppState) KernelReady(ctx kernel.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nb, run, ok := s.findRunByContext(ctx)
	if !ok {
		return
	}
	run.KernelState = notebook.KernelStateRunning{KernelID: ctx.KernelID}
	s.emit(nb, kernelReadyMsg{Type: "kernel_ready", NotebookID: ctx.NotebookID, RunID: ctx.RunID})
	s.audit.Ready(ctx.KernelID, ctx.NotebookID, ctx.RunID)
}

// FromKernel implements kernel.Callbacks, dispatching on the concrete
// message type a kernel sent after Login.
func (s *AppState) FromKernel(ctx kernel.Context, msg protocol.FromKernelMessage) {
	switch m := msg.(type) {
	case protocol.Output:
		s.handleOutput(ctx, m)
	case protocol.SaveStateReply:
		s.handleSaveStateReply(ctx, m)
	case protocol.LoadStateReply:
		s.handleLoadStateReply(ctx, m)
	case protocol.Login:
		// A second Login after handshake is rejected by the supervisor
		// before it ever reaches here; nothing to do.
	}
}

func (s *AppState) handleOutput(ctx kernel.Context, m protocol.Output) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nb, run, ok := s.findRunByContext(ctx)
	if !ok {
		return
	}

	if m.Flag.Terminal() && run.QueueDepth > 0 {
		run.QueueDepth--
	}

	var update *scopes.Update
	if m.Update != nil {
		update = kernel.FromWireUpdate(m.Update)
		if err := notebook.UpdateGlobals(run, update); err != nil {
			s.emitError(nb, err.Error())
			return
		}
	}

	value := notebook.TranslateOutputValue(m.Value)
	if err := notebook.AddOutput(run, m.CellID, value, m.Flag); err != nil {
		// An unmatched cell_id can only mean a kernel bug (every Output
		// message replies to a cell this reactor itself created); surface
		// it rather than silently dropping the value.
		s.emitError(nb, err.Error())
		return
	}

	s.emit(nb, outputMsg{
		Type:        "output",
		NotebookID:  ctx.NotebookID,
		RunID:       ctx.RunID,
		CellID:      m.CellID,
		Value:       value,
		Flag:        m.Flag.String(),
		Update:      update,
		KernelState: run.KernelStateDesc(),
	})
}

func (s *AppState) handleSaveStateReply(ctx kernel.Context, m protocol.SaveStateReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nb, ok := s.findNotebook(ctx.NotebookID)
	if !ok {
		return
	}
	if m.Error != "" {
		s.emitError(nb, m.Error)
	}
}

func (s *AppState) handleLoadStateReply(ctx kernel.Context, m protocol.LoadStateReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nb, run, ok := s.findRunByContext(ctx)
	if !ok {
		return
	}
	if m.Error != "" {
		s.emitError(nb, m.Error)
		return
	}
	if m.Globals != nil {
		run.Globals = kernel.FromWireGlobals(m.Globals)
	}
}

func (s *AppState) findRunByContext(ctx kernel.Context) (*notebook.Notebook, *notebook.Run, bool) {
	nb, ok := s.findNotebook(ctx.NotebookID)
	if !ok {
		return nil, nil, false
	}
	run, err := nb.FindRunByID(ctx.RunID)
	if err != nil {
		return nil, nil, false
	}
	return nb, run, true
}
