package reactor

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"twinsong/internal/notebook"
	"twinsong/internal/scopes"
	"twinsong/internal/storage"
)

// outputCellSnapshot and runSnapshot are the client-facing projections
// of notebook.OutputCell/notebook.Run sent whenever a notebook's full
// state is handed to an observer (new_notebook, load_notebook).
type outputCellSnapshot struct {
	ID         uuid.UUID              `json:"id"`
	Values     []notebook.OutputValue `json:"values"`
	Flag       string                 `json:"flag"`
	EditorNode notebook.EditorNode    `json:"editor_node"`
	CellID     uuid.UUID              `json:"cell_id"`
}

type runSnapshot struct {
	ID          uuid.UUID            `json:"id"`
	Title       string               `json:"title"`
	CreatedAt   time.Time            `json:"created_at"`
	KernelState notebook.StateDesc   `json:"kernel_state"`
	QueueDepth  int                  `json:"queue_depth"`
	Outputs     []outputCellSnapshot `json:"outputs"`
}

func snapshotRun(run *notebook.Run) runSnapshot {
	outputs := make([]outputCellSnapshot, 0, len(run.Outputs))
	for _, cell := range run.Outputs {
		outputs = append(outputs, outputCellSnapshot{
			ID:         cell.ID,
			Values:     cell.Values,
			Flag:       cell.Flag.String(),
			EditorNode: cell.EditorNode,
			CellID:     cell.CellID,
		})
	}
	return runSnapshot{
		ID:          run.ID,
		Title:       run.Title,
		CreatedAt:   run.CreatedAt,
		KernelState: run.KernelStateDesc(),
		QueueDepth:  run.QueueDepth,
		Outputs:     outputs,
	}
}

func snapshotRuns(nb *notebook.Notebook) []runSnapshot {
	runs := make([]runSnapshot, 0, len(nb.RunOrder))
	for _, id := range nb.RunOrder {
		runs = append(runs, snapshotRun(nb.Runs[id]))
	}
	return runs
}

type newNotebookMsg struct {
	Type            string              `json:"type"`
	NotebookID      notebook.NotebookID `json:"notebook_id"`
	Path            string              `json:"path"`
	EditorRoot      notebook.EditorNode `json:"editor_root"`
	EditorOpenNodes []notebook.EditorID `json:"editor_open_nodes"`
	Runs            []runSnapshot       `json:"runs"`
}

func newNewNotebookMsg(nb *notebook.Notebook) newNotebookMsg {
	return newNotebookMsg{
		Type:            "new_notebook",
		NotebookID:      nb.ID,
		Path:            nb.Path,
		EditorRoot:      nb.EditorRoot,
		EditorOpenNodes: nb.EditorOpenNodes,
		Runs:            snapshotRuns(nb),
	}
}

type kernelReadyMsg struct {
	Type       string              `json:"type"`
	NotebookID notebook.NotebookID `json:"notebook_id"`
	RunID      uuid.UUID           `json:"run_id"`
}

type kernelCrashedMsg struct {
	Type       string              `json:"type"`
	NotebookID notebook.NotebookID `json:"notebook_id"`
	RunID      uuid.UUID           `json:"run_id"`
	Message    string              `json:"message"`
}

type outputMsg struct {
	Type        string               `json:"type"`
	NotebookID  notebook.NotebookID  `json:"notebook_id"`
	RunID       uuid.UUID            `json:"run_id"`
	CellID      uuid.UUID            `json:"cell_id"`
	Value       notebook.OutputValue `json:"value"`
	Flag        string               `json:"flag"`
	Update      *scopes.Update       `json:"update,omitempty"`
	KernelState notebook.StateDesc   `json:"kernel_state"`
}

type saveCompletedMsg struct {
	Type       string              `json:"type"`
	NotebookID notebook.NotebookID `json:"notebook_id"`
	Error      string              `json:"error,omitempty"`
}

type dirListMsg struct {
	Type    string          `json:"type"`
	Entries []storage.Entry `json:"entries"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type kernelInfo struct {
	KernelID   uuid.UUID           `json:"kernel_id"`
	NotebookID notebook.NotebookID `json:"notebook_id"`
	RunID      uuid.UUID           `json:"run_id"`
	Pid        int                 `json:"pid"`
}

type kernelListMsg struct {
	Type    string       `json:"type"`
	Kernels []kernelInfo `json:"kernels"`
}

// emit serializes msg and hands it to nb's observer, if any. Marshal
// failures are logged, never propagated — a malformed outbound message
// must never poison reactor state.
func (s *AppState) emit(nb *notebook.Notebook, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal outbound message")
		return
	}
	nb.Emit(data)
}

// emitError is a convenience wrapper for the common "surface as
// Error{message} to the observer" error path.
func (s *AppState) emitError(nb *notebook.Notebook, message string) {
	s.emit(nb, errorMsg{Type: "error", Message: message})
}
