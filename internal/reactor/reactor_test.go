package reactor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinsong/internal/audit"
	"twinsong/internal/kernel"
	"twinsong/internal/notebook"
	"twinsong/internal/protocol"
)

// recordingObserver captures every message sent to it, decoded enough to
// assert on "type" without depending on the full message shape.
type recordingObserver struct {
	messages [][]byte
}

func (o *recordingObserver) Send(message []byte) {
	o.messages = append(o.messages, message)
}

func (o *recordingObserver) last() string {
	if len(o.messages) == 0 {
		return ""
	}
	return string(o.messages[len(o.messages)-1])
}

func newTestState(t *testing.T) *AppState {
	t.Helper()
	dir := t.TempDir()
	state := New(dir, audit.Disabled(), zerolog.Nop())
	sup, err := kernel.NewSupervisor(state, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sup.Close() })
	state.AttachSupervisor(sup)
	return state
}

func TestNewNotebookEmitsSnapshotAndPersists(t *testing.T) {
	state := newTestState(t)
	observer := &recordingObserver{}

	id := state.NewNotebook("scratch.ts", observer)

	require.Len(t, observer.messages, 1)
	assert.Contains(t, observer.last(), `"type":"new_notebook"`)

	nb, ok := state.findNotebook(id)
	require.True(t, ok)
	assert.Equal(t, id, nb.ID)

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(state.rootDir, "scratch.ts"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "fresh notebook must be persisted")
}

func TestStartKernelSpawnFailureCrashesRunImmediately(t *testing.T) {
	state := newTestState(t)
	observer := &recordingObserver{}
	id := state.NewNotebook("scratch.ts", observer)

	// No TWINSONG_PYTHON and (in the test sandbox) no interpreter on
	// PATH is not guaranteed, so force the failure path deterministically.
	t.Setenv("TWINSONG_PYTHON", "/nonexistent/interpreter/binary")

	runID, err := state.StartKernel(id, "run one")
	require.NoError(t, err)

	nb, ok := state.findNotebook(id)
	require.True(t, ok)
	run, err := nb.FindRunByID(runID)
	require.NoError(t, err)

	desc := run.KernelStateDesc()
	assert.Equal(t, "crashed", desc.State)
	assert.NotEmpty(t, desc.Message)
	assert.Contains(t, observer.last(), `"type":"kernel_crashed"`)
}

func TestStartKernelUnknownNotebookFails(t *testing.T) {
	state := newTestState(t)
	_, err := state.StartKernel(999, "orphan")
	assert.Error(t, err)
}

func TestRunCodeUnknownRunEmitsError(t *testing.T) {
	state := newTestState(t)
	observer := &recordingObserver{}
	id := state.NewNotebook("scratch.ts", observer)

	err := state.RunCode(id, uuid.New(), uuid.New(), uuid.New(), notebook.NewHelloWorldTree())
	assert.Error(t, err)
	assert.Contains(t, observer.last(), `"type":"error"`)
}

func TestCloseRunRemovesCrashedRun(t *testing.T) {
	state := newTestState(t)
	observer := &recordingObserver{}
	id := state.NewNotebook("scratch.ts", observer)

	t.Setenv("TWINSONG_PYTHON", "/nonexistent/interpreter/binary")
	runID, err := state.StartKernel(id, "run one")
	require.NoError(t, err)

	require.NoError(t, state.CloseRun(id, runID))

	nb, _ := state.findNotebook(id)
	_, err = nb.FindRunByID(runID)
	assert.Error(t, err, "run must be gone after CloseRun")
}

func TestKernelCrashedCallbackForcesQueueDepthToZero(t *testing.T) {
	state := newTestState(t)
	observer := &recordingObserver{}
	id := state.NewNotebook("scratch.ts", observer)

	kernelID := uuid.New()
	runID := uuid.New()
	run := notebook.NewRun(runID, "run one", kernelID)
	run.QueueDepth = 3
	nb, _ := state.findNotebook(id)
	nb.AddRun(run)

	ctx := kernel.Context{KernelID: kernelID, NotebookID: id, RunID: runID}
	state.KernelCrashed(ctx, "boom")

	assert.Equal(t, 0, run.QueueDepth)
	desc := run.KernelStateDesc()
	assert.Equal(t, "crashed", desc.State)
	assert.Equal(t, "boom", desc.Message)
}

func TestFromKernelOutputAppliesUpdateAndAppendsValue(t *testing.T) {
	state := newTestState(t)
	observer := &recordingObserver{}
	id := state.NewNotebook("scratch.ts", observer)

	kernelID := uuid.New()
	runID := uuid.New()
	run := notebook.NewRun(runID, "run one", kernelID)
	run.KernelState = notebook.KernelStateRunning{KernelID: kernelID}
	run.QueueDepth = 1
	cellOutputID := uuid.New()
	editorCellID := uuid.New()
	notebook.NewOutputCell(run, cellOutputID, editorCellID, nil)

	nb, _ := state.findNotebook(id)
	nb.AddRun(run)

	scopeID := uuid.New()
	newVal := "42"
	update := &protocol.GlobalsUpdateWire{
		Name:      "root",
		Variables: map[string]*string{"x": &newVal},
		Children:  map[uuid.UUID]*protocol.GlobalsUpdateWire{scopeID: {Name: "inner", Variables: map[string]*string{}}},
	}

	ctx := kernel.Context{KernelID: kernelID, NotebookID: id, RunID: runID}
	state.FromKernel(ctx, protocol.Output{
		Value:  protocol.KernelText{Text: "hello"},
		CellID: cellOutputID,
		Flag:   protocol.FlagSuccess,
		Update: update,
	})

	assert.Equal(t, 0, run.QueueDepth)
	require.Len(t, run.Outputs[0].Values, 1)
	assert.Equal(t, "hello", run.Outputs[0].Values[0].Text)
	require.NotNil(t, run.Globals)
	assert.Equal(t, "42", run.Globals.Variables["x"])
	assert.Contains(t, observer.last(), `"type":"output"`)
}

func TestFromKernelOutputUnmatchedCellIDSurfacesError(t *testing.T) {
	state := newTestState(t)
	observer := &recordingObserver{}
	id := state.NewNotebook("scratch.ts", observer)

	kernelID := uuid.New()
	runID := uuid.New()
	run := notebook.NewRun(runID, "run one", kernelID)
	nb, _ := state.findNotebook(id)
	nb.AddRun(run)

	ctx := kernel.Context{KernelID: kernelID, NotebookID: id, RunID: runID}
	state.FromKernel(ctx, protocol.Output{
		Value:  protocol.KernelNone{},
		CellID: uuid.New(),
		Flag:   protocol.FlagSuccess,
	})

	assert.Contains(t, observer.last(), `"type":"error"`)
}

func TestQueryDirClassifiesLoadedNotebook(t *testing.T) {
	state := newTestState(t)
	observer := &recordingObserver{}
	state.NewNotebook("loaded.ts", observer)

	// NewNotebook writes the file in the background; wait for it so
	// QueryDir can see it.
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(state.rootDir, "loaded.ts"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(state.rootDir+"/plain.txt", []byte("x"), 0644))

	dirObserver := &recordingObserver{}
	state.QueryDir(dirObserver)

	require.Len(t, dirObserver.messages, 1)
	assert.Contains(t, dirObserver.last(), `"type":"dir_list"`)
	assert.Contains(t, dirObserver.last(), `"loaded_notebook"`)
}
