package notebook

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinsong/internal/apperr"
)

func TestAddRunAppendsToRunOrder(t *testing.T) {
	nb := New(1, "/tmp/nb.ts")
	runA := NewRun(uuid.New(), "a", uuid.New())
	runB := NewRun(uuid.New(), "b", uuid.New())

	nb.AddRun(runA)
	nb.AddRun(runB)

	require.Equal(t, []RunID{runA.ID, runB.ID}, nb.RunOrder)
}

func TestAddRunDuplicateIDPanics(t *testing.T) {
	nb := New(1, "/tmp/nb.ts")
	run := NewRun(uuid.New(), "a", uuid.New())
	nb.AddRun(run)

	assert.Panics(t, func() { nb.AddRun(run) })
}

func TestFindRunByIDNotFound(t *testing.T) {
	nb := New(1, "/tmp/nb.ts")
	_, err := nb.FindRunByID(uuid.New())
	require.Error(t, err)
	assert.True(t, apperr.Of(err, apperr.KindNotFound))
}

func TestRemoveRunByIDRemovesFromBothMapAndOrder(t *testing.T) {
	nb := New(1, "/tmp/nb.ts")
	runA := NewRun(uuid.New(), "a", uuid.New())
	runB := NewRun(uuid.New(), "b", uuid.New())
	nb.AddRun(runA)
	nb.AddRun(runB)

	removed, err := nb.RemoveRunByID(runA.ID)
	require.NoError(t, err)
	assert.Equal(t, runA, removed)
	assert.Equal(t, []RunID{runB.ID}, nb.RunOrder)
	_, ok := nb.Runs[runA.ID]
	assert.False(t, ok)
}

func TestAddOutputStreamingConcatenation(t *testing.T) {
	run := NewRun(uuid.New(), "r", uuid.New())
	cellID := uuid.New()
	NewOutputCell(run, cellID, uuid.New(), &EditorCell{ID: uuid.New(), Code: "x"})

	require.NoError(t, AddOutput(run, cellID, OutputValue{Type: outputValueTypeText, Text: "Hel"}, FlagRunning))
	require.NoError(t, AddOutput(run, cellID, OutputValue{Type: outputValueTypeText, Text: "lo"}, FlagRunning))

	cell := run.Outputs[0]
	require.Len(t, cell.Values, 1, "streaming text must concatenate in place, not append")
	assert.Equal(t, "Hello", cell.Values[0].Text)
}

func TestAddOutputTerminalFlagDoesNotConcatenate(t *testing.T) {
	run := NewRun(uuid.New(), "r", uuid.New())
	cellID := uuid.New()
	NewOutputCell(run, cellID, uuid.New(), &EditorCell{ID: uuid.New(), Code: "x"})

	require.NoError(t, AddOutput(run, cellID, OutputValue{Type: outputValueTypeText, Text: "42"}, FlagRunning))
	require.NoError(t, AddOutput(run, cellID, OutputValue{Type: outputValueTypeText, Text: "0"}, FlagSuccess))

	cell := run.Outputs[0]
	require.Len(t, cell.Values, 2)
	assert.Equal(t, FlagSuccess, cell.Flag)
}

func TestAddOutputUnmatchedCellIDFails(t *testing.T) {
	run := NewRun(uuid.New(), "r", uuid.New())
	err := AddOutput(run, uuid.New(), OutputValue{Type: outputValueTypeNone}, FlagSuccess)
	require.Error(t, err)
	assert.True(t, apperr.Of(err, apperr.KindNotFound))
}

func TestKernelStateDescProjection(t *testing.T) {
	run := NewRun(uuid.New(), "r", uuid.New())
	assert.Equal(t, descInit, run.KernelStateDesc().State)

	run.KernelState = KernelStateRunning{KernelID: uuid.New()}
	run.QueueDepth = 2
	assert.Equal(t, descRunning, run.KernelStateDesc().State)

	run.QueueDepth = 0
	assert.Equal(t, descReady, run.KernelStateDesc().State)

	run.KernelState = KernelStateCrashed{Message: "boom"}
	desc := run.KernelStateDesc()
	assert.Equal(t, descCrashed, desc.State)
	assert.Equal(t, "boom", desc.Message)
}
