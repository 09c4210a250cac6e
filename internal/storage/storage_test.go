package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinsong/internal/notebook"
)

func buildTestNotebook() *notebook.Notebook {
	nb := notebook.New(1, "")
	nb.EditorRoot = notebook.NewHelloWorldTree()

	run := notebook.NewRun(uuid.New(), "my-run", uuid.New())
	run.KernelState = notebook.KernelStateClosed{}
	cellID := uuid.New()
	notebook.NewOutputCell(run, cellID, nb.EditorRoot.Children[0].NodeID(), nb.EditorRoot.Children[0])
	_ = notebook.AddOutput(run, cellID, notebook.OutputValue{Type: "text", Text: "Hello world"}, notebook.FlagSuccess)
	run.Globals.Variables["x"] = `"1"`
	nb.AddRun(run)

	return nb
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notebook.ts")

	nb := buildTestNotebook()
	require.NoError(t, Save(nb, path))

	loaded, err := Load(path)
	require.NoError(t, err)

	require.Len(t, loaded.RunOrder, 1)
	loadedRun := loaded.Runs[loaded.RunOrder[0]]
	originalRun := nb.Runs[nb.RunOrder[0]]

	assert.Equal(t, originalRun.ID, loadedRun.ID)
	assert.Equal(t, originalRun.Title, loadedRun.Title)
	assert.Equal(t, notebook.KernelStateClosed{}, loadedRun.KernelState)
	assert.Equal(t, originalRun.Globals.Variables, loadedRun.Globals.Variables)
	require.Len(t, loadedRun.Outputs, 1)
	assert.Equal(t, "Hello world", loadedRun.Outputs[0].Values[0].Text)

	assert.Equal(t, nb.EditorRoot.ID, loaded.EditorRoot.ID)
	assert.Equal(t, nb.EditorRoot.Name, loaded.EditorRoot.Name)
}

func TestLoadRejectsVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notebook.ts")
	require.NoError(t, os.WriteFile(path, []byte(`version = "not-twinsong"`+"\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSecondSaveOverwritesRunsAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notebook.ts")

	nb := buildTestNotebook()
	require.NoError(t, Save(nb, path))

	secondRun := notebook.NewRun(uuid.New(), "second", uuid.New())
	secondRun.KernelState = notebook.KernelStateClosed{}
	nb2 := notebook.New(1, path)
	nb2.EditorRoot = nb.EditorRoot
	nb2.AddRun(secondRun)
	require.NoError(t, Save(nb2, path))

	children, err := os.ReadDir(runsDir(path))
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Contains(t, children[0].Name(), secondRun.ID.String()[:8])
}

func TestRunFileNameSanitizesTitle(t *testing.T) {
	name := runFileName("weird title!! with $$$ chars", "0123456789abcdef")
	assert.Equal(t, "weird_ti_01234567.run", name)
}

func TestQueryDirSkipsRunsSidecarAndClassifiesEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.ts"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "a.ts.runs"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	entries, err := QueryDir(dir, func(path string) bool {
		return filepath.Base(path) == "a.ts"
	})
	require.NoError(t, err)

	byName := map[string]Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	assert.Equal(t, EntryLoadedNotebook, byName["a.ts"].Kind)
	assert.Equal(t, EntryFile, byName["b.txt"].Kind)
	assert.Equal(t, EntryDir, byName["sub"].Kind)
	_, sidecarPresent := byName["a.ts.runs"]
	assert.False(t, sidecarPresent)
}
