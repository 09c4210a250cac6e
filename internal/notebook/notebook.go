// Package notebook implements the in-process model of notebooks, runs,
// output cells, and per-run scoped global namespaces.
package notebook

import (
	"fmt"

	"twinsong/internal/apperr"
	"twinsong/internal/scopes"
)

// NotebookID is assigned by the reactor from a monotonically increasing
// counter reset on every server start.
type NotebookID = uint32

// Observer is a Notebook's at-most-one outbound channel to a client
// session. It receives pre-serialized text frames; Send failures are
// ignored by callers, since the observer task owns its own lifecycle and
// may already have exited.
type Observer interface {
	Send(message []byte)
}

// Notebook owns its Runs exclusively. A Run references a KernelID but
// never owns the KernelHandle itself — lookups for the handle always go
// through the server-global kernel registry.
type Notebook struct {
	ID              NotebookID
	Path            string
	EditorRoot      *EditorGroup
	EditorOpenNodes []EditorID
	Runs            map[RunID]*Run
	RunOrder        []RunID
	Observer        Observer
}

// New constructs a freshly minted Notebook with the default "Hello
// world" editor tree and no runs.
func New(id NotebookID, path string) *Notebook {
	return &Notebook{
		ID:         id,
		Path:       path,
		EditorRoot: NewHelloWorldTree(),
		Runs:       map[RunID]*Run{},
		RunOrder:   nil,
	}
}

// Snapshot returns a shallow copy of n suitable for handing to a
// background persistence task: its own Runs map and RunOrder slice, so
// the background goroutine never ranges over state the reactor might
// concurrently mutate. Run values themselves are shared pointers — safe
// here because persistence only happens for a single active session per
// notebook (no multi-user collaboration, see Non-goals).
func (n *Notebook) Snapshot() *Notebook {
	runs := make(map[RunID]*Run, len(n.Runs))
	for id, run := range n.Runs {
		runs[id] = run
	}
	order := make([]RunID, len(n.RunOrder))
	copy(order, n.RunOrder)
	openNodes := make([]EditorID, len(n.EditorOpenNodes))
	copy(openNodes, n.EditorOpenNodes)
	return &Notebook{
		ID:              n.ID,
		Path:            n.Path,
		EditorRoot:      n.EditorRoot,
		EditorOpenNodes: openNodes,
		Runs:            runs,
		RunOrder:        order,
	}
}

// SetObserver replaces the notebook's observer slot, silently dropping
// whatever channel previously occupied it.
func (n *Notebook) SetObserver(o Observer) {
	n.Observer = o
}

// Emit sends a pre-serialized message to the current observer, if any.
func (n *Notebook) Emit(message []byte) {
	if n.Observer != nil {
		n.Observer.Send(message)
	}
}

// AddRun inserts run under run.ID and appends it to RunOrder. A duplicate
// id is a programming error: RunIDs are minted fresh by the reactor, so a
// collision can only mean a caller bug.
func (n *Notebook) AddRun(run *Run) {
	if _, exists := n.Runs[run.ID]; exists {
		panic(fmt.Sprintf("notebook: duplicate run id %s", run.ID))
	}
	n.Runs[run.ID] = run
	n.RunOrder = append(n.RunOrder, run.ID)
}

// FindRunByID returns the Run for id, failing NotFound if absent.
func (n *Notebook) FindRunByID(id RunID) (*Run, error) {
	run, ok := n.Runs[id]
	if !ok {
		return nil, apperr.NotFound(fmt.Sprintf("run %s not found in notebook %d", id, n.ID))
	}
	return run, nil
}

// RemoveRunByID removes a run from both the map and RunOrder, returning
// it. Fails NotFound if absent.
func (n *Notebook) RemoveRunByID(id RunID) (*Run, error) {
	run, err := n.FindRunByID(id)
	if err != nil {
		return nil, err
	}
	delete(n.Runs, id)
	for i, candidate := range n.RunOrder {
		if candidate == id {
			n.RunOrder = append(n.RunOrder[:i], n.RunOrder[i+1:]...)
			break
		}
	}
	return run, nil
}

// AddOutput locates the last OutputCell in run matching cellID (scanning
// from the end), appends value, and updates its flag. If the incoming
// (flag, value) is (Running, Text) and the cell's current last value is
// also Text, the two are concatenated in place instead of appended — the
// streaming-output optimization. Fails NotFound if no matching cell
// exists; the reactor treats that as the programming-error case called
// out for kernel Output messages with an unmatched cell_id.
func AddOutput(run *Run, cellID OutputCellID, value OutputValue, flag OutputFlag) error {
	for i := len(run.Outputs) - 1; i >= 0; i-- {
		cell := run.Outputs[i]
		if cell.ID != cellID {
			continue
		}
		cell.Flag = flag

		if flag == FlagRunning {
			if newText, ok := value.asText(); ok && len(cell.Values) > 0 {
				last := len(cell.Values) - 1
				if oldText, ok := cell.Values[last].asText(); ok {
					cell.Values[last] = OutputValue{Type: outputValueTypeText, Text: oldText + newText}
					return nil
				}
			}
		}
		cell.Values = append(cell.Values, value)
		return nil
	}
	return apperr.NotFound(fmt.Sprintf("no output cell %s in run %s", cellID, run.ID))
}

// NewOutputCell appends a fresh Running, empty-values OutputCell to run
// for the given source cellID and editor snapshot, as reactor.RunCode
// does before dispatching Compute.
func NewOutputCell(run *Run, id OutputCellID, cellID EditorID, snapshot EditorNode) *OutputCell {
	cell := &OutputCell{ID: id, Flag: FlagRunning, EditorNode: snapshot, CellID: cellID}
	run.Outputs = append(run.Outputs, cell)
	return cell
}

// UpdateGlobals folds an incoming diff onto the run's globals tree.
func UpdateGlobals(run *Run, update *scopes.Update) error {
	next, err := scopes.Apply(update, run.Globals)
	if err != nil {
		return err
	}
	run.Globals = next
	return nil
}
