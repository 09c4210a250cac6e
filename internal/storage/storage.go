package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"twinsong/internal/apperr"
	"twinsong/internal/notebook"
	"twinsong/internal/scopes"
)

// editorNodeDTO is a concrete (non-interface) mirror of notebook.EditorNode
// used for the editor tree in the TOML notebook file and for each output
// cell's editor snapshot in the JSON run files. TOML marshaling needs a
// single concrete shape to walk; tagging and
// converting here keeps the interface-based notebook.EditorNode free of
// any persistence-format concerns.
type editorNodeDTO struct {
	Type     string          `toml:"type"`
	ID       string          `toml:"id"`
	Name     string          `toml:"name,omitempty"`
	Scope    string          `toml:"scope,omitempty"`
	Code     string          `toml:"code,omitempty"`
	Children []editorNodeDTO `toml:"children,omitempty"`
}

func toEditorDTO(node notebook.EditorNode) editorNodeDTO {
	switch n := node.(type) {
	case *notebook.EditorCell:
		return editorNodeDTO{Type: "cell", ID: n.ID.String(), Code: n.Code}
	case *notebook.EditorGroup:
		children := make([]editorNodeDTO, 0, len(n.Children))
		for _, child := range n.Children {
			children = append(children, toEditorDTO(child))
		}
		return editorNodeDTO{
			Type:     "group",
			ID:       n.ID.String(),
			Name:     n.Name,
			Scope:    string(n.Scope),
			Children: children,
		}
	default:
		panic(fmt.Sprintf("storage: unknown editor node type %T", node))
	}
}

func fromEditorDTO(dto editorNodeDTO) (notebook.EditorNode, error) {
	id, err := uuid.Parse(dto.ID)
	if err != nil {
		return nil, apperr.CodecError("invalid editor node id", err)
	}
	switch dto.Type {
	case "cell":
		return &notebook.EditorCell{ID: id, Code: dto.Code}, nil
	case "group":
		children := make([]notebook.EditorNode, 0, len(dto.Children))
		for _, childDTO := range dto.Children {
			child, err := fromEditorDTO(childDTO)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return &notebook.EditorGroup{
			ID:       id,
			Name:     dto.Name,
			Scope:    notebook.ScopeKind(dto.Scope),
			Children: children,
		}, nil
	default:
		return nil, apperr.CodecError(fmt.Sprintf("unknown persisted editor node type %q", dto.Type), nil)
	}
}

// notebookFileDTO is the TOML document stored at the notebook path.
type notebookFileDTO struct {
	Version         string        `toml:"version"`
	EditorRoot      editorNodeDTO `toml:"editor_root"`
	EditorOpenNodes []string      `toml:"editor_open_nodes"`
}

// globalsDTO is the JSON mirror of scopes.Globals used inside run files.
type globalsDTO struct {
	Name      string                 `json:"name"`
	Variables map[string]string      `json:"variables"`
	Children  map[string]*globalsDTO `json:"children"`
}

func toGlobalsDTO(g *scopes.Globals) *globalsDTO {
	if g == nil {
		return nil
	}
	dto := &globalsDTO{Name: g.Name, Variables: g.Variables, Children: map[string]*globalsDTO{}}
	for id, child := range g.Children {
		dto.Children[id.String()] = toGlobalsDTO(child)
	}
	return dto
}

func fromGlobalsDTO(dto *globalsDTO) (*scopes.Globals, error) {
	if dto == nil {
		return scopes.NewGlobals("root"), nil
	}
	g := &scopes.Globals{Name: dto.Name, Variables: dto.Variables, Children: map[scopes.ID]*scopes.Globals{}}
	if g.Variables == nil {
		g.Variables = map[string]string{}
	}
	for idStr, childDTO := range dto.Children {
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, apperr.CodecError("invalid scope id in persisted globals", err)
		}
		child, err := fromGlobalsDTO(childDTO)
		if err != nil {
			return nil, err
		}
		g.Children[id] = child
	}
	return g, nil
}

// kernelStateDTO is the narrowed, persistable projection of
// notebook.KernelState: only Closed or Crashed survive a save.
type kernelStateDTO struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

func narrowKernelState(s notebook.KernelState) kernelStateDTO {
	if crashed, ok := s.(notebook.KernelStateCrashed); ok {
		return kernelStateDTO{State: "crashed", Message: crashed.Message}
	}
	return kernelStateDTO{State: "closed"}
}

func (dto kernelStateDTO) toKernelState() notebook.KernelState {
	if dto.State == "crashed" {
		return notebook.KernelStateCrashed{Message: dto.Message}
	}
	return notebook.KernelStateClosed{}
}

type outputValueDTO = notebook.OutputValue

type outputCellDTO struct {
	ID         string           `json:"id"`
	Values     []outputValueDTO `json:"values"`
	Flag       string           `json:"flag"`
	EditorNode editorNodeDTO    `json:"editor_node"`
	CellID     string           `json:"cell_id"`
}

func flagToString(f notebook.OutputFlag) string {
	switch f {
	case notebook.FlagRunning:
		return "running"
	case notebook.FlagSuccess:
		return "success"
	case notebook.FlagFail:
		return "fail"
	default:
		return "running"
	}
}

func flagFromString(s string) notebook.OutputFlag {
	switch s {
	case "success":
		return notebook.FlagSuccess
	case "fail":
		return notebook.FlagFail
	default:
		return notebook.FlagRunning
	}
}

type runFileDTO struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	CreatedAt   time.Time       `json:"created_at"`
	KernelState kernelStateDTO  `json:"kernel_state"`
	Outputs     []outputCellDTO `json:"outputs"`
	Globals     *globalsDTO     `json:"globals"`
}

func toRunDTO(run *notebook.Run) runFileDTO {
	outputs := make([]outputCellDTO, 0, len(run.Outputs))
	for _, cell := range run.Outputs {
		outputs = append(outputs, outputCellDTO{
			ID:         cell.ID.String(),
			Values:     cell.Values,
			Flag:       flagToString(cell.Flag),
			EditorNode: toEditorDTO(cell.EditorNode),
			CellID:     cell.CellID.String(),
		})
	}
	return runFileDTO{
		ID:          run.ID.String(),
		Title:       run.Title,
		CreatedAt:   run.CreatedAt,
		KernelState: narrowKernelState(run.KernelState),
		Outputs:     outputs,
		Globals:     toGlobalsDTO(run.Globals),
	}
}

func fromRunDTO(dto runFileDTO) (*notebook.Run, error) {
	id, err := uuid.Parse(dto.ID)
	if err != nil {
		return nil, apperr.CodecError("invalid run id", err)
	}
	globals, err := fromGlobalsDTO(dto.Globals)
	if err != nil {
		return nil, err
	}
	outputs := make([]*notebook.OutputCell, 0, len(dto.Outputs))
	for _, cellDTO := range dto.Outputs {
		cellID, err := uuid.Parse(cellDTO.ID)
		if err != nil {
			return nil, apperr.CodecError("invalid output cell id", err)
		}
		editorCellID, err := uuid.Parse(cellDTO.CellID)
		if err != nil {
			return nil, apperr.CodecError("invalid output cell source id", err)
		}
		snapshot, err := fromEditorDTO(cellDTO.EditorNode)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, &notebook.OutputCell{
			ID:         cellID,
			Values:     cellDTO.Values,
			Flag:       flagFromString(cellDTO.Flag),
			EditorNode: snapshot,
			CellID:     editorCellID,
		})
	}
	return &notebook.Run{
		ID:          id,
		Title:       dto.Title,
		CreatedAt:   dto.CreatedAt,
		Outputs:     outputs,
		KernelState: dto.KernelState.toKernelState(),
		QueueDepth:  0,
		Globals:     globals,
	}, nil
}

// Save persists nb to path: the notebook file itself (TOML, atomic
// write), and every run under the sidecar "<path>.runs" directory
// (atomic directory replace — a second save leaves only that save's
// runs behind).
func Save(nb *notebook.Notebook, path string) error {
	fileDTO := notebookFileDTO{
		Version:    Version,
		EditorRoot: toEditorDTO(nb.EditorRoot),
	}
	for _, id := range nb.EditorOpenNodes {
		fileDTO.EditorOpenNodes = append(fileDTO.EditorOpenNodes, id.String())
	}

	content, err := toml.Marshal(fileDTO)
	if err != nil {
		return apperr.IOError("failed to marshal notebook file", err)
	}
	if err := writeFileAtomic(path, content); err != nil {
		return err
	}

	files := make(map[string][]byte, len(nb.RunOrder))
	for _, runID := range nb.RunOrder {
		run := nb.Runs[runID]
		runContent, err := json.Marshal(toRunDTO(run))
		if err != nil {
			return apperr.IOError("failed to marshal run file", err)
		}
		files[runFileName(run.Title, run.ID.String())] = runContent
	}
	return replaceDirAtomically(runsDir(path), files)
}

// Load reads the notebook file at path and every run under its sidecar
// directory, returning a Notebook with RunOrder sorted by created
// timestamp ascending. The returned Notebook's ID and Observer are left
// zero-valued; the caller (the reactor) assigns those.
func Load(path string) (*notebook.Notebook, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.IOError("failed to read notebook file", err)
	}

	var fileDTO notebookFileDTO
	if err := toml.Unmarshal(content, &fileDTO); err != nil {
		return nil, apperr.CodecError("failed to parse notebook file", err)
	}
	if fileDTO.Version != Version {
		return nil, apperr.VersionMismatch(fmt.Sprintf("notebook file has version %q, expected %q", fileDTO.Version, Version))
	}

	editorRoot, err := fromEditorDTO(fileDTO.EditorRoot)
	if err != nil {
		return nil, err
	}
	rootGroup, ok := editorRoot.(*notebook.EditorGroup)
	if !ok {
		return nil, apperr.CodecError("persisted editor root is not a group", nil)
	}

	openNodes := make([]notebook.EditorID, 0, len(fileDTO.EditorOpenNodes))
	for _, idStr := range fileDTO.EditorOpenNodes {
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, apperr.CodecError("invalid editor_open_nodes entry", err)
		}
		openNodes = append(openNodes, id)
	}

	runs, order, err := loadRuns(runsDir(path))
	if err != nil {
		return nil, err
	}

	return &notebook.Notebook{
		Path:            path,
		EditorRoot:      rootGroup,
		EditorOpenNodes: openNodes,
		Runs:            runs,
		RunOrder:        order,
	}, nil
}

func loadRuns(dir string) (map[notebook.RunID]*notebook.Run, []notebook.RunID, error) {
	runs := map[notebook.RunID]*notebook.Run{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return runs, nil, nil
		}
		return nil, nil, apperr.IOError("failed to list runs directory", err)
	}

	loaded := make([]*notebook.Run, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".run") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, nil, apperr.IOError("failed to read run file", err)
		}
		var dto runFileDTO
		if err := json.Unmarshal(content, &dto); err != nil {
			return nil, nil, apperr.CodecError("failed to parse run file", err)
		}
		run, err := fromRunDTO(dto)
		if err != nil {
			return nil, nil, err
		}
		loaded = append(loaded, run)
	}

	sort.Slice(loaded, func(i, j int) bool { return loaded[i].CreatedAt.Before(loaded[j].CreatedAt) })

	order := make([]notebook.RunID, 0, len(loaded))
	for _, run := range loaded {
		runs[run.ID] = run
		order = append(order, run.ID)
	}
	return runs, order, nil
}
