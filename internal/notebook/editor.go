package notebook

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"twinsong/internal/apperr"
)

// EditorID names a node (Group or Cell) in a Notebook's editor tree.
type EditorID = uuid.UUID

// ScopeKind distinguishes a Group that introduces a new scope (Own) from
// one that only nests syntactically (Inherit).
type ScopeKind string

const (
	ScopeOwn     ScopeKind = "own"
	ScopeInherit ScopeKind = "inherit"
)

// EditorNode is the recursive tree making up a Notebook's editor: either
// an EditorGroup or an EditorCell.
type EditorNode interface {
	isEditorNode()
	NodeID() EditorID
}

// EditorGroup is a named group of children. An Own group introduces a
// fresh scope; an Inherit group nests without one.
type EditorGroup struct {
	ID       EditorID
	Name     string
	Scope    ScopeKind
	Children []EditorNode
}

func (g *EditorGroup) isEditorNode()    {}
func (g *EditorGroup) NodeID() EditorID { return g.ID }

// EditorCell is a leaf node holding source code text.
type EditorCell struct {
	ID   EditorID
	Code string
}

func (c *EditorCell) isEditorNode()    {}
func (c *EditorCell) NodeID() EditorID { return c.ID }

// NewHelloWorldTree returns the default editor tree a freshly minted
// Notebook starts with: a single Own root containing one sample cell.
func NewHelloWorldTree() *EditorGroup {
	return &EditorGroup{
		ID:    uuid.New(),
		Name:  "root",
		Scope: ScopeOwn,
		Children: []EditorNode{
			&EditorCell{ID: uuid.New(), Code: `print("Hello world")`},
		},
	}
}

// editorNodeWire is the JSON envelope shared by EditorGroup and
// EditorCell: a "type" discriminator plus the union of both shapes'
// fields.
type editorNodeWire struct {
	Type     string            `json:"type"`
	ID       EditorID          `json:"id"`
	Name     string            `json:"name,omitempty"`
	Scope    ScopeKind         `json:"scope,omitempty"`
	Children []json.RawMessage `json:"children,omitempty"`
	Code     string            `json:"code,omitempty"`
}

func (g *EditorGroup) MarshalJSON() ([]byte, error) {
	children := make([]json.RawMessage, 0, len(g.Children))
	for _, child := range g.Children {
		raw, err := marshalEditorNode(child)
		if err != nil {
			return nil, err
		}
		children = append(children, raw)
	}
	return json.Marshal(editorNodeWire{
		Type:     "group",
		ID:       g.ID,
		Name:     g.Name,
		Scope:    g.Scope,
		Children: children,
	})
}

func (g *EditorGroup) UnmarshalJSON(data []byte) error {
	var wire editorNodeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Type != "group" {
		return apperr.CodecError(fmt.Sprintf("expected editor node type \"group\", got %q", wire.Type), nil)
	}
	g.ID = wire.ID
	g.Name = wire.Name
	g.Scope = wire.Scope
	g.Children = make([]EditorNode, 0, len(wire.Children))
	for _, raw := range wire.Children {
		node, err := unmarshalEditorNode(raw)
		if err != nil {
			return err
		}
		g.Children = append(g.Children, node)
	}
	return nil
}

func (c *EditorCell) MarshalJSON() ([]byte, error) {
	return json.Marshal(editorNodeWire{Type: "cell", ID: c.ID, Code: c.Code})
}

func (c *EditorCell) UnmarshalJSON(data []byte) error {
	var wire editorNodeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Type != "cell" {
		return apperr.CodecError(fmt.Sprintf("expected editor node type \"cell\", got %q", wire.Type), nil)
	}
	c.ID = wire.ID
	c.Code = wire.Code
	return nil
}

// ParseEditorNode decodes a single JSON-encoded editor node (Group or
// Cell), as received from a client's run_code or save_notebook request.
func ParseEditorNode(raw []byte) (EditorNode, error) {
	return unmarshalEditorNode(raw)
}

// ParseEditorGroup decodes a JSON-encoded editor group, failing
// CodecError if raw names a Cell instead — used for save_notebook's
// editor_root, which is always a Group.
func ParseEditorGroup(raw []byte) (*EditorGroup, error) {
	node, err := unmarshalEditorNode(raw)
	if err != nil {
		return nil, err
	}
	group, ok := node.(*EditorGroup)
	if !ok {
		return nil, apperr.CodecError("editor_root must be a group", nil)
	}
	return group, nil
}

func marshalEditorNode(node EditorNode) (json.RawMessage, error) {
	switch n := node.(type) {
	case *EditorGroup:
		return n.MarshalJSON()
	case *EditorCell:
		return n.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown editor node type %T", node)
	}
}

func unmarshalEditorNode(raw json.RawMessage) (EditorNode, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	switch probe.Type {
	case "group":
		g := &EditorGroup{}
		if err := g.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		return g, nil
	case "cell":
		c := &EditorCell{}
		if err := c.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, apperr.CodecError(fmt.Sprintf("unknown editor node type %q", probe.Type), nil)
	}
}
