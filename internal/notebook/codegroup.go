package notebook

import "twinsong/internal/protocol"

// ToCodeNode translates an EditorNode into its wire form for transport to
// a kernel: structurally identical, but Own groups carry an embedded
// OwnCodeScope and Inherit groups carry the Inherit sentinel.
func ToCodeNode(node EditorNode) protocol.CodeNode {
	switch n := node.(type) {
	case *EditorCell:
		return protocol.CodeCell{ID: n.ID, Code: n.Code}
	case *EditorGroup:
		children := make([]protocol.CodeNode, 0, len(n.Children))
		for _, child := range n.Children {
			children = append(children, ToCodeNode(child))
		}
		var scope protocol.CodeScope
		if n.Scope == ScopeOwn {
			scope = protocol.OwnCodeScope{ID: n.ID, Name: n.Name}
		} else {
			scope = protocol.InheritCodeScope{}
		}
		return protocol.CodeGroupNode{ID: n.ID, Name: n.Name, Scope: scope, Children: children}
	default:
		panic("notebook: unknown EditorNode implementation")
	}
}
