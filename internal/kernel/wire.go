package kernel

import (
	"twinsong/internal/protocol"
	"twinsong/internal/scopes"
)

// FromWireUpdate converts the gob-friendly wire form of a globals update
// into the scopes package's own type. scopes stays codec-agnostic; this
// is the one place the two shapes meet.
func FromWireUpdate(w *protocol.GlobalsUpdateWire) *scopes.Update {
	if w == nil {
		return nil
	}
	u := &scopes.Update{
		Name:      w.Name,
		Variables: w.Variables,
		Children:  make(map[scopes.ID]*scopes.Update, len(w.Children)),
	}
	for id, child := range w.Children {
		u.Children[id] = FromWireUpdate(child)
	}
	return u
}

// FromWireGlobals converts a wire-form globals snapshot (as sent in a
// LoadStateReply) into the scopes package's own type.
func FromWireGlobals(w *protocol.GlobalsWire) *scopes.Globals {
	if w == nil {
		return nil
	}
	g := &scopes.Globals{
		Name:      w.Name,
		Variables: w.Variables,
		Children:  make(map[scopes.ID]*scopes.Globals, len(w.Children)),
	}
	for id, child := range w.Children {
		g.Children[id] = FromWireGlobals(child)
	}
	return g
}
