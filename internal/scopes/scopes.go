// Package scopes implements the scoped-globals diff engine: a tree of
// named scopes whose variables are opaque serialized snapshots, and the
// update type a kernel emits to describe how that tree changed since its
// last snapshot.
package scopes

import (
	"github.com/google/uuid"

	"twinsong/internal/apperr"
)

// ID identifies one scope node within a run's globals tree.
type ID = uuid.UUID

// Globals is a recursive tree keyed by scope ID. Variable values are
// opaque strings; the engine never interprets them, only compares them
// byte-for-byte.
type Globals struct {
	Name      string            `json:"name"`
	Variables map[string]string `json:"variables"`
	Children  map[ID]*Globals   `json:"children"`
}

// NewGlobals returns an empty root scope, the zero value a kernel starts
// from and a fresh Run is created with.
func NewGlobals(name string) *Globals {
	return &Globals{Name: name, Variables: map[string]string{}, Children: map[ID]*Globals{}}
}

// Update mirrors Globals' shape, except each variable entry is either a
// fresh opaque value or nil, meaning "unchanged — carry the prior value
// forward". Children present here are the scopes the kernel currently
// possesses; any scope in the corresponding previous state that is absent
// here is dropped on Apply.
type Update struct {
	Name      string             `json:"name"`
	Variables map[string]*string `json:"variables"`
	Children  map[ID]*Update     `json:"children"`
}

// CreateUpdate produces the Update a kernel would send describing how
// current differs from previous. Every variable in current is compared by
// byte value against previous; equal values become the unchanged sentinel
// (nil), differing or newly-introduced values are carried fresh. Variables
// and scopes present only in previous are simply omitted — dropping them
// is the caller's (Apply's) job.
func CreateUpdate(current, previous *Globals) *Update {
	u := &Update{
		Name:      current.Name,
		Variables: make(map[string]*string, len(current.Variables)),
		Children:  make(map[ID]*Update, len(current.Children)),
	}

	var prevVars map[string]string
	if previous != nil {
		prevVars = previous.Variables
	}
	for name, value := range current.Variables {
		value := value
		if prevValue, ok := prevVars[name]; ok && prevValue == value {
			u.Variables[name] = nil
			continue
		}
		u.Variables[name] = &value
	}

	var prevChildren map[ID]*Globals
	if previous != nil {
		prevChildren = previous.Children
	}
	for id, child := range current.Children {
		u.Children[id] = CreateUpdate(child, prevChildren[id])
	}

	return u
}

// Apply reconstructs the next Globals state by folding update onto
// previous. previous may be nil (as it is for a newly created child
// scope); an unchanged sentinel for a variable with no prior value,
// including any sentinel under a nil previous, is ill-formed and fails
// with apperr.KindCodec. A nil update yields a nil result.
func Apply(update *Update, previous *Globals) (*Globals, error) {
	if update == nil {
		return nil, nil
	}

	result := &Globals{
		Name:      update.Name,
		Variables: make(map[string]string, len(update.Variables)),
		Children:  make(map[ID]*Globals, len(update.Children)),
	}

	var prevVars map[string]string
	if previous != nil {
		prevVars = previous.Variables
	}
	for name, value := range update.Variables {
		if value != nil {
			result.Variables[name] = *value
			continue
		}
		prior, ok := prevVars[name]
		if !ok {
			return nil, apperr.CodecError("update carries unchanged sentinel for variable with no prior value", nil)
		}
		result.Variables[name] = prior
	}

	var prevChildren map[ID]*Globals
	if previous != nil {
		prevChildren = previous.Children
	}
	for id, childUpdate := range update.Children {
		child, err := Apply(childUpdate, prevChildren[id])
		if err != nil {
			return nil, err
		}
		result.Children[id] = child
	}

	return result, nil
}
