package scopes

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinsong/internal/apperr"
)

func TestCreateUpdateThenApplyRoundTrips(t *testing.T) {
	scopeID := uuid.New()

	previous := NewGlobals("root")
	previous.Variables["a"] = "1"
	previous.Variables["b"] = "2"
	previous.Children[scopeID] = &Globals{
		Name:      "inner",
		Variables: map[string]string{"x": "10"},
		Children:  map[ID]*Globals{},
	}

	current := NewGlobals("root")
	current.Variables["a"] = "1" // unchanged
	current.Variables["b"] = "3" // changed
	current.Children[scopeID] = &Globals{
		Name:      "inner",
		Variables: map[string]string{"x": "10", "y": "20"},
		Children:  map[ID]*Globals{},
	}

	update := CreateUpdate(current, previous)
	assert.Nil(t, update.Variables["a"], "unchanged variable must carry the sentinel")
	require.NotNil(t, update.Variables["b"])
	assert.Equal(t, "3", *update.Variables["b"])

	result, err := Apply(update, previous)
	require.NoError(t, err)
	assert.Equal(t, current, result)
}

func TestCreateUpdateDropsAbsentScopesAndVariables(t *testing.T) {
	staleScope := uuid.New()
	previous := NewGlobals("root")
	previous.Variables["gone"] = "1"
	previous.Children[staleScope] = NewGlobals("stale")

	current := NewGlobals("root")
	current.Variables["kept"] = "9"

	update := CreateUpdate(current, previous)
	result, err := Apply(update, previous)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"kept": "9"}, result.Variables)
	assert.Empty(t, result.Children)
}

func TestApplyFailsOnUnchangedSentinelWithNoPrior(t *testing.T) {
	update := &Update{
		Name:      "root",
		Variables: map[string]*string{"a": nil},
		Children:  map[ID]*Update{},
	}

	_, err := Apply(update, NewGlobals("root"))
	require.Error(t, err)
	assert.True(t, apperr.Of(err, apperr.KindCodec))
}

func TestApplyRecursesIntoNewlyCreatedChildScopes(t *testing.T) {
	newScope := uuid.New()
	fresh := "42"
	update := &Update{
		Name:      "root",
		Variables: map[string]*string{},
		Children: map[ID]*Update{
			newScope: {
				Name:      "fresh-child",
				Variables: map[string]*string{"z": &fresh},
				Children:  map[ID]*Update{},
			},
		},
	}

	result, err := Apply(update, NewGlobals("root"))
	require.NoError(t, err)
	require.Contains(t, result.Children, newScope)
	assert.Equal(t, "42", result.Children[newScope].Variables["z"])
}
