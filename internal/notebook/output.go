package notebook

import (
	"github.com/google/uuid"

	"twinsong/internal/protocol"
)

// OutputCellID names one OutputCell within a Run's output list.
type OutputCellID = uuid.UUID

// OutputValue is the client-facing, JSON-tagged form of a value produced
// while executing a cell. It mirrors protocol.KernelOutputValue but
// carries an explicit "type" discriminator for the browser, since the
// binary wire form has none.
type OutputValue struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	HTML      string `json:"html,omitempty"`
	Message   string `json:"message,omitempty"`
	Traceback string `json:"traceback,omitempty"`
}

const (
	outputValueTypeText      = "text"
	outputValueTypeHTML      = "html"
	outputValueTypeException = "exception"
	outputValueTypeNone      = "none"
)

// TranslateOutputValue converts the binary wire value a kernel sent into
// the tagged JSON form clients expect. This is the one place the
// translation happens, per the reactor's design note.
func TranslateOutputValue(v protocol.KernelOutputValue) OutputValue {
	switch val := v.(type) {
	case protocol.KernelText:
		return OutputValue{Type: outputValueTypeText, Text: val.Text}
	case protocol.KernelHTML:
		return OutputValue{Type: outputValueTypeHTML, HTML: val.HTML}
	case protocol.KernelException:
		return OutputValue{Type: outputValueTypeException, Message: val.Message, Traceback: val.Traceback}
	case protocol.KernelNone, nil:
		return OutputValue{Type: outputValueTypeNone}
	default:
		return OutputValue{Type: outputValueTypeNone}
	}
}

// asText reports whether this value is a Text value and returns its
// payload, used by the streaming-concat optimization in AddOutput.
func (v OutputValue) asText() (string, bool) {
	if v.Type == outputValueTypeText {
		return v.Text, true
	}
	return "", false
}

// OutputFlag is the client-visible spelling of protocol.OutputFlag.
type OutputFlag = protocol.OutputFlag

const (
	FlagRunning = protocol.FlagRunning
	FlagSuccess = protocol.FlagSuccess
	FlagFail    = protocol.FlagFail
)

// OutputCell accumulates the values produced by one cell execution.
type OutputCell struct {
	ID         OutputCellID
	Values     []OutputValue
	Flag       OutputFlag
	EditorNode EditorNode
	CellID     EditorID
}
