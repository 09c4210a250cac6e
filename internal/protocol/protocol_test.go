package protocol

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestToKernelRoundTrip(t *testing.T) {
	cellID := uuid.New()
	scopeID := uuid.New()
	msg := Compute{
		CellID: cellID,
		Code: CodeGroupNode{
			ID:    uuid.New(),
			Name:  "root",
			Scope: OwnCodeScope{ID: scopeID, Name: "root"},
			Children: []CodeNode{
				CodeCell{ID: cellID, Code: `print("Hello")`},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteToKernel(&buf, msg))

	decoded, err := ReadToKernel(&buf)
	require.NoError(t, err)

	compute, ok := decoded.(Compute)
	require.True(t, ok)
	require.Equal(t, cellID, compute.CellID)

	group, ok := compute.Code.(CodeGroupNode)
	require.True(t, ok)
	require.Len(t, group.Children, 1)
	require.Equal(t, `print("Hello")`, group.Children[0].(CodeCell).Code)
}

func TestFromKernelRoundTrip(t *testing.T) {
	kernelID := uuid.New()
	cellID := uuid.New()

	var buf bytes.Buffer
	require.NoError(t, WriteFromKernel(&buf, Login{KernelID: kernelID}))

	decoded, err := ReadFromKernel(&buf)
	require.NoError(t, err)
	login, ok := decoded.(Login)
	require.True(t, ok)
	require.Equal(t, kernelID, login.KernelID)

	buf.Reset()
	fresh := "42"
	out := Output{
		Value:  KernelText{Text: "Hello"},
		CellID: cellID,
		Flag:   FlagRunning,
		Update: &GlobalsUpdateWire{
			Name:      "root",
			Variables: map[string]*string{"a": &fresh},
			Children:  map[uuid.UUID]*GlobalsUpdateWire{},
		},
	}
	require.NoError(t, WriteFromKernel(&buf, out))

	decoded, err = ReadFromKernel(&buf)
	require.NoError(t, err)
	outGot, ok := decoded.(Output)
	require.True(t, ok)
	require.Equal(t, KernelText{Text: "Hello"}, outGot.Value)
	require.Equal(t, "42", *outGot.Update.Variables["a"])
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := make([]byte, 4)
	// Encode a length one byte past the max frame size.
	for i, b := range []byte{0x01, 0x00, 0x00, 0x08} {
		lenBuf[i] = b
	}
	buf.Write(lenBuf)

	_, err := ReadFromKernel(&buf)
	require.Error(t, err)
}

func TestReadFrameRejectsTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFromKernel(&buf, Login{KernelID: uuid.New()}))
	truncated := buf.Bytes()[:buf.Len()-1]

	_, err := ReadFromKernel(bytes.NewReader(truncated))
	require.Error(t, err)
}
