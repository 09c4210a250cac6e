// Package protocol implements the framed, binary-encoded message bus
// between the server and each kernel child process. Frames are
// little-endian 4-byte length prefixed; payloads are gob-encoded tagged
// message envelopes (grounded in the retrieval pack's own
// gonbui/protocol package, which uses encoding/gob for an analogous
// kernel-to-frontend wire).
package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/google/uuid"

	"twinsong/internal/apperr"
)

// MaxFrameBytes is the largest payload this codec will read or write.
const MaxFrameBytes = 128 * 1024 * 1024

// OutputFlag classifies the terminal state of an OutputCell as it
// accumulates Output messages. Success and Fail are terminal.
type OutputFlag int

const (
	FlagRunning OutputFlag = iota
	FlagSuccess
	FlagFail
)

// Terminal reports whether the flag ends the compute that produced it.
func (f OutputFlag) Terminal() bool {
	return f == FlagSuccess || f == FlagFail
}

func (f OutputFlag) String() string {
	switch f {
	case FlagRunning:
		return "running"
	case FlagSuccess:
		return "success"
	case FlagFail:
		return "fail"
	default:
		return "unknown"
	}
}

// CodeScope tags a CodeGroupNode as introducing a fresh scope (Own) or
// nesting syntactically without one (Inherit).
type CodeScope interface{ isCodeScope() }

// OwnCodeScope is carried by a CodeGroupNode translated from an Own
// EditorNode group; it names the scope the kernel must create.
type OwnCodeScope struct {
	ID   uuid.UUID
	Name string
}

func (OwnCodeScope) isCodeScope() {}

// InheritCodeScope is the sentinel carried by a CodeGroupNode translated
// from an Inherit EditorNode group.
type InheritCodeScope struct{}

func (InheritCodeScope) isCodeScope() {}

// CodeNode is the wire form of an EditorNode: either a CodeCell or a
// CodeGroupNode.
type CodeNode interface{ isCodeNode() }

// CodeCell is the wire form of an editor Cell.
type CodeCell struct {
	ID   uuid.UUID
	Code string
}

func (CodeCell) isCodeNode() {}

// CodeGroupNode is the wire form of an editor Group.
type CodeGroupNode struct {
	ID       uuid.UUID
	Name     string
	Scope    CodeScope
	Children []CodeNode
}

func (CodeGroupNode) isCodeNode() {}

// ToKernelMessage is the tagged sum of messages the server sends to a
// kernel.
type ToKernelMessage interface{ isToKernelMessage() }

// Compute instructs the kernel to evaluate code under the given cell id.
type Compute struct {
	CellID uuid.UUID
	Code   CodeNode
}

func (Compute) isToKernelMessage() {}

// SaveState asks the kernel to serialize its current globals to path and
// reply with SaveStateReply.
type SaveState struct {
	Path string
}

func (SaveState) isToKernelMessage() {}

// LoadState asks the kernel to replace its globals with the snapshot at
// path and reply with LoadStateReply.
type LoadState struct {
	Path string
}

func (LoadState) isToKernelMessage() {}

// KernelOutputValue is the binary-wire form of an output value. It is
// deliberately distinct from the client-facing, JSON-tagged OutputValue:
// the wire encoding has no tag-field convention, so the reactor is the
// single place that translates between the two.
type KernelOutputValue interface{ isKernelOutputValue() }

type KernelText struct{ Text string }

func (KernelText) isKernelOutputValue() {}

type KernelHTML struct{ HTML string }

func (KernelHTML) isKernelOutputValue() {}

type KernelException struct {
	Message   string
	Traceback string
}

func (KernelException) isKernelOutputValue() {}

type KernelNone struct{}

func (KernelNone) isKernelOutputValue() {}

// FromKernelMessage is the tagged sum of messages a kernel sends to the
// server.
type FromKernelMessage interface{ isFromKernelMessage() }

// Login must be the first frame a kernel ever sends.
type Login struct {
	KernelID uuid.UUID
}

func (Login) isFromKernelMessage() {}

// Output reports a value produced while executing a cell. Update is
// present whenever the kernel's globals changed since its last Output.
type Output struct {
	Value  KernelOutputValue
	CellID uuid.UUID
	Flag   OutputFlag
	Update *GlobalsUpdateWire
}

func (Output) isFromKernelMessage() {}

type SaveStateReply struct {
	Error string
}

func (SaveStateReply) isFromKernelMessage() {}

type LoadStateReply struct {
	Globals *GlobalsWire
	Error   string
}

func (LoadStateReply) isFromKernelMessage() {}

// GlobalsWire and GlobalsUpdateWire are gob-friendly mirrors of
// scopes.Globals/scopes.Update. The scopes package stays codec-agnostic;
// conversions live in internal/kernel where both packages meet.
type GlobalsWire struct {
	Name      string
	Variables map[string]string
	Children  map[uuid.UUID]*GlobalsWire
}

type GlobalsUpdateWire struct {
	Name      string
	Variables map[string]*string
	Children  map[uuid.UUID]*GlobalsUpdateWire
}

func init() {
	gob.Register(OwnCodeScope{})
	gob.Register(InheritCodeScope{})
	gob.Register(CodeCell{})
	gob.Register(CodeGroupNode{})
	gob.Register(Compute{})
	gob.Register(SaveState{})
	gob.Register(LoadState{})
	gob.Register(KernelText{})
	gob.Register(KernelHTML{})
	gob.Register(KernelException{})
	gob.Register(KernelNone{})
	gob.Register(Login{})
	gob.Register(Output{})
	gob.Register(SaveStateReply{})
	gob.Register(LoadStateReply{})
}

type toKernelEnvelope struct{ Msg ToKernelMessage }
type fromKernelEnvelope struct{ Msg FromKernelMessage }

// WriteToKernel frame-encodes and writes a server-to-kernel message.
func WriteToKernel(w io.Writer, msg ToKernelMessage) error {
	return writeFrame(w, toKernelEnvelope{Msg: msg})
}

// ReadToKernel reads and decodes one server-to-kernel frame.
func ReadToKernel(r io.Reader) (ToKernelMessage, error) {
	var env toKernelEnvelope
	if err := readFrame(r, &env); err != nil {
		return nil, err
	}
	return env.Msg, nil
}

// WriteFromKernel frame-encodes and writes a kernel-to-server message.
func WriteFromKernel(w io.Writer, msg FromKernelMessage) error {
	return writeFrame(w, fromKernelEnvelope{Msg: msg})
}

// ReadFromKernel reads and decodes one kernel-to-server frame.
func ReadFromKernel(r io.Reader) (FromKernelMessage, error) {
	var env fromKernelEnvelope
	if err := readFrame(r, &env); err != nil {
		return nil, err
	}
	return env.Msg, nil
}

func writeFrame(w io.Writer, v any) error {
	payload, err := gobEncode(v)
	if err != nil {
		return apperr.CodecError("failed to encode payload", err)
	}
	if len(payload) > MaxFrameBytes {
		return apperr.CodecError(fmt.Sprintf("payload of %d bytes exceeds max frame size", len(payload)), nil)
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return apperr.IOError("failed to write frame length", err)
	}
	if _, err := w.Write(payload); err != nil {
		return apperr.IOError("failed to write frame payload", err)
	}
	return nil
}

func readFrame(r io.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return err
		}
		if err == io.ErrUnexpectedEOF {
			return apperr.CodecError("truncated frame length", err)
		}
		return apperr.IOError("failed to read frame length", err)
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length > MaxFrameBytes {
		return apperr.CodecError(fmt.Sprintf("frame of %d bytes exceeds max frame size", length), nil)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return apperr.CodecError("truncated frame", err)
	}

	if err := gobDecode(payload, v); err != nil {
		return apperr.CodecError("malformed payload", err)
	}
	return nil
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(payload []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(payload)).Decode(v)
}
