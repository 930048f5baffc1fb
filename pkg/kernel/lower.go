package kernel

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/glyphtools/glyph/pkg/sexp"
)

// Instruction opcodes for the kernel bytecode. Operands are emitted before
// their call, stack-machine style.
const (
	opInt   = 0x01 // + 8-byte big-endian value
	opFloat = 0x02 // + 8-byte IEEE-754 bits
	opStr   = 0x03 // + u16 length + bytes
	opSym   = 0x04 // + u16 length + bytes
	opCall  = 0x05 // + u16 head length + head bytes + u16 argc
	opNil   = 0x06
	opList  = 0x07 // + u16 element count
)

const maxOperand = math.MaxUint16

// lower generates the instruction stream for a canonical sub-form.
func lower(name string, f sexp.Form) ([]byte, error) {
	var buf bytes.Buffer
	if err := emit(&buf, name, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func emit(buf *bytes.Buffer, name string, f sexp.Form) error {
	switch v := f.(type) {
	case sexp.Int:
		buf.WriteByte(opInt)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v))
		buf.Write(b[:])
	case sexp.Float:
		buf.WriteByte(opFloat)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(float64(v)))
		buf.Write(b[:])
	case sexp.Str:
		if len(v) > maxOperand {
			return &LoweringError{name, "string literal exceeds operand size"}
		}
		buf.WriteByte(opStr)
		writeU16(buf, len(v))
		buf.WriteString(string(v))
	case sexp.Symbol:
		if len(v) > maxOperand {
			return &LoweringError{name, "symbol exceeds operand size"}
		}
		buf.WriteByte(opSym)
		writeU16(buf, len(v))
		buf.WriteString(string(v))
	case sexp.List:
		if len(v) == 0 {
			buf.WriteByte(opNil)
			return nil
		}
		if head, ok := v[0].(sexp.Symbol); ok {
			argc := len(v) - 1
			if argc > maxOperand || len(head) > maxOperand {
				return &LoweringError{name, "too many operands"}
			}
			for _, c := range v[1:] {
				if err := emit(buf, name, c); err != nil {
					return err
				}
			}
			buf.WriteByte(opCall)
			writeU16(buf, len(head))
			buf.WriteString(string(head))
			writeU16(buf, argc)
			return nil
		}
		if len(v) > maxOperand {
			return &LoweringError{name, "too many elements"}
		}
		for _, c := range v {
			if err := emit(buf, name, c); err != nil {
				return err
			}
		}
		buf.WriteByte(opList)
		writeU16(buf, len(v))
	}
	return nil
}

func writeU16(buf *bytes.Buffer, n int) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(n))
	buf.Write(b[:])
}
