package sexp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Serialize renders a form as deterministic bytes. Every node carries a kind
// tag and an explicit length or count prefix, so two distinct trees can never
// produce the same serialization:
//
//	symbol  s<len>:<bytes>
//	int     i<decimal>;
//	float   f<len>:<shortest-repr>
//	string  t<len>:<bytes>
//	list    l<count>:<children...>
func Serialize(f Form) []byte {
	var buf bytes.Buffer
	writeForm(&buf, f)
	return buf.Bytes()
}

func writeForm(buf *bytes.Buffer, f Form) {
	switch v := f.(type) {
	case Symbol:
		fmt.Fprintf(buf, "s%d:%s", len(v), string(v))
	case Int:
		fmt.Fprintf(buf, "i%d;", int64(v))
	case Float:
		s := strconv.FormatFloat(float64(v), 'g', -1, 64)
		fmt.Fprintf(buf, "f%d:%s", len(s), s)
	case Str:
		fmt.Fprintf(buf, "t%d:%s", len(v), string(v))
	case List:
		fmt.Fprintf(buf, "l%d:", len(v))
		for _, c := range v {
			writeForm(buf, c)
		}
	}
}

// Deserialize parses bytes produced by Serialize back into a Form. Trailing
// bytes after a complete form are an error.
func Deserialize(data []byte) (Form, error) {
	f, rest, err := readSerialized(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("sexp: %d trailing bytes after serialized form", len(rest))
	}
	return f, nil
}

func readSerialized(data []byte) (Form, []byte, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("sexp: truncated serialization")
	}
	tag := data[0]
	data = data[1:]
	switch tag {
	case 's', 't', 'f':
		n, rest, err := readLength(data, ':')
		if err != nil {
			return nil, nil, err
		}
		if len(rest) < n {
			return nil, nil, fmt.Errorf("sexp: truncated serialization")
		}
		body, rest := string(rest[:n]), rest[n:]
		switch tag {
		case 's':
			return Symbol(body), rest, nil
		case 't':
			return Str(body), rest, nil
		default:
			v, err := strconv.ParseFloat(body, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("sexp: bad float %q", body)
			}
			return Float(v), rest, nil
		}
	case 'i':
		end := bytes.IndexByte(data, ';')
		if end < 0 {
			return nil, nil, fmt.Errorf("sexp: unterminated int")
		}
		v, err := strconv.ParseInt(string(data[:end]), 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("sexp: bad int %q", data[:end])
		}
		return Int(v), data[end+1:], nil
	case 'l':
		n, rest, err := readLength(data, ':')
		if err != nil {
			return nil, nil, err
		}
		// Every element occupies at least one byte, so a count beyond the
		// remaining input is corrupt and must not size the allocation.
		if n > len(rest) {
			return nil, nil, fmt.Errorf("sexp: list count %d exceeds remaining input", n)
		}
		out := make(List, 0, n)
		for i := 0; i < n; i++ {
			var c Form
			c, rest, err = readSerialized(rest)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, c)
		}
		return out, rest, nil
	default:
		return nil, nil, fmt.Errorf("sexp: unknown tag %q", tag)
	}
}

func readLength(data []byte, sep byte) (int, []byte, error) {
	end := bytes.IndexByte(data, sep)
	if end < 0 {
		return 0, nil, fmt.Errorf("sexp: missing length prefix")
	}
	n, err := strconv.Atoi(string(data[:end]))
	if err != nil || n < 0 {
		return 0, nil, fmt.Errorf("sexp: bad length %q", data[:end])
	}
	return n, data[end+1:], nil
}

// Print renders a form back into source syntax. Useful for diagnostics and
// for replaying canonical forms through the parser.
func Print(f Form) string {
	var b strings.Builder
	printForm(&b, f)
	return b.String()
}

func printForm(b *strings.Builder, f Form) {
	switch v := f.(type) {
	case Str:
		b.WriteString(strconv.Quote(string(v)))
	case List:
		b.WriteByte('(')
		for i, c := range v {
			if i > 0 {
				b.WriteByte(' ')
			}
			printForm(b, c)
		}
		b.WriteByte(')')
	default:
		b.WriteString(AtomText(f))
	}
}
