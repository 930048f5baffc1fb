package kernel

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/glyphtools/glyph/pkg/sexp"
)

func lowerForm(t *testing.T, src string) (sexp.Form, []byte) {
	t.Helper()
	f, err := sexp.Parse(src)
	if err != nil {
		t.Fatal(err)
	}
	code, err := lower("test", f)
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	return f, code
}

func TestArtifactRoundTrip(t *testing.T) {
	f, code := lowerForm(t, "(stroke 90 1)")
	data, err := encodeArtifact(sexp.Serialize(f), code)
	if err != nil {
		t.Fatalf("encodeArtifact: %v", err)
	}

	art, err := DecodeArtifact(data)
	if err != nil {
		t.Fatalf("DecodeArtifact: %v", err)
	}
	if !sexp.Equal(art.Source, f) {
		t.Errorf("decoded source = %s", sexp.Print(art.Source))
	}
	if !bytes.Equal(art.Code, code) {
		t.Error("decoded code differs")
	}
}

func TestHashArtifactMatchesSourceHash(t *testing.T) {
	f, code := lowerForm(t, "(stroke 90 1)")
	data, err := encodeArtifact(sexp.Serialize(f), code)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Hasher{}.HashArtifact(data)
	if err != nil {
		t.Fatalf("HashArtifact: %v", err)
	}
	if want := sexp.Hash(f); got != want {
		t.Errorf("HashArtifact = %s, want %s", got, want)
	}
}

func TestHashArtifactRejectsCorruption(t *testing.T) {
	f, code := lowerForm(t, "(stroke 90 1)")
	data, err := encodeArtifact(sexp.Serialize(f), code)
	if err != nil {
		t.Fatal(err)
	}
	h := Hasher{}
	for i := 0; i < len(data); i += 7 {
		mangled := append([]byte(nil), data...)
		mangled[i] ^= 0x55
		if got, err := h.HashArtifact(mangled); err == nil && got == sexp.Hash(f) {
			t.Errorf("corruption at byte %d went undetected", i)
		}
	}
}

// compressFrame zstd-frames a hand-built artifact payload, bypassing
// encodeArtifact's length bookkeeping.
func compressFrame(t *testing.T, raw []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil)
}

func TestDecodeArtifactRejectsOversizedLengths(t *testing.T) {
	f, code := lowerForm(t, "(dot)")
	src := sexp.Serialize(f)

	frame := func(srcLen uint32, body []byte, codeLen uint32, codeBody []byte) []byte {
		var buf bytes.Buffer
		buf.WriteString("GLK1")
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], srcLen)
		buf.Write(n[:])
		buf.Write(body)
		binary.BigEndian.PutUint32(n[:], codeLen)
		buf.Write(n[:])
		buf.Write(codeBody)
		return compressFrame(t, buf.Bytes())
	}

	// Length fields near MaxUint32 must be rejected, not wrapped into a
	// passing bounds check.
	cases := map[string][]byte{
		"source length overflows": frame(0xFFFFFFFF, src, uint32(len(code)), code),
		"code length overflows":   frame(uint32(len(src)), src, 0xFFFFFFFF, code),
		"source length truncates": frame(uint32(len(src)+100), src, uint32(len(code)), code),
	}
	for name, data := range cases {
		if _, err := DecodeArtifact(data); err == nil {
			t.Errorf("%s: DecodeArtifact succeeded", name)
		}
		if _, err := (Hasher{}).HashArtifact(data); err == nil {
			t.Errorf("%s: HashArtifact succeeded", name)
		}
	}
}

func TestHashArtifactRejectsRewrittenCode(t *testing.T) {
	f, code := lowerForm(t, "(stroke 90 1)")

	// A well-formed frame whose code section was swapped for different
	// valid bytecode must not verify.
	_, other := lowerForm(t, "(stroke 90 2)")
	data, err := encodeArtifact(sexp.Serialize(f), other)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := (Hasher{}).HashArtifact(data); err == nil {
		t.Error("rewritten code section went undetected")
	}

	// The untampered frame still hashes.
	data, err = encodeArtifact(sexp.Serialize(f), code)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := (Hasher{}).HashArtifact(data); err != nil {
		t.Errorf("HashArtifact on clean frame: %v", err)
	}
}

func TestDecodeArtifactRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("not zstd"), []byte("GLK1....")} {
		if _, err := DecodeArtifact(data); err == nil {
			t.Errorf("DecodeArtifact(%q) succeeded", data)
		}
	}
}

func TestLowerDeterministic(t *testing.T) {
	_, a := lowerForm(t, "(widget (stroke 90 1) (dot) \"label\" 2.5)")
	_, b := lowerForm(t, "(widget (stroke 90 1) (dot) \"label\" 2.5)")
	if !bytes.Equal(a, b) {
		t.Error("lowering not deterministic")
	}
}

func TestLowerStackOrder(t *testing.T) {
	_, code := lowerForm(t, "(dot)")
	// A nullary application is a bare CALL: opcode, head length, head, argc.
	want := []byte{opCall, 0, 3, 'd', 'o', 't', 0, 0}
	if !bytes.Equal(code, want) {
		t.Errorf("code = %v, want %v", code, want)
	}
}
