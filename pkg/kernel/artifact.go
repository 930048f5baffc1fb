package kernel

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/glyphtools/glyph/pkg/sexp"
)

// Artifact container layout, zstd-framed on disk:
//
//	magic   "GLK1"
//	u32 BE  length of canonical source serialization
//	bytes   canonical source serialization
//	u32 BE  length of instruction stream
//	bytes   instruction stream
//
// The canonical source travels inside the artifact so integrity checks can
// recompute the kernel's identity from stored bytes alone.
var artifactMagic = []byte("GLK1")

// Artifact is a decoded kernel artifact.
type Artifact struct {
	Source sexp.Form
	Code   []byte
}

// encodeArtifact frames canonical source and code into compressed bytes.
func encodeArtifact(srcCanon, code []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(artifactMagic)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(srcCanon)))
	buf.Write(n[:])
	buf.Write(srcCanon)
	binary.BigEndian.PutUint32(n[:], uint32(len(code)))
	buf.Write(n[:])
	buf.Write(code)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(buf.Bytes(), nil), nil
}

// decodeFrame decompresses an artifact and splits it into canonical source
// bytes and instruction stream.
func decodeFrame(data []byte) (srcCanon, code []byte, err error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, nil, err
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("kernel artifact: decompress: %w", err)
	}

	if len(raw) < len(artifactMagic)+4 || !bytes.Equal(raw[:len(artifactMagic)], artifactMagic) {
		return nil, nil, fmt.Errorf("kernel artifact: bad magic")
	}
	raw = raw[len(artifactMagic):]

	// Length fields come from disk; compare in uint64 so a crafted value
	// near MaxUint32 cannot wrap the bounds check.
	srcLen := binary.BigEndian.Uint32(raw[:4])
	raw = raw[4:]
	if uint64(srcLen)+4 > uint64(len(raw)) {
		return nil, nil, fmt.Errorf("kernel artifact: truncated source section")
	}
	srcCanon, raw = raw[:srcLen], raw[srcLen:]

	codeLen := binary.BigEndian.Uint32(raw[:4])
	raw = raw[4:]
	if uint64(codeLen) != uint64(len(raw)) {
		return nil, nil, fmt.Errorf("kernel artifact: code section length %d, want %d", len(raw), codeLen)
	}
	return srcCanon, raw, nil
}

// DecodeArtifact parses stored artifact bytes back into source form and
// instruction stream.
func DecodeArtifact(data []byte) (*Artifact, error) {
	srcCanon, code, err := decodeFrame(data)
	if err != nil {
		return nil, err
	}
	src, err := sexp.Deserialize(srcCanon)
	if err != nil {
		return nil, fmt.Errorf("kernel artifact: %w", err)
	}
	return &Artifact{Source: src, Code: code}, nil
}

// Hasher recomputes a kernel's canonical hash from stored artifact bytes.
// It satisfies the manifest's ArtifactHasher.
type Hasher struct{}

// HashArtifact returns the digest of the canonical source embedded in the
// artifact. By construction this equals the hash of the sub-form the kernel
// was compiled from, so a recorded hash diverging from this value means the
// stored bytes are corrupt. Lowering is deterministic, so the code section
// must equal a fresh lowering of the embedded source; a mismatch means the
// code bytes were rewritten inside an otherwise well-formed frame.
func (Hasher) HashArtifact(data []byte) (sexp.Digest, error) {
	srcCanon, code, err := decodeFrame(data)
	if err != nil {
		return "", err
	}
	src, err := sexp.Deserialize(srcCanon)
	if err != nil {
		return "", fmt.Errorf("kernel artifact: %w", err)
	}
	want, err := lower("", src)
	if err != nil {
		return "", fmt.Errorf("kernel artifact: %w", err)
	}
	if !bytes.Equal(code, want) {
		return "", fmt.Errorf("kernel artifact: code section does not match source")
	}
	return sexp.HashBytes(srcCanon), nil
}
