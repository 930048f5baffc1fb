package sexp

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// DigestSize is the digest width in bytes (BLAKE2b-128).
const DigestSize = 16

// Digest is a 32-character hex-encoded BLAKE2b-128 digest. It is the sole
// identity used for cache lookups: derived only from canonical content,
// never from time, process, or location.
type Digest string

// Prefix returns the first n hex characters of the digest, used in artifact
// file names.
func (d Digest) Prefix(n int) string {
	if n > len(d) {
		n = len(d)
	}
	return string(d[:n])
}

// HashBytes computes the BLAKE2b-128 digest of raw bytes.
func HashBytes(data []byte) Digest {
	h, err := blake2b.New(DigestSize, nil)
	if err != nil {
		// Unreachable: New only fails for oversized keys.
		panic(err)
	}
	h.Write(data)
	return Digest(hex.EncodeToString(h.Sum(nil)))
}

// Hash computes the digest of a form's canonical serialization. Callers are
// expected to pass forms through Canonicalize first; Hash itself does not
// normalize, so it can also digest pre-canonical sub-units extracted from an
// already canonical parent.
func Hash(f Form) Digest {
	return HashBytes(Serialize(f))
}
