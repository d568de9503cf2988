package artifactstore

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// Algorithm names a checksum algorithm. Its value doubles as the extension
// of the checksum file published next to an artifact (foo.jar.sha256).
type Algorithm string

const (
	SHA512 Algorithm = "sha512"
	SHA256 Algorithm = "sha256"
	SHA1   Algorithm = "sha1"
	MD5    Algorithm = "md5"
)

// Algorithms lists the supported algorithms, strongest first.
var Algorithms = []Algorithm{SHA512, SHA256, SHA1, MD5}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case SHA512:
		return sha512.New(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA1:
		return sha1.New(), nil
	case MD5:
		return md5.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", string(a))
	}
}

// Checksum is an expected or computed digest of a file.
type Checksum struct {
	Algorithm Algorithm `json:"algorithm"`
	Hex       string    `json:"hex"`
}

func (c Checksum) String() string {
	return string(c.Algorithm) + ":" + c.Hex
}

// IsZero reports whether c is unset.
func (c Checksum) IsZero() bool {
	return c.Algorithm == "" && c.Hex == ""
}

// Compute hashes data with the given algorithm.
func Compute(a Algorithm, data []byte) (Checksum, error) {
	h, err := a.newHash()
	if err != nil {
		return Checksum{}, err
	}
	h.Write(data)
	return Checksum{Algorithm: a, Hex: hex.EncodeToString(h.Sum(nil))}, nil
}

// Matches reports whether data hashes to c.
func (c Checksum) Matches(data []byte) bool {
	got, err := Compute(c.Algorithm, data)
	if err != nil {
		return false
	}
	return got.Hex == c.Hex
}

// ParseChecksumFile extracts the digest from the content of a published
// checksum file. Some publishers append a file name after the digest, so
// only the first whitespace-separated word is used.
func ParseChecksumFile(a Algorithm, content []byte) (Checksum, error) {
	fields := strings.Fields(string(content))
	if len(fields) == 0 {
		return Checksum{}, fmt.Errorf("empty %s checksum file", a)
	}
	digest := strings.ToLower(fields[0])
	h, err := a.newHash()
	if err != nil {
		return Checksum{}, err
	}
	if len(digest) != hex.EncodedLen(h.Size()) {
		return Checksum{}, fmt.Errorf("malformed %s checksum %q", a, fields[0])
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return Checksum{}, fmt.Errorf("malformed %s checksum %q: %w", a, fields[0], err)
	}
	return Checksum{Algorithm: a, Hex: digest}, nil
}
