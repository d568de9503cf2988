package incremental

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"regexp"
	"sort"
	"strconv"
)

// Fingerprint hashes everything that decides whether a previous execution
// can be reused: the code version, the id, the configuration, the input
// paths and the state of every input path.
//
// Maps are written in sorted key order and every field is length-prefixed,
// so equal inputs always hash equally and no two field sequences collide.
func Fingerprint(codeVersion, id string, configuration map[string]string, inputs []string, inputsState map[string]string) string {
	h := sha256.New()
	writeField := func(s string) {
		var length [8]byte
		binary.BigEndian.PutUint64(length[:], uint64(len(s)))
		h.Write(length[:])
		h.Write([]byte(s))
	}
	writeCount := func(n int) {
		var count [8]byte
		binary.BigEndian.PutUint64(count[:], uint64(n))
		h.Write(count[:])
	}
	writeMap := func(m map[string]string) {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		writeCount(len(keys))
		for _, k := range keys {
			writeField(k)
			writeField(m[k])
		}
	}

	writeField(codeVersion)
	writeField(id)
	writeMap(configuration)

	sorted := sortedUnique(inputs)
	writeCount(len(sorted))
	for _, p := range sorted {
		writeField(p)
	}
	writeMap(inputsState)

	return hex.EncodeToString(h.Sum(nil))
}

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// stateKey names the persisted state of id. The readable part is for
// humans; the hash keeps distinct ids apart after sanitizing and changes
// with the state format.
func stateKey(id string) string {
	sum := sha256.Sum256([]byte(id + "\nstate format version: " + strconv.Itoa(formatVersion)))
	return unsafeIDChars.ReplaceAllString(id, "_") + "-" + hex.EncodeToString(sum[:])[:10]
}
