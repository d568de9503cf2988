package incremental

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// formatVersion is bumped whenever the persisted State layout changes. It is
// part of every state key, so old states are never decoded by new code.
const formatVersion = 2

// Path states recorded for inputs and outputs.
const (
	StateMissing  = "MISSING"
	StateEmptyDir = "EMPTY_DIR"
	hashPrefix    = "sha256:"
	linkPrefix    = "symlink:"
)

// State is the persisted record of one execution.
type State struct {
	FormatVersion int    `json:"formatVersion"`
	CodeVersion   string `json:"codeVersion"`
	// Fingerprint covers the whole input side: code version, id,
	// configuration, input paths and their states.
	Fingerprint      string            `json:"fingerprint"`
	Configuration    map[string]string `json:"configuration"`
	Inputs           []string          `json:"inputs"`
	InputsState      map[string]string `json:"inputsState"`
	Outputs          []string          `json:"outputs"`
	ExcludedOutputs  []string          `json:"excludedOutputs"`
	OutputsState     map[string]string `json:"outputsState"`
	OutputProperties map[string]string `json:"outputProperties"`
	// DiscoveredInputs were reported by the computation itself. Their
	// states are re-checked like inputs but are not part of Fingerprint.
	DiscoveredInputs      []string          `json:"discoveredInputs"`
	DiscoveredInputsState map[string]string `json:"discoveredInputsState"`
}

func (s *State) validate() error {
	if s.FormatVersion != formatVersion {
		return fmt.Errorf("unsupported state format version %d", s.FormatVersion)
	}
	if s.Fingerprint == "" {
		return errors.New("state has no fingerprint")
	}
	if s.Configuration == nil || s.InputsState == nil || s.OutputsState == nil || s.OutputProperties == nil || s.DiscoveredInputsState == nil {
		return errors.New("state maps must be objects (not null)")
	}
	return nil
}

// ErrMissingOutput is returned when a computation reports an output path
// that does not exist.
var ErrMissingOutput = errors.New("declared output does not exist")

// pathStates records the state of every path, walking directories
// recursively. Files are keyed by their own path, so a directory input
// expands into one entry per file plus one EMPTY_DIR entry per empty
// directory. Paths in excluded, and everything below them, are skipped.
//
// A missing path is recorded as MISSING, or reported as ErrMissingOutput
// when failOnMissing is set.
func pathStates(paths []string, excluded map[string]bool, failOnMissing bool) (map[string]string, error) {
	states := make(map[string]string)
	for _, p := range paths {
		p = filepath.Clean(p)
		if excluded[p] {
			continue
		}
		info, err := os.Lstat(p)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("stat %s: %w", p, err)
			}
			if failOnMissing {
				return nil, fmt.Errorf("%w: %s", ErrMissingOutput, p)
			}
			states[p] = StateMissing
			continue
		}
		if !info.IsDir() {
			state, err := entryState(p, info.Mode())
			if err != nil {
				return nil, err
			}
			states[p] = state
			continue
		}
		if err := walkDirStates(p, excluded, states); err != nil {
			return nil, err
		}
	}
	return states, nil
}

func walkDirStates(root string, excluded map[string]bool, states map[string]string) error {
	// Directories that contain at least one non-excluded entry.
	populated := make(map[string]bool)
	var dirs []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if excluded[p] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p != root {
			populated[filepath.Dir(p)] = true
		}
		if d.IsDir() {
			dirs = append(dirs, p)
			return nil
		}
		state, err := entryState(p, d.Type())
		if err != nil {
			return err
		}
		states[p] = state
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", root, err)
	}
	for _, d := range dirs {
		if !populated[d] {
			states[d] = StateEmptyDir
		}
	}
	return nil
}

func entryState(p string, mode fs.FileMode) (string, error) {
	if mode&fs.ModeSymlink != 0 {
		target, err := os.Readlink(p)
		if err != nil {
			return "", fmt.Errorf("read link %s: %w", p, err)
		}
		return linkPrefix + target, nil
	}
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", p, err)
	}
	return hashPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// ChangeType classifies an output difference between two executions.
type ChangeType string

const (
	Created  ChangeType = "CREATED"
	Modified ChangeType = "MODIFIED"
	Deleted  ChangeType = "DELETED"
)

// Change is one output path that differs from the previous execution.
type Change struct {
	Path string
	Type ChangeType
}

// compareStates lists the changes from old to current, sorted by path.
func compareStates(old, current map[string]string) []Change {
	keys := make([]string, 0, len(old)+len(current))
	for k := range old {
		keys = append(keys, k)
	}
	for k := range current {
		if _, ok := old[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var changes []Change
	for _, k := range keys {
		before, hadBefore := old[k]
		after, hasAfter := current[k]
		switch {
		case !hadBefore:
			changes = append(changes, Change{Path: k, Type: Created})
		case !hasAfter:
			changes = append(changes, Change{Path: k, Type: Deleted})
		case before != after:
			changes = append(changes, Change{Path: k, Type: Modified})
		}
	}
	return changes
}

func sortedUnique(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Clean(p)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return out
	}
	uniq := out[:1]
	for _, p := range out[1:] {
		if p != uniq[len(uniq)-1] {
			uniq = append(uniq, p)
		}
	}
	return uniq
}

func toSet(paths []string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[filepath.Clean(p)] = true
	}
	return set
}
