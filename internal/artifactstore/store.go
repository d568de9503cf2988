// Package artifactstore keeps downloaded repository files on local disk.
//
// Files are laid out exactly like a Maven repository so that unrelated
// tooling can browse the cache directly. A checksum index on the side makes
// the store content-addressed: a file can be found again by its digest, and a
// digest that is already present is never written twice.
package artifactstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"depweaver/internal/coordinate"
	"depweaver/internal/filelock"
)

// ErrChecksumMismatch is returned when content does not hash to the digest it
// is stored under.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// LayoutDir is the directory under Root that mirrors a Maven repository.
const LayoutDir = ".m2.cache"

// Location identifies one repository file of a coordinate.
type Location struct {
	Coordinate coordinate.Coordinate
	Extension  string
	// Name overrides the artifact-version[-classifier].ext file name for
	// files published under another name, such as Gradle variant files.
	Name string
}

// RelPath is the slash-separated path in Maven layout.
func (l Location) RelPath() string {
	return path.Join(l.Coordinate.Dir(), l.FileName())
}

// FileName is the last element of RelPath.
func (l Location) FileName() string {
	if l.Name != "" {
		return l.Name
	}
	return l.Coordinate.BaseName() + "." + l.Extension
}

func (l Location) String() string {
	return l.RelPath()
}

// Store implements a content-addressed file store on the filesystem.
//
// Structure:
//
//	{Root}/
//	  .m2.cache/
//	    {group as path}/{artifact}/{version}/
//	      {artifact}-{version}[-{classifier}].{ext}
//	      {artifact}-{version}[-{classifier}].{ext}.{algorithm}
//	  .index/
//	    {algorithm}/{hex[0:2]}/{hex}     (holds the path relative to .m2.cache)
//	  .locks/
//	    {hex[0:2]}/{hex}.lock
//
// All writes go through a temp file in the destination directory followed by
// a rename, so readers never observe partial content, and a cancelled or
// crashed writer leaves at most a stray temp file behind.
type Store struct {
	// Root is the cache root directory.
	Root string

	// Logger receives debug events. If nil, logging is disabled.
	Logger *zap.Logger
}

// New creates a Store rooted at root.
func New(root string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("artifact store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact store root: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{Root: abs, Logger: logger}, nil
}

func (s *Store) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Path returns the absolute on-disk path for loc, whether or not it exists.
func (s *Store) Path(loc Location) string {
	return filepath.Join(s.Root, LayoutDir, filepath.FromSlash(loc.RelPath()))
}

// Has reports whether content with the given checksum is stored.
func (s *Store) Has(sum Checksum) bool {
	_, ok := s.Get(sum)
	return ok
}

// Get returns the path of the file stored under sum.
func (s *Store) Get(sum Checksum) (string, bool) {
	if sum.IsZero() {
		return "", false
	}
	rel, err := os.ReadFile(s.indexPath(sum))
	if err != nil {
		return "", false
	}
	p := filepath.Join(s.Root, LayoutDir, filepath.FromSlash(strings.TrimSpace(string(rel))))
	// The location may have been rewritten with other content since.
	data, err := os.ReadFile(p)
	if err != nil || !sum.Matches(data) {
		return "", false
	}
	return p, true
}

// Lookup returns the stored path for loc if the file exists and still
// matches one of the checksums recorded beside it.
func (s *Store) Lookup(loc Location) (string, Checksum, bool) {
	p := s.Path(loc)
	data, err := os.ReadFile(p)
	if err != nil {
		return "", Checksum{}, false
	}
	for _, algo := range Algorithms {
		raw, err := os.ReadFile(p + "." + string(algo))
		if err != nil {
			continue
		}
		sum, err := ParseChecksumFile(algo, raw)
		if err != nil {
			continue
		}
		if sum.Matches(data) {
			return p, sum, true
		}
		return "", Checksum{}, false
	}
	return "", Checksum{}, false
}

// Put stores data at loc after verifying it against sum.
//
// Put is idempotent: if the destination already holds content matching sum
// the write is skipped. Concurrent puts to the same location serialize on a
// lock file, across goroutines and processes. Checksum files of other
// algorithms that no longer match the content are removed.
func (s *Store) Put(ctx context.Context, loc Location, data []byte, sum Checksum) (string, error) {
	if err := coordinate.ValidateForStorage(loc.Coordinate); err != nil {
		return "", err
	}
	if name := loc.FileName(); name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("put %s: invalid file name %q", loc, name)
	}
	if sum.IsZero() {
		return "", fmt.Errorf("put %s: checksum is required", loc)
	}
	if !sum.Matches(data) {
		return "", fmt.Errorf("put %s: %w (expected %s)", loc, ErrChecksumMismatch, sum)
	}

	lock, err := filelock.Acquire(ctx, s.lockPath(loc))
	if err != nil {
		return "", fmt.Errorf("put %s: %w", loc, err)
	}
	defer func() { _ = lock.Release() }()

	target := s.Path(loc)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}

	if existing, err := os.ReadFile(target); err == nil && bytes.Equal(existing, data) {
		s.logger().Debug("artifact already stored", zap.String("path", target))
	} else {
		if err := writeFileAtomic(target, data, 0o644); err != nil {
			return "", fmt.Errorf("writing artifact %s: %w", loc, err)
		}
		s.logger().Debug("stored artifact", zap.String("path", target), zap.String("checksum", sum.String()))
	}

	if err := writeFileAtomic(target+"."+string(sum.Algorithm), []byte(sum.Hex), 0o644); err != nil {
		return "", fmt.Errorf("writing checksum for %s: %w", loc, err)
	}
	if err := removeStaleChecksums(target, data, sum.Algorithm); err != nil {
		return "", fmt.Errorf("removing stale checksum for %s: %w", loc, err)
	}
	idx := s.indexPath(sum)
	if err := os.MkdirAll(filepath.Dir(idx), 0o755); err != nil {
		return "", fmt.Errorf("creating index directory: %w", err)
	}
	if err := writeFileAtomic(idx, []byte(loc.RelPath()), 0o644); err != nil {
		return "", fmt.Errorf("writing index for %s: %w", loc, err)
	}
	return target, nil
}

// indexPath shards by the first two hex characters to keep directories small.
func (s *Store) indexPath(sum Checksum) string {
	return filepath.Join(s.Root, ".index", string(sum.Algorithm), shard(sum.Hex), sum.Hex)
}

func (s *Store) lockPath(loc Location) string {
	return filepath.Join(s.Root, ".locks", filepath.FromSlash(loc.RelPath())+".lock")
}

func removeStaleChecksums(target string, data []byte, keep Algorithm) error {
	for _, algo := range Algorithms {
		if algo == keep {
			continue
		}
		side := target + "." + string(algo)
		raw, err := os.ReadFile(side)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err == nil {
			if sum, perr := ParseChecksumFile(algo, raw); perr == nil && sum.Matches(data) {
				continue
			}
		}
		if err := os.Remove(side); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func shard(hex string) string {
	if len(hex) < 2 {
		return "_"
	}
	return hex[:2]
}

func writeFileAtomic(target string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(target)
	base := filepath.Base(target)
	tmp, err := os.CreateTemp(dir, "~"+base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, target)
}
