package repository

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"depweaver/internal/artifactstore"
	"depweaver/internal/coordinate"
	"depweaver/internal/metadata"
)

// Fetcher resolves files against an ordered repository list and keeps them
// in an artifact store.
//
// Repositories are tried strictly in order and the first one that serves a
// verified file wins. When every repository fails, the returned
// AggregateError lists each repository's reason, not just the last one.
type Fetcher struct {
	Client *Client
	Store  *artifactstore.Store

	// Logger receives debug events. If nil, logging is disabled.
	Logger *zap.Logger

	// Observe, if set, is called with every location the fetcher looks up,
	// whether it is served or not. It is called concurrently.
	Observe func(loc artifactstore.Location)
}

// File is a verified file in the artifact store.
type File struct {
	Location artifactstore.Location
	Path     string
	Checksum artifactstore.Checksum
	// Repository served the file; empty when it came from the local store.
	Repository string
}

// Metadata is the descriptor of one coordinate as published by the
// repository that owns it.
type Metadata struct {
	Coordinate coordinate.Coordinate
	// Owner is the repository that served the descriptor, if any.
	Owner string

	POM     *metadata.Project
	POMFile *File

	Module     *metadata.Module
	ModuleFile *File
}

func (f *Fetcher) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

// stored returns the store's copy of loc when it satisfies expected. A copy
// recorded under another algorithm is re-hashed against expected.
func (f *Fetcher) stored(loc artifactstore.Location, expected artifactstore.Checksum) (*File, bool) {
	p, sum, ok := f.Store.Lookup(loc)
	switch {
	case !ok:
		return nil, false
	case expected.IsZero():
		return &File{Location: loc, Path: p, Checksum: sum}, true
	case expected.Algorithm == sum.Algorithm:
		return &File{Location: loc, Path: p, Checksum: sum}, expected.Hex == sum.Hex
	}
	data, err := os.ReadFile(p)
	if err != nil || !expected.Matches(data) {
		f.logger().Debug("stored copy does not match expected checksum",
			zap.String("file", loc.FileName()), zap.String("expected", expected.String()))
		return nil, false
	}
	return &File{Location: loc, Path: p, Checksum: expected}, true
}

// FetchFile returns loc from the store if a verified copy exists, and
// otherwise downloads it from the first repository that has it.
func (f *Fetcher) FetchFile(ctx context.Context, loc artifactstore.Location, repos []Repository, expected artifactstore.Checksum) (*File, error) {
	f.observe(loc)
	if file, ok := f.stored(loc, expected); ok && !f.shadowed(file.Path, loc, repos) {
		return file, nil
	}

	agg := &AggregateError{Subject: loc.Coordinate.String()}
	for _, repo := range repos {
		file, err := f.fetchFrom(ctx, repo, loc, expected)
		if err == nil {
			return file, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		agg.Attempts = append(agg.Attempts, Attempt{Repository: repo.URL, File: loc.FileName(), Err: err})
		var mismatch *ChecksumMismatchError
		if errors.As(err, &mismatch) {
			// Tampered or corrupted content is fatal for this file.
			break
		}
	}
	return nil, agg
}

// FetchArtifact fetches the c artifact file with extension ext, verified
// against its published checksum file.
func (f *Fetcher) FetchArtifact(ctx context.Context, c coordinate.Coordinate, ext string, repos []Repository) (*File, error) {
	return f.FetchFile(ctx, artifactstore.Location{Coordinate: c, Extension: ext}, repos, artifactstore.Checksum{})
}

func (f *Fetcher) fetchFrom(ctx context.Context, repo Repository, loc artifactstore.Location, expected artifactstore.Checksum) (*File, error) {
	data, sum, err := f.Client.FetchVerified(ctx, repo, loc.RelPath(), expected)
	if err != nil {
		return nil, err
	}
	p, err := f.Store.Put(ctx, loc, data, sum)
	if err != nil {
		return nil, err
	}
	return &File{Location: loc, Path: p, Checksum: sum, Repository: repo.URL}, nil
}

// FetchMetadata downloads the descriptor of c.
//
// For each repository in order the POM is tried first. If the POM is
// missing, or says that Gradle module metadata was published, the .module
// file is tried as well. The first repository yielding a usable descriptor
// owns the coordinate.
func (f *Fetcher) FetchMetadata(ctx context.Context, c coordinate.Coordinate, repos []Repository) (*Metadata, []Attempt, error) {
	pomLoc := artifactstore.Location{Coordinate: c, Extension: "pom"}
	moduleLoc := artifactstore.Location{Coordinate: c, Extension: "module"}

	f.observe(pomLoc)
	f.observe(moduleLoc)
	// A previous run may have left verified descriptors in the store.
	if md, ok := f.fromStore(pomLoc, moduleLoc); ok && !f.shadowedMetadata(md, repos) {
		return md, nil, nil
	}

	agg := &AggregateError{Subject: c.String()}
	var warnings []Attempt
	for _, repo := range repos {
		md := &Metadata{Coordinate: c, Owner: repo.URL}

		pomFile, pomErr := f.fetchFrom(ctx, repo, pomLoc, artifactstore.Checksum{})
		var pomData []byte
		if pomErr == nil {
			md.POMFile = pomFile
			pomData, pomErr = os.ReadFile(pomFile.Path)
		}
		if pomErr == nil {
			project, err := metadata.ParsePOM(pomData)
			if err != nil {
				agg.Attempts = append(agg.Attempts, Attempt{Repository: repo.URL, File: pomLoc.FileName(), Err: err})
				continue
			}
			md.POM = project
			if !metadata.HasGradleMetadataMarker(pomData) {
				return md, warnings, nil
			}
		} else {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			agg.Attempts = append(agg.Attempts, Attempt{Repository: repo.URL, File: pomLoc.FileName(), Err: pomErr})
			var mismatch *ChecksumMismatchError
			if errors.As(pomErr, &mismatch) {
				return nil, nil, agg
			}
		}

		moduleFile, moduleErr := f.fetchFrom(ctx, repo, moduleLoc, artifactstore.Checksum{})
		if moduleErr == nil {
			var data []byte
			data, moduleErr = os.ReadFile(moduleFile.Path)
			if moduleErr == nil {
				var module *metadata.Module
				module, moduleErr = metadata.ParseModule(data)
				if moduleErr == nil {
					md.Module = module
					md.ModuleFile = moduleFile
					return md, warnings, nil
				}
			}
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		attempt := Attempt{Repository: repo.URL, File: moduleLoc.FileName(), Err: moduleErr}
		if md.POM != nil {
			// The POM alone is still usable.
			f.logger().Debug("module metadata unavailable, using pom",
				zap.String("coordinate", c.String()), zap.Error(moduleErr))
			warnings = append(warnings, attempt)
			return md, warnings, nil
		}
		agg.Attempts = append(agg.Attempts, attempt)
	}
	return nil, nil, agg
}

func (f *Fetcher) fromStore(pomLoc, moduleLoc artifactstore.Location) (*Metadata, bool) {
	pomPath, pomSum, ok := f.Store.Lookup(pomLoc)
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(pomPath)
	if err != nil {
		return nil, false
	}
	project, err := metadata.ParsePOM(data)
	if err != nil {
		return nil, false
	}
	md := &Metadata{
		Coordinate: pomLoc.Coordinate,
		POM:        project,
		POMFile:    &File{Location: pomLoc, Path: pomPath, Checksum: pomSum},
	}
	if !metadata.HasGradleMetadataMarker(data) {
		return md, true
	}
	modulePath, moduleSum, ok := f.Store.Lookup(moduleLoc)
	if !ok {
		return nil, false
	}
	moduleData, err := os.ReadFile(modulePath)
	if err != nil {
		return nil, false
	}
	module, err := metadata.ParseModule(moduleData)
	if err != nil {
		return nil, false
	}
	md.Module = module
	md.ModuleFile = &File{Location: moduleLoc, Path: modulePath, Checksum: moduleSum}
	return md, true
}

func (f *Fetcher) observe(loc artifactstore.Location) {
	if f.Observe != nil {
		f.Observe(loc)
	}
}

// shadowed reports whether a local repository now holds different content
// for loc than the store copy at storedPath. Local repositories are mutable,
// so the store only stands in for them while the bytes agree.
func (f *Fetcher) shadowed(storedPath string, loc artifactstore.Location, repos []Repository) bool {
	for _, repo := range repos {
		if !repo.IsLocal() {
			continue
		}
		local, err := readLocal(repo, loc.RelPath())
		if err != nil {
			continue
		}
		stored, err := os.ReadFile(storedPath)
		if err != nil || !bytes.Equal(local, stored) {
			f.logger().Debug("local repository changed, ignoring stored copy",
				zap.String("repository", repo.URL), zap.String("file", loc.FileName()))
			return true
		}
		return false
	}
	return false
}

func (f *Fetcher) shadowedMetadata(md *Metadata, repos []Repository) bool {
	if f.shadowed(md.POMFile.Path, md.POMFile.Location, repos) {
		return true
	}
	return md.ModuleFile != nil && f.shadowed(md.ModuleFile.Path, md.ModuleFile.Location, repos)
}

// LocalPaths maps locations to their paths in every local repository of
// repos, existing or not.
func LocalPaths(repos []Repository, locs []artifactstore.Location) []string {
	var out []string
	for _, repo := range repos {
		if !repo.IsLocal() {
			continue
		}
		for _, loc := range locs {
			out = append(out, filepath.Join(repo.LocalDir(), filepath.FromSlash(loc.RelPath())))
		}
	}
	return out
}

// Reorder puts owner first, keeping the relative order of the rest.
func Reorder(repos []Repository, owner string) []Repository {
	if owner == "" {
		return repos
	}
	out := make([]Repository, 0, len(repos))
	for _, r := range repos {
		if r.URL == owner {
			out = append(out, r)
		}
	}
	for _, r := range repos {
		if r.URL != owner {
			out = append(out, r)
		}
	}
	return out
}
