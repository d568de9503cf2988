package resolve

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"depweaver/internal/coordinate"
	"depweaver/internal/diagnostics"
	"depweaver/internal/metadata"
	"depweaver/internal/repository"
)

type fetched struct {
	md       *repository.Metadata
	warnings []repository.Attempt
	err      error
}

type effective struct {
	project *metadata.Project
	diags   []diagnostics.Diagnostic
}

// memo shares metadata fetches between concurrent branches of one
// resolution. Entries are keyed by coordinate and ordered repository list,
// because the owner of a parent is tried first for its children.
type memo struct {
	fetcher *repository.Fetcher
	group   singleflight.Group

	mu       sync.Mutex
	fetches  map[string]*fetched
	projects map[string]*effective
}

func newMemo(f *repository.Fetcher) *memo {
	return &memo{
		fetcher:  f,
		fetches:  make(map[string]*fetched),
		projects: make(map[string]*effective),
	}
}

func memoKey(c coordinate.Coordinate, repos []repository.Repository) string {
	return c.String() + "@" + repository.SetKey(repos)
}

func (m *memo) metadata(ctx context.Context, c coordinate.Coordinate, repos []repository.Repository) *fetched {
	key := memoKey(c, repos)
	m.mu.Lock()
	if r, ok := m.fetches[key]; ok {
		m.mu.Unlock()
		return r
	}
	m.mu.Unlock()

	v, _, _ := m.group.Do(key, func() (any, error) {
		md, warnings, err := m.fetcher.FetchMetadata(ctx, c, repos)
		r := &fetched{md: md, warnings: warnings, err: err}
		// A cancelled fetch says nothing about the coordinate.
		if ctx.Err() == nil {
			m.mu.Lock()
			m.fetches[key] = r
			m.mu.Unlock()
		}
		return r, nil
	})
	return v.(*fetched)
}

func (m *memo) project(key string) (*effective, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.projects[key]
	return e, ok
}

func (m *memo) storeProject(key string, e *effective) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[key] = e
}
