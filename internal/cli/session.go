package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"depweaver/internal/artifactstore"
	"depweaver/internal/config"
	"depweaver/internal/diagnostics"
	"depweaver/internal/incremental"
	"depweaver/internal/logging"
	"depweaver/internal/metrics"
	"depweaver/internal/repository"
	"depweaver/internal/resolve"
	"depweaver/internal/trace"
)

// Layout of the cache directory.
const (
	stateDirName    = "state"
	stateDBName     = "state.db"
	classpathDir    = "classpath"
	classpathSuffix = ".classpath"
)

// session owns the components built for one command run.
type session struct {
	inv      Invocation
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	repos    []repository.Repository
	resolver *resolve.Resolver
	executor *incremental.Executor

	trace      *trace.Recorder
	resultHash string

	touchedMu sync.Mutex
	touched   map[string]artifactstore.Location

	closers []io.Closer
}

func newSession(inv Invocation, stderr io.Writer) (*session, error) {
	log, err := logging.New(inv.Config.LogLevel, stderr)
	if err != nil {
		return nil, invalidInvocationf("%v", err)
	}
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	s := &session{inv: inv, log: log, registry: registry, metrics: m, trace: trace.NewRecorder()}

	raw := make([]repository.Repository, len(inv.Config.Repositories))
	for i, u := range inv.Config.Repositories {
		raw[i] = repository.Repository{URL: u}
	}
	diags := diagnostics.NewCollector()
	s.repos = repository.Normalize(raw, diags)
	for _, d := range diags.Warnings() {
		fmt.Fprintln(stderr, "warning: "+diagnostics.RenderOne(d))
	}
	if len(s.repos) == 0 {
		return nil, configErrorf("no usable repositories configured")
	}

	store, err := artifactstore.New(inv.CacheDir, log.Named("store"))
	if err != nil {
		return nil, configErrorf("%v", err)
	}
	client := repository.NewClient(repository.ClientOptions{
		Timeout: inv.Config.Fetch.Timeout,
		Retries: inv.Config.Fetch.Retries,
		Logger:  log.Named("client"),
		Metrics: m,
	})
	s.resolver = &resolve.Resolver{
		Fetcher: &repository.Fetcher{Client: client, Store: store, Logger: log.Named("fetch"), Observe: s.touch},
		Logger:  log.Named("resolve"),
		Metrics: m,
	}

	stateRoot := filepath.Join(inv.CacheDir, stateDirName)
	s.executor = &incremental.Executor{
		StateRoot:   stateRoot,
		CodeVersion: inv.Config.CodeVersion,
		Logger:      log.Named("incremental"),
		Metrics:     m,
	}
	if inv.Config.StateBackend == config.BackendSQLite {
		db, err := incremental.OpenSQLiteStateStore(filepath.Join(stateRoot, stateDBName), log.Named("incremental"))
		if err != nil {
			return nil, configErrorf("%v", err)
		}
		s.executor.Store = db
		s.closers = append(s.closers, db)
	}
	return s, nil
}

func (s *session) touch(loc artifactstore.Location) {
	s.touchedMu.Lock()
	defer s.touchedMu.Unlock()
	if s.touched == nil {
		s.touched = make(map[string]artifactstore.Location)
	}
	s.touched[loc.RelPath()] = loc
}

// localInputs are the paths in local repositories of every file the run
// looked up, in sorted order.
func (s *session) localInputs() []string {
	s.touchedMu.Lock()
	locs := make([]artifactstore.Location, 0, len(s.touched))
	for _, loc := range s.touched {
		locs = append(locs, loc)
	}
	s.touchedMu.Unlock()
	paths := repository.LocalPaths(s.repos, locs)
	sort.Strings(paths)
	return paths
}

func (s *session) context() resolve.Context {
	return resolve.Context{Scope: s.inv.Scope, Platform: s.inv.Platform, Repositories: s.repos, Sources: s.inv.Sources}
}

func (s *session) roots() []resolve.Root {
	out := make([]resolve.Root, len(s.inv.Coordinates))
	for i, c := range s.inv.Coordinates {
		out[i] = resolve.Root{Coordinate: c, Scope: s.inv.Scope, Exported: true}
	}
	return out
}

func (s *session) resolve(ctx context.Context) (*resolve.Result, error) {
	res, err := s.resolver.Resolve(ctx, s.context(), s.roots())
	var ctxErr *resolve.ContextError
	if errors.As(err, &ctxErr) {
		return nil, invalidInvocationf("%v", err)
	}
	if err != nil {
		return nil, err
	}
	s.resultHash = res.Hash()
	recordResolution(s.trace, res)
	return res, nil
}

// close releases resources and writes the metrics file when one is
// configured.
func (s *session) close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	if path := s.inv.TracePath; path != "" {
		if err := writeTrace(path, s.trace, s.resultHash); err != nil && first == nil {
			first = err
		}
	}
	if path := s.inv.Config.MetricsFile; path != "" {
		if err := prometheus.WriteToTextfile(path, s.registry); err != nil && first == nil {
			first = fmt.Errorf("write metrics: %w", err)
		}
	}
	_ = s.log.Sync()
	return first
}
