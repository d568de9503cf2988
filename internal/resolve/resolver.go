// Package resolve expands requested library coordinates into a
// conflict-free dependency graph for one platform and scope.
//
// Resolution runs in passes. Each pass walks the graph breadth-first from
// the roots, fetching the metadata of a whole layer concurrently and then
// attaching children in declaration order, so the graph shape never depends
// on fetch timing. After a pass every group:artifact with several declared
// versions is pinned to the highest one and the graph is rebuilt, until no
// pin changes. Problems are collected as diagnostics; only contract
// violations are returned as errors.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"depweaver/internal/artifactstore"
	"depweaver/internal/coordinate"
	"depweaver/internal/diagnostics"
	"depweaver/internal/metadata"
	"depweaver/internal/metrics"
	"depweaver/internal/repository"
	"depweaver/internal/semver"
)

const defaultConcurrency = 8

// Context is what a resolution is for.
type Context struct {
	Scope        Scope
	Platform     Platform
	Repositories []repository.Repository
	// Sources also downloads the -sources.jar of every library. A missing
	// sources jar is a warning.
	Sources bool
}

// Root is a requested coordinate.
type Root struct {
	Coordinate string
	// Scope is the classpath the root was declared for.
	Scope    Scope
	Exported bool
}

// Resolver resolves roots against repositories through a Fetcher.
type Resolver struct {
	Fetcher *repository.Fetcher

	// Logger receives debug events. If nil, logging is disabled.
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// Concurrency bounds parallel fetches per layer. Zero means 8.
	Concurrency int
}

// run is the state of one Resolve call.
type run struct {
	*Resolver
	rctx Context
	memo *memo
	log  *zap.Logger
}

type declaredRoot struct {
	coord    coordinate.Coordinate
	exported bool
}

type childDecl struct {
	coord    coordinate.Coordinate
	exported bool
}

type fileRef struct {
	loc artifactstore.Location
	sum artifactstore.Checksum
}

// expansion is what fetching one node's metadata yielded.
type expansion struct {
	kind     Kind
	owner    string
	children []childDecl
	files    []fileRef
	diags    []diagnostics.Diagnostic
	failed   bool
}

// Resolve builds the graph for roots.
//
// The returned error is non-nil only for invalid requests (for example an
// umbrella platform) or cancellation. Unresolvable coordinates are reported
// through Result.Diagnostics; one failing root does not affect the others.
func (r *Resolver) Resolve(ctx context.Context, rctx Context, roots []Root) (*Result, error) {
	if r == nil || r.Fetcher == nil {
		return nil, invalidf("resolver has no fetcher")
	}
	if !rctx.Scope.valid() {
		return nil, invalidf("unknown scope %d", int(rctx.Scope))
	}
	if _, err := ParsePlatform(string(rctx.Platform)); err != nil {
		return nil, err
	}
	if !rctx.Platform.IsLeaf() {
		return nil, umbrellaError(rctx.Platform)
	}
	for _, root := range roots {
		if !root.Scope.valid() {
			return nil, invalidf("root %q has unknown scope %d", root.Coordinate, int(root.Scope))
		}
	}

	start := time.Now()
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rn := &run{Resolver: r, rctx: rctx, memo: newMemo(r.Fetcher), log: logger}

	diags := diagnostics.NewCollector()
	declared := rn.parseRoots(roots, diags)

	resolved := make(map[string]string)
	var g *graph
	for pass := 1; ; pass++ {
		var err error
		g, err = rn.build(ctx, declared, resolved)
		if err != nil {
			return nil, err
		}
		changed := false
		for _, n := range g.nodes[1:] {
			versions := g.declared[n.Key()]
			if pinned, ok := resolved[n.Key()]; ok {
				versions = append(versions, pinned)
			}
			best, _ := semver.Max(versions)
			if best != n.Resolved {
				resolved[n.Key()] = best
				changed = true
			}
		}
		rn.log.Debug("resolution pass finished",
			zap.Int("pass", pass), zap.Int("nodes", len(g.nodes)-1), zap.Bool("changed", changed))
		if !changed {
			break
		}
	}

	if err := rn.download(ctx, g); err != nil {
		return nil, err
	}
	if rctx.Sources {
		if err := rn.downloadSources(ctx, g); err != nil {
			return nil, err
		}
	}

	conflicts := rn.finish(g)
	for _, d := range g.diags.All() {
		diags.Add(d)
	}

	res := newResult(rctx, g, diags.All())
	r.Metrics.ObserveResolution(len(g.nodes)-1, conflicts, time.Since(start))
	rn.log.Debug("resolved",
		zap.String("platform", rctx.Platform.String()),
		zap.String("scope", rctx.Scope.String()),
		zap.Int("nodes", len(g.nodes)-1),
		zap.Int("conflicts", conflicts),
		zap.Int("files", len(res.Files())),
		zap.Bool("failed", res.Failed()))
	return res, nil
}

func (r *run) parseRoots(roots []Root, diags *diagnostics.Collector) []declaredRoot {
	var out []declaredRoot
	for _, root := range roots {
		c, problems, err := coordinate.Parse(root.Coordinate)
		if err != nil {
			d := diagnostics.Diagnostic{
				ID:       diagnostics.IDCoordinateSyntax,
				Severity: diagnostics.Error,
				Subject:  root.Coordinate,
				Message:  err.Error(),
			}
			var syn *coordinate.SyntaxError
			if errors.As(err, &syn) && len(syn.Positions) > 0 {
				d.Detail = strings.Split(syn.Pointer(), "\n")
				d.Ranges = ranges(syn.Positions)
			}
			diags.Add(d)
			continue
		}
		for _, p := range problems {
			diags.Add(diagnostics.Diagnostic{
				ID:       diagnostics.IDCoordinateShorthand,
				Severity: diagnostics.Warning,
				Subject:  root.Coordinate,
				Message:  p.Message,
				Detail:   strings.Split(coordinate.Pointer(p.Input, p.Positions), "\n"),
				Ranges:   ranges(p.Positions),
			})
		}
		if !root.Scope.includes(r.rctx.Scope) {
			continue
		}
		out = append(out, declaredRoot{coord: c, exported: root.Exported})
	}
	return out
}

func ranges(positions []int) []diagnostics.Range {
	out := make([]diagnostics.Range, len(positions))
	for i, p := range positions {
		out[i] = diagnostics.Range{Start: p, End: p + 1}
	}
	return out
}

func (r *run) concurrency() int {
	if r.Concurrency > 0 {
		return r.Concurrency
	}
	return defaultConcurrency
}

// build runs one breadth-first pass.
func (r *run) build(ctx context.Context, roots []declaredRoot, resolved map[string]string) (*graph, error) {
	g := newGraph()
	var layer []*Node
	for _, root := range roots {
		n, isNew := g.node(root.coord, resolved)
		g.root.Children = append(g.root.Children, Edge{Declared: root.coord, Exported: root.exported, Target: n})
		if isNew {
			g.repos[n.id] = r.rctx.Repositories
			layer = append(layer, n)
		}
	}

	for len(layer) > 0 {
		expansions := make([]expansion, len(layer))
		eg, egctx := errgroup.WithContext(ctx)
		eg.SetLimit(r.concurrency())
		for i, n := range layer {
			repos := g.repos[n.id]
			eg.Go(func() error {
				expansions[i] = r.expand(egctx, n.ResolvedCoordinate(), repos)
				return egctx.Err()
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var next []*Node
		for i, n := range layer {
			exp := expansions[i]
			n.Kind = exp.kind
			n.Owner = exp.owner
			n.Failed = exp.failed
			for _, d := range exp.diags {
				g.record(n, d)
			}
			childRepos := repository.Reorder(r.rctx.Repositories, n.Owner)
			for _, child := range exp.children {
				target, isNew := g.node(child.coord, resolved)
				if !isNew {
					if cycle := g.pathTo(target, n); cycle != nil {
						g.record(n, cycleDiagnostic(append(cycle, target)))
						continue
					}
				}
				n.Children = append(n.Children, Edge{Declared: child.coord, Exported: child.exported, Target: target})
				if isNew {
					g.discoveredBy[target.id] = n
					g.repos[target.id] = childRepos
					next = append(next, target)
				}
			}
			n.fileRefs = exp.files
		}
		layer = next
	}
	return g, nil
}

func cycleDiagnostic(path []*Node) diagnostics.Diagnostic {
	names := make([]string, len(path))
	for i, n := range path {
		names[i] = n.ResolvedCoordinate().String()
	}
	return diagnostics.Diagnostic{
		ID:       diagnostics.IDCycle,
		Severity: diagnostics.Error,
		Subject:  names[0],
		Message:  "Dependency cycle detected: " + strings.Join(names, " -> "),
	}
}

func attemptLines(err error) []string {
	if err == nil {
		return nil
	}
	var agg *repository.AggregateError
	if errors.As(err, &agg) {
		return agg.Lines()
	}
	return []string{err.Error()}
}

func unresolved(c coordinate.Coordinate, err error) diagnostics.Diagnostic {
	id := diagnostics.IDUnresolved
	if errors.Is(err, artifactstore.ErrChecksumMismatch) {
		id = diagnostics.IDChecksumMismatch
	}
	return diagnostics.Diagnostic{
		ID:       id,
		Severity: diagnostics.Error,
		Subject:  c.String(),
		Message:  "Unable to resolve dependency " + c.String(),
		Detail:   attemptLines(err),
	}
}

// expand fetches the metadata of c and derives its children and files for
// the requested platform and scope.
func (r *run) expand(ctx context.Context, c coordinate.Coordinate, repos []repository.Repository) expansion {
	res := r.memo.metadata(ctx, c, repos)
	if res.err != nil {
		if ctx.Err() != nil {
			return expansion{kind: KindMaven, failed: true}
		}
		return expansion{kind: KindMaven, failed: true, diags: []diagnostics.Diagnostic{unresolved(c, res.err)}}
	}

	var exp expansion
	md := res.md
	exp.owner = md.Owner
	if len(res.warnings) > 0 {
		lines := make([]string, len(res.warnings))
		for i, a := range res.warnings {
			lines[i] = a.Line()
		}
		exp.diags = append(exp.diags, diagnostics.Diagnostic{
			ID:       diagnostics.IDMetadataInvalid,
			Severity: diagnostics.Warning,
			Subject:  c.String(),
			Message:  "Gradle module metadata of " + c.String() + " is unavailable, using the POM",
			Detail:   lines,
		})
	}

	switch {
	case md.Module != nil:
		r.expandModule(c, md.Module, &exp)
	case md.POM != nil:
		r.expandPOM(ctx, c, md, repos, &exp)
	default:
		exp.kind = KindMaven
		exp.failed = true
		exp.diags = append(exp.diags, unresolved(c, fmt.Errorf("no metadata published for %s", c)))
	}
	return exp
}

func (r *run) expandPOM(ctx context.Context, c coordinate.Coordinate, md *repository.Metadata, repos []repository.Repository, exp *expansion) {
	exp.kind = KindMaven
	if !r.rctx.Platform.acceptsPOMOnly() {
		exp.failed = true
		exp.diags = append(exp.diags, diagnostics.Diagnostic{
			ID:       diagnostics.IDVariantMissing,
			Severity: diagnostics.Error,
			Subject:  c.String(),
			Message:  fmt.Sprintf("No variant of %s matches platform %s", c, r.rctx.Platform),
			Detail:   []string{"only a POM is published, which serves the jvm and android platforms"},
		})
		return
	}

	project, diags := r.effectiveProject(ctx, md, repos)
	exp.diags = append(exp.diags, diags...)

	switch project.Packaging {
	case "pom":
		exp.kind = KindBOM
	case "aar":
		exp.files = append(exp.files, fileRef{loc: artifactstore.Location{Coordinate: c, Extension: "aar"}})
	default:
		exp.files = append(exp.files, fileRef{loc: artifactstore.Location{Coordinate: c, Extension: "jar"}})
	}

	seen := make(map[string]bool)
	for _, d := range project.Dependencies {
		if d.IsOptional() {
			continue
		}
		follow, exported := pomEdge(d.Scope, r.rctx.Scope)
		if !follow || seen[d.Key()] {
			continue
		}
		if d.Version == "" {
			exp.diags = append(exp.diags, diagnostics.Diagnostic{
				ID:       diagnostics.IDVersionMissing,
				Severity: diagnostics.Warning,
				Subject:  c.String(),
				Message:  fmt.Sprintf("%s depends on %s, but no version is declared or managed", c, d.Key()),
			})
			continue
		}
		child := coordinate.Coordinate{Group: d.GroupID, Artifact: d.ArtifactID, Version: d.Version, Classifier: d.Classifier}
		if err := coordinate.ValidateForStorage(child); err != nil {
			exp.diags = append(exp.diags, invalidDependency(c, err))
			continue
		}
		seen[d.Key()] = true
		exp.children = append(exp.children, childDecl{coord: child, exported: exported})
	}
}

func (r *run) expandModule(c coordinate.Coordinate, m *metadata.Module, exp *expansion) {
	exp.kind = KindMaven
	variants := selectVariants(m, r.rctx.Platform, r.rctx.Scope)
	if len(variants) == 0 {
		names := make([]string, 0, len(m.Variants))
		for _, v := range m.Variants {
			names = append(names, v.Name)
		}
		exp.failed = true
		exp.diags = append(exp.diags, diagnostics.Diagnostic{
			ID:       diagnostics.IDVariantMissing,
			Severity: diagnostics.Error,
			Subject:  c.String(),
			Message:  fmt.Sprintf("No variant of %s matches platform %s and scope %s", c, r.rctx.Platform, r.rctx.Scope),
			Detail:   []string{"available variants: " + strings.Join(names, ", ")},
		})
		return
	}
	if len(variants) > 1 {
		names := make([]string, len(variants))
		for i, v := range variants {
			names[i] = v.Name
		}
		exp.diags = append(exp.diags, diagnostics.Diagnostic{
			ID:       diagnostics.IDMultipleVariants,
			Severity: diagnostics.Warning,
			Subject:  c.String(),
			Message:  "More than a single variant provided for " + c.String(),
			Detail:   []string{strings.Join(names, ", ")},
		})
	}

	exported := exportedKeys(m, r.rctx.Platform)
	seen := make(map[string]bool)
	addChild := func(child coordinate.Coordinate, isExported bool) {
		if seen[child.Key()] {
			return
		}
		if err := coordinate.ValidateForStorage(child); err != nil {
			exp.diags = append(exp.diags, invalidDependency(c, err))
			return
		}
		seen[child.Key()] = true
		exp.children = append(exp.children, childDecl{coord: child, exported: isExported})
	}

	platformOnly := true
	for _, v := range variants {
		if !isPlatformVariant(v) {
			platformOnly = false
		}
		for _, d := range v.Dependencies {
			version, ok := d.Version.Resolve()
			if !ok {
				exp.diags = append(exp.diags, diagnostics.Diagnostic{
					ID:       diagnostics.IDVersionMissing,
					Severity: diagnostics.Error,
					Subject:  c.String(),
					Message: fmt.Sprintf("Module %s depends on %s:%s, but version of the dependency could not be resolved: "+
						"neither 'requires' nor 'prefers' nor 'strictly' attributes are defined", c, d.Group, d.Module),
				})
				continue
			}
			key := d.Group + ":" + d.Module
			addChild(coordinate.Coordinate{Group: d.Group, Artifact: d.Module, Version: version}, exported[key])
		}
		if at := v.AvailableAt; at != nil {
			// The variant's content lives in another module of the same library.
			addChild(coordinate.Coordinate{Group: at.Group, Artifact: at.Module, Version: at.Version}, true)
			continue
		}
		for _, f := range v.Files {
			name := f.URL
			if name == "" {
				name = f.Name
			}
			if name == "" || strings.Contains(name, "/") || path.Clean(name) != name {
				exp.diags = append(exp.diags, diagnostics.Diagnostic{
					ID:       diagnostics.IDMetadataInvalid,
					Severity: diagnostics.Warning,
					Subject:  c.String(),
					Message:  fmt.Sprintf("Variant %s of %s publishes a file outside its directory: %q", v.Name, c, name),
				})
				continue
			}
			exp.files = append(exp.files, fileRef{
				loc: artifactstore.Location{Coordinate: c, Name: name},
				sum: strongestChecksum(f),
			})
		}
	}
	if platformOnly {
		exp.kind = KindBOM
	}
}

func invalidDependency(c coordinate.Coordinate, err error) diagnostics.Diagnostic {
	return diagnostics.Diagnostic{
		ID:       diagnostics.IDMetadataInvalid,
		Severity: diagnostics.Warning,
		Subject:  c.String(),
		Message:  "Skipping an invalid dependency of " + c.String(),
		Detail:   []string{err.Error()},
	}
}

func strongestChecksum(f metadata.File) artifactstore.Checksum {
	candidates := []struct {
		algo artifactstore.Algorithm
		hex  string
	}{
		{artifactstore.SHA512, f.SHA512},
		{artifactstore.SHA256, f.SHA256},
		{artifactstore.SHA1, f.SHA1},
		{artifactstore.MD5, f.MD5},
	}
	for _, c := range candidates {
		if c.hex != "" {
			return artifactstore.Checksum{Algorithm: c.algo, Hex: strings.ToLower(c.hex)}
		}
	}
	return artifactstore.Checksum{}
}

// download fetches the files of every library node, concurrently, and
// records failures on the node.
func (r *run) download(ctx context.Context, g *graph) error {
	type outcome struct {
		paths []string
		err   error
	}
	outcomes := make([]outcome, len(g.nodes))

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.concurrency())
	for i, n := range g.nodes {
		if n.Kind != KindMaven || n.Failed || len(n.fileRefs) == 0 {
			continue
		}
		repos := repository.Reorder(g.repos[n.id], n.Owner)
		eg.Go(func() error {
			var paths []string
			for _, ref := range n.fileRefs {
				f, err := r.Fetcher.FetchFile(egctx, ref.loc, repos, ref.sum)
				if err != nil {
					outcomes[i] = outcome{err: err}
					return egctx.Err()
				}
				paths = append(paths, f.Path)
			}
			outcomes[i] = outcome{paths: paths}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, n := range g.nodes {
		o := outcomes[i]
		if o.err != nil {
			n.Failed = true
			g.record(n, unresolved(n.ResolvedCoordinate(), o.err))
			continue
		}
		n.Files = o.paths
	}
	return nil
}

// sourcesLocation is the sources jar next to the first file of n.
func sourcesLocation(n *Node) artifactstore.Location {
	c := n.fileRefs[0].loc.Coordinate
	c.Classifier = "sources"
	return artifactstore.Location{Coordinate: c, Extension: "jar"}
}

func (r *run) downloadSources(ctx context.Context, g *graph) error {
	type outcome struct {
		path string
		err  error
	}
	outcomes := make([]outcome, len(g.nodes))

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.concurrency())
	for i, n := range g.nodes {
		if n.Kind != KindMaven || n.Failed || len(n.fileRefs) == 0 {
			continue
		}
		repos := repository.Reorder(g.repos[n.id], n.Owner)
		eg.Go(func() error {
			f, err := r.Fetcher.FetchFile(egctx, sourcesLocation(n), repos, artifactstore.Checksum{})
			if err != nil {
				outcomes[i] = outcome{err: err}
				return egctx.Err()
			}
			outcomes[i] = outcome{path: f.Path}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, n := range g.nodes {
		o := outcomes[i]
		var agg *repository.AggregateError
		switch {
		case o.path != "":
			n.Sources = []string{o.path}
		case o.err == nil:
		case errors.As(o.err, &agg) && agg.IsChecksumMismatch():
			g.record(n, unresolved(sourcesLocation(n).Coordinate, o.err))
		default:
			g.record(n, diagnostics.Diagnostic{
				ID:       diagnostics.IDSourcesUnavailable,
				Severity: diagnostics.Warning,
				Subject:  n.ResolvedCoordinate().String(),
				Message:  "Sources of " + n.ResolvedCoordinate().String() + " are not available",
				Detail:   attemptLines(o.err),
			})
		}
	}
	return nil
}

// finish computes visibility and override flags and reports conflicts.
func (r *run) finish(g *graph) int {
	// Visible: reachable from the roots over exported edges only.
	queue := []*Node{g.root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, e := range n.Children {
			if e.Exported && !e.Target.Visible {
				e.Target.Visible = true
				queue = append(queue, e.Target)
			}
		}
	}

	for _, n := range g.nodes {
		for _, e := range n.Children {
			if e.Overridden() {
				e.Target.Overridden = true
			}
		}
	}

	conflicts := 0
	for _, n := range g.nodes[1:] {
		distinct := distinctVersions(g.declared[n.Key()])
		if len(distinct) < 2 {
			continue
		}
		conflicts++
		g.diags.Add(diagnostics.Diagnostic{
			ID:       diagnostics.IDConflict,
			Severity: diagnostics.Info,
			Subject:  n.Key(),
			Message:  fmt.Sprintf("%s requested in versions %s, using %s", n.Key(), strings.Join(distinct, ", "), n.Resolved),
		})
	}
	return conflicts
}

func distinctVersions(versions []string) []string {
	seen := make(map[string]bool, len(versions))
	var out []string
	for _, v := range versions {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
