package resolve

import (
	"context"

	"depweaver/internal/coordinate"
	"depweaver/internal/diagnostics"
	"depweaver/internal/metadata"
	"depweaver/internal/repository"
)

// maxAncestors bounds parent and BOM import chains.
const maxAncestors = 10

// effectiveProject merges the parent chain into md's POM, expands
// properties, imports BOMs into dependencyManagement and fills missing
// dependency versions from it. Declared versions are never replaced.
func (r *run) effectiveProject(ctx context.Context, md *repository.Metadata, repos []repository.Repository) (*metadata.Project, []diagnostics.Diagnostic) {
	key := memoKey(md.Coordinate, repos)
	if e, ok := r.memo.project(key); ok {
		return e.project, e.diags
	}
	p, diags := r.buildProject(ctx, md, repos, 0, md.Coordinate)
	r.memo.storeProject(key, &effective{project: p, diags: diags})
	return p, diags
}

func (r *run) buildProject(ctx context.Context, md *repository.Metadata, repos []repository.Repository, depth int, origin coordinate.Coordinate) (*metadata.Project, []diagnostics.Diagnostic) {
	var diags []diagnostics.Diagnostic
	tooDeep := func() {
		diags = append(diags, diagnostics.Diagnostic{
			ID:       diagnostics.IDTooManyAncestors,
			Severity: diagnostics.Warning,
			Subject:  origin.String(),
			Message:  "Project " + origin.String() + " has more than ten ancestors",
		})
	}
	// resolveRelated fetches a parent or an imported BOM, reporting failures
	// as warnings on origin.
	resolveRelated := func(role string, c coordinate.Coordinate) *metadata.Project {
		if err := coordinate.ValidateForStorage(c); err != nil {
			diags = append(diags, diagnostics.Diagnostic{
				ID:       diagnostics.IDMetadataInvalid,
				Severity: diagnostics.Warning,
				Subject:  origin.String(),
				Message:  "Invalid " + role + " reference in " + md.Coordinate.String(),
				Detail:   []string{err.Error()},
			})
			return nil
		}
		res := r.memo.metadata(ctx, c, repository.Reorder(repos, md.Owner))
		if res.err != nil || res.md.POM == nil {
			d := diagnostics.Diagnostic{
				ID:       diagnostics.IDUnresolved,
				Severity: diagnostics.Warning,
				Subject:  origin.String(),
				Message:  "Unable to resolve " + role + " " + c.String() + " of " + md.Coordinate.String(),
			}
			d.Detail = attemptLines(res.err)
			diags = append(diags, d)
			return nil
		}
		p, nested := r.buildProject(ctx, res.md, repos, depth+1, origin)
		diags = append(diags, nested...)
		return p
	}

	p := md.POM
	if p.Parent != nil {
		if depth >= maxAncestors {
			tooDeep()
		} else {
			pc := coordinate.Coordinate{Group: p.Parent.GroupID, Artifact: p.Parent.ArtifactID, Version: p.Parent.Version}
			p = p.MergeParent(resolveRelated("parent POM", pc))
		}
	}
	p = p.Expand()

	managed := make([]metadata.Dependency, 0, len(p.DependencyManagement))
	for _, d := range p.DependencyManagement {
		if d.Scope != "import" {
			managed = append(managed, d)
			continue
		}
		if d.Version == "" {
			continue
		}
		if depth >= maxAncestors {
			tooDeep()
			continue
		}
		bom := resolveRelated("BOM", coordinate.Coordinate{Group: d.GroupID, Artifact: d.ArtifactID, Version: d.Version})
		if bom != nil {
			managed = append(managed, bom.DependencyManagement...)
		}
	}
	p.DependencyManagement = managed

	deps := make([]metadata.Dependency, len(p.Dependencies))
	for i, d := range p.Dependencies {
		if d.Version == "" {
			if v, ok := p.ManagedVersion(d.Key()); ok {
				d.Version = v
			}
		}
		deps[i] = d
	}
	p.Dependencies = deps
	return p, diags
}
