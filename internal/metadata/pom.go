// Package metadata parses the two descriptor formats found in Maven
// repositories: POM files and Gradle module metadata.
package metadata

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// GradleMetadataMarker is the comment Gradle writes into POMs that have a
// richer .module file published next to them.
const GradleMetadataMarker = "do_not_remove: published-with-gradle-metadata"

// HasGradleMetadataMarker reports whether a POM points at module metadata.
func HasGradleMetadataMarker(pom []byte) bool {
	return bytes.Contains(pom, []byte(GradleMetadataMarker))
}

// Project is the subset of a POM needed for dependency resolution.
type Project struct {
	Parent               *Parent      `xml:"parent"`
	GroupID              string       `xml:"groupId"`
	ArtifactID           string       `xml:"artifactId"`
	Version              string       `xml:"version"`
	Packaging            string       `xml:"packaging"`
	Properties           Properties   `xml:"properties"`
	Dependencies         []Dependency `xml:"dependencies>dependency"`
	DependencyManagement []Dependency `xml:"dependencyManagement>dependencies>dependency"`
}

// Parent references a parent POM.
type Parent struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
}

// Dependency is one <dependency> element.
type Dependency struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
	Type       string `xml:"type"`
	Classifier string `xml:"classifier"`
	Scope      string `xml:"scope"`
	Optional   string `xml:"optional"`
}

// IsOptional reports whether the dependency is marked optional.
func (d Dependency) IsOptional() bool {
	return strings.EqualFold(strings.TrimSpace(d.Optional), "true")
}

// Key is group:artifact.
func (d Dependency) Key() string {
	return d.GroupID + ":" + d.ArtifactID
}

// Properties holds <properties> children by element name.
type Properties map[string]string

func (p *Properties) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	out := make(Properties)
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var value string
			if err := d.DecodeElement(&value, &t); err != nil {
				return err
			}
			out[t.Name.Local] = strings.TrimSpace(value)
		case xml.EndElement:
			*p = out
			return nil
		}
	}
}

// ParsePOM decodes a POM document.
func ParsePOM(data []byte) (*Project, error) {
	var p Project
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse pom: %w", err)
	}
	p.trim()
	return &p, nil
}

func (p *Project) trim() {
	p.GroupID = strings.TrimSpace(p.GroupID)
	p.ArtifactID = strings.TrimSpace(p.ArtifactID)
	p.Version = strings.TrimSpace(p.Version)
	p.Packaging = strings.TrimSpace(p.Packaging)
	if p.Parent != nil {
		p.Parent.GroupID = strings.TrimSpace(p.Parent.GroupID)
		p.Parent.ArtifactID = strings.TrimSpace(p.Parent.ArtifactID)
		p.Parent.Version = strings.TrimSpace(p.Parent.Version)
	}
	for _, deps := range [][]Dependency{p.Dependencies, p.DependencyManagement} {
		for i := range deps {
			d := &deps[i]
			d.GroupID = strings.TrimSpace(d.GroupID)
			d.ArtifactID = strings.TrimSpace(d.ArtifactID)
			d.Version = strings.TrimSpace(d.Version)
			d.Type = strings.TrimSpace(d.Type)
			d.Classifier = strings.TrimSpace(d.Classifier)
			d.Scope = strings.TrimSpace(d.Scope)
		}
	}
}

// EffectiveGroupID falls back to the parent's group.
func (p *Project) EffectiveGroupID() string {
	if p.GroupID == "" && p.Parent != nil {
		return p.Parent.GroupID
	}
	return p.GroupID
}

// EffectiveVersion falls back to the parent's version.
func (p *Project) EffectiveVersion() string {
	if p.Version == "" && p.Parent != nil {
		return p.Parent.Version
	}
	return p.Version
}

// MergeParent returns a copy of p with inherited values from parent filled
// in. Values declared in p win over inherited ones.
func (p *Project) MergeParent(parent *Project) *Project {
	out := *p
	if parent == nil {
		return &out
	}
	if out.GroupID == "" {
		out.GroupID = parent.EffectiveGroupID()
	}
	if out.Version == "" {
		out.Version = parent.EffectiveVersion()
	}
	props := make(Properties, len(parent.Properties)+len(p.Properties))
	for k, v := range parent.Properties {
		props[k] = v
	}
	for k, v := range p.Properties {
		props[k] = v
	}
	// Parent coordinates must stay reachable for ${project.parent.*}.
	props["project.parent.groupId"] = parent.EffectiveGroupID()
	props["project.parent.version"] = parent.EffectiveVersion()
	out.Properties = props

	out.Dependencies = append(append([]Dependency(nil), p.Dependencies...), parent.Dependencies...)
	out.DependencyManagement = append(append([]Dependency(nil), p.DependencyManagement...), parent.DependencyManagement...)
	return &out
}

// ManagedVersion returns the dependencyManagement version for group:artifact.
// The first entry wins, so a child's management overrides its parent's.
func (p *Project) ManagedVersion(key string) (string, bool) {
	for _, d := range p.DependencyManagement {
		if d.Key() == key && d.Version != "" && d.Scope != "import" {
			return d.Version, true
		}
	}
	return "", false
}

// Imports lists the BOMs imported through dependencyManagement.
func (p *Project) Imports() []Dependency {
	var out []Dependency
	for _, d := range p.DependencyManagement {
		if d.Scope == "import" && d.Version != "" {
			out = append(out, d)
		}
	}
	return out
}

// Expand substitutes ${...} references in every string field that is used
// for resolution.
func (p *Project) Expand() *Project {
	out := *p
	out.GroupID = p.expand(p.GroupID)
	out.ArtifactID = p.expand(p.ArtifactID)
	out.Version = p.expand(p.Version)
	out.Dependencies = p.expandAll(p.Dependencies)
	out.DependencyManagement = p.expandAll(p.DependencyManagement)
	return &out
}

func (p *Project) expandAll(deps []Dependency) []Dependency {
	if deps == nil {
		return nil
	}
	out := make([]Dependency, len(deps))
	for i, d := range deps {
		d.GroupID = p.expand(d.GroupID)
		d.ArtifactID = p.expand(d.ArtifactID)
		d.Version = p.expand(d.Version)
		d.Classifier = p.expand(d.Classifier)
		d.Scope = p.expand(d.Scope)
		d.Type = p.expand(d.Type)
		out[i] = d
	}
	return out
}

// maxExpansionDepth bounds nested property references.
const maxExpansionDepth = 10

func (p *Project) expand(s string) string {
	for i := 0; i < maxExpansionDepth && strings.Contains(s, "${"); i++ {
		next := p.expandOnce(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func (p *Project) expandOnce(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		end += start
		name := s[start+2 : end]
		b.WriteString(s[:start])
		if v, ok := p.lookup(name); ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
}

func (p *Project) lookup(name string) (string, bool) {
	switch name {
	case "project.groupId", "pom.groupId", "groupId":
		return p.EffectiveGroupID(), p.EffectiveGroupID() != ""
	case "project.artifactId", "pom.artifactId", "artifactId":
		return p.ArtifactID, p.ArtifactID != ""
	case "project.version", "pom.version", "version":
		return p.EffectiveVersion(), p.EffectiveVersion() != ""
	case "project.parent.groupId", "parent.groupId":
		if p.Parent != nil {
			return p.Parent.GroupID, true
		}
	case "project.parent.version", "parent.version":
		if p.Parent != nil {
			return p.Parent.Version, true
		}
	}
	v, ok := p.Properties[name]
	return v, ok
}
