package metadata

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Gradle attribute names used for variant selection.
const (
	AttrCategory       = "org.gradle.category"
	AttrUsage          = "org.gradle.usage"
	AttrJvmEnvironment = "org.gradle.jvm.environment"
	AttrPlatformType   = "org.jetbrains.kotlin.platform.type"
	AttrNativeTarget   = "org.jetbrains.kotlin.native.target"
)

// Module is a Gradle module metadata document (the .module file).
type Module struct {
	FormatVersion string    `json:"formatVersion"`
	Component     Component `json:"component"`
	Variants      []Variant `json:"variants"`
}

// Component identifies the published module.
type Component struct {
	Group   string `json:"group"`
	Module  string `json:"module"`
	Version string `json:"version"`
}

// Variant is one consumable flavour of a module.
type Variant struct {
	Name         string             `json:"name"`
	Attributes   Attributes         `json:"attributes"`
	Dependencies []ModuleDependency `json:"dependencies"`
	Files        []File             `json:"files"`
	AvailableAt  *AvailableAt       `json:"available-at"`
	Capabilities []Capability       `json:"capabilities"`
}

// Attribute returns the attribute value or "".
func (v Variant) Attribute(name string) string {
	return v.Attributes[name]
}

// IsDocumentation reports variants that only carry javadoc/sources.
func (v Variant) IsDocumentation() bool {
	return v.Attribute(AttrCategory) == "documentation"
}

// IsCommonMetadata reports the Kotlin common metadata variant, which never
// contributes platform files.
func (v Variant) IsCommonMetadata() bool {
	return v.Attribute(AttrUsage) == "kotlin-api" && v.Attribute(AttrPlatformType) == "common"
}

// Attributes holds variant attributes. Gradle writes booleans and numbers
// as JSON scalars; they are kept as their string form.
type Attributes map[string]string

func (a *Attributes) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Attributes, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	*a = out
	return nil
}

// ModuleDependency is a dependency declared by a variant.
type ModuleDependency struct {
	Group   string      `json:"group"`
	Module  string      `json:"module"`
	Version VersionSpec `json:"version"`
}

// VersionSpec holds Gradle's rich version constraint.
type VersionSpec struct {
	Strictly string `json:"strictly"`
	Requires string `json:"requires"`
	Prefers  string `json:"prefers"`
}

// Resolve picks strictly, then requires, then prefers.
func (v VersionSpec) Resolve() (string, bool) {
	for _, s := range []string{v.Strictly, v.Requires, v.Prefers} {
		if s = strings.TrimSpace(s); s != "" {
			return s, true
		}
	}
	return "", false
}

// File is a file published by a variant, with inline digests.
type File struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Size   int64  `json:"size"`
	SHA512 string `json:"sha512"`
	SHA256 string `json:"sha256"`
	SHA1   string `json:"sha1"`
	MD5    string `json:"md5"`
}

// AvailableAt redirects a variant to another module, as Kotlin
// multiplatform root modules do for their platform artifacts.
type AvailableAt struct {
	URL     string `json:"url"`
	Group   string `json:"group"`
	Module  string `json:"module"`
	Version string `json:"version"`
}

// Capability is a Gradle capability declaration.
type Capability struct {
	Group   string `json:"group"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ParseModule decodes a .module document.
func ParseModule(data []byte) (*Module, error) {
	var m Module
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse module metadata: %w", err)
	}
	if m.Component.Module == "" {
		return nil, fmt.Errorf("parse module metadata: missing component")
	}
	return &m, nil
}
