package resolve

import (
	"depweaver/internal/metadata"
)

// attributes consulted by variant selection; any other attribute counts as
// "unused" when breaking ties between several matching variants.
var selectionAttributes = map[string]bool{
	metadata.AttrCategory:     true,
	metadata.AttrUsage:        true,
	metadata.AttrNativeTarget: true,
	metadata.AttrPlatformType: true,
}

// selectVariants picks the variants of m that serve the platform and scope.
//
// The filters run in order: own capability, native target, documentation
// and common metadata removal, platform type (with the platform fallback),
// usage (with the scope fallback), and finally fewest unused attributes.
func selectVariants(m *metadata.Module, p Platform, s Scope) []metadata.Variant {
	var candidates []metadata.Variant
	for _, v := range m.Variants {
		if !ownCapability(m, v) || !p.nativeTargetMatches(v) {
			continue
		}
		if v.IsDocumentation() || v.IsCommonMetadata() {
			continue
		}
		candidates = append(candidates, v)
	}

	byPlatform := filterVariants(candidates, p.matchesType)
	if len(byPlatform) == 0 {
		if fb, ok := p.fallback(); ok {
			byPlatform = filterVariants(candidates, fb.matchesType)
		}
	}

	byScope := filterVariants(byPlatform, s.matchesUsage)
	if len(byScope) == 0 {
		if fb, ok := s.fallback(); ok {
			byScope = filterVariants(byPlatform, fb.matchesUsage)
		}
	}
	return fewestUnusedAttributes(byScope)
}

// exportedKeys lists group:module of every dependency of the api variants
// for p. Runtime variants repeat api dependencies, so membership here is
// what makes a runtime edge exported.
func exportedKeys(m *metadata.Module, p Platform) map[string]bool {
	keys := make(map[string]bool)
	for _, v := range selectVariants(m, p, Compile) {
		if !Compile.matchesUsage(v) {
			continue
		}
		for _, d := range v.Dependencies {
			keys[d.Group+":"+d.Module] = true
		}
		if v.AvailableAt != nil {
			keys[v.AvailableAt.Group+":"+v.AvailableAt.Module] = true
		}
	}
	return keys
}

func ownCapability(m *metadata.Module, v metadata.Variant) bool {
	if len(v.Capabilities) == 0 {
		return true
	}
	if len(v.Capabilities) != 1 {
		return false
	}
	c := v.Capabilities[0]
	return c.Group == m.Component.Group && c.Name == m.Component.Module
}

func filterVariants(in []metadata.Variant, keep func(metadata.Variant) bool) []metadata.Variant {
	var out []metadata.Variant
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func fewestUnusedAttributes(in []metadata.Variant) []metadata.Variant {
	if len(in) <= 1 {
		return in
	}
	unused := func(v metadata.Variant) int {
		n := 0
		for k := range v.Attributes {
			if !selectionAttributes[k] {
				n++
			}
		}
		return n
	}
	least := unused(in[0])
	for _, v := range in[1:] {
		if n := unused(v); n < least {
			least = n
		}
	}
	out := filterVariants(in, func(v metadata.Variant) bool { return unused(v) == least })
	if len(out) == 1 {
		return out
	}
	return in
}

// isPlatformVariant reports Gradle platform (BOM-like) variants.
func isPlatformVariant(v metadata.Variant) bool {
	switch v.Attribute(metadata.AttrCategory) {
	case "platform", "enforced-platform":
		return true
	default:
		return false
	}
}
