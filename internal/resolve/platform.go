package resolve

import (
	"sort"

	"depweaver/internal/metadata"
)

// Platform is a compilation target. Only leaf platforms can be resolved.
type Platform string

const (
	JVM               Platform = "jvm"
	Android           Platform = "android"
	JS                Platform = "js"
	Wasm              Platform = "wasm"
	LinuxX64          Platform = "linuxX64"
	LinuxArm64        Platform = "linuxArm64"
	MacosX64          Platform = "macosX64"
	MacosArm64        Platform = "macosArm64"
	IosArm64          Platform = "iosArm64"
	IosX64            Platform = "iosX64"
	IosSimulatorArm64 Platform = "iosSimulatorArm64"
	MingwX64          Platform = "mingwX64"

	Common Platform = "common"
	Native Platform = "native"
	Apple  Platform = "apple"
	Ios    Platform = "ios"
	Linux  Platform = "linux"
)

type platformInfo struct {
	// kotlinType is the org.jetbrains.kotlin.platform.type value.
	kotlinType string
	// nativeTarget is the org.jetbrains.kotlin.native.target value.
	nativeTarget string
	parent       Platform
}

var platforms = map[Platform]platformInfo{
	JVM:               {kotlinType: "jvm", parent: Common},
	Android:           {kotlinType: "androidJvm", parent: Common},
	JS:                {kotlinType: "js", parent: Common},
	Wasm:              {kotlinType: "wasm", parent: Common},
	LinuxX64:          {kotlinType: "native", nativeTarget: "linux_x64", parent: Linux},
	LinuxArm64:        {kotlinType: "native", nativeTarget: "linux_arm64", parent: Linux},
	MacosX64:          {kotlinType: "native", nativeTarget: "macos_x64", parent: Apple},
	MacosArm64:        {kotlinType: "native", nativeTarget: "macos_arm64", parent: Apple},
	IosArm64:          {kotlinType: "native", nativeTarget: "ios_arm64", parent: Ios},
	IosX64:            {kotlinType: "native", nativeTarget: "ios_x64", parent: Ios},
	IosSimulatorArm64: {kotlinType: "native", nativeTarget: "ios_simulator_arm64", parent: Ios},
	MingwX64:          {kotlinType: "native", nativeTarget: "mingw_x64", parent: Native},

	Common: {kotlinType: "common"},
	Native: {kotlinType: "native", parent: Common},
	Apple:  {kotlinType: "native", parent: Native},
	Ios:    {kotlinType: "native", parent: Apple},
	Linux:  {kotlinType: "native", parent: Native},
}

// ParsePlatform validates a platform name.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	if _, ok := platforms[p]; !ok {
		return "", invalidf("unknown platform %q", s)
	}
	return p, nil
}

func (p Platform) String() string { return string(p) }

// IsLeaf reports whether p is a concrete target rather than a group.
func (p Platform) IsLeaf() bool {
	if _, ok := platforms[p]; !ok {
		return false
	}
	for _, info := range platforms {
		if info.parent == p {
			return false
		}
	}
	return true
}

// Leaves lists the leaf platforms below p, sorted by name.
func (p Platform) Leaves() []Platform {
	var out []Platform
	for candidate := range platforms {
		if candidate.IsLeaf() && candidate.isUnder(p) {
			out = append(out, candidate)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p Platform) isUnder(ancestor Platform) bool {
	for cur := p; cur != ""; cur = platforms[cur].parent {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// acceptsPOMOnly reports whether a coordinate without module metadata, which
// is a plain Java library, can serve p.
func (p Platform) acceptsPOMOnly() bool {
	return p == JVM || p == Android
}

// matchesType reports whether v targets p by platform type. Plain Java
// libraries published with Gradle metadata carry no Kotlin platform type
// and are matched through org.gradle.jvm.environment instead.
func (p Platform) matchesType(v metadata.Variant) bool {
	kotlinType := v.Attribute(metadata.AttrPlatformType)
	env := v.Attribute(metadata.AttrJvmEnvironment)
	switch p {
	case JVM:
		return kotlinType == "jvm" || (kotlinType == "" && env != "android")
	case Android:
		return kotlinType == "androidJvm" || (kotlinType == "" && env == "android")
	default:
		return kotlinType == platforms[p].kotlinType
	}
}

// fallback is the platform whose variants an artifact without variants for
// p may use instead.
func (p Platform) fallback() (Platform, bool) {
	if p == Android {
		return JVM, true
	}
	return "", false
}

// nativeTargetMatches lets non-native variants and native variants without
// a target through; native variants for another target are dropped.
func (p Platform) nativeTargetMatches(v metadata.Variant) bool {
	if v.Attribute(metadata.AttrPlatformType) != "native" {
		return true
	}
	target := v.Attribute(metadata.AttrNativeTarget)
	return target == "" || target == platforms[p].nativeTarget
}
