package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const childPOM = `<?xml version="1.0" encoding="UTF-8"?>
<project xmlns="http://maven.apache.org/POM/4.0.0">
  <!-- ` + GradleMetadataMarker + ` -->
  <parent>
    <groupId>org.example</groupId>
    <artifactId>parent</artifactId>
    <version>1.2</version>
  </parent>
  <artifactId>child</artifactId>
  <properties>
    <lib.version>3.0</lib.version>
    <nested>${lib.version}-final</nested>
  </properties>
  <dependencies>
    <dependency>
      <groupId>org.example</groupId>
      <artifactId>lib</artifactId>
      <version>${lib.version}</version>
    </dependency>
    <dependency>
      <groupId>${project.groupId}</groupId>
      <artifactId>sibling</artifactId>
      <version>${project.version}</version>
      <scope>runtime</scope>
    </dependency>
    <dependency>
      <groupId>org.example</groupId>
      <artifactId>managed</artifactId>
    </dependency>
    <dependency>
      <groupId>org.example</groupId>
      <artifactId>opt</artifactId>
      <version>${nested}</version>
      <optional>true</optional>
    </dependency>
  </dependencies>
</project>`

const parentPOM = `<project>
  <groupId>org.example</groupId>
  <artifactId>parent</artifactId>
  <version>1.2</version>
  <properties>
    <lib.version>1.0</lib.version>
    <managed.version>4.5</managed.version>
  </properties>
  <dependencyManagement>
    <dependencies>
      <dependency>
        <groupId>org.example</groupId>
        <artifactId>managed</artifactId>
        <version>${managed.version}</version>
      </dependency>
      <dependency>
        <groupId>org.example</groupId>
        <artifactId>bom</artifactId>
        <version>7</version>
        <type>pom</type>
        <scope>import</scope>
      </dependency>
    </dependencies>
  </dependencyManagement>
</project>`

func TestParsePOM_InheritsAndExpands(t *testing.T) {
	child, err := ParsePOM([]byte(childPOM))
	require.NoError(t, err)
	parent, err := ParsePOM([]byte(parentPOM))
	require.NoError(t, err)

	assert.Equal(t, "org.example", child.EffectiveGroupID())
	assert.Equal(t, "1.2", child.EffectiveVersion())

	p := child.MergeParent(parent).Expand()
	assert.Equal(t, "org.example", p.GroupID)
	assert.Equal(t, "1.2", p.Version)
	require.Len(t, p.Dependencies, 4)

	assert.Equal(t, "3.0", p.Dependencies[0].Version, "child properties win over parent ones")
	assert.Equal(t, "org.example", p.Dependencies[1].GroupID)
	assert.Equal(t, "1.2", p.Dependencies[1].Version)
	assert.Equal(t, "runtime", p.Dependencies[1].Scope)
	assert.Equal(t, "", p.Dependencies[2].Version)
	assert.Equal(t, "3.0-final", p.Dependencies[3].Version)
	assert.True(t, p.Dependencies[3].IsOptional())

	v, ok := p.ManagedVersion("org.example:managed")
	require.True(t, ok)
	assert.Equal(t, "4.5", v)

	imports := p.Imports()
	require.Len(t, imports, 1)
	assert.Equal(t, "org.example:bom", imports[0].Key())
}

func TestHasGradleMetadataMarker(t *testing.T) {
	assert.True(t, HasGradleMetadataMarker([]byte(childPOM)))
	assert.False(t, HasGradleMetadataMarker([]byte(parentPOM)))
}

func TestParsePOM_RejectsGarbage(t *testing.T) {
	_, err := ParsePOM([]byte("not xml at all <"))
	require.Error(t, err)
}

const kmpModule = `{
  "formatVersion": "1.1",
  "component": {"group": "org.example", "module": "kmp", "version": "1.0"},
  "variants": [
    {
      "name": "jvmApiElements-published",
      "attributes": {
        "org.gradle.category": "library",
        "org.gradle.usage": "java-api",
        "org.jetbrains.kotlin.platform.type": "jvm"
      },
      "available-at": {"url": "../../kmp-jvm/1.0/kmp-jvm-1.0.module", "group": "org.example", "module": "kmp-jvm", "version": "1.0"}
    },
    {
      "name": "iosArm64ApiElements-published",
      "attributes": {
        "org.gradle.usage": "kotlin-api",
        "org.jetbrains.kotlin.platform.type": "native",
        "org.jetbrains.kotlin.native.target": "ios_arm64",
        "org.gradle.jvm.version": 8,
        "org.jetbrains.kotlin.cinteropCommonizerArtifactType": true
      },
      "dependencies": [
        {"group": "org.example", "module": "dep", "version": {"requires": "2.0", "prefers": "1.9"}}
      ],
      "files": [
        {"name": "kmp.klib", "url": "kmp-iosarm64-1.0.klib", "size": 3, "sha256": "abc"}
      ]
    }
  ]
}`

func TestParseModule(t *testing.T) {
	m, err := ParseModule([]byte(kmpModule))
	require.NoError(t, err)
	assert.Equal(t, "kmp", m.Component.Module)
	require.Len(t, m.Variants, 2)

	jvm := m.Variants[0]
	require.NotNil(t, jvm.AvailableAt)
	assert.Equal(t, "kmp-jvm", jvm.AvailableAt.Module)

	ios := m.Variants[1]
	assert.Equal(t, "ios_arm64", ios.Attribute(AttrNativeTarget))
	assert.Equal(t, "8", ios.Attribute("org.gradle.jvm.version"))
	assert.Equal(t, "true", ios.Attribute("org.jetbrains.kotlin.cinteropCommonizerArtifactType"))
	v, ok := ios.Dependencies[0].Version.Resolve()
	require.True(t, ok)
	assert.Equal(t, "2.0", v)
	assert.Equal(t, "kmp-iosarm64-1.0.klib", ios.Files[0].URL)
}

func TestParseModule_RequiresComponent(t *testing.T) {
	_, err := ParseModule([]byte(`{"formatVersion": "1.1"}`))
	require.Error(t, err)
}

func TestVersionSpec_Resolve(t *testing.T) {
	v, ok := VersionSpec{Strictly: "1", Requires: "2"}.Resolve()
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	_, ok = VersionSpec{}.Resolve()
	assert.False(t, ok)
}
