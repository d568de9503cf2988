package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depweaver/internal/config"
	"depweaver/internal/resolve"
)

func testEnv(t *testing.T) Env {
	t.Helper()
	return Env{WorkDir: t.TempDir(), HomeDir: t.TempDir(), Version: "test"}
}

func TestBuildInvocation_DeterministicStruct(t *testing.T) {
	env := testEnv(t)
	g := globalFlags{cacheDir: "./cache/..//cache", metricsFile: "out/../metrics.prom"}
	r := resolveFlags{scope: "Runtime", platform: "jvm"}
	coords := []string{" org.example:lib:1.0 ", ""}

	inv1, err := buildInvocation(env, g, r, coords)
	require.NoError(t, err)
	inv2, err := buildInvocation(env, g, r, coords)
	require.NoError(t, err)
	assert.Equal(t, inv1, inv2)

	assert.Equal(t, filepath.Join(env.WorkDir, "cache"), inv1.CacheDir)
	assert.Equal(t, filepath.Join(env.WorkDir, "metrics.prom"), inv1.Config.MetricsFile)
	assert.Equal(t, filepath.Join(env.WorkDir, config.FileName), inv1.ConfigPath)
	assert.Equal(t, resolve.Runtime, inv1.Scope)
	assert.Equal(t, resolve.JVM, inv1.Platform)
	assert.Equal(t, []string{"org.example:lib:1.0"}, inv1.Coordinates)
	assert.Equal(t, "test", inv1.Config.CodeVersion)
}

func TestBuildInvocation_ResolvesRelativePathsAgainstWorkDir_NotCwd(t *testing.T) {
	env := testEnv(t)
	otherCwd := t.TempDir()
	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(oldCwd) })
	require.NoError(t, os.Chdir(otherCwd))

	inv, err := buildInvocation(env, globalFlags{cacheDir: "cache"}, resolveFlags{platform: "jvm"}, []string{"a:b:1"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.WorkDir, "cache"), inv.CacheDir)
}

func TestBuildInvocation_DefaultCacheDirUnderHome(t *testing.T) {
	env := testEnv(t)
	inv, err := buildInvocation(env, globalFlags{}, resolveFlags{platform: "jvm"}, []string{"a:b:1"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.HomeDir, ".cache", "depweaver"), inv.CacheDir)
}

func TestBuildInvocation_FlagsOverrideConfigFile(t *testing.T) {
	env := testEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.WorkDir, config.FileName), []byte(`
cache_dir: from-file
repositories: [/srv/maven]
log_level: info
state_backend: sqlite
fetch:
  timeout: 2s
`), 0o644))

	inv, err := buildInvocation(env, globalFlags{repositories: []string{"/srv/other"}, stateBackend: "file"},
		resolveFlags{platform: "jvm"}, []string{"a:b:1"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.WorkDir, "from-file"), inv.CacheDir)
	assert.Equal(t, []string{"/srv/other"}, inv.Config.Repositories)
	assert.Equal(t, "info", inv.Config.LogLevel)
	assert.Equal(t, config.BackendFile, inv.Config.StateBackend)
	assert.Equal(t, 2*time.Second, inv.Config.Fetch.Timeout)
}

func TestBuildInvocation_IgnoresEnvironmentVariables(t *testing.T) {
	env := testEnv(t)
	inv1, err := buildInvocation(env, globalFlags{}, resolveFlags{platform: "jvm"}, []string{"a:b:1"})
	require.NoError(t, err)

	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("MAVEN_OPTS", "-Dmaven.repo.local=/elsewhere")

	inv2, err := buildInvocation(env, globalFlags{}, resolveFlags{platform: "jvm"}, []string{"a:b:1"})
	require.NoError(t, err)
	assert.Equal(t, inv1, inv2)
}

func TestBuildInvocation_ExitCodes(t *testing.T) {
	env := testEnv(t)
	badConfig := filepath.Join(env.WorkDir, "bad.yaml")
	require.NoError(t, os.WriteFile(badConfig, []byte("unknown_key: 1\n"), 0o644))

	tests := []struct {
		name   string
		env    Env
		g      globalFlags
		r      resolveFlags
		coords []string
		want   int
	}{
		{"relative workdir", Env{WorkDir: "relative"}, globalFlags{}, resolveFlags{platform: "jvm"}, []string{"a:b:1"}, ExitInvalidInvocation},
		{"unknown scope", env, globalFlags{}, resolveFlags{scope: "provided", platform: "jvm"}, []string{"a:b:1"}, ExitInvalidInvocation},
		{"unknown platform", env, globalFlags{}, resolveFlags{platform: "windows"}, []string{"a:b:1"}, ExitInvalidInvocation},
		{"umbrella platform", env, globalFlags{}, resolveFlags{platform: "ios"}, []string{"a:b:1"}, ExitInvalidInvocation},
		{"no coordinates", env, globalFlags{}, resolveFlags{platform: "jvm"}, []string{" "}, ExitInvalidInvocation},
		{"bad log level flag", env, globalFlags{logLevel: "loud"}, resolveFlags{platform: "jvm"}, []string{"a:b:1"}, ExitInvalidInvocation},
		{"missing explicit config", env, globalFlags{configPath: "nope.yaml"}, resolveFlags{platform: "jvm"}, []string{"a:b:1"}, ExitConfigError},
		{"invalid config file", env, globalFlags{configPath: badConfig}, resolveFlags{platform: "jvm"}, []string{"a:b:1"}, ExitConfigError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildInvocation(tt.env, tt.g, tt.r, tt.coords)
			require.Error(t, err)
			assert.Equal(t, tt.want, ExitCode(err))
		})
	}
}

func TestBuildInvocation_UmbrellaPlatformNamesLeaves(t *testing.T) {
	_, err := buildInvocation(testEnv(t), globalFlags{}, resolveFlags{platform: "ios"}, []string{"a:b:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iosArm64, iosSimulatorArm64, iosX64")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
	assert.Equal(t, ExitInternalError, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitInvalidInvocation, ExitCode(&InvocationError{Message: "no code"}))
	assert.Equal(t, ExitConfigError, ExitCode(configErrorf("bad")))
	wrapped := &InvocationError{ExitCode: ExitResolutionFailure, Message: "failed"}
	assert.Equal(t, ExitResolutionFailure, ExitCode(errors.Join(errors.New("context"), wrapped)))
}
