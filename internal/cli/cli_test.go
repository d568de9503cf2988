package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depweaver/internal/cli"
	"depweaver/internal/coordinate"
	"depweaver/internal/repository/repotest"
)

type harness struct {
	t       *testing.T
	repo    *repotest.Repo
	workDir string
	home    string
}

func newHarness(t *testing.T) *harness {
	repo := repotest.New(t)
	repo.AddLibrary("org.tinylog:slf4j-tinylog:2.7.0-M1",
		repotest.Dep{Coordinate: "org.slf4j:slf4j-api:2.0.9"},
		repotest.Dep{Coordinate: "org.tinylog:tinylog-api:2.7.0-M1"},
	)
	repo.AddLibrary("org.slf4j:slf4j-api:2.0.9")
	repo.AddLibrary("org.tinylog:tinylog-api:2.7.0-M1")
	return &harness{t: t, repo: repo, workDir: t.TempDir(), home: t.TempDir()}
}

// run invokes the CLI against the fixture repository with a cache in the
// working directory.
func (h *harness) run(args ...string) (code int, stdout, stderr string) {
	h.t.Helper()
	return h.runRaw(append([]string{"--cache-dir", "cache", "--repo", h.repo.Dir}, args...)...)
}

func (h *harness) runRaw(args ...string) (code int, stdout, stderr string) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	env := cli.Env{Stdout: &out, Stderr: &errOut, WorkDir: h.workDir, HomeDir: h.home, Version: "test"}
	code = cli.Run(context.Background(), env, args)
	return code, out.String(), errOut.String()
}

func (h *harness) metrics() string {
	h.t.Helper()
	b, err := os.ReadFile(filepath.Join(h.workDir, "metrics.prom"))
	require.NoError(h.t, err)
	return string(b)
}

func lines(s string) []string {
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func baseNames(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Base(p)
	}
	return out
}

func TestResolve_PrintsClasspath(t *testing.T) {
	h := newHarness(t)
	code, stdout, stderr := h.run("resolve", "org.tinylog:slf4j-tinylog:2.7.0-M1")
	require.Equal(t, cli.ExitSuccess, code, stderr)

	files := lines(stdout)
	assert.Equal(t, []string{
		"slf4j-tinylog-2.7.0-M1.jar",
		"slf4j-api-2.0.9.jar",
		"tinylog-api-2.7.0-M1.jar",
	}, baseNames(files))
	for _, f := range files {
		assert.True(t, filepath.IsAbs(f))
		assert.True(t, strings.HasPrefix(f, filepath.Join(h.workDir, "cache")), f)
		assert.FileExists(t, f)
	}

	classpath := filepath.Join(h.workDir, "cache", "classpath", "resolve-jvm-compile.classpath")
	b, err := os.ReadFile(classpath)
	require.NoError(t, err)
	assert.Equal(t, stdout, string(b))
}

func TestResolve_SecondRunIsUpToDate(t *testing.T) {
	h := newHarness(t)
	args := []string{"--metrics-file", "metrics.prom", "resolve", "org.tinylog:slf4j-tinylog:2.7.0-M1"}

	code, first, stderr := h.run(args...)
	require.Equal(t, cli.ExitSuccess, code, stderr)
	assert.Contains(t, h.metrics(), `depweaver_incremental_executions_total{outcome="miss"} 1`)

	code, second, stderr := h.run(args...)
	require.Equal(t, cli.ExitSuccess, code, stderr)
	assert.Equal(t, first, second)
	m := h.metrics()
	assert.Contains(t, m, `depweaver_incremental_executions_total{outcome="hit"} 1`)
	assert.NotContains(t, m, `outcome="miss"`)
	// Nothing was fetched on the cached run.
	assert.NotContains(t, m, `depweaver_repository_fetch_total{`)
}

func TestResolve_UnrelatedLocalRepositoryChangeIsUpToDate(t *testing.T) {
	h := newHarness(t)
	args := []string{"--metrics-file", "metrics.prom", "resolve", "org.tinylog:slf4j-tinylog:2.7.0-M1"}

	code, first, stderr := h.run(args...)
	require.Equal(t, cli.ExitSuccess, code, stderr)

	h.repo.AddLibrary("org.example:unrelated:1.0")
	code, second, stderr := h.run(args...)
	require.Equal(t, cli.ExitSuccess, code, stderr)
	assert.Equal(t, first, second)
	assert.Contains(t, h.metrics(), `depweaver_incremental_executions_total{outcome="hit"} 1`)
}

func TestResolve_ChangedLocalArtifactInvalidates(t *testing.T) {
	h := newHarness(t)
	args := []string{"--metrics-file", "metrics.prom", "resolve", "org.tinylog:slf4j-tinylog:2.7.0-M1"}

	code, first, stderr := h.run(args...)
	require.Equal(t, cli.ExitSuccess, code, stderr)

	rebuilt := []byte("rebuilt slf4j-api")
	h.repo.AddFile(coordinate.MustParse("org.slf4j:slf4j-api:2.0.9").Path("jar"), rebuilt, true)
	code, second, stderr := h.run(args...)
	require.Equal(t, cli.ExitSuccess, code, stderr)
	assert.Equal(t, first, second)
	assert.Contains(t, h.metrics(), `depweaver_incremental_executions_total{outcome="miss"} 1`)

	// The store copy follows the local repository.
	data, err := os.ReadFile(lines(second)[1])
	require.NoError(t, err)
	assert.Equal(t, rebuilt, data)
}

func TestResolve_DeletedArtifactInvalidates(t *testing.T) {
	h := newHarness(t)
	args := []string{"--metrics-file", "metrics.prom", "resolve", "org.tinylog:slf4j-tinylog:2.7.0-M1"}

	code, first, stderr := h.run(args...)
	require.Equal(t, cli.ExitSuccess, code, stderr)
	require.NoError(t, os.Remove(lines(first)[1]))

	code, second, stderr := h.run(args...)
	require.Equal(t, cli.ExitSuccess, code, stderr)
	assert.Equal(t, first, second)
	assert.FileExists(t, lines(second)[1])
	assert.Contains(t, h.metrics(), `depweaver_incremental_executions_total{outcome="miss"} 1`)
}

func TestResolve_SQLiteStateBackend(t *testing.T) {
	h := newHarness(t)
	args := []string{"--state-backend", "sqlite", "--metrics-file", "metrics.prom", "resolve", "org.tinylog:slf4j-tinylog:2.7.0-M1"}

	code, first, stderr := h.run(args...)
	require.Equal(t, cli.ExitSuccess, code, stderr)
	assert.FileExists(t, filepath.Join(h.workDir, "cache", "state", "state.db"))

	code, second, stderr := h.run(args...)
	require.Equal(t, cli.ExitSuccess, code, stderr)
	assert.Equal(t, first, second)
	assert.Contains(t, h.metrics(), `depweaver_incremental_executions_total{outcome="hit"} 1`)
}

func TestResolve_CorruptSQLiteStateRecomputes(t *testing.T) {
	h := newHarness(t)
	stateDB := filepath.Join(h.workDir, "cache", "state", "state.db")
	require.NoError(t, os.MkdirAll(filepath.Dir(stateDB), 0o755))
	require.NoError(t, os.WriteFile(stateDB, []byte(strings.Repeat("garbage ", 512)), 0o644))

	code, stdout, stderr := h.run("--state-backend", "sqlite", "resolve", "org.tinylog:slf4j-tinylog:2.7.0-M1")
	require.Equal(t, cli.ExitSuccess, code, stderr)
	assert.Len(t, lines(stdout), 3)
	assert.FileExists(t, stateDB+".corrupt")
}

func TestResolve_Exported(t *testing.T) {
	h := newHarness(t)
	h.repo.AddLibrary("org.example:app:1.0",
		repotest.Dep{Coordinate: "org.example:api:1.0"},
		repotest.Dep{Coordinate: "org.example:impl:1.0", Scope: "runtime"},
	)
	h.repo.AddLibrary("org.example:api:1.0")
	h.repo.AddLibrary("org.example:impl:1.0")

	code, stdout, stderr := h.run("resolve", "--scope", "runtime", "org.example:app:1.0")
	require.Equal(t, cli.ExitSuccess, code, stderr)
	assert.Equal(t, []string{"app-1.0.jar", "api-1.0.jar", "impl-1.0.jar"}, baseNames(lines(stdout)))

	code, stdout, stderr = h.run("resolve", "--scope", "runtime", "--exported", "org.example:app:1.0")
	require.Equal(t, cli.ExitSuccess, code, stderr)
	assert.Equal(t, []string{"app-1.0.jar", "api-1.0.jar"}, baseNames(lines(stdout)))
}

func TestResolve_OutputFlag(t *testing.T) {
	h := newHarness(t)
	code, stdout, stderr := h.run("resolve", "-o", "build/cp.txt", "org.slf4j:slf4j-api:2.0.9")
	require.Equal(t, cli.ExitSuccess, code, stderr)
	b, err := os.ReadFile(filepath.Join(h.workDir, "build", "cp.txt"))
	require.NoError(t, err)
	assert.Equal(t, stdout, string(b))
}

func TestResolve_FailureExitCodeAndReport(t *testing.T) {
	h := newHarness(t)
	args := []string{"--metrics-file", "metrics.prom", "resolve", "org.tinylog:slf4j-tinylog:9.9.9"}

	code, stdout, stderr := h.run(args...)
	assert.Equal(t, cli.ExitResolutionFailure, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "Unable to resolve dependencies for jvm compile classpath:")
	assert.Contains(t, stderr, "org.tinylog:slf4j-tinylog:9.9.9")
	assert.Contains(t, stderr, "slf4j-tinylog-9.9.9.pom")

	// Failures are never cached.
	code, _, _ = h.run(args...)
	assert.Equal(t, cli.ExitResolutionFailure, code)
	assert.Contains(t, h.metrics(), `depweaver_incremental_executions_total{outcome="miss"} 1`)
}

func TestResolve_InsecureRepositoryIsSkippedWithWarning(t *testing.T) {
	h := newHarness(t)
	code, stdout, stderr := h.run("--repo", "http://insecure.example.com/maven", "--repo", h.repo.Dir,
		"resolve", "org.slf4j:slf4j-api:2.0.9")
	require.Equal(t, cli.ExitSuccess, code, stderr)
	assert.Contains(t, stderr, "warning: Repository http://insecure.example.com/maven uses the insecure http protocol")
	assert.Equal(t, []string{"slf4j-api-2.0.9.jar"}, baseNames(lines(stdout)))
}

func TestDeps_Tree(t *testing.T) {
	h := newHarness(t)
	code, stdout, stderr := h.run("deps", "org.tinylog:slf4j-tinylog:2.7.0-M1")
	require.Equal(t, cli.ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "org.tinylog:slf4j-tinylog:2.7.0-M1\n")
	assert.Contains(t, stdout, "├─── org.slf4j:slf4j-api:2.0.9\n")
	assert.Contains(t, stdout, "╰─── org.tinylog:tinylog-api:2.7.0-M1\n")
}

func TestDeps_JSON(t *testing.T) {
	h := newHarness(t)
	code, stdout, stderr := h.run("deps", "--json", "--platform", "jvm", "org.tinylog:slf4j-tinylog:2.7.0-M1")
	require.Equal(t, cli.ExitSuccess, code, stderr)

	var report struct {
		Hash     string `json:"hash"`
		Platform string `json:"platform"`
		Scope    string `json:"scope"`
		Nodes    []struct {
			Coordinate string `json:"coordinate"`
		} `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.NotEmpty(t, report.Hash)
	assert.Equal(t, "jvm", report.Platform)
	assert.Equal(t, "compile", report.Scope)
	assert.Len(t, report.Nodes, 3)
}

func TestDeps_FailurePrintsTreeAndReport(t *testing.T) {
	h := newHarness(t)
	code, stdout, stderr := h.run("deps", "org.example:missing:1.0")
	assert.Equal(t, cli.ExitResolutionFailure, code)
	assert.Contains(t, stdout, "org.example:missing:1.0")
	assert.Contains(t, stderr, "Unable to resolve dependencies for jvm compile classpath:")
}

func TestResolve_Sources(t *testing.T) {
	h := newHarness(t)
	h.repo.AddFile(coordinate.MustParse("org.slf4j:slf4j-api:2.0.9:sources").Path("jar"), []byte("slf4j sources"), true)

	code, stdout, stderr := h.run("resolve", "--sources", "org.tinylog:slf4j-tinylog:2.7.0-M1")
	require.Equal(t, cli.ExitSuccess, code, stderr)
	assert.Equal(t, []string{"slf4j-api-2.0.9-sources.jar"}, baseNames(lines(stdout)))
	assert.Contains(t, stderr, "warning: Sources of org.tinylog:slf4j-tinylog:2.7.0-M1 are not available")
	assert.Contains(t, stderr, "warning: Sources of org.tinylog:tinylog-api:2.7.0-M1 are not available")
	assert.FileExists(t, filepath.Join(h.workDir, "cache", "classpath", "resolve-jvm-compile-sources.classpath"))

	// The binary classpath is a separate execution.
	code, stdout, stderr = h.run("resolve", "org.tinylog:slf4j-tinylog:2.7.0-M1")
	require.Equal(t, cli.ExitSuccess, code, stderr)
	assert.Len(t, lines(stdout), 3)
	assert.NotContains(t, stderr, "Sources of")
}

func TestDeps_Why(t *testing.T) {
	h := newHarness(t)
	h.repo.AddLibrary("org.example:other:1.0")

	code, stdout, stderr := h.run("deps", "--why", "org.slf4j:slf4j-api",
		"org.tinylog:slf4j-tinylog:2.7.0-M1", "org.example:other:1.0")
	require.Equal(t, cli.ExitSuccess, code, stderr)
	assert.Equal(t, "root\n"+
		"╰─── org.tinylog:slf4j-tinylog:2.7.0-M1\n"+
		"     ╰─── org.slf4j:slf4j-api:2.0.9\n", stdout)

	code, stdout, stderr = h.run("deps", "--why", "org.example:nope", "org.tinylog:slf4j-tinylog:2.7.0-M1")
	assert.Equal(t, cli.ExitInvalidInvocation, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "org.example:nope is not in the dependency graph")
}

func TestRun_InvalidInvocation(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no coordinates", []string{"resolve"}, "at least one coordinate is required"},
		{"unknown flag", []string{"resolve", "--nope", "a:b:1"}, "unknown flag: --nope"},
		{"unknown command", []string{"frobnicate"}, "unknown command"},
		{"umbrella platform", []string{"resolve", "--platform", "ios", "a:b:1"}, "umbrella platform"},
		{"bad state backend", []string{"--state-backend", "redis", "resolve", "a:b:1"}, "state_backend"},
		{"extra args", []string{"config", "show", "extra"}, "unknown command"},
		{"why with version", []string{"deps", "--why", "a:b:1", "a:b:1"}, "--why expects group:artifact"},
		{"why without artifact", []string{"deps", "--why", "a:", "a:b:1"}, "--why expects group:artifact"},
		{"why with json", []string{"deps", "--why", "a:b", "--json", "a:b:1"}, "--why and --json cannot be combined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := h.run(tt.args...)
			assert.Equal(t, cli.ExitInvalidInvocation, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.workDir, "depweaver.yaml"), []byte("repositorys: []\n"), 0o644))
	code, _, stderr := h.run("resolve", "a:b:1")
	assert.Equal(t, cli.ExitConfigError, code)
	assert.Contains(t, stderr, "repositorys")

	require.NoError(t, os.Remove(filepath.Join(h.workDir, "depweaver.yaml")))
	code, _, stderr = h.runRaw("--cache-dir", "cache", "--repo", "ftp://example.com/maven", "resolve", "a:b:1")
	assert.Equal(t, cli.ExitConfigError, code)
	assert.Contains(t, stderr, "unsupported protocol")
}

func TestConfig_InitAndShow(t *testing.T) {
	h := newHarness(t)
	code, stdout, stderr := h.run("config", "init")
	require.Equal(t, cli.ExitSuccess, code, stderr)
	path := filepath.Join(h.workDir, "depweaver.yaml")
	assert.Equal(t, path+"\n", stdout)
	assert.FileExists(t, path)

	code, _, stderr = h.run("config", "init")
	assert.Equal(t, cli.ExitInvalidInvocation, code)
	assert.Contains(t, stderr, "already exists")

	code, stdout, stderr = h.run("config", "show")
	require.Equal(t, cli.ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "cache_dir: "+filepath.Join(h.workDir, "cache"))
	assert.Contains(t, stdout, "- "+h.repo.Dir)
	assert.Contains(t, stdout, "timeout: 1m0s")
}

type traceFile struct {
	ResultHash string `json:"resultHash"`
	Events     []struct {
		Kind      string   `json:"kind"`
		Subject   string   `json:"subject"`
		Reason    string   `json:"reason"`
		Artifacts []string `json:"artifacts"`
	} `json:"events"`
}

func (h *harness) readTrace(name string) (traceFile, []byte) {
	h.t.Helper()
	b, err := os.ReadFile(filepath.Join(h.workDir, name))
	require.NoError(h.t, err)
	var tr traceFile
	require.NoError(h.t, json.Unmarshal(b, &tr))
	return tr, b
}

func TestResolve_Trace(t *testing.T) {
	h := newHarness(t)
	code, _, stderr := h.run("--trace", "trace.json", "resolve", "org.tinylog:slf4j-tinylog:2.7.0-M1")
	require.Equal(t, cli.ExitSuccess, code, stderr)

	first, _ := h.readTrace("trace.json")
	require.NotEmpty(t, first.ResultHash)
	kinds := make(map[string][]string)
	for _, e := range first.Events {
		kinds[e.Kind] = append(kinds[e.Kind], e.Subject)
	}
	assert.Equal(t, []string{"resolve-jvm-compile"}, kinds["ExecutionComputed"])
	assert.Equal(t, []string{
		"org.slf4j:slf4j-api:2.0.9",
		"org.tinylog:slf4j-tinylog:2.7.0-M1",
		"org.tinylog:tinylog-api:2.7.0-M1",
	}, kinds["NodeResolved"])

	code, _, stderr = h.run("--trace", "trace.json", "resolve", "org.tinylog:slf4j-tinylog:2.7.0-M1")
	require.Equal(t, cli.ExitSuccess, code, stderr)
	second, _ := h.readTrace("trace.json")
	assert.Equal(t, first.ResultHash, second.ResultHash)
	require.Len(t, second.Events, 1)
	assert.Equal(t, "ExecutionCached", second.Events[0].Kind)
}

func TestDeps_TraceIsIndependentOfCacheRoot(t *testing.T) {
	h := newHarness(t)
	code, _, stderr := h.runRaw("--cache-dir", "cache-a", "--repo", h.repo.Dir, "--trace", "a.json",
		"deps", "org.tinylog:slf4j-tinylog:2.7.0-M1")
	require.Equal(t, cli.ExitSuccess, code, stderr)
	code, _, stderr = h.runRaw("--cache-dir", "cache-b", "--repo", h.repo.Dir, "--trace", "b.json",
		"deps", "org.tinylog:slf4j-tinylog:2.7.0-M1")
	require.Equal(t, cli.ExitSuccess, code, stderr)

	_, a := h.readTrace("a.json")
	_, b := h.readTrace("b.json")
	assert.Equal(t, string(a), string(b))
}
