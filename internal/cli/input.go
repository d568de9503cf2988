package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"depweaver/internal/config"
	"depweaver/internal/resolve"
)

const (
	ExitSuccess           = 0
	ExitResolutionFailure = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// Invocation is the canonical description of one command run: the config
// file merged with flags, every path absolute.
type Invocation struct {
	WorkDir    string
	ConfigPath string
	Config     config.Config
	// CacheDir is Config.CacheDir resolved against WorkDir.
	CacheDir string
	// TracePath is where the run's trace is written; empty disables it.
	TracePath string

	Scope       resolve.Scope
	Platform    resolve.Platform
	Coordinates []string
	// Sources also fetches the -sources jar of every resolved artifact.
	Sources bool
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configErrorf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitConfigError, Message: fmt.Sprintf(format, args...)}
}

// globalFlags are the persistent flags shared by every command. Empty or
// zero values leave the config file's setting alone.
type globalFlags struct {
	configPath   string
	cacheDir     string
	repositories []string
	logLevel     string
	stateBackend string
	metricsFile  string
	codeVersion  string
	tracePath    string
}

type resolveFlags struct {
	scope    string
	platform string
	exported bool
	sources  bool
}

// buildInvocation loads the configuration and adds what to resolve.
func buildInvocation(env Env, g globalFlags, r resolveFlags, coords []string) (Invocation, error) {
	inv, err := loadInvocation(env, g)
	if err != nil {
		return Invocation{}, err
	}

	scope, err := resolve.ParseScope(r.scope)
	if err != nil {
		return Invocation{}, invalidInvocationf("--scope: %v", err)
	}
	platform, err := resolve.ParsePlatform(strings.TrimSpace(r.platform))
	if err != nil {
		return Invocation{}, invalidInvocationf("--platform: %v", err)
	}
	if !platform.IsLeaf() {
		return Invocation{}, invalidInvocationf("--platform %s is an umbrella platform; pick one of %s",
			platform, joinPlatforms(platform.Leaves()))
	}

	for _, c := range coords {
		if c = strings.TrimSpace(c); c != "" {
			inv.Coordinates = append(inv.Coordinates, c)
		}
	}
	if len(inv.Coordinates) == 0 {
		return Invocation{}, invalidInvocationf("at least one coordinate is required")
	}
	inv.Scope = scope
	inv.Platform = platform
	inv.Sources = r.sources
	return inv, nil
}

// loadInvocation loads the config file and applies flags over it.
//
// Without --config, depweaver.yaml in the working directory is used when it
// exists. An explicit --config must exist.
func loadInvocation(env Env, g globalFlags) (Invocation, error) {
	workDir := filepath.Clean(env.WorkDir)
	if !filepath.IsAbs(workDir) {
		return Invocation{}, invalidInvocationf("working directory must be absolute (got %q)", env.WorkDir)
	}

	cfgPath := filepath.Join(workDir, config.FileName)
	optional := true
	if strings.TrimSpace(g.configPath) != "" {
		p, err := resolveUnderWorkDir(workDir, g.configPath)
		if err != nil {
			return Invocation{}, err
		}
		cfgPath = p
		optional = false
	}
	cfg, err := config.Load(cfgPath, optional)
	if err != nil {
		return Invocation{}, configErrorf("%v", err)
	}

	if g.cacheDir != "" {
		cfg.CacheDir = g.cacheDir
	}
	if len(g.repositories) > 0 {
		cfg.Repositories = g.repositories
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.stateBackend != "" {
		cfg.StateBackend = g.stateBackend
	}
	if g.metricsFile != "" {
		cfg.MetricsFile = g.metricsFile
	}
	if g.codeVersion != "" {
		cfg.CodeVersion = g.codeVersion
	}
	if cfg.CodeVersion == "" {
		cfg.CodeVersion = env.Version
	}
	// Flags get the same checks as the file.
	if err := cfg.Validate(); err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}
	if cfg.MetricsFile != "" {
		p, err := resolveUnderWorkDir(workDir, cfg.MetricsFile)
		if err != nil {
			return Invocation{}, err
		}
		cfg.MetricsFile = p
	}

	inv := Invocation{
		WorkDir:    workDir,
		ConfigPath: cfgPath,
		Config:     cfg,
		CacheDir:   cfg.ResolvedCacheDir(env.HomeDir, workDir),
	}
	if strings.TrimSpace(g.tracePath) != "" {
		p, err := resolveUnderWorkDir(workDir, g.tracePath)
		if err != nil {
			return Invocation{}, err
		}
		inv.TracePath = p
	}
	return inv, nil
}

// parseWhy checks a --why argument: group:artifact, no version.
func parseWhy(key string) (string, error) {
	key = strings.TrimSpace(key)
	parts := strings.Split(key, ":")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", invalidInvocationf("--why expects group:artifact (got %q)", key)
	}
	return key, nil
}

func joinPlatforms(ps []resolve.Platform) string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.String()
	}
	return strings.Join(names, ", ")
}

func resolveUnderWorkDir(workDir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalidInvocationf("path must not be empty")
	}
	clean := filepath.Clean(p)
	if clean == "." {
		return "", invalidInvocationf("path must not be '.'")
	}
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Clean(filepath.Join(workDir, clean)), nil
}

// ExitCode maps an error returned by a command to the process exit code.
// Errors that are not InvocationErrors are internal.
func ExitCode(err error) int {
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	if err == nil {
		return ExitSuccess
	}
	return ExitInternalError
}
