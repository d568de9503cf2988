// Package cli implements the depweaver command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Env is what a command run may touch outside its arguments. Nothing is
// read from the process environment directly.
type Env struct {
	Stdout io.Writer
	Stderr io.Writer
	// WorkDir must be absolute. Relative paths in flags and the config file
	// resolve against it.
	WorkDir string
	HomeDir string
	// Version is the default code version of cached executions.
	Version string
}

// Run executes args (without argv[0]) and returns the exit code. Errors are
// printed to env.Stderr.
func Run(ctx context.Context, env Env, args []string) int {
	started := false
	root := newRootCommand(env, &started)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var invErr *InvocationError
	if !errors.As(err, &invErr) && !started {
		// Cobra rejected the arguments before any command ran.
		err = invalidInvocationf("%v", err)
	}
	if errors.As(err, &invErr) {
		fmt.Fprintln(env.Stderr, invErr.Message)
	} else {
		fmt.Fprintln(env.Stderr, "error:", err)
	}
	return ExitCode(err)
}

func newRootCommand(env Env, started *bool) *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "depweaver",
		Short:         "Resolve Maven and Kotlin Multiplatform dependencies",
		Version:       env.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			*started = true
		},
	}
	root.SetOut(env.Stdout)
	root.SetErr(env.Stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return invalidInvocationf("%v", err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "Config file (default ./depweaver.yaml when present)")
	pf.StringVar(&g.cacheDir, "cache-dir", "", "Artifact and state cache directory")
	pf.StringArrayVar(&g.repositories, "repo", nil, "Repository URL or directory, in priority order (repeatable)")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.StringVar(&g.stateBackend, "state-backend", "", "Incremental state backend: file or sqlite")
	pf.StringVar(&g.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
	pf.StringVar(&g.codeVersion, "code-version", "", "Override the code version of cached executions")
	pf.StringVar(&g.tracePath, "trace", "", "Write the canonical JSON trace of the run to this file")

	root.AddCommand(
		newResolveCommand(env, &g),
		newDepsCommand(env, &g),
		newConfigCommand(env, &g),
	)
	return root
}

// argsAtLeastOne rejects a missing coordinate with the invocation exit code.
func argsAtLeastOne(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return invalidInvocationf("%s: at least one coordinate is required", cmd.CommandPath())
	}
	return nil
}
