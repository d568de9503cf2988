package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"depweaver/internal/diagnostics"
	"depweaver/internal/incremental"
	"depweaver/internal/repository"
	"depweaver/internal/resolve"
)

func addResolveFlags(cmd *cobra.Command, r *resolveFlags) {
	cmd.Flags().StringVarP(&r.scope, "scope", "s", "compile", "Classpath to resolve: compile, runtime or test")
	cmd.Flags().StringVarP(&r.platform, "platform", "p", "jvm", "Leaf platform, for example jvm, android, js or iosArm64")
	cmd.Flags().BoolVar(&r.sources, "sources", false, "Also fetch the sources jar of every resolved artifact")
}

func newResolveCommand(env Env, g *globalFlags) *cobra.Command {
	var r resolveFlags
	var output string
	cmd := &cobra.Command{
		Use:   "resolve [coordinates...]",
		Short: "Resolve coordinates and print the classpath, one file per line",
		Long: `Resolve group:artifact:version[:classifier] coordinates into a classpath.

The result is cached: while the coordinates, repositories, local repository
contents and resolved files are unchanged, the classpath is printed without
contacting any repository.

With --sources the sources jars are printed instead of the binaries.
Artifacts that publish no sources jar are skipped with a warning.`,
		Args: argsAtLeastOne,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := buildInvocation(env, *g, r, args)
			if err != nil {
				return err
			}
			if output != "" {
				if output, err = resolveUnderWorkDir(inv.WorkDir, output); err != nil {
					return err
				}
			}
			return runResolve(cmd.Context(), env, inv, r.exported, output)
		},
	}
	addResolveFlags(cmd, &r)
	cmd.Flags().BoolVar(&r.exported, "exported", false, "Print only the files visible to consumers of the coordinates")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Classpath file to write (default inside the cache directory)")
	return cmd
}

func newDepsCommand(env Env, g *globalFlags) *cobra.Command {
	var r resolveFlags
	var asJSON bool
	var why string
	cmd := &cobra.Command{
		Use:   "deps [coordinates...]",
		Short: "Print the resolved dependency tree",
		Long: `Print the resolved dependency tree.

With --why group:artifact only the paths that lead to that module are
printed. When the module is also requested directly at its resolved
version, paths that merely asked for an overridden version are left out.`,
		Args: argsAtLeastOne,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := buildInvocation(env, *g, r, args)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("why") {
				if asJSON {
					return invalidInvocationf("--why and --json cannot be combined")
				}
				if why, err = parseWhy(why); err != nil {
					return err
				}
			}
			return runDeps(cmd.Context(), env, inv, asJSON, why)
		},
	}
	addResolveFlags(cmd, &r)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the JSON report instead of the tree")
	cmd.Flags().StringVar(&why, "why", "", "Print only the paths leading to group:artifact")
	return cmd
}

func moniker(inv Invocation) string {
	return inv.Platform.String() + " " + inv.Scope.String() + " classpath"
}

// resolutionFailed turns a failed Result into the exit code for resolution
// failures. The message is the aggregated report.
func resolutionFailed(res *resolve.Result, inv Invocation) error {
	err := res.Err(moniker(inv))
	if err == nil {
		return nil
	}
	return &InvocationError{ExitCode: ExitResolutionFailure, Message: err.Error()}
}

func printWarnings(env Env, res *resolve.Result) {
	for _, d := range res.Diagnostics {
		if d.Severity == diagnostics.Warning {
			fmt.Fprintln(env.Stderr, "warning: "+diagnostics.RenderOne(d))
		}
	}
}

func executionID(inv Invocation) string {
	id := "resolve-" + inv.Platform.String() + "-" + inv.Scope.String()
	if inv.Sources {
		id += "-sources"
	}
	return id
}

func runResolve(ctx context.Context, env Env, inv Invocation, exported bool, output string) (err error) {
	s, err := newSession(inv, env.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	id := executionID(inv)
	if output == "" {
		output = filepath.Join(inv.CacheDir, classpathDir, id+classpathSuffix)
	}
	configuration := map[string]string{
		"coordinates":  strings.Join(inv.Coordinates, "\n"),
		"repositories": repository.SetKey(s.repos),
		"scope":        inv.Scope.String(),
		"platform":     inv.Platform.String(),
		"exported":     strconv.FormatBool(exported),
		"sources":      strconv.FormatBool(inv.Sources),
		"classpath":    output,
	}
	result, err := s.executor.Execute(ctx, id, configuration, nil, func(ctx context.Context) (incremental.ExecutionResult, error) {
		res, err := s.resolve(ctx)
		if err != nil {
			return incremental.ExecutionResult{}, err
		}
		printWarnings(env, res)
		if err := resolutionFailed(res, inv); err != nil {
			return incremental.ExecutionResult{}, err
		}
		files := selectFiles(res, exported, inv.Sources)
		if err := writeClasspath(output, files); err != nil {
			return incremental.ExecutionResult{}, err
		}
		return incremental.ExecutionResult{
			// The resolved files are outputs too, so a pruned store reruns
			// the resolution.
			Outputs: append([]string{output}, files...),
			// Remote releases are immutable; only the local repository files
			// this resolution looked up can change under us.
			DiscoveredInputs: s.localInputs(),
			OutputProperties: map[string]string{
				"hash":  res.Hash(),
				"files": strconv.Itoa(len(files)),
			},
		}, nil
	})
	if err != nil {
		var invErr *InvocationError
		if errors.As(err, &invErr) {
			return invErr
		}
		return err
	}
	recordExecution(s.trace, id, result)
	if result.UpToDate {
		s.resultHash = result.OutputProperties["hash"]
	}
	s.log.Info("classpath ready",
		zap.String("id", id),
		zap.Bool("up_to_date", result.UpToDate),
		zap.String("hash", result.OutputProperties["hash"]),
		zap.String("classpath", output))

	data, err := os.ReadFile(output)
	if err != nil {
		return fmt.Errorf("read classpath: %w", err)
	}
	_, err = env.Stdout.Write(data)
	return err
}

// selectFiles picks the printed files: binaries or sources jars, of every
// node or only of those visible to consumers.
func selectFiles(res *resolve.Result, exported, sources bool) []string {
	if !exported {
		if sources {
			return res.SourceFiles()
		}
		return res.Files()
	}
	var out []string
	for _, n := range res.Exported() {
		switch n.Kind {
		case resolve.KindMaven:
			if n.Failed {
				continue
			}
			if sources {
				out = append(out, n.Sources...)
			} else {
				out = append(out, n.Files...)
			}
		case resolve.KindBOM, resolve.KindRoot:
		}
	}
	return out
}

func writeClasspath(path string, files []string) error {
	var b strings.Builder
	for _, f := range files {
		b.WriteString(f)
		b.WriteByte('\n')
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create classpath dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".classpath-*")
	if err != nil {
		return fmt.Errorf("write classpath: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("write classpath: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write classpath: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write classpath: %w", err)
	}
	return nil
}

func runDeps(ctx context.Context, env Env, inv Invocation, asJSON bool, why string) (err error) {
	s, err := newSession(inv, env.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	res, err := s.resolve(ctx)
	if err != nil {
		return err
	}
	printWarnings(env, res)
	if why != "" {
		tree, ok := res.Why(why)
		if !ok {
			if err := resolutionFailed(res, inv); err != nil {
				return err
			}
			return invalidInvocationf("%s is not in the dependency graph", why)
		}
		if _, err := fmt.Fprint(env.Stdout, tree); err != nil {
			return err
		}
	} else if asJSON {
		data, err := res.Report()
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		if _, err := fmt.Fprintf(env.Stdout, "%s\n", data); err != nil {
			return err
		}
	} else if _, err := fmt.Fprint(env.Stdout, res.Tree()); err != nil {
		return err
	}
	return resolutionFailed(res, inv)
}
