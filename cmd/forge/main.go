// Command forge is the CLI surface (A2): a thin JSON-RPC client that
// spawns/reuses a daemon process via the Supervisor and forwards each
// subcommand to the daemon's corresponding RPC method, per spec.md §6's
// "CLI surface consumed by the daemon (via RPC)". Grounded on the
// teacher's `getCmd`/cobra command-tree shape (run.go, daemon.go) with
// the in-process execution engine replaced by RPC calls.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/jbadeau/forge/internal/daemon"
	"github.com/jbadeau/forge/internal/fs"
	"github.com/jbadeau/forge/internal/rpcclient"
	"github.com/jbadeau/forge/internal/supervisor"
	"github.com/jbadeau/forge/internal/ui"
)

// Exit codes, per spec.md §6: 0 success, 1 task failure, 2
// configuration/parsing error, 3 communication error with the daemon.
const (
	exitOK            = 0
	exitTaskFailure   = 1
	exitConfigError   = 2
	exitDaemonCommErr = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:           "forge",
		Short:         "Monorepo build orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var workspaceRoot string
	root.PersistentFlags().StringVar(&workspaceRoot, "workspace", ".", "workspace root")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "daemon" {
			return nil
		}
		resolved, err := fs.ResolveWorkspaceRoot(workspaceRoot)
		if err != nil {
			return fail(exitConfigError, fmt.Errorf("resolving --workspace: %w", err))
		}
		workspaceRoot = string(resolved)
		return nil
	}

	log := hclog.New(&hclog.LoggerOptions{Name: "forge", Level: hclog.Warn, Output: os.Stderr})

	root.AddCommand(
		newDaemonCmd(log),
		newPingCmd(&workspaceRoot, log),
		newShowCmd(&workspaceRoot, log),
		newGraphCmd(&workspaceRoot, log),
		newRunCmd(&workspaceRoot, log),
		newRunManyCmd(&workspaceRoot, log),
		newCacheCmd(&workspaceRoot, log),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s%s\n", ui.ERROR_PREFIX, color.RedString(" %v", err))
		if code, ok := err.(exitCoder); ok {
			return code.ExitCode()
		}
		return exitConfigError
	}
	return exitOK
}

// exitCoder lets a command report a specific exit code via a returned
// error, per spec.md §6's exit-code table.
type exitCoder interface {
	error
	ExitCode() int
}

type codedError struct {
	code int
	err  error
}

func (c *codedError) Error() string { return c.err.Error() }
func (c *codedError) ExitCode() int { return c.code }
func (c *codedError) Unwrap() error { return c.err }

func fail(code int, err error) error { return &codedError{code: code, err: err} }

// connect spawns (or reuses) the daemon for this invocation and returns
// a ready rpcclient.Client plus a cleanup func. A spinner covers the
// handshake latency; notifications render through a progressRenderer.
func connect(log hclog.Logger) (*rpcclient.Client, func(), error) {
	pidPath, err := supervisor.PidFilePath()
	if err != nil {
		return nil, nil, fail(exitConfigError, err)
	}
	logPath, err := supervisor.LogFilePath()
	if err != nil {
		return nil, nil, fail(exitConfigError, err)
	}
	sup := supervisor.New(pidPath, logPath, nil, log)

	var spin *spinner.Spinner
	if ui.IsTTY {
		spin = spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		spin.Suffix = " connecting to daemon"
		spin.Start()
	}
	stdin, stdout, err := sup.Ensure(context.Background())
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return nil, nil, fail(exitDaemonCommErr, fmt.Errorf("starting daemon: %w", err))
	}

	render := newProgressRenderer()
	client := rpcclient.New(stdin, stdout, func(method string, params json.RawMessage) {
		switch method {
		case "$/log":
			var p struct{ Level, Message string }
			if json.Unmarshal(params, &p) == nil {
				fmt.Fprintf(os.Stderr, "%s %s\n", ui.Dim(p.Level), p.Message)
			}
		case "$/progress":
			var p struct {
				Current, Total int
				Message        string
			}
			if json.Unmarshal(params, &p) == nil {
				render.update(p.Current, p.Total, p.Message)
			}
		}
	})

	cleanup := func() {
		render.finish()
		_ = client.Close()
		_ = sup.Stop()
	}
	return client, cleanup, nil
}

// progressRenderer renders `$/progress` notifications as a progress bar
// on a TTY, or falls back to one dimmed line per update otherwise (a
// redrawing bar garbles non-interactive logs).
type progressRenderer struct {
	bar *progressbar.ProgressBar
}

func newProgressRenderer() *progressRenderer { return &progressRenderer{} }

func (r *progressRenderer) update(current, total int, message string) {
	if !ui.IsTTY {
		fmt.Fprintf(os.Stderr, "%s [%d/%d] %s\n", ui.Dim("progress"), current, total, message)
		return
	}
	if r.bar == nil || r.bar.GetMax() != total {
		r.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(message),
			progressbar.OptionClearOnFinish(),
		)
	}
	r.bar.Describe(message)
	_ = r.bar.Set(current)
}

func (r *progressRenderer) finish() {
	if r.bar != nil {
		_ = r.bar.Finish()
	}
}

func newDaemonCmd(log hclog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Runs the forge background server over stdio (internal use)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			d := &daemon.Command{Log: log}
			if code := d.Run(args); code != 0 {
				return fail(exitDaemonCommErr, fmt.Errorf("daemon exited with code %d", code))
			}
			return nil
		},
	}
}

func newPingCmd(workspaceRoot *string, log hclog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Checks that the daemon is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cleanup, err := connect(log)
			if err != nil {
				return err
			}
			defer cleanup()
			var pong string
			if err := client.Call("ping", map[string]any{}, &pong); err != nil {
				return fail(exitDaemonCommErr, err)
			}
			fmt.Println(pong)
			return nil
		},
	}
}

func newShowCmd(workspaceRoot *string, log hclog.Logger) *cobra.Command {
	showCmd := &cobra.Command{Use: "show", Short: "Inspect discovered projects"}

	showCmd.AddCommand(&cobra.Command{
		Use:   "projects",
		Short: "Lists every discovered project",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cleanup, err := connect(log)
			if err != nil {
				return err
			}
			defer cleanup()
			var projects []map[string]any
			if err := client.Call("show/projects", map[string]any{"workspaceRoot": *workspaceRoot}, &projects); err != nil {
				return fail(exitDaemonCommErr, err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(projects)
		},
	})

	showCmd.AddCommand(&cobra.Command{
		Use:   "project <name>",
		Short: "Shows one project's detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cleanup, err := connect(log)
			if err != nil {
				return err
			}
			defer cleanup()
			var proj map[string]any
			params := map[string]any{"workspaceRoot": *workspaceRoot, "projectName": args[0]}
			if err := client.Call("show/project", params, &proj); err != nil {
				return fail(exitConfigError, err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(proj)
		},
	})

	return showCmd
}

func newGraphCmd(workspaceRoot *string, log hclog.Logger) *cobra.Command {
	var dot bool
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Prints the project graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cleanup, err := connect(log)
			if err != nil {
				return err
			}
			defer cleanup()
			format := "json"
			if dot {
				format = "dot"
			}
			var result json.RawMessage
			params := map[string]any{"workspaceRoot": *workspaceRoot, "format": format}
			if err := client.Call("project/graph", params, &result); err != nil {
				return fail(exitDaemonCommErr, err)
			}
			if dot {
				var withDot struct {
					Dot string `json:"dot"`
				}
				if err := json.Unmarshal(result, &withDot); err != nil {
					return fail(exitDaemonCommErr, err)
				}
				fmt.Println(withDot.Dot)
				return nil
			}
			os.Stdout.Write(result)
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().BoolVar(&dot, "dot", false, "render as Graphviz DOT")
	return cmd
}

type runResult struct {
	SuccessCount int              `json:"successCount"`
	FailureCount int              `json:"failureCount"`
	SkippedCount int              `json:"skippedCount"`
	CachedCount  int              `json:"cachedCount"`
	Failed       []map[string]any `json:"failed"`
}

func reportRunResult(r *runResult) int {
	fmt.Printf("%s %d succeeded, %d failed, %d cached, %d skipped\n",
		ui.Bold("run:"), r.SuccessCount, r.FailureCount, r.CachedCount, r.SkippedCount)
	for _, f := range r.Failed {
		fmt.Fprintf(os.Stderr, "%s%v\n", ui.ERROR_PREFIX, f)
	}
	if r.FailureCount > 0 {
		return exitTaskFailure
	}
	return exitOK
}

func newRunCmd(workspaceRoot *string, log hclog.Logger) *cobra.Command {
	var dryRun, verbose, keepGoing bool
	var profile string
	cmd := &cobra.Command{
		Use:   "run <project> <target>",
		Short: "Runs one target for one project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cleanup, err := connect(log)
			if err != nil {
				return err
			}
			defer cleanup()
			params := map[string]any{
				"workspaceRoot": *workspaceRoot, "projectName": args[0], "target": args[1],
				"dryRun": dryRun, "verbose": verbose, "profile": profile, "keepGoing": keepGoing,
			}
			if dryRun {
				var plan json.RawMessage
				if err := client.Call("run/task", params, &plan); err != nil {
					return fail(exitDaemonCommErr, err)
				}
				os.Stdout.Write(plan)
				fmt.Println()
				return nil
			}
			var result runResult
			if err := client.Call("run/task", params, &result); err != nil {
				return fail(exitDaemonCommErr, err)
			}
			if code := reportRunResult(&result); code != exitOK {
				return fail(code, fmt.Errorf("%d task(s) failed", result.FailureCount))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the execution plan without running anything")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log this run at debug level in the daemon's own log")
	cmd.Flags().StringVar(&profile, "profile", "", "record a Chrome trace of the scheduler run")
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "don't stop admitting new tasks after a failure")
	return cmd
}

func newRunManyCmd(workspaceRoot *string, log hclog.Logger) *cobra.Command {
	var target string
	var projects, tags []string
	var all, dryRun, verbose, keepGoing bool
	var profile string

	cmd := &cobra.Command{
		Use:   "run-many",
		Short: "Runs one target across many projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cleanup, err := connect(log)
			if err != nil {
				return err
			}
			defer cleanup()
			params := map[string]any{
				"workspaceRoot": *workspaceRoot, "target": target, "projects": projects,
				"tags": tags, "all": all, "dryRun": dryRun, "verbose": verbose, "profile": profile,
				"keepGoing": keepGoing,
			}
			if dryRun {
				var plan json.RawMessage
				if err := client.Call("run/many", params, &plan); err != nil {
					return fail(exitDaemonCommErr, err)
				}
				os.Stdout.Write(plan)
				fmt.Println()
				return nil
			}
			var result runResult
			if err := client.Call("run/many", params, &result); err != nil {
				return fail(exitDaemonCommErr, err)
			}
			if code := reportRunResult(&result); code != exitOK {
				return fail(code, fmt.Errorf("%d task(s) failed", result.FailureCount))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "target name to run")
	cmd.Flags().StringSliceVar(&projects, "projects", nil, "restrict to these projects")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "restrict to projects carrying these tags")
	cmd.Flags().BoolVar(&all, "all", false, "run across every project")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the execution plan without running anything")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log this run at debug level in the daemon's own log")
	cmd.Flags().StringVar(&profile, "profile", "", "record a Chrome trace of the scheduler run")
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "don't stop admitting new tasks after a failure")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func newCacheCmd(workspaceRoot *string, log hclog.Logger) *cobra.Command {
	cacheCmd := &cobra.Command{Use: "cache", Short: "Manage the local task output cache"}

	var all, yes bool
	var hash string
	clean := &cobra.Command{
		Use:   "clean",
		Short: "Removes cached task outputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && hash == "" {
				return fail(exitConfigError, fmt.Errorf("specify --hash <hash> or --all"))
			}
			if !yes && ui.IsTTY {
				target := hash
				if all {
					target = "the entire local cache"
				}
				confirmed := false
				prompt := &survey.Confirm{Message: fmt.Sprintf("Remove %s?", target)}
				if err := survey.AskOne(prompt, &confirmed); err != nil {
					return fail(exitConfigError, err)
				}
				if !confirmed {
					fmt.Println(ui.Dim("aborted"))
					return nil
				}
			}
			client, cleanup, err := connect(log)
			if err != nil {
				return err
			}
			defer cleanup()
			var result map[string]any
			params := map[string]any{"workspaceRoot": *workspaceRoot, "hash": hash, "all": all}
			if err := client.Call("cache/clean", params, &result); err != nil {
				return fail(exitDaemonCommErr, err)
			}
			fmt.Printf("cleaned %v\n", result["cleaned"])
			return nil
		},
	}
	clean.Flags().StringVar(&hash, "hash", "", "clean one cache entry by its task hash")
	clean.Flags().BoolVar(&all, "all", false, "clean the entire local cache")
	clean.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")

	cacheCmd.AddCommand(clean)
	return cacheCmd
}
