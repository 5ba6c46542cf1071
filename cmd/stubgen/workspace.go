package main

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-rpc-stubgen/compose"
	"github.com/wippyai/wasm-rpc-stubgen/workspace"
)

func workspaceFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("targets", nil, "projects to generate stubs for")
	cmd.Flags().StringSlice("callers", nil, "projects calling the targets")
	cmd.Flags().String("root", ".", "workspace root")
	cmd.Flags().String("caller-compile", "", "command compiling a caller into $OUT (default: "+workspace.DefaultCallerCompile+")")
	cmd.Flags().Bool("overwrite", false, "let stub merges replace differing files")
	cmd.Flags().Bool("update-manifest", false, "declare merged stubs in each caller's stubgen.toml")
	transportFlags(cmd)
}

func (a *app) plan() (*workspace.Plan, error) {
	return workspace.NewPlan(a.v.GetStringSlice("targets"), a.v.GetStringSlice("callers"), a.transport())
}

func (a *app) initializeWorkspaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "initialize-workspace",
		Short: "Write the build automation of a multi-project workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.plan()
			if err != nil {
				return err
			}
			res, err := workspace.Initialize(a.fs, a.v.GetString("root"), p, workspace.TaskfileOptions{
				Command:        a.v.GetString("command"),
				CallerCompile:  a.v.GetString("caller-compile"),
				Overwrite:      a.v.GetBool("overwrite"),
				UpdateManifest: a.v.GetBool("update-manifest"),
			})
			if err != nil {
				return err
			}
			a.printf("%s %s %s\n", okStyle.Render("wrote"), pathStyle.Render(res.Taskfile),
				dimStyle.Render("("+plural(len(p.Steps), "task")+")"))
			for _, dir := range res.Added {
				a.printf("%s %s\n", dimStyle.Render("go.work use"), dir)
			}
			return nil
		},
	}
	workspaceFlags(cmd)
	cmd.Flags().String("command", "", "how tasks invoke this tool (default: stubgen)")
	return cmd
}

func (a *app) buildWorkspaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build-workspace",
		Short: "Generate, build, merge and compose every project of a workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.plan()
			if err != nil {
				return err
			}
			cfg, err := a.config("")
			if err != nil {
				return err
			}
			r := &workspace.Runner{
				Fs:             a.fs,
				Root:           a.v.GetString("root"),
				Config:         cfg,
				Offline:        a.v.GetBool("offline"),
				Bindgen:        a.v.GetString("bindgen"),
				Compile:        a.v.GetString("compile"),
				CallerCompile:  a.v.GetString("caller-compile"),
				Overwrite:      a.v.GetBool("overwrite"),
				UpdateManifest: a.v.GetBool("update-manifest"),
				Compose: compose.Options{
					PassThrough: a.v.GetStringSlice("pass-through"),
					Validate:    a.v.GetBool("validate"),
				},
				Jobs: a.v.GetInt("jobs"),
			}
			if a.tty && !a.v.GetBool("no-progress") {
				return a.runWithProgress(cmd.Context(), r, p)
			}
			res, err := r.Run(cmd.Context(), p)
			a.summary(res)
			return err
		},
	}
	workspaceFlags(cmd)
	cmd.Flags().String("stub-version", "", "version of the generated stub projects")
	cmd.Flags().Bool("inline-types", false, "copy source types into the stubs")
	cmd.Flags().String("backend", "", "code generation backend")
	cmd.Flags().Bool("offline", false, "forbid the toolchain from fetching modules")
	cmd.Flags().String("bindgen", "", "override the bindings generator command")
	cmd.Flags().String("compile", "", "override the stub compile command")
	cmd.Flags().StringSlice("pass-through", nil, "extra import namespaces left to the host")
	cmd.Flags().Bool("validate", false, "check links and compile every embedded core module of composed callers")
	cmd.Flags().IntP("jobs", "j", 0, "concurrent steps (default: GOMAXPROCS)")
	cmd.Flags().Bool("no-progress", false, "log instead of showing the progress view")
	return cmd
}

// runWithProgress runs the workspace while the progress view renders its
// events. Interrupting the view cancels the run.
func (a *app) runWithProgress(ctx context.Context, r *workspace.Runner, p *workspace.Plan) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan workspace.Event, 2*len(p.Steps))
	r.Events = events

	setLoggers(zap.NewNop())
	defer setLoggers(a.log)

	var (
		res    *workspace.Result
		runErr error
	)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		res, runErr = r.Run(ctx, p)
		close(events)
	}()

	final, err := tea.NewProgram(newProgressModel(p, events), tea.WithOutput(a.stdout)).Run()
	if err != nil {
		cancel()
	} else if m, ok := final.(progressModel); ok && m.interrupted {
		cancel()
	}
	<-finished
	if err != nil {
		return fmt.Errorf("progress view: %w", err)
	}
	a.summary(res)
	return runErr
}

func (a *app) summary(res *workspace.Result) {
	if res == nil {
		return
	}
	parts := []string{okStyle.Render(fmt.Sprintf("%d succeeded", len(res.Succeeded)))}
	if len(res.Failed) > 0 {
		parts = append(parts, errorStyle.Render(fmt.Sprintf("%d failed", len(res.Failed))))
	}
	if len(res.Skipped) > 0 {
		parts = append(parts, skipStyle.Render(fmt.Sprintf("%d skipped", len(res.Skipped))))
	}
	a.printf("%s %s\n", strings.Join(parts, ", "), dimStyle.Render("(run "+res.RunID+")"))
}
