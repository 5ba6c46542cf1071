package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-rpc-stubgen/compose"
	"github.com/wippyai/wasm-rpc-stubgen/errors"
	"github.com/wippyai/wasm-rpc-stubgen/merge"
)

func required(phase errors.Phase, flag, value string) error {
	if value == "" {
		return errors.InvalidInput(phase, "--"+flag+" is required")
	}
	return nil
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func (a *app) addStubDependencyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-stub-dependency",
		Short: "Copy a generated stub's WIT into a caller's WIT dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := merge.Options{
				StubWitRoot:    a.v.GetString("stub-wit-root"),
				DestWitRoot:    a.v.GetString("dest-wit-root"),
				Overwrite:      a.v.GetBool("overwrite"),
				UpdateManifest: a.v.GetBool("update-manifest"),
			}
			if err := required(errors.PhaseMerge, "stub-wit-root", opts.StubWitRoot); err != nil {
				return err
			}
			if err := required(errors.PhaseMerge, "dest-wit-root", opts.DestWitRoot); err != nil {
				return err
			}
			res, err := merge.Merge(a.fs, opts)
			if err != nil {
				return err
			}
			a.printf("%s %s into %s %s\n",
				okStyle.Render("merged"), plural(res.Writes(), "file"), pathStyle.Render(opts.DestWitRoot),
				dimStyle.Render(fmt.Sprintf("(%d unchanged)", len(res.Unchanged))))
			if res.ManifestUpdated {
				a.printf("%s\n", dimStyle.Render("manifest updated"))
			}
			return nil
		},
	}
	cmd.Flags().String("stub-wit-root", "", "WIT root of the generated stub")
	cmd.Flags().String("dest-wit-root", "", "WIT root of the caller")
	cmd.Flags().Bool("overwrite", false, "replace differing files instead of failing")
	cmd.Flags().Bool("update-manifest", false, "declare the copied packages in the caller's stubgen.toml")
	return cmd
}

func (a *app) composeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Compose a caller component with the stubs it imports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			source := a.v.GetString("source-binary")
			dest := a.v.GetString("dest-binary")
			stubs := a.v.GetStringSlice("stub-binary")
			if err := required(errors.PhaseCompose, "source-binary", source); err != nil {
				return err
			}
			if err := required(errors.PhaseCompose, "dest-binary", dest); err != nil {
				return err
			}
			if len(stubs) == 0 {
				return errors.InvalidInput(errors.PhaseCompose, "at least one --stub-binary is required")
			}
			opts := compose.Options{
				PassThrough: a.v.GetStringSlice("pass-through"),
				Validate:    a.v.GetBool("validate"),
			}
			plan, err := compose.ComposeFiles(cmd.Context(), a.fs, source, stubs, dest, opts)
			if err != nil {
				return err
			}
			a.printf("%s %s %s\n", okStyle.Render("composed"), pathStyle.Render(dest),
				dimStyle.Render("("+plural(len(plan.Matches), "import")+" satisfied)"))
			for _, m := range plan.Matches {
				a.printf("  %s %s %s\n", m.Import, dimStyle.Render("<-"), m.Stub)
			}
			if len(plan.PassThrough) > 0 {
				a.printf("%s %s\n", dimStyle.Render("pass-through:"), strings.Join(plan.PassThrough, ", "))
			}
			return nil
		},
	}
	cmd.Flags().String("source-binary", "", "caller component")
	cmd.Flags().StringSlice("stub-binary", nil, "stub component (repeatable)")
	cmd.Flags().String("dest-binary", "", "path of the composed component")
	cmd.Flags().StringSlice("pass-through", nil, "extra import namespaces left to the host")
	cmd.Flags().Bool("validate", false, "check links and compile every embedded core module before writing")
	return cmd
}
