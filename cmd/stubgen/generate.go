package main

import (
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-rpc-stubgen/pipeline"
)

func (a *app) generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the RPC stub project of a component",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.config(a.v.GetString("dest-root"))
			if err != nil {
				return err
			}
			res, err := pipeline.Generate(a.fs, cfg)
			if err != nil {
				return err
			}
			a.printf("%s %s in %s %s\n",
				okStyle.Render("generated"), res.World, pathStyle.Render(res.Root),
				dimStyle.Render("("+plural(len(res.Files), "file")+")"))
			return nil
		},
	}
	sourceFlags(cmd)
	cmd.Flags().String("dest-root", "", "directory of the generated stub project")
	return cmd
}

func (a *app) buildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Generate and compile the RPC stub of a component",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.config(a.v.GetString("dest-root"))
			if err != nil {
				return err
			}
			opts := pipeline.BuildOptions{
				DestBinary:  a.v.GetString("dest-binary"),
				DestWitRoot: a.v.GetString("dest-wit-root"),
				Offline:     a.v.GetBool("offline"),
				Bindgen:     a.v.GetString("bindgen"),
				Compile:     a.v.GetString("compile"),
			}
			res, err := pipeline.Build(cmd.Context(), a.fs, cfg, opts)
			if err != nil {
				return err
			}
			a.printf("%s %s into %s\n", okStyle.Render("built"), res.World, pathStyle.Render(opts.DestBinary))
			if opts.DestWitRoot != "" {
				a.printf("%s %s\n", dimStyle.Render("wit:"), opts.DestWitRoot)
			}
			return nil
		},
	}
	sourceFlags(cmd)
	cmd.Flags().String("dest-binary", "", "path of the compiled stub binary")
	cmd.Flags().String("dest-wit-root", "", "directory receiving the stub's WIT tree")
	cmd.Flags().String("dest-root", "", "keep the stub project in this directory (default: temporary)")
	cmd.Flags().Bool("offline", false, "forbid the toolchain from fetching modules")
	cmd.Flags().String("bindgen", "", "override the bindings generator command")
	cmd.Flags().String("compile", "", "override the compile command")
	return cmd
}
