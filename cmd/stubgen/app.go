package main

import (
	"os"

	"github.com/spf13/cobra"

	application "github.com/wippyai/wasm-rpc-stubgen/app"
	"github.com/wippyai/wasm-rpc-stubgen/compose"
	"github.com/wippyai/wasm-rpc-stubgen/errors"
)

func (a *app) appCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Build or clean the components of an application manifest",
	}
	cmd.AddCommand(a.appBuildCmd(), a.appCleanCmd())
	return cmd
}

func appFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceP("app", "a", nil, "application manifest (repeatable; default: "+application.ManifestName+" in the current directory or a parent)")
}

// loadApp loads the manifests named by --app, or the one found from the
// working directory.
func (a *app) loadApp(profile string) (*application.Application, error) {
	manifests := a.v.GetStringSlice("app")
	dir := ""
	if len(manifests) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.IO(errors.PhaseApp, "working directory", err)
		}
		dir = wd
	}
	return application.Load(a.fs, manifests, dir, profile)
}

func (a *app) appBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Generate stubs, run build steps and link every component",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			proj, err := a.loadApp(a.v.GetString("profile"))
			if err != nil {
				return err
			}
			cfg, err := a.config("")
			if err != nil {
				return err
			}
			b := &application.Builder{
				Fs:      a.fs,
				Config:  cfg,
				Force:   a.v.GetBool("force-build"),
				Offline: a.v.GetBool("offline"),
				Bindgen: a.v.GetString("bindgen"),
				Compile: a.v.GetString("compile"),
				Compose: compose.Options{
					PassThrough: a.v.GetStringSlice("pass-through"),
					Validate:    a.v.GetBool("validate"),
				},
			}
			rep, err := b.Build(cmd.Context(), proj)
			if rep != nil {
				for _, task := range rep.Ran {
					a.printf("%s %s\n", okStyle.Render("ran"), task)
				}
				for _, task := range rep.UpToDate {
					a.printf("%s %s\n", dimStyle.Render("up to date"), task)
				}
			}
			if err != nil {
				return err
			}
			for _, name := range proj.Names() {
				a.printf("%s %s\n", name, pathStyle.Render(proj.Components[name].Linked()))
			}
			return nil
		},
	}
	appFlags(cmd)
	cmd.Flags().BoolP("force-build", "f", false, "skip modification time based up-to-date checks")
	cmd.Flags().StringP("profile", "p", "", "build profile (default: each component's defaultProfile)")
	cmd.Flags().BoolP("offline", "o", false, "forbid the toolchain from fetching modules")
	cmd.Flags().String("stub-version", "", "version of the generated stub projects")
	cmd.Flags().Bool("inline-types", false, "copy source types into the stubs")
	cmd.Flags().String("backend", "", "code generation backend")
	cmd.Flags().String("bindgen", "", "override the bindings generator command")
	cmd.Flags().String("compile", "", "override the stub compile command")
	cmd.Flags().StringSlice("pass-through", nil, "extra import namespaces left to the host")
	cmd.Flags().Bool("validate", false, "check links and compile every embedded core module of linked components")
	transportFlags(cmd)
	return cmd
}

func (a *app) appCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove the outputs of every component and profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			proj, err := a.loadApp("")
			if err != nil {
				return err
			}
			removed, err := application.Clean(a.fs, proj)
			for _, p := range removed {
				a.printf("%s %s\n", dimStyle.Render("removed"), pathStyle.Render(p))
			}
			if err != nil {
				return err
			}
			a.printf("%s %s\n", okStyle.Render("cleaned"), dimStyle.Render("("+plural(len(removed), "path")+")"))
			return nil
		},
	}
	appFlags(cmd)
	return cmd
}
