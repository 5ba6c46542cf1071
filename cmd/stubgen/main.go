// Command stubgen generates RPC stubs for WebAssembly components, merges
// them into caller projects and composes callers with the stubs they use.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	stubgen "github.com/wippyai/wasm-rpc-stubgen"
	application "github.com/wippyai/wasm-rpc-stubgen/app"
	"github.com/wippyai/wasm-rpc-stubgen/build"
	"github.com/wippyai/wasm-rpc-stubgen/codegen"
	"github.com/wippyai/wasm-rpc-stubgen/compose"
	"github.com/wippyai/wasm-rpc-stubgen/merge"
	"github.com/wippyai/wasm-rpc-stubgen/pipeline"
	"github.com/wippyai/wasm-rpc-stubgen/resolve"
	"github.com/wippyai/wasm-rpc-stubgen/stub"
	"github.com/wippyai/wasm-rpc-stubgen/workspace"
)

const (
	envPrefix  = "STUBGEN"
	configName = "stubgen"
)

var (
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98"))
	pathStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	skipStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
)

type app struct {
	fs     afero.Fs
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer
	log    *zap.Logger
	// tty enables the interactive progress view of build-workspace.
	tty bool
}

func main() {
	os.Exit(run(os.Args[1:], afero.NewOsFs(), os.Stdout, os.Stderr, isTerminal(os.Stdout)))
}

// run executes the command line and returns the process exit code.
func run(args []string, fsys afero.Fs, stdout, stderr io.Writer, tty bool) int {
	a := &app{fs: fsys, v: viper.New(), stdout: stdout, stderr: stderr, log: zap.NewNop(), tty: tty}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err := root.ExecuteContext(ctx)
	_ = a.log.Sync()
	if err != nil {
		fmt.Fprintln(stderr, errorStyle.Render("error:"), err.Error())
		return 1
	}
	return 0
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stubgen",
		Short:         "RPC stub generator and composer for WebAssembly components",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().String("config", "", "configuration file (default ./stubgen.toml)")
	root.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	root.PersistentFlags().Bool("log-json", false, "log as JSON")

	root.AddCommand(
		a.generateCmd(),
		a.buildCmd(),
		a.addStubDependencyCmd(),
		a.composeCmd(),
		a.initializeWorkspaceCmd(),
		a.buildWorkspaceCmd(),
		a.appCmd(),
	)
	return root
}

// setup binds the flags of the running command and loads configuration.
// Flags win over STUBGEN_* variables, which win over the config file.
func (a *app) setup(cmd *cobra.Command) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	a.v.SetFs(a.fs)
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if file := a.v.GetString("config"); file != "" {
		a.v.SetConfigFile(file)
	} else {
		a.v.SetConfigName(configName)
		a.v.SetConfigType("toml")
		a.v.AddConfigPath(".")
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	log, err := newLogger(a.v.GetBool("verbose"), a.v.GetBool("log-json"))
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	a.log = log
	setLoggers(log)
	if used := a.v.ConfigFileUsed(); used != "" {
		log.Debug("loaded config", zap.String("file", used))
	}
	return nil
}

func newLogger(verbose, jsonOut bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if jsonOut {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = !verbose
	return cfg.Build()
}

func setLoggers(l *zap.Logger) {
	resolve.SetLogger(l.Named("resolve"))
	stub.SetLogger(l.Named("stub"))
	codegen.SetLogger(l.Named("codegen"))
	build.SetLogger(l.Named("build"))
	merge.SetLogger(l.Named("merge"))
	compose.SetLogger(l.Named("compose"))
	pipeline.SetLogger(l.Named("pipeline"))
	workspace.SetLogger(l.Named("workspace"))
	application.SetLogger(l.Named("app"))
}

// transportFlags registers the mutually exclusive transport overrides.
func transportFlags(cmd *cobra.Command) {
	cmd.Flags().String("transport-path", "", "absolute path of a local transport module checkout")
	cmd.Flags().String("transport-version", "", "released transport module version")
}

func (a *app) transport() stubgen.TransportOverride {
	return stubgen.TransportOverride{
		Path:    a.v.GetString("transport-path"),
		Version: a.v.GetString("transport-version"),
	}
}

// sourceFlags registers the flags shared by generate and build.
func sourceFlags(cmd *cobra.Command) {
	cmd.Flags().String("source-wit-root", "", "WIT root of the component to call remotely")
	cmd.Flags().String("world", "", "world to generate a stub for (default: the only world)")
	cmd.Flags().String("stub-version", stubgen.DefaultStubVersion, "version of the generated stub project")
	cmd.Flags().Bool("inline-types", false, "copy source types into the stub instead of depending on the source package")
	cmd.Flags().Bool("seal-workspace", false, "give the stub project its own go.work")
	cmd.Flags().String("backend", stubgen.BackendTinyGo.String(), "code generation backend")
	transportFlags(cmd)
}

func (a *app) config(targetRoot string) (stubgen.Config, error) {
	backend, err := stubgen.ParseBackend(a.v.GetString("backend"))
	if err != nil {
		return stubgen.Config{}, err
	}
	return stubgen.Config{
		SourceWitRoot: a.v.GetString("source-wit-root"),
		TargetRoot:    targetRoot,
		World:         a.v.GetString("world"),
		StubVersion:   a.v.GetString("stub-version"),
		Transport:     a.transport(),
		InlineTypes:   a.v.GetBool("inline-types"),
		SealWorkspace: a.v.GetBool("seal-workspace"),
		Backend:       backend,
	}, nil
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.stdout, format, args...)
}
