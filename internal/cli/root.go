// Package cli provides the command-line interface for kiorg's preview
// subsystem.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/kiorg/kiorg/internal/cache"
	"github.com/kiorg/kiorg/internal/config"
	"github.com/kiorg/kiorg/internal/plugin/manager"
	"github.com/kiorg/kiorg/internal/render"
	"github.com/kiorg/kiorg/internal/version"
)

// app holds the global flags and the collaborators built from them.
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger hclog.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "kiorg",
		Short: "Inspect kiorg previews and preview plugins",
		Long: `kiorg drives the file preview subsystem from the command line.

Plugins are executables in the plugin directory that answer a handshake
and render previews for the files their pattern matches. Built-in previews
cover archives and images. Results are cached on disk.`,
		Version:      version.GetInfo().Version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/kiorg/config.toml)")

	rootCmd.SetVersionTemplate(version.String() + "\n")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newPluginsCmd(a))
	rootCmd.AddCommand(newPreviewCmd(a))
	rootCmd.AddCommand(newCacheCmd(a))
	rootCmd.AddCommand(newOpenCmd(a))
	return rootCmd
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) config() (config.Config, error) {
	if a.cfg != nil {
		return *a.cfg, nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return config.Config{}, err
	}
	a.cfg = &cfg
	return cfg, nil
}

func (a *app) log(cmd *cobra.Command) hclog.Logger {
	if a.logger != nil {
		return a.logger
	}
	level := hclog.Warn
	if a.verbose {
		level = hclog.Debug
	}
	a.logger = hclog.New(&hclog.LoggerOptions{
		Name:   "kiorg",
		Level:  level,
		Output: cmd.ErrOrStderr(),
	})
	return a.logger
}

func (a *app) registry(cmd *cobra.Command) (*manager.Registry, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	return manager.NewBuilder().
		WithConfig(cfg.Manager()).
		WithEnvConfig().
		WithLogger(a.log(cmd).Named("registry")).
		Build(), nil
}

// startRegistry builds the registry and registers every plugin found.
// Registration failures are recorded in the registry, not returned.
func (a *app) startRegistry(ctx context.Context, cmd *cobra.Command) (*manager.Registry, error) {
	r, err := a.registry(cmd)
	if err != nil {
		return nil, err
	}
	if _, err := r.RegisterAll(ctx); err != nil {
		_ = r.Shutdown()
		return nil, err
	}
	return r, nil
}

func (a *app) cache(cmd *cobra.Command) (*cache.Cache, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	return cache.New(cfg.CacheOptions(a.log(cmd)))
}

func renderer(w io.Writer) render.Renderer {
	return render.Renderer{Width: terminalWidth(w)}
}

// terminalWidth returns the width of w when it is a terminal, zero
// otherwise.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	fd := int(f.Fd()) // #nosec G115 -- file descriptors fit in int
	if !term.IsTerminal(fd) {
		return 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return width
}

func newVersionCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print detailed version information including build date, commit hash, plugin protocol version and Go version.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), version.GetInfo())
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}
	addJSONFlag(cmd.Flags(), &asJSON)
	return cmd
}

func addJSONFlag(fs *pflag.FlagSet, v *bool) {
	fs.BoolVar(v, "json", false, "print as JSON")
}
