package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kiorg/kiorg/internal/plugin/manager"
	"github.com/kiorg/kiorg/internal/render"
)

func newPluginsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect preview plugins",
		Long: `Inspect the preview plugins in the plugin directory.

The plugin directory comes from plugins.dir in the config file, or the
KIORG_PLUGIN_DIR environment variable. Plugins listed in plugins.disabled
or KIORG_DISABLED_PLUGINS are never started.`,
	}

	cmd.AddCommand(newPluginsListCmd(a))
	cmd.AddCommand(newPluginsDiscoverCmd(a))
	cmd.AddCommand(newPluginsStatusCmd(a))
	return cmd
}

func newPluginsListCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Register every plugin and list the results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.startRegistry(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer func() { _ = r.Shutdown() }()

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), pluginsReport(r))
			}
			return writePluginTable(cmd.OutOrStdout(), r)
		},
	}
	addJSONFlag(cmd.Flags(), &asJSON)
	return cmd
}

func newPluginsDiscoverCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "List plugin candidates without starting them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.registry(cmd)
			if err != nil {
				return err
			}
			candidates, err := r.Discover(r.Config().PluginDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(candidates) == 0 {
				_, err := fmt.Fprintf(out, "No plugins found in %s\n", r.Config().PluginDir)
				return err
			}
			for _, c := range candidates {
				if _, err := fmt.Fprintln(out, c); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newPluginsStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show process details of every registered plugin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.startRegistry(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer func() { _ = r.Shutdown() }()

			table := render.NewTable([]string{"NAME", "PID", "STATE", "OUTSTANDING", "EXECUTABLE"})
			table.SetWidth(terminalWidth(cmd.OutOrStdout()))
			for _, info := range r.Info() {
				pid := "-"
				if info.Pid > 0 {
					pid = strconv.Itoa(info.Pid)
				}
				table.AddRow([]string{info.Name, pid, info.State.String(), strconv.Itoa(info.Outstanding), info.Executable})
			}
			_, err = io.WriteString(cmd.OutOrStdout(), table.Render())
			return err
		},
	}
}

type pluginReport struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path"`
	Pattern     string `json:"pattern,omitempty"`
	Protocol    string `json:"protocol"`
	State       string `json:"state"`
	Live        bool   `json:"live"`
}

type deadReport struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type registryReport struct {
	Plugins []pluginReport `json:"plugins"`
	Dead    []deadReport   `json:"dead,omitempty"`
}

func pluginsReport(r *manager.Registry) registryReport {
	report := registryReport{Plugins: []pluginReport{}}
	for _, p := range r.Plugins() {
		report.Plugins = append(report.Plugins, pluginReport{
			Name:        p.Metadata.Name,
			Version:     p.Metadata.Version,
			Description: p.Metadata.Description,
			Path:        p.Path,
			Pattern:     p.Pattern,
			Protocol:    string(p.Kind),
			State:       p.State.String(),
			Live:        p.Live,
		})
	}
	for _, d := range r.Dead() {
		report.Dead = append(report.Dead, deadReport{Path: d.Path, Error: d.Err.Error()})
	}
	return report
}

func writePluginTable(w io.Writer, r *manager.Registry) error {
	report := pluginsReport(r)

	table := render.NewTable([]string{"NAME", "VERSION", "PATTERN", "PROTOCOL", "STATE"})
	table.SetWidth(terminalWidth(w))
	for _, p := range report.Plugins {
		table.AddRow([]string{p.Name, p.Version, p.Pattern, p.Protocol, p.State})
	}
	if _, err := io.WriteString(w, table.Render()); err != nil {
		return err
	}

	if len(report.Dead) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "\nFailed plugins:\n"); err != nil {
		return err
	}
	for _, d := range report.Dead {
		if _, err := fmt.Fprintf(w, "  %s: %s\n", d.Path, d.Error); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
