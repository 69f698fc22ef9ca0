package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kiorg/kiorg/internal/cache"
	"github.com/kiorg/kiorg/internal/entry"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the preview cache",
		Long: `Inspect the preview cache.

Entries are keyed by a hash of the file path and its modification time, so
editing a file makes its old entry unreachable. KIORG_CACHE_DIR overrides
the cache directory.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "key <file>",
		Short: "Print the cache key of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := statArg(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cache.CalculateKey(meta))
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <file>",
		Short: "Show the cached preview of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := statArg(args[0])
			if err != nil {
				return err
			}
			c, err := a.cache(cmd)
			if err != nil {
				return err
			}
			content, ok := c.Load(cache.CalculateKey(meta))
			if !ok {
				return errors.New("no cached preview for " + meta.Path)
			}
			return renderer(cmd.OutOrStdout()).Content(cmd.OutOrStdout(), content)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <file>",
		Short: "Delete the cached preview of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := statArg(args[0])
			if err != nil {
				return err
			}
			c, err := a.cache(cmd)
			if err != nil {
				return err
			}
			return c.Invalidate(meta)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path [file]",
		Short: "Print the cache directory, or the cache file of a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.cache(cmd)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), c.Dir())
				return err
			}
			meta, err := statArg(args[0])
			if err != nil {
				return err
			}
			path, err := c.Path(cache.CalculateKey(meta))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	})

	return cmd
}

func statArg(arg string) (*entry.Meta, error) {
	path, err := filepath.Abs(arg)
	if err != nil {
		return nil, err
	}
	return entry.Stat(path)
}
