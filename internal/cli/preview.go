package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiorg/kiorg/internal/cache"
	"github.com/kiorg/kiorg/internal/entry"
	"github.com/kiorg/kiorg/internal/preview"
	"github.com/kiorg/kiorg/pkg/plugin"
)

// tickInterval is how often the preview command polls the registry.
const tickInterval = 10 * time.Millisecond

func newPreviewCmd(a *app) *cobra.Command {
	var noCache bool

	cmd := &cobra.Command{
		Use:   "preview <path>",
		Short: "Preview a file",
		Long: `Preview a file the way the file manager would.

Cached previews are shown directly. Archives and images are summarized
in-process. Any other file is handed to the first plugin whose pattern
matches its name, and the command waits until the plugin answers, fails
or times out.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			meta, err := entry.Stat(path)
			if err != nil {
				return err
			}
			cfg, err := a.config()
			if err != nil {
				return err
			}

			var c *cache.Cache
			if !noCache {
				if c, err = a.cache(cmd); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			registry, err := a.startRegistry(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = registry.Shutdown() }()
			if cfg.Plugins.Watch {
				if err := registry.Watch(ctx); err != nil {
					a.log(cmd).Warn("plugin directory watch unavailable", "error", err)
				}
			}

			svc := preview.NewService(preview.Options{
				Cache:               c,
				Registry:            registry,
				CachePluginPreviews: cfg.Cache.PluginPreviews && !noCache,
				Logger:              a.log(cmd),
			})

			resp, err := svc.Request(meta)
			if err != nil {
				return err
			}
			content := resp.Content
			if !resp.Ready() {
				tick := func() []preview.Outcome { return svc.Consume(registry.Step(ctx)) }
				outcome, err := waitFor(ctx, tick, resp.ID)
				if err != nil {
					return err
				}
				if outcome.Err != nil {
					return fmt.Errorf("plugin %s failed to preview %s: %w", outcome.Plugin, path, outcome.Err)
				}
				content = outcome.Content
			}

			return renderer(cmd.OutOrStdout()).Content(cmd.OutOrStdout(), content)
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the preview cache")
	return cmd
}

// waitFor ticks until the call resolves. The registry reports a timeout
// for calls that outlive the preview timeout, so this only ends early when
// ctx does.
func waitFor(ctx context.Context, tick func() []preview.Outcome, id plugin.CallID) (preview.Outcome, error) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		for _, o := range tick() {
			if o.ID == id {
				return o, nil
			}
		}
		select {
		case <-ctx.Done():
			return preview.Outcome{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
