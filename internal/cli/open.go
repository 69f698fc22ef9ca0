package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kiorg/kiorg/internal/opener"
)

func newOpenCmd(a *app) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "open <path>",
		Short: "Open a path with the default application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			o, err := opener.New(kind, a.log(cmd))
			if err != nil {
				return err
			}
			if err := o.Open(cmd.Context(), path); err != nil {
				return err
			}
			if r, ok := o.(*opener.RecordingOpener); ok {
				for _, p := range r.Opened() {
					if _, err := fmt.Fprintf(cmd.OutOrStdout(), "would open %s\n", p); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "opener", "system", "opener to use (system, record)")
	return cmd
}
