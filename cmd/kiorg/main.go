// Command kiorg is a diagnostic host for kiorg's file preview subsystem.
package main

import (
	"os"

	"github.com/kiorg/kiorg/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
