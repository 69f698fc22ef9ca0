// Command kiorg-demo-plugin is a reference preview plugin for files ending
// in .demo. It speaks go-plugin when a host launches it with the handshake
// cookie and the line protocol on stdio otherwise.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kiorg/kiorg/pkg/plugin"
)

// maxLines bounds the text excerpt.
const maxLines = 20

type demo struct{}

func (demo) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "demo",
		Version:     "1.0.0",
		Description: "Previews .demo files",
		Capabilities: plugin.Capabilities{
			Preview: &plugin.PreviewCapability{FilePattern: `.*\.demo$`},
		},
	}
}

func (demo) Preview(ctx context.Context, path string) ([]plugin.Component, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	f, err := os.Open(path) // #nosec G304 -- the host asks for the file to preview
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	total := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		total++
		if len(lines) < maxLines {
			lines = append(lines, scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return []plugin.Component{
		plugin.Title{Text: filepath.Base(path)},
		plugin.Table{
			Headers: []string{"property", "value"},
			Rows: [][]string{
				{"size", strconv.FormatInt(info.Size(), 10)},
				{"lines", strconv.Itoa(total)},
				{"modified", info.ModTime().Format("2006-01-02 15:04:05")},
			},
		},
		plugin.Text{Text: strings.Join(lines, "\n")},
	}, nil
}

func main() {
	if plugin.LaunchedByRPCHost() {
		plugin.ServeRPC(demo{})
		return
	}
	if err := plugin.ServeStdio(demo{}); err != nil {
		fmt.Fprintf(os.Stderr, "kiorg-demo-plugin: %v\n", err)
		os.Exit(1)
	}
}
