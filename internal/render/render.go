// Package render draws preview components and cached preview content as
// plain text.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/kiorg/kiorg/internal/cache"
	"github.com/kiorg/kiorg/pkg/plugin"
)

const timeLayout = "2006-01-02 15:04"

// Renderer writes previews to a text stream.
type Renderer struct {
	// Width limits table lines. Zero means unlimited.
	Width int
}

// Components writes each component in order.
func (r Renderer) Components(w io.Writer, cs plugin.Components) error {
	var b strings.Builder
	for i, c := range cs {
		if i > 0 {
			b.WriteString("\n")
		}
		switch v := c.(type) {
		case plugin.Title:
			b.WriteString(v.Text + "\n")
			b.WriteString(strings.Repeat("=", cellWidth(v.Text)) + "\n")
		case plugin.Text:
			b.WriteString(strings.TrimRight(v.Text, "\n") + "\n")
		case plugin.Image:
			b.WriteString(describeImage(v.Source) + "\n")
		case plugin.Table:
			t := NewTable(v.Headers)
			t.SetWidth(r.Width)
			for _, row := range v.Rows {
				t.AddRow(row)
			}
			b.WriteString(t.Render())
		default:
			return fmt.Errorf("unsupported component %T", c)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Content writes a cached preview.
func (r Renderer) Content(w io.Writer, c cache.Content) error {
	switch v := c.(type) {
	case cache.ZipListing:
		return r.listing(w, "zip archive", v.Entries, v.Truncated)
	case cache.TarListing:
		kind := "tar archive"
		if v.Compression != "" {
			kind = fmt.Sprintf("tar archive (%s)", v.Compression)
		}
		return r.listing(w, kind, v.Entries, v.Truncated)
	case cache.ImageInfo:
		_, err := fmt.Fprintf(w, "%s image, %dx%d\n", v.Format, v.Width, v.Height)
		return err
	case cache.PluginPreview:
		if _, err := fmt.Fprintf(w, "[%s]\n", v.Plugin); err != nil {
			return err
		}
		return r.Components(w, v.Components)
	default:
		return fmt.Errorf("unsupported cache content %T", c)
	}
}

func (r Renderer) listing(w io.Writer, kind string, entries []cache.ArchiveEntry, truncated bool) error {
	noun := "entries"
	if len(entries) == 1 {
		noun = "entry"
	}
	header := fmt.Sprintf("%s, %d %s", kind, len(entries), noun)
	if truncated {
		header += " (truncated)"
	}

	t := NewTable([]string{"NAME", "SIZE", "MODIFIED"})
	t.SetWidth(r.Width)
	for _, e := range entries {
		size := FormatSize(e.Size)
		if e.Dir {
			size = "-"
		}
		modified := ""
		if !e.Modified.IsZero() {
			modified = e.Modified.Local().Format(timeLayout)
		}
		t.AddRow([]string{e.Name, size, modified})
	}

	_, err := io.WriteString(w, header+"\n"+t.Render())
	return err
}

func describeImage(src plugin.ImageSource) string {
	if !src.Inline() {
		return fmt.Sprintf("[image %s]", src.Path)
	}
	format := src.Format
	if format == "" {
		format = "unknown"
	}
	return fmt.Sprintf("[image %s, %s]", format, FormatSize(int64(len(src.Bytes))))
}

// FormatSize renders a byte count with a binary unit.
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
