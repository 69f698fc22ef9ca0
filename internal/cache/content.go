package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kiorg/kiorg/pkg/plugin"
)

// Content is a cached preview summary. Variants: ZipListing, TarListing,
// ImageInfo, PluginPreview.
type Content interface {
	contentKind() string
}

// ArchiveEntry is one member of an archive listing.
type ArchiveEntry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Dir      bool      `json:"dir,omitempty"`
	Modified time.Time `json:"modified"`
}

// ZipListing lists the members of a zip archive.
type ZipListing struct {
	Entries   []ArchiveEntry `json:"entries"`
	Truncated bool           `json:"truncated,omitempty"`
}

// TarListing lists the members of a tar archive. Compression is empty for
// plain tar, otherwise one of gzip, bzip2 or xz.
type TarListing struct {
	Compression string         `json:"compression,omitempty"`
	Entries     []ArchiveEntry `json:"entries"`
	Truncated   bool           `json:"truncated,omitempty"`
}

// ImageInfo is the header summary of an image file.
type ImageInfo struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// PluginPreview is a preview rendered by a plugin.
type PluginPreview struct {
	Plugin     string            `json:"plugin"`
	Components plugin.Components `json:"components"`
}

func (ZipListing) contentKind() string    { return "zip" }
func (TarListing) contentKind() string    { return "tar" }
func (ImageInfo) contentKind() string     { return "image" }
func (PluginPreview) contentKind() string { return "plugin" }

type envelope struct {
	Kind   string         `json:"kind"`
	Zip    *ZipListing    `json:"zip,omitempty"`
	Tar    *TarListing    `json:"tar,omitempty"`
	Image  *ImageInfo     `json:"image,omitempty"`
	Plugin *PluginPreview `json:"plugin,omitempty"`
}

// Marshal encodes content in its tagged on-disk form.
func Marshal(c Content) ([]byte, error) {
	env := envelope{}
	switch v := c.(type) {
	case ZipListing:
		env.Kind, env.Zip = v.contentKind(), &v
	case TarListing:
		env.Kind, env.Tar = v.contentKind(), &v
	case ImageInfo:
		env.Kind, env.Image = v.contentKind(), &v
	case PluginPreview:
		env.Kind, env.Plugin = v.contentKind(), &v
	default:
		return nil, fmt.Errorf("unsupported cache content %T", c)
	}
	return json.Marshal(env)
}

// Unmarshal decodes content written by Marshal.
func Unmarshal(data []byte) (Content, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	switch env.Kind {
	case "zip":
		if env.Zip != nil {
			return *env.Zip, nil
		}
	case "tar":
		if env.Tar != nil {
			return *env.Tar, nil
		}
	case "image":
		if env.Image != nil {
			return *env.Image, nil
		}
	case "plugin":
		if env.Plugin != nil {
			return *env.Plugin, nil
		}
	default:
		return nil, fmt.Errorf("unknown cache content kind %q", env.Kind)
	}
	return nil, errors.New("cache content has no body for kind " + env.Kind)
}
