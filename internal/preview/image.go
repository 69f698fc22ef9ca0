package preview

import (
	"fmt"
	"image"
	"os"

	_ "image/gif"  // Register GIF format
	_ "image/jpeg" // Register JPEG format
	_ "image/png"  // Register PNG format

	_ "golang.org/x/image/webp" // Register WebP format

	"github.com/kiorg/kiorg/internal/cache"
)

// ReadImageInfo decodes the header of an image file.
func ReadImageInfo(path string) (cache.ImageInfo, error) {
	// #nosec G304 -- previewing user-selected files is the point
	f, err := os.Open(path)
	if err != nil {
		return cache.ImageInfo{}, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	config, format, err := image.DecodeConfig(f)
	if err != nil {
		return cache.ImageInfo{}, fmt.Errorf("failed to decode image header: %w", err)
	}
	return cache.ImageInfo{Format: format, Width: config.Width, Height: config.Height}, nil
}
