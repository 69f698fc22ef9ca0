package preview

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ulikunitz/xz"

	"github.com/kiorg/kiorg/internal/cache"
	"github.com/kiorg/kiorg/internal/security"
)

const (
	// MaxArchiveEntries caps archive listings.
	MaxArchiveEntries = 1000

	// maxTarStream bounds how much decompressed data is read while walking
	// a tar archive.
	maxTarStream = 1 << 30
)

// Tar compression names as recorded in listings.
const (
	CompressionNone  = ""
	CompressionGzip  = "gzip"
	CompressionBzip2 = "bzip2"
	CompressionXz    = "xz"
)

// ListZip lists the members of a zip archive.
func ListZip(path string) (cache.ZipListing, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return cache.ZipListing{}, fmt.Errorf("failed to open zip archive: %w", err)
	}
	defer r.Close()

	listing := cache.ZipListing{Entries: make([]cache.ArchiveEntry, 0, min(len(r.File), MaxArchiveEntries))}
	for i, f := range r.File {
		if i == MaxArchiveEntries {
			listing.Truncated = true
			break
		}
		listing.Entries = append(listing.Entries, cache.ArchiveEntry{
			Name:     f.Name,
			Size:     int64(f.UncompressedSize64), // #nosec G115 -- sizes above 8 EiB are not representable anyway
			Dir:      f.FileInfo().IsDir(),
			Modified: f.Modified,
		})
	}
	return listing, nil
}

// ListTar lists the members of a tar archive, decompressing it first when
// compression is set.
func ListTar(path, compression string) (cache.TarListing, error) {
	// #nosec G304 -- previewing user-selected files is the point
	f, err := os.Open(path)
	if err != nil {
		return cache.TarListing{}, fmt.Errorf("failed to open tar archive: %w", err)
	}
	defer f.Close()

	stream, closeStream, err := decompressor(f, compression)
	if err != nil {
		return cache.TarListing{}, err
	}
	defer closeStream()

	tr := tar.NewReader(security.NewLimitedReader(stream, maxTarStream))
	listing := cache.TarListing{Compression: compression, Entries: []cache.ArchiveEntry{}}
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, security.ErrSizeLimit) {
			listing.Truncated = true
			break
		}
		if err != nil {
			return cache.TarListing{}, fmt.Errorf("failed to read tar archive: %w", err)
		}

		if len(listing.Entries) == MaxArchiveEntries {
			listing.Truncated = true
			break
		}
		listing.Entries = append(listing.Entries, cache.ArchiveEntry{
			Name:     header.Name,
			Size:     header.Size,
			Dir:      header.Typeflag == tar.TypeDir,
			Modified: header.ModTime,
		})
	}
	return listing, nil
}

func decompressor(r io.Reader, compression string) (io.Reader, func(), error) {
	noop := func() {}

	switch compression {
	case CompressionNone:
		return r, noop, nil
	case CompressionGzip:
		gzr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gzr, func() { _ = gzr.Close() }, nil
	case CompressionBzip2:
		return bzip2.NewReader(r), noop, nil
	case CompressionXz:
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		return xzr, noop, nil
	default:
		return nil, nil, fmt.Errorf("unsupported tar compression %q", compression)
	}
}
