package dataset

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Sample is an image/label pair read from a WebDataset shard.
type Sample struct {
	Key   string
	Image []byte
	Label int
}

// ErrPendingOverflow indicates too many entries were waiting for their pair.
var ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")

const defaultPendingCap = 1024

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// ReadShard calls fn for every complete sample in the tar shard at path.
// Entries sharing a key are paired; at most pendingCap keys may be unpaired
// at once. Gzip-compressed shards are detected by their .gz suffix.
func ReadShard(ctx context.Context, path string, pendingCap int, fn func(Sample) error) error {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open shard: %w", err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("open shard %s: %w", filepath.Base(path), err)
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	pending := make(map[string]*partial)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(hdr.Name)
		ext := strings.ToLower(filepath.Ext(name))
		key := strings.TrimSuffix(name, filepath.Ext(name))

		part := pending[key]
		if part == nil {
			part = &partial{}
		}
		switch {
		case imageExts[ext]:
			data, err := io.ReadAll(tr)
			if err != nil {
				return fmt.Errorf("read image %s: %w", name, err)
			}
			part.image = data
		case ext == ".cls":
			payload, err := io.ReadAll(tr)
			if err != nil {
				return fmt.Errorf("read label %s: %w", name, err)
			}
			label, err := strconv.Atoi(strings.TrimSpace(string(payload)))
			if err != nil {
				return fmt.Errorf("parse label %s: %w", name, err)
			}
			part.label = &label
		default:
			continue
		}

		if !part.ready() {
			pending[key] = part
			if len(pending) > pendingCap {
				return ErrPendingOverflow
			}
			continue
		}
		delete(pending, key)
		if err := fn(Sample{Key: key, Image: part.image, Label: *part.label}); err != nil {
			return err
		}
	}

	if len(pending) > 0 {
		return fmt.Errorf("%s: %d samples incomplete", filepath.Base(path), len(pending))
	}
	return nil
}

type partial struct {
	image []byte
	label *int
}

func (p *partial) ready() bool {
	return len(p.image) > 0 && p.label != nil
}
