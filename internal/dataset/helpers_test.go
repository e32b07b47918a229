package dataset

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"
)

// digitPNG encodes a size x size grayscale image filled with value.
func digitPNG(t *testing.T, size int, value uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetGray(x, y, color.Gray{Y: value})
		}
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type shardEntry struct {
	name string
	data []byte
}

func writeShard(t *testing.T, path string, entries []shardEntry) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Size: int64(len(e.data)), Mode: 0o644}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write(e.data); err != nil {
			t.Fatalf("write data: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}
}

// labeledShard writes one 8x8 image per key, with brightness derived from
// its label.
func labeledShard(t *testing.T, path string, samples map[string]int) {
	t.Helper()
	keys := make([]string, 0, len(samples))
	for k := range samples {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var entries []shardEntry
	for _, k := range keys {
		label := samples[k]
		entries = append(entries,
			shardEntry{k + ".png", digitPNG(t, 8, uint8(label*20))},
			shardEntry{k + ".cls", []byte(strconv.Itoa(label))},
		)
	}
	writeShard(t, path, entries)
}

func writeGzip(t *testing.T, path string, payload []byte) {
	t.Helper()
	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	if _, err := gz.Write(payload); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// idxImages builds an IDX3 payload of n images of rows x cols where image i is
// filled with value i.
func idxImages(n, rows, cols int) []byte {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.BigEndian, []uint32{idxImagesMagic, uint32(n), uint32(rows), uint32(cols)})
	for i := 0; i < n; i++ {
		buf.Write(bytes.Repeat([]byte{byte(i)}, rows*cols))
	}
	return buf.Bytes()
}

func idxLabels(labels ...byte) []byte {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.BigEndian, []uint32{idxLabelsMagic, uint32(len(labels))})
	buf.Write(labels)
	return buf.Bytes()
}
