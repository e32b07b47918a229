package dataset

import (
	"bufio"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"digitforge/internal/ndarray"
	"digitforge/internal/vision"
)

// MNIST images are 28x28 single channel.
const (
	MnistImageSize = 28
	MnistClasses   = 10
)

// DefaultMnistURL hosts the canonical gzip IDX archives.
const DefaultMnistURL = "https://storage.googleapis.com/cvdf-datasets/mnist/"

const (
	idxImagesMagic = 0x00000803
	idxLabelsMagic = 0x00000801
	// maxIDXBytes bounds the payload a header may declare; the MNIST
	// training images take about 47MB.
	maxIDXBytes = 256 << 20
)

// ErrChecksum is returned when a downloaded archive does not match its
// expected SHA-256.
var ErrChecksum = errors.New("dataset: checksum mismatch")

type mnistFile struct {
	name   string
	sha256 string
}

var mnistFiles = map[Usage][2]mnistFile{
	Train: {
		{"train-images-idx3-ubyte.gz", "440fcabf73cc546fa21475e81ea370265605f56be210a4024d2ca8f203523609"},
		{"train-labels-idx1-ubyte.gz", "3552534a0a558bbed6aed32b30c495cca23d567ec52cac8be1a0730e8010255c"},
	},
	Test: {
		{"t10k-images-idx3-ubyte.gz", "8d422c7b0a1c1c79245a5bcf07fe86e33eeafee792b84584aec276f5a2dbc4e6"},
		{"t10k-labels-idx1-ubyte.gz", "f7ae60f92e00ec6debd23a6088c31dbd2371eca3ffa0defaefb259924204aec6"},
	},
}

// MnistOptions configures the handwritten digit dataset.
type MnistOptions struct {
	Usage     Usage
	BatchSize int
	Shuffle   bool
	Seed      int64
	// Limit caps the number of records; zero keeps all of them.
	Limit int
	// Dir caches the archives. Defaults to DefaultCacheDir()/mnist.
	Dir string
	// BaseURL is where missing archives are downloaded from.
	BaseURL    string
	SkipVerify bool
	Client     *http.Client
}

// Mnist is the MNIST handwritten digit dataset. Validation reads the test
// split.
type Mnist struct {
	opts MnistOptions
	data *ArrayDataset
}

// NewMnist returns an unprepared dataset.
func NewMnist(opts MnistOptions) *Mnist {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Dir == "" {
		opts.Dir = filepath.Join(DefaultCacheDir(), "mnist")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultMnistURL
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	return &Mnist{opts: opts}
}

// DefaultCacheDir is where datasets are cached unless configured otherwise.
func DefaultCacheDir() string {
	if dir := os.Getenv("DIGITFORGE_CACHE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "digitforge")
	}
	return filepath.Join(home, ".digitforge", "cache")
}

// Prepare makes sure the archives are present and verified, then decodes
// them into memory. Calling Prepare again is a no-op.
func (d *Mnist) Prepare(ctx context.Context, progress Progress) error {
	if d.data != nil {
		return nil
	}
	progress = orNop(progress)
	usage := d.opts.Usage
	if usage == Validation {
		usage = Test
	}
	files, ok := mnistFiles[usage]
	if !ok {
		return fmt.Errorf("mnist: unsupported usage %s", d.opts.Usage)
	}
	if err := os.MkdirAll(d.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("mnist: create cache dir: %w", err)
	}
	paths := make([]string, len(files))
	for i, f := range files {
		path, err := d.ensure(ctx, f, progress)
		if err != nil {
			return err
		}
		paths[i] = path
	}

	pixels, rows, cols, err := readIDXImages(paths[0])
	if err != nil {
		return err
	}
	labels, err := readIDXLabels(paths[1])
	if err != nil {
		return err
	}
	if len(labels)*rows*cols != len(pixels) {
		return fmt.Errorf("mnist: %d labels for %d images", len(labels), len(pixels)/(rows*cols))
	}
	if d.opts.Limit > 0 && d.opts.Limit < len(labels) {
		labels = labels[:d.opts.Limit]
		pixels = pixels[:d.opts.Limit*rows*cols]
	}
	sampler := NewSampler(d.opts.BatchSize, d.opts.Shuffle, d.opts.Seed)
	data, err := NewArrayDataset(pixels, labels, ndarray.Shape{rows, cols, 1}, sampler, vision.ToTensor{})
	if err != nil {
		return err
	}
	d.data = data
	slog.Debug("mnist prepared", "usage", d.opts.Usage, "records", data.Len())
	return nil
}

// Len is the number of records, zero before Prepare.
func (d *Mnist) Len() int {
	if d.data == nil {
		return 0
	}
	return d.data.Len()
}

// Get returns record index as a (1, 28, 28) float32 array and its label.
func (d *Mnist) Get(m *ndarray.Manager, index int) (Record, error) {
	if d.data == nil {
		return Record{}, ErrNotPrepared
	}
	return d.data.Get(m, index)
}

// Batches iterates one epoch of (N, 1, 28, 28) batches.
func (d *Mnist) Batches(ctx context.Context, parent *ndarray.Manager, fn func(*Batch) error) error {
	if d.data == nil {
		return ErrNotPrepared
	}
	return d.data.Batches(ctx, parent, fn)
}

func (d *Mnist) ensure(ctx context.Context, f mnistFile, progress Progress) (string, error) {
	path := filepath.Join(d.opts.Dir, f.name)
	if _, err := os.Stat(path); err == nil {
		if err := d.verify(path, f.sha256); err != nil {
			return "", err
		}
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("mnist: stat %s: %w", path, err)
	}

	url := d.opts.BaseURL + f.name
	slog.Info("downloading", "url", url)
	tmp := path + ".partial"
	if err := download(ctx, d.opts.Client, url, tmp, progress); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := d.verify(tmp, f.sha256); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("mnist: %w", err)
	}
	return path, nil
}

func (d *Mnist) verify(path, want string) error {
	if d.opts.SkipVerify {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("mnist: open %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("mnist: hash %s: %w", path, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Errorf("%w: %s has %s, want %s", ErrChecksum, filepath.Base(path), got, want)
	}
	return nil
}

type progressWriter struct {
	progress Progress
}

func (w progressWriter) Write(p []byte) (int, error) {
	w.progress.Increment(int64(len(p)))
	return len(p), nil
}

func download(ctx context.Context, client *http.Client, url, dst string, progress Progress) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	progress.Start(resp.ContentLength)
	_, err = io.Copy(out, io.TeeReader(resp.Body, progressWriter{progress: progress}))
	progress.End()
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	return nil
}

func openIDX(path string, magic uint32) (io.Reader, []uint32, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("idx: %w", err)
	}
	gz, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, nil, nil, fmt.Errorf("idx: %s: %w", filepath.Base(path), err)
	}
	closer := func() {
		gz.Close()
		f.Close()
	}
	var got uint32
	if err := binary.Read(gz, binary.BigEndian, &got); err != nil {
		closer()
		return nil, nil, nil, fmt.Errorf("idx: %s header: %w", filepath.Base(path), err)
	}
	if got != magic {
		closer()
		return nil, nil, nil, fmt.Errorf("idx: %s: magic %#x, want %#x", filepath.Base(path), got, magic)
	}
	dims := make([]uint32, magic&0xff)
	if err := binary.Read(gz, binary.BigEndian, dims); err != nil {
		closer()
		return nil, nil, nil, fmt.Errorf("idx: %s dims: %w", filepath.Base(path), err)
	}
	return gz, dims, closer, nil
}

func readIDXImages(path string) ([]uint8, int, int, error) {
	r, dims, closer, err := openIDX(path, idxImagesMagic)
	if err != nil {
		return nil, 0, 0, err
	}
	defer closer()
	if dims[1] == 0 || dims[2] == 0 || uint64(dims[0])*uint64(dims[1])*uint64(dims[2]) > maxIDXBytes {
		return nil, 0, 0, fmt.Errorf("idx: %s: implausible dims %v", filepath.Base(path), dims)
	}
	n, rows, cols := int(dims[0]), int(dims[1]), int(dims[2])
	pixels := make([]uint8, n*rows*cols)
	if _, err := io.ReadFull(r, pixels); err != nil {
		return nil, 0, 0, fmt.Errorf("idx: %s: %w", filepath.Base(path), err)
	}
	return pixels, rows, cols, nil
}

func readIDXLabels(path string) ([]int, error) {
	r, dims, closer, err := openIDX(path, idxLabelsMagic)
	if err != nil {
		return nil, err
	}
	defer closer()
	if dims[0] > maxIDXBytes {
		return nil, fmt.Errorf("idx: %s: implausible dims %v", filepath.Base(path), dims)
	}
	raw := make([]uint8, dims[0])
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("idx: %s: %w", filepath.Base(path), err)
	}
	labels := make([]int, len(raw))
	for i, v := range raw {
		labels[i] = int(v)
	}
	return labels, nil
}
