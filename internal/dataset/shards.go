package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"golang.org/x/sync/errgroup"

	"digitforge/internal/ndarray"
	"digitforge/internal/vision"
)

// ShardOptions configures a dataset read from WebDataset shards of labeled
// digit images.
type ShardOptions struct {
	Roots      []string
	BatchSize  int
	Shuffle    bool
	Seed       int64
	Limit      int
	NumWorkers int
	PendingCap int
	// Width and Height every image is resized to. Defaults to 28x28.
	Width  int
	Height int
	// Classes bounds labels; out of range labels wrap around.
	Classes int
	// Invert flips dark-on-light images to MNIST polarity.
	Invert bool
}

// Shards is an in-memory dataset built from tar shards under one or more
// roots. Shards are visited round-robin across roots.
type Shards struct {
	opts ShardOptions
	data *ArrayDataset
}

// NewShards returns an unprepared shard dataset.
func NewShards(opts ShardOptions) *Shards {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.Width <= 0 {
		opts.Width = MnistImageSize
	}
	if opts.Height <= 0 {
		opts.Height = MnistImageSize
	}
	if opts.Classes <= 0 {
		opts.Classes = MnistClasses
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	return &Shards{opts: opts}
}

type decodedShard struct {
	pixels []uint8
	labels []int
}

// Prepare discovers, streams and decodes every shard. Shards are read by
// NumWorkers goroutines; record order is independent of scheduling.
func (s *Shards) Prepare(ctx context.Context, progress Progress) error {
	if s.data != nil {
		return nil
	}
	if len(s.opts.Roots) == 0 {
		return fmt.Errorf("shards: no dataset roots provided")
	}
	progress = orNop(progress)
	roots, err := DiscoverByRoot(s.opts.Roots)
	if err != nil {
		return err
	}
	order := buildRoundRobinOrder(roots, rand.New(rand.NewSource(s.opts.Seed)))

	results := make([]decodedShard, len(order))
	progress.Start(int64(len(order)))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.NumWorkers)
	for i, entry := range order {
		i, entry := i, entry
		g.Go(func() error {
			decoded, err := s.decodeShard(gctx, entry.path)
			if err != nil {
				return fmt.Errorf("shard %s: %w", entry.path, err)
			}
			results[i] = decoded
			progress.Increment(1)
			return nil
		})
	}
	err = g.Wait()
	progress.End()
	if err != nil {
		return err
	}

	var (
		pixels []uint8
		labels []int
	)
	for _, r := range results {
		pixels = append(pixels, r.pixels...)
		labels = append(labels, r.labels...)
	}
	if s.opts.Limit > 0 && s.opts.Limit < len(labels) {
		labels = labels[:s.opts.Limit]
		pixels = pixels[:s.opts.Limit*s.opts.Width*s.opts.Height]
	}
	sampler := NewSampler(s.opts.BatchSize, s.opts.Shuffle, s.opts.Seed)
	data, err := NewArrayDataset(pixels, labels, ndarray.Shape{s.opts.Height, s.opts.Width, 1}, sampler, vision.ToTensor{})
	if err != nil {
		return err
	}
	s.data = data
	slog.Debug("shards prepared", "shards", len(order), "records", data.Len())
	return nil
}

func (s *Shards) decodeShard(ctx context.Context, path string) (decodedShard, error) {
	m := ndarray.NewBaseManager()
	defer m.Close()

	var pipeline vision.Pipeline
	pipeline = append(pipeline, vision.Resize{Width: s.opts.Width, Height: s.opts.Height})
	if s.opts.Invert {
		pipeline = append(pipeline, vision.Invert{})
	}

	var out decodedShard
	err := ReadShard(ctx, path, s.opts.PendingCap, func(sample Sample) error {
		img, err := vision.FromBytes(sample.Image)
		if err != nil {
			return fmt.Errorf("%s: %w", sample.Key, err)
		}
		sub := m.NewSubManager()
		defer sub.Close()
		arr, err := img.ToNDArray(sub, vision.Grayscale)
		if err != nil {
			return fmt.Errorf("%s: %w", sample.Key, err)
		}
		resized, err := pipeline.Transform(arr)
		if err != nil {
			return fmt.Errorf("%s: %w", sample.Key, err)
		}
		px, err := resized.Uint8s()
		if err != nil {
			return err
		}
		out.pixels = append(out.pixels, px...)
		out.labels = append(out.labels, wrapLabel(sample.Label, s.opts.Classes))
		return nil
	})
	return out, err
}

func wrapLabel(label, classes int) int {
	label %= classes
	if label < 0 {
		label += classes
	}
	return label
}

// Len is the number of records, zero before Prepare.
func (s *Shards) Len() int {
	if s.data == nil {
		return 0
	}
	return s.data.Len()
}

// Get returns a transformed record.
func (s *Shards) Get(m *ndarray.Manager, index int) (Record, error) {
	if s.data == nil {
		return Record{}, ErrNotPrepared
	}
	return s.data.Get(m, index)
}

// Batches iterates one epoch.
func (s *Shards) Batches(ctx context.Context, parent *ndarray.Manager, fn func(*Batch) error) error {
	if s.data == nil {
		return ErrNotPrepared
	}
	return s.data.Batches(ctx, parent, fn)
}

type orderEntry struct {
	root string
	path string
}

// buildRoundRobinOrder shuffles each root's shards and interleaves roots in
// sorted order until every shard is listed once.
func buildRoundRobinOrder(roots map[string][]string, rng *rand.Rand) []orderEntry {
	rootNames := make([]string, 0, len(roots))
	copied := make(map[string][]string, len(roots))
	for root, shards := range roots {
		if len(shards) == 0 {
			continue
		}
		rootNames = append(rootNames, root)
		copied[root] = append([]string(nil), shards...)
	}
	sort.Strings(rootNames)
	if rng != nil {
		for _, root := range rootNames {
			shards := copied[root]
			rng.Shuffle(len(shards), func(i, j int) {
				shards[i], shards[j] = shards[j], shards[i]
			})
		}
	}
	var order []orderEntry
	for {
		advanced := false
		for _, root := range rootNames {
			shards := copied[root]
			if len(shards) == 0 {
				continue
			}
			order = append(order, orderEntry{root: root, path: shards[0]})
			copied[root] = shards[1:]
			advanced = true
		}
		if !advanced {
			break
		}
	}
	return order
}
