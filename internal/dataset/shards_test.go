package dataset

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digitforge/internal/ndarray"
	"digitforge/internal/progress"
)

func TestShardsPrepareDeterministic(t *testing.T) {
	temp := t.TempDir()
	rootA := filepath.Join(temp, "rootA")
	rootB := filepath.Join(temp, "rootB")
	labeledShard(t, filepath.Join(rootA, "shard-000000.tar"), map[string]int{"a0": 0, "a1": 1})
	labeledShard(t, filepath.Join(rootA, "shard-000002.tar"), map[string]int{"a2": 2})
	labeledShard(t, filepath.Join(rootB, "shard-000001.tar"), map[string]int{"b0": 13})

	load := func(workers int) []int {
		ds := NewShards(ShardOptions{Roots: []string{rootA, rootB}, Seed: 123, NumWorkers: workers})
		status := &bytes.Buffer{}
		require.NoError(t, ds.Prepare(context.Background(), progress.New(status, "Decoding")))
		assert.True(t, strings.HasPrefix(status.String(), "Decoding: 3/3 done"), status.String())
		labels := make([]int, ds.Len())
		for i := range labels {
			labels[i] = ds.data.Label(i)
		}
		return labels
	}

	run1 := load(1)
	run2 := load(3)
	assert.Equal(t, run1, run2)
	assert.Len(t, run1, 4)
	assert.ElementsMatch(t, []int{0, 1, 2, 3}, run1)
}

func TestShardsRecordsAreResized(t *testing.T) {
	root := t.TempDir()
	labeledShard(t, filepath.Join(root, "shard-000000.tar"), map[string]int{"x": 5})

	ds := NewShards(ShardOptions{Roots: []string{root}, Invert: true})
	require.NoError(t, ds.Prepare(context.Background(), nil))
	require.Equal(t, 1, ds.Len())

	m := ndarray.NewBaseManager()
	defer m.Close()
	rec, err := ds.Get(m, 0)
	require.NoError(t, err)
	assert.Equal(t, ndarray.Shape{1, 28, 28}, rec.Data.Shape())
	v, err := rec.Data.Get(0, 14, 14)
	require.NoError(t, err)
	assert.InDelta(t, float64(255-100)/255, v, 0.01)
}

func TestShardsErrors(t *testing.T) {
	assert.Error(t, NewShards(ShardOptions{}).Prepare(context.Background(), nil))

	root := t.TempDir()
	writeShard(t, filepath.Join(root, "shard-000000.tar"), []shardEntry{
		{"bad.png", []byte("not an image")},
		{"bad.cls", []byte("1")},
	})
	err := NewShards(ShardOptions{Roots: []string{root}}).Prepare(context.Background(), nil)
	assert.ErrorContains(t, err, "decode image")

	_, err = NewShards(ShardOptions{Roots: []string{root}}).Get(ndarray.NewBaseManager(), 0)
	assert.ErrorIs(t, err, ErrNotPrepared)
}

func TestWrapLabel(t *testing.T) {
	assert.Equal(t, 3, wrapLabel(13, 10))
	assert.Equal(t, 9, wrapLabel(-1, 10))
	assert.Equal(t, 0, wrapLabel(0, 10))
}
