package inference

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digitforge/internal/model"
	"digitforge/internal/ndarray"
	"digitforge/internal/vision"
)

func digitModel(t *testing.T) *model.Model {
	t.Helper()
	m := model.New("mlpxxx")
	mlp := model.NewMlp(28*28, 10, []int{16})
	mlp.Initialize(model.XavierInitializer{}, rand.New(rand.NewSource(3)))
	m.SetBlock(mlp)
	return m
}

func pngImage(t *testing.T, size int, shade uint8) *vision.Image {
	t.Helper()
	src := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size/2; x++ {
			src.SetGray(x, y, color.Gray{Y: shade})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))
	img, err := vision.FromBytes(buf.Bytes())
	require.NoError(t, err)
	return img
}

func TestPredictMatchesForward(t *testing.T) {
	m := digitModel(t)
	translator := NewImageClassificationTranslator(
		WithTransforms(vision.Resize{Width: 28, Height: 28}, vision.ToTensor{}),
	)
	p := NewPredictor[*vision.Image, *Classifications](m, translator)
	defer p.Close()

	img := pngImage(t, 56, 200)
	got, err := p.Predict(img)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Len())

	var sum float64
	for _, it := range got.Items() {
		sum += it.Probability
	}
	assert.InDelta(t, 1, sum, 1e-6)

	nd := ndarray.NewBaseManager()
	defer nd.Close()
	x, err := translator.ProcessInput(nd, img)
	require.NoError(t, err)
	assert.Equal(t, ndarray.Shape{1, 28, 28}, x.Shape())
	batch, err := x.Reshape(ndarray.Shape{1, 1, 28, 28})
	require.NoError(t, err)
	logits, err := m.Forward(batch)
	require.NoError(t, err)
	best, err := logits.Argmax()
	require.NoError(t, err)
	idx, err := best.Int32s()
	require.NoError(t, err)
	assert.Equal(t, DigitSynset()[idx[0]], got.Best().ClassName)
}

func TestBatchPredict(t *testing.T) {
	m := digitModel(t)
	p := NewPredictor[*vision.Image, *Classifications](m, NewImageClassificationTranslator(
		WithTransforms(vision.Resize{Width: 28, Height: 28}, vision.ToTensor{}),
		WithTopK(3),
	))
	defer p.Close()

	imgs := []*vision.Image{pngImage(t, 28, 255), pngImage(t, 40, 10)}
	batch, err := p.BatchPredict(imgs)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	for i, img := range imgs {
		single, err := p.Predict(img)
		require.NoError(t, err)
		assert.InDelta(t, single.Best().Probability, batch[i].Best().Probability, 1e-6)
		assert.Equal(t, single.Best().ClassName, batch[i].Best().ClassName)
	}
	assert.Len(t, bytes.Split([]byte(batch[0].String()), []byte("\n")), 6)

	// inputs of different sizes cannot be stacked without Resize
	raw := NewPredictor[*vision.Image, *Classifications](m, NewImageClassificationTranslator())
	defer raw.Close()
	_, err = raw.BatchPredict(imgs)
	require.ErrorIs(t, err, ndarray.ErrShapeMismatch)

	p.Close()
	_, err = p.Predict(imgs[0])
	require.ErrorIs(t, err, ErrPredictorClosed)
}

func TestProcessOutputWithoutSoftmax(t *testing.T) {
	tr := NewImageClassificationTranslator(WithSoftmax(false), WithSynset([]string{"cat", "dog"}))
	nd := ndarray.NewBaseManager()
	defer nd.Close()
	logits, err := nd.Create([]float32{2, 5}, nil)
	require.NoError(t, err)
	c, err := tr.ProcessOutput(nd, logits)
	require.NoError(t, err)
	assert.Equal(t, Classification{ClassName: "dog", Probability: 5}, c.Best())
}
