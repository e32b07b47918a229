package inference

import (
	"strconv"

	"github.com/pkg/errors"

	"digitforge/internal/ndarray"
	"digitforge/internal/vision"
)

// ImageClassificationTranslator turns images into tensors through a transform
// pipeline and logits into Classifications.
type ImageClassificationTranslator struct {
	transforms   vision.Pipeline
	synset       []string
	flag         vision.Flag
	applySoftmax bool
	topK         int
}

// TranslatorOption configures an ImageClassificationTranslator.
type TranslatorOption func(*ImageClassificationTranslator)

// WithTransforms appends transforms applied to the HWC uint8 image.
func WithTransforms(ts ...vision.Transform) TranslatorOption {
	return func(t *ImageClassificationTranslator) { t.transforms = append(t.transforms, ts...) }
}

// WithSynset sets the class names, indexed by model output.
func WithSynset(synset []string) TranslatorOption {
	return func(t *ImageClassificationTranslator) { t.synset = synset }
}

// WithFlag selects color or grayscale decoding.
func WithFlag(flag vision.Flag) TranslatorOption {
	return func(t *ImageClassificationTranslator) { t.flag = flag }
}

// WithSoftmax controls whether outputs are turned into probabilities.
func WithSoftmax(apply bool) TranslatorOption {
	return func(t *ImageClassificationTranslator) { t.applySoftmax = apply }
}

// WithTopK sets how many classes the results render.
func WithTopK(k int) TranslatorOption {
	return func(t *ImageClassificationTranslator) { t.topK = k }
}

// DigitSynset is "0" through "9".
func DigitSynset() []string {
	s := make([]string, 10)
	for i := range s {
		s[i] = strconv.Itoa(i)
	}
	return s
}

// NewImageClassificationTranslator returns a grayscale translator with the
// digit synset, softmax and top-5 rendering unless overridden. Without
// transforms images are only converted with ToTensor.
func NewImageClassificationTranslator(opts ...TranslatorOption) *ImageClassificationTranslator {
	t := &ImageClassificationTranslator{
		synset:       DigitSynset(),
		flag:         vision.Grayscale,
		applySoftmax: true,
		topK:         5,
	}
	for _, opt := range opts {
		opt(t)
	}
	if len(t.transforms) == 0 {
		t.transforms = vision.Pipeline{vision.ToTensor{}}
	}
	return t
}

// Synset returns the class names.
func (t *ImageClassificationTranslator) Synset() []string { return t.synset }

// ProcessInput implements Translator.
func (t *ImageClassificationTranslator) ProcessInput(m *ndarray.Manager, img *vision.Image) (*ndarray.NDArray, error) {
	if img == nil {
		return nil, errors.New("translator: nil image")
	}
	arr, err := img.ToNDArray(m, t.flag)
	if err != nil {
		return nil, err
	}
	return t.transforms.Transform(arr)
}

// ProcessOutput implements Translator.
func (t *ImageClassificationTranslator) ProcessOutput(_ *ndarray.Manager, output *ndarray.NDArray) (*Classifications, error) {
	probs := output
	if t.applySoftmax {
		var err error
		if probs, err = output.Softmax(); err != nil {
			return nil, err
		}
	}
	vals, err := probs.Float64s()
	if err != nil {
		return nil, err
	}
	c, err := NewClassifications(t.synset, vals)
	if err != nil {
		return nil, err
	}
	c.SetTopK(t.topK)
	return c, nil
}
