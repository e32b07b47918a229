package inference

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Classification is one class and its probability.
type Classification struct {
	ClassName   string  `json:"className"`
	Probability float64 `json:"probability"`
}

func (c Classification) String() string {
	return fmt.Sprintf(`{"class": %q, "probability": %.5f}`, c.ClassName, c.Probability)
}

// Classifications is the scored result of a classifier, ordered by
// descending probability.
type Classifications struct {
	items []Classification
	topK  int
}

// NewClassifications pairs class names with probabilities.
func NewClassifications(classNames []string, probabilities []float64) (*Classifications, error) {
	if len(classNames) != len(probabilities) {
		return nil, errors.Errorf("classifications: %d class names for %d probabilities", len(classNames), len(probabilities))
	}
	items := make([]Classification, len(classNames))
	for i, name := range classNames {
		items[i] = Classification{ClassName: name, Probability: probabilities[i]}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Probability > items[j].Probability })
	return &Classifications{items: items, topK: 5}, nil
}

// SetTopK sets how many items String and MarshalJSON render.
func (c *Classifications) SetTopK(k int) {
	c.topK = k
}

// Len is the number of classes.
func (c *Classifications) Len() int { return len(c.items) }

// Items returns every class in descending probability.
func (c *Classifications) Items() []Classification {
	return append([]Classification(nil), c.items...)
}

// Best returns the most probable class.
func (c *Classifications) Best() Classification {
	if len(c.items) == 0 {
		return Classification{}
	}
	return c.items[0]
}

// TopK returns the k most probable classes.
func (c *Classifications) TopK(k int) []Classification {
	if k <= 0 || k > len(c.items) {
		k = len(c.items)
	}
	return append([]Classification(nil), c.items[:k]...)
}

// Item looks up a class by name.
func (c *Classifications) Item(className string) (Classification, bool) {
	for _, it := range c.items {
		if it.ClassName == className {
			return it, true
		}
	}
	return Classification{}, false
}

func (c *Classifications) String() string {
	var sb strings.Builder
	sb.WriteString("[\n")
	for _, it := range c.TopK(c.topK) {
		sb.WriteString("\t")
		sb.WriteString(it.String())
		sb.WriteString("\n")
	}
	sb.WriteString("]\n")
	return sb.String()
}

// MarshalJSON renders the top-k items as a JSON array.
func (c *Classifications) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.TopK(c.topK))
}
