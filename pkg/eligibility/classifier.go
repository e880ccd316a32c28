// Package eligibility decides whether an object opts into secret reveal.
package eligibility

import (
	"strings"

	"k8s.io/apimachinery/pkg/labels"

	"github.com/kapicorp/tesoro/pkg/document"
)

const (
	// DefaultPrefix is the reserved label namespace.
	DefaultPrefix = "tesoro.kapicorp.com"
	// DefaultKey is the label that switches reveal on.
	DefaultKey = "tesoro.kapicorp.com"
	// DefaultEnabledValue is the value DefaultKey must carry.
	DefaultEnabledValue = "enabled"
)

// Classifier extracts reserved labels from an object and decides eligibility.
type Classifier struct {
	Prefix       string
	Key          string
	EnabledValue string
}

// NewClassifier returns a Classifier using the default label namespace.
func NewClassifier() *Classifier {
	return &Classifier{
		Prefix:       DefaultPrefix,
		Key:          DefaultKey,
		EnabledValue: DefaultEnabledValue,
	}
}

// Classify returns the labels of obj whose key starts with the reserved prefix.
// A missing or malformed labels field yields an empty set; the returned error
// is non-nil only for the malformed case so callers can log it.
func (c *Classifier) Classify(obj map[string]interface{}) (labels.Set, error) {
	set := labels.Set{}

	all, err := document.StringMap(obj, "metadata", "labels")
	if err != nil {
		if document.IsNotFound(err) {
			return set, nil
		}
		return set, err
	}

	for k, v := range all {
		if strings.HasPrefix(k, c.Prefix) {
			set[k] = v
		}
	}
	return set, nil
}

// Eligible reports whether the classified labels enable reveal.
func (c *Classifier) Eligible(set labels.Set) bool {
	return set.Has(c.Key) && set.Get(c.Key) == c.EnabledValue
}
