// Package secret unwraps and re-wraps the base64 envelope of Secret data
// items that hold reference tokens.
//
// Secret data values are always base64 on the wire, and a reference token stored
// in a Secret is wrapped in that same envelope. Prepare removes exactly one layer
// so the revealer sees the bare token; Restore puts the layer back for tokens
// whose revealed value is plaintext.
package secret

import (
	"encoding/base64"
	"fmt"

	"github.com/kapicorp/tesoro/pkg/document"
	"github.com/kapicorp/tesoro/pkg/refs"
)

// KindSecret is the object kind the normalizer acts on.
const KindSecret = "Secret"

// Transform is the per-item transformation recorded by Prepare.
type Transform struct {
	Encoding string `json:"encoding"`
}

// Transformations maps kind -> field -> item name -> transform.
type Transformations map[string]map[string]map[string]Transform

// Items returns the transforms recorded for a kind and field.
func (t Transformations) Items(kind, field string) map[string]Transform {
	return t[kind][field]
}

// Len returns the total number of recorded item transforms.
func (t Transformations) Len() int {
	n := 0
	for _, fields := range t {
		for _, items := range fields {
			n += len(items)
		}
	}
	return n
}

// Prepare unwraps reference tokens in the data of a Secret in place and
// returns the transformations Restore needs. Objects of any other kind are
// left untouched and yield an empty map.
func Prepare(obj map[string]interface{}, registry refs.Registry) (Transformations, error) {
	transformations := Transformations{}

	kind, err := document.String(obj, "kind")
	if err != nil || kind != KindSecret {
		return transformations, nil
	}

	// a null data field holds no items, like a missing one
	if raw, err := document.Lookup(obj, "data"); document.IsNotFound(err) || (err == nil && raw == nil) {
		return transformations, nil
	}
	data, err := document.Map(obj, "data")
	if err != nil {
		return nil, fmt.Errorf("reading secret data: %w", err)
	}

	items := map[string]Transform{}
	for name, raw := range data {
		encoded, ok := raw.(string)
		if !ok {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			continue
		}
		token := string(decoded)
		if !refs.IsToken(token) {
			continue
		}

		ref, err := registry.Lookup(token)
		if err != nil {
			return nil, fmt.Errorf("secret item %q: %w", name, err)
		}
		items[name] = Transform{Encoding: ref.Encoding}
		data[name] = token
	}

	transformations[KindSecret] = map[string]map[string]Transform{"data": items}
	return transformations, nil
}

// Restore re-applies the base64 envelope to revealed Secret data items whose
// declared encoding is "original". Items declared "base64" already come back
// from the revealer in wire form and are left as is.
func Restore(obj map[string]interface{}, transformations Transformations) error {
	items := transformations.Items(KindSecret, "data")
	if len(items) == 0 {
		return nil
	}

	data, err := document.Map(obj, "data")
	if err != nil {
		return fmt.Errorf("reading revealed secret data: %w", err)
	}

	for name, transform := range items {
		if transform.Encoding != refs.EncodingOriginal {
			continue
		}
		value, ok := data[name]
		if !ok {
			return &document.PathError{Path: []string{"data", name}, Err: document.ErrPathNotFound}
		}
		plain, ok := value.(string)
		if !ok {
			return &document.TypeMismatchError{Path: []string{"data", name}, Expected: "string", Actual: value}
		}
		data[name] = base64.StdEncoding.EncodeToString([]byte(plain))
	}
	return nil
}
