package testing

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/stretchr/testify/require"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	utiljson "k8s.io/apimachinery/pkg/util/json"
	"sigs.k8s.io/yaml"

	"github.com/kapicorp/tesoro/pkg/document"
	"github.com/kapicorp/tesoro/pkg/refs"
)

// LoadObject reads a YAML manifest and decodes it the way the webhook decodes
// admission objects.
func LoadObject(t require.TestingT, path string) *unstructured.Unstructured {
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return ParseObject(t, raw)
}

// ParseObject decodes a YAML or JSON manifest into an unstructured object.
func ParseObject(t require.TestingT, manifest []byte) *unstructured.Unstructured {
	js, err := yaml.YAMLToJSON(manifest)
	require.NoError(t, err)

	obj := &unstructured.Unstructured{}
	require.NoError(t, runtime.DecodeInto(unstructured.UnstructuredJSONScheme, js, obj))
	return obj
}

// ToYAML converts an object to YAML string for verbose logging in tests.
func ToYAML(obj interface{}) string {
	yamlBytes, err := yaml.Marshal(obj)
	if err != nil {
		return fmt.Sprintf("(error marshaling to YAML: %v)", err)
	}
	return string(yamlBytes)
}

// ApplyPatch applies a JSON Patch (any value that encodes to an RFC 6902
// operation list) to obj and returns the decoded result.
func ApplyPatch(t require.TestingT, obj map[string]interface{}, ops interface{}) map[string]interface{} {
	doc, err := json.Marshal(obj)
	require.NoError(t, err)
	raw, err := json.Marshal(ops)
	require.NoError(t, err)

	p, err := jsonpatch.DecodePatch(raw)
	require.NoError(t, err)
	patched, err := p.Apply(doc)
	require.NoError(t, err)

	out := map[string]interface{}{}
	require.NoError(t, utiljson.Unmarshal(patched, &out))
	return out
}

// B64 returns the standard base64 encoding of s.
func B64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// FakeBackend is a deterministic reveal collaborator. Tokens are revealed from
// Values; Encodings declares each token's encoding (default "original").
// FailReveals makes the first n Reveal calls fail.
type FakeBackend struct {
	Values      map[string]string
	Encodings   map[string]string
	FailReveals int32
	RevealErr   error

	mu      sync.Mutex
	lookups []string
	calls   atomic.Int32
}

var _ refs.Backend = &FakeBackend{}

// Lookup implements refs.Registry.
func (f *FakeBackend) Lookup(token string) (refs.Ref, error) {
	f.mu.Lock()
	f.lookups = append(f.lookups, token)
	f.mu.Unlock()

	if _, ok := f.Values[token]; !ok {
		tok, _ := refs.Parse(token)
		return refs.Ref{}, &refs.LookupError{Scheme: tok.Scheme, Err: refs.ErrKeyNotFound}
	}
	if enc, ok := f.Encodings[token]; ok {
		return refs.Ref{Encoding: enc}, nil
	}
	return refs.Ref{Encoding: refs.EncodingOriginal}, nil
}

// Reveal implements refs.Revealer.
func (f *FakeBackend) Reveal(obj map[string]interface{}) (map[string]interface{}, error) {
	n := f.calls.Add(1)
	if n <= f.FailReveals {
		if f.RevealErr != nil {
			return nil, f.RevealErr
		}
		return nil, fmt.Errorf("reveal attempt %d failed", n)
	}

	out := document.DeepCopy(obj)
	if err := f.walk(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Calls returns the number of Reveal calls.
func (f *FakeBackend) Calls() int {
	return int(f.calls.Load())
}

// Lookups returns the tokens passed to Lookup.
func (f *FakeBackend) Lookups() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lookups...)
}

func (f *FakeBackend) walk(v interface{}) error {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if s, ok := child.(string); ok {
				revealed, err := f.replace(s)
				if err != nil {
					return err
				}
				t[k] = revealed
				continue
			}
			if err := f.walk(child); err != nil {
				return err
			}
		}
	case []interface{}:
		for i, child := range t {
			if s, ok := child.(string); ok {
				revealed, err := f.replace(s)
				if err != nil {
					return err
				}
				t[i] = revealed
				continue
			}
			if err := f.walk(child); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *FakeBackend) replace(s string) (string, error) {
	return refs.ReplaceAll(s, func(tok refs.Token) (string, error) {
		v, ok := f.Values[tok.Raw]
		if !ok {
			return "", &refs.LookupError{Scheme: tok.Scheme, Err: refs.ErrKeyNotFound}
		}
		return v, nil
	})
}
