// Package patch synthesizes the JSON Patch returned to the API server and
// produces log-safe copies of it.
package patch

import (
	"encoding/json"
	"errors"
	"fmt"

	jsonpatchapply "github.com/evanphx/json-patch/v5"
	"gomodules.xyz/jsonpatch/v2"

	"github.com/kapicorp/tesoro/pkg/document"
)

const (
	// RevealedAnnotation lists the paths changed by a reveal.
	RevealedAnnotation = "tesoro.kapicorp.com/revealed"
	// LastAppliedAnnotation is kubectl's last-applied-configuration annotation.
	LastAppliedAnnotation = "kubectl.kubernetes.io/last-applied-configuration"
)

var (
	// AnnotationsPath is the pointer to an object's annotations.
	AnnotationsPath = document.Pointer("metadata", "annotations")
	// RevealedPath is the pointer to the provenance annotation.
	RevealedPath = document.Pointer("metadata", "annotations", RevealedAnnotation)
	// LastAppliedPath is the pointer to the last-applied-configuration annotation.
	LastAppliedPath = document.Pointer("metadata", "annotations", LastAppliedAnnotation)
)

// ErrVerifyFailed is returned when a synthesized patch does not reproduce the
// revealed document.
var ErrVerifyFailed = errors.New("patch does not reproduce the revealed document")

// Patch is an ordered RFC 6902 JSON Patch.
type Patch []jsonpatch.Operation

// Paths returns the path of every operation, in order.
func (p Patch) Paths() []string {
	paths := make([]string, 0, len(p))
	for _, op := range p {
		if op.Path != "" {
			paths = append(paths, op.Path)
		}
	}
	return paths
}

// Marshal returns the JSON encoding of p. A nil patch encodes as [].
func (p Patch) Marshal() ([]byte, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

// Synthesizer diffs original and revealed documents into a patch.
type Synthesizer struct {
	// AnnotationKey is the provenance annotation added to non-empty patches.
	AnnotationKey string
	// Excluded lists paths whose operations are dropped from the patch.
	Excluded []string
}

// NewSynthesizer returns a Synthesizer with the default provenance annotation
// that excludes the last-applied-configuration annotation.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{
		AnnotationKey: RevealedAnnotation,
		Excluded:      []string{LastAppliedPath},
	}
}

// Diff returns the operations that turn original into working. Object keys
// compare order-insensitively, arrays index by index.
func (s *Synthesizer) Diff(original, working map[string]interface{}) (Patch, error) {
	a, err := json.Marshal(original)
	if err != nil {
		return nil, fmt.Errorf("encoding original: %w", err)
	}
	b, err := json.Marshal(working)
	if err != nil {
		return nil, fmt.Errorf("encoding working copy: %w", err)
	}
	ops, err := jsonpatch.CreatePatch(a, b)
	if err != nil {
		return nil, fmt.Errorf("creating patch: %w", err)
	}
	return Patch(ops), nil
}

// Verify applies p to original and checks that the result equals working.
func (s *Synthesizer) Verify(original, working map[string]interface{}, p Patch) error {
	a, err := json.Marshal(original)
	if err != nil {
		return fmt.Errorf("encoding original: %w", err)
	}
	b, err := json.Marshal(working)
	if err != nil {
		return fmt.Errorf("encoding working copy: %w", err)
	}
	raw, err := p.Marshal()
	if err != nil {
		return fmt.Errorf("encoding patch: %w", err)
	}

	decoded, err := jsonpatchapply.DecodePatch(raw)
	if err != nil {
		return fmt.Errorf("decoding patch: %w", err)
	}
	applied, err := decoded.Apply(a)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	if !jsonpatchapply.Equal(applied, b) {
		return ErrVerifyFailed
	}
	return nil
}

// Excise returns p without operations targeting an excluded path.
func (s *Synthesizer) Excise(p Patch) Patch {
	if len(p) == 0 {
		return p
	}
	out := make(Patch, 0, len(p))
	for _, op := range p {
		if s.excluded(op.Path) {
			continue
		}
		out = append(out, op)
	}
	return out
}

func (s *Synthesizer) excluded(path string) bool {
	for _, e := range s.Excluded {
		if path == e {
			return true
		}
	}
	return false
}

// Annotate appends the provenance operation to a non-empty patch. The value
// is the JSON list of every path in p. When original has no annotations map
// the operation creates it. An empty patch is returned unchanged.
func (s *Synthesizer) Annotate(original map[string]interface{}, p Patch) (Patch, error) {
	if len(p) == 0 {
		return p, nil
	}

	paths, err := json.Marshal(p.Paths())
	if err != nil {
		return nil, fmt.Errorf("encoding revealed paths: %w", err)
	}

	op := jsonpatch.NewOperation("add", document.Pointer("metadata", "annotations", s.AnnotationKey), string(paths))
	if _, err := document.Map(original, "metadata", "annotations"); err != nil && !createsAnnotations(p) {
		op = jsonpatch.NewOperation("add", AnnotationsPath, map[string]interface{}{s.AnnotationKey: string(paths)})
	}
	return append(p, op), nil
}

func createsAnnotations(p Patch) bool {
	for _, op := range p {
		if op.Path == AnnotationsPath && (op.Operation == "add" || op.Operation == "replace") {
			return true
		}
	}
	return false
}

// Synthesize runs Diff, Verify, Excise and Annotate in order.
func (s *Synthesizer) Synthesize(original, working map[string]interface{}) (Patch, error) {
	p, err := s.Diff(original, working)
	if err != nil {
		return nil, err
	}
	if err := s.Verify(original, working, p); err != nil {
		return nil, err
	}
	return s.Annotate(original, s.Excise(p))
}

// IsProvenance reports whether op is the provenance operation added by
// Annotate for annotationKey, in either of its forms.
func IsProvenance(op jsonpatch.Operation, annotationKey string) bool {
	if op.Path == document.Pointer("metadata", "annotations", annotationKey) {
		return true
	}
	if op.Path != AnnotationsPath || op.Operation != "add" {
		return false
	}
	m, ok := op.Value.(map[string]interface{})
	if !ok || len(m) != 1 {
		return false
	}
	_, ok = m[annotationKey]
	return ok
}
