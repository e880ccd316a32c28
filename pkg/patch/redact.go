package patch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"gomodules.xyz/jsonpatch/v2"
	"k8s.io/apimachinery/pkg/runtime"
)

// RedactedFormat is the fingerprint that replaces a redacted value.
const RedactedFormat = "!REDACTED VALUE! sha256=%s"

// Redactor produces log-safe copies of patches.
type Redactor struct {
	// AnnotationKey identifies the provenance operation, which is never redacted.
	AnnotationKey string
	// Allow lists additional paths whose values are kept.
	Allow []string
}

// NewRedactor returns a Redactor that keeps only the provenance annotation.
func NewRedactor() *Redactor {
	return &Redactor{AnnotationKey: RevealedAnnotation}
}

// Redact returns a copy of p with every value replaced by a sha256 fingerprint,
// except for the provenance operation and allow-listed paths. op and path are
// preserved. p is not modified.
func (r *Redactor) Redact(p Patch) Patch {
	if p == nil {
		return nil
	}
	out := make(Patch, len(p))
	for i, op := range p {
		out[i] = jsonpatch.Operation{Operation: op.Operation, Path: op.Path}
		switch {
		case op.Value == nil:
		case r.keep(op):
			out[i].Value = copyValue(op.Value)
		default:
			out[i].Value = Fingerprint(op.Value)
		}
	}
	return out
}

func (r *Redactor) keep(op jsonpatch.Operation) bool {
	if IsProvenance(op, r.AnnotationKey) {
		return true
	}
	for _, path := range r.Allow {
		if op.Path == path {
			return true
		}
	}
	return false
}

func copyValue(v interface{}) interface{} {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return runtime.DeepCopyJSONValue(v)
	default:
		return v
	}
}

// Fingerprint returns the redaction string for v. Strings are hashed as is,
// other values by their JSON encoding.
func Fingerprint(v interface{}) string {
	var data []byte
	switch t := v.(type) {
	case string:
		data = []byte(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			b = []byte(fmt.Sprintf("%v", t))
		}
		data = b
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf(RedactedFormat, hex.EncodeToString(sum[:]))
}
