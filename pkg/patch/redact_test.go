package patch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gomodules.xyz/jsonpatch/v2"
)

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestRedact(t *testing.T) {
	p := Patch{
		jsonpatch.NewOperation("add", "/a/b", "secret value to redact"),
		jsonpatch.NewOperation("add", RevealedPath, "no redact"),
	}

	redacted := NewRedactor().Redact(p)

	assert.Equal(t, "secret value to redact", p[0].Value)
	assert.Equal(t, "!REDACTED VALUE! sha256="+sha("secret value to redact"), redacted[0].Value)
	assert.Equal(t, "no redact", redacted[1].Value)
}

func TestRedact_Invariants(t *testing.T) {
	p := Patch{
		jsonpatch.NewOperation("replace", "/data/file1", "cGFzc3dvcmQ="),
		jsonpatch.NewOperation("add", "/spec/template", map[string]interface{}{"password": "hunter2"}),
		jsonpatch.NewOperation("replace", "/spec/replicas", float64(3)),
		jsonpatch.NewOperation("remove", "/data/old", nil),
		jsonpatch.NewOperation("add", AnnotationsPath, map[string]interface{}{RevealedAnnotation: `["/data/file1"]`}),
	}

	redacted := NewRedactor().Redact(p)
	require.Len(t, redacted, len(p))

	for i := range p {
		assert.Equal(t, p[i].Operation, redacted[i].Operation)
		assert.Equal(t, p[i].Path, redacted[i].Path)
	}

	assert.Equal(t, fmt.Sprintf(RedactedFormat, sha("cGFzc3dvcmQ=")), redacted[0].Value)
	assert.Equal(t, fmt.Sprintf(RedactedFormat, sha(`{"password":"hunter2"}`)), redacted[1].Value)
	assert.Equal(t, fmt.Sprintf(RedactedFormat, sha("3")), redacted[2].Value)
	assert.Nil(t, redacted[3].Value)
	assert.Equal(t, p[4].Value, redacted[4].Value)

	// the copy does not alias provenance maps
	redacted[4].Value.(map[string]interface{})[RevealedAnnotation] = "changed"
	assert.Equal(t, `["/data/file1"]`, p[4].Value.(map[string]interface{})[RevealedAnnotation])
}

func TestRedact_AllowList(t *testing.T) {
	r := NewRedactor()
	r.Allow = []string{"/metadata/labels/team"}

	redacted := r.Redact(Patch{
		jsonpatch.NewOperation("add", "/metadata/labels/team", "payments"),
		jsonpatch.NewOperation("add", "/metadata/labels/other", "x"),
	})
	assert.Equal(t, "payments", redacted[0].Value)
	assert.Equal(t, Fingerprint("x"), redacted[1].Value)
}

func TestRedact_Nil(t *testing.T) {
	assert.Nil(t, NewRedactor().Redact(nil))
	assert.Empty(t, NewRedactor().Redact(Patch{}))
}

func TestIsProvenance(t *testing.T) {
	assert.True(t, IsProvenance(jsonpatch.NewOperation("add", RevealedPath, "[]"), RevealedAnnotation))
	assert.True(t, IsProvenance(jsonpatch.NewOperation("add", AnnotationsPath, map[string]interface{}{RevealedAnnotation: "[]"}), RevealedAnnotation))
	assert.False(t, IsProvenance(jsonpatch.NewOperation("add", AnnotationsPath, map[string]interface{}{RevealedAnnotation: "[]", "other": "x"}), RevealedAnnotation))
	assert.False(t, IsProvenance(jsonpatch.NewOperation("replace", AnnotationsPath, map[string]interface{}{RevealedAnnotation: "[]"}), RevealedAnnotation))
	assert.False(t, IsProvenance(jsonpatch.NewOperation("add", "/data/x", "[]"), RevealedAnnotation))
}
